package audit

import (
	"context"
	"sync"
)

// MemorySink 把事件保存在进程内，支持完整回放，主要用于测试与
// 本地联调。
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
}

var _ Sink = (*MemorySink)(nil)

// NewMemorySink 创建空的内存事件槽。
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append 追加一条事件。
func (s *MemorySink) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Replay 返回全部事件的副本，按写入顺序排列。
func (s *MemorySink) Replay() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]Event, len(s.events))
	copy(events, s.events)
	return events
}

// Close 实现 Sink，内存实现无需释放资源。
func (s *MemorySink) Close() error { return nil }
