package governance

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "AgentSafe-Chain/internal/errors"
)

// MemoryStore 以内存方式保存排队投票，主要用于测试与单机部署。
type MemoryStore struct {
	mu    sync.RWMutex
	votes map[string]*QueuedVote
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{votes: make(map[string]*QueuedVote)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, vote *QueuedVote) error {
	if vote == nil || vote.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "投票记录缺少 ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.votes[vote.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "投票 ID 已存在")
	}
	now := time.Now().Unix()
	if vote.CreatedAt == 0 {
		vote.CreatedAt = now
	}
	vote.UpdatedAt = now
	m.votes[vote.ID] = cloneVote(vote)
	return nil
}

// Get 返回投票记录。
func (m *MemoryStore) Get(_ context.Context, id string) (*QueuedVote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vote, ok := m.votes[id]
	if !ok {
		return nil, ErrVoteNotFound
	}
	return cloneVote(vote), nil
}

// Update 覆盖投票记录。终态记录拒绝任何更新。
func (m *MemoryStore) Update(_ context.Context, vote *QueuedVote) error {
	if vote == nil || vote.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "投票记录缺少 ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.votes[vote.ID]
	if !ok {
		return ErrVoteNotFound
	}
	if existing.Status.IsTerminal() {
		return ErrVoteTerminal
	}
	vote.UpdatedAt = time.Now().Unix()
	m.votes[vote.ID] = cloneVote(vote)
	return nil
}

// ListDue 返回已过否决窗口且仍在排队的投票，按 execute_after 升序。
func (m *MemoryStore) ListDue(_ context.Context, now int64, limit int) ([]*QueuedVote, error) {
	if limit <= 0 {
		limit = 20
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	due := make([]*QueuedVote, 0)
	for _, vote := range m.votes {
		if vote.Status != StatusQueued || vote.ExecuteAfter > now {
			continue
		}
		due = append(due, cloneVote(vote))
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ExecuteAfter == due[j].ExecuteAfter {
			return due[i].ID < due[j].ID
		}
		return due[i].ExecuteAfter < due[j].ExecuteAfter
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
