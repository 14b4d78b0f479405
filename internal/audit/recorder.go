package audit

import (
	"context"
	"log/slog"

	"AgentSafe-Chain/pkg/logger"
)

// Recorder 把事件扇出到全部已配置的事件槽。单个槽写入失败时
// 降级为写审计日志文件，绝不让事件丢失，也不阻断主流程。
type Recorder struct {
	sinks    []Sink
	auditLog *slog.Logger
}

// NewRecorder 创建扇出记录器。sinks 可以为空，此时事件只进审计日志。
func NewRecorder(sinks ...Sink) *Recorder {
	return &Recorder{
		sinks:    sinks,
		auditLog: logger.Audit(),
	}
}

// Record 写入一条事件。
func (r *Recorder) Record(ctx context.Context, kind Kind, runID string, payload map[string]string) {
	event := NewEvent(kind, runID, payload)

	delivered := false
	for _, sink := range r.sinks {
		if err := sink.Append(ctx, event); err != nil {
			r.auditLog.Warn("审计事件槽写入失败",
				"event_id", event.ID, "kind", string(event.Kind), "error", err)
			continue
		}
		delivered = true
	}

	if !delivered {
		attrs := []any{"event_id", event.ID, "run_id", event.RunID, "occurred_at", event.OccurredAt}
		for key, value := range event.Payload {
			attrs = append(attrs, key, value)
		}
		r.auditLog.Info(string(event.Kind), attrs...)
	}
}

// Close 关闭全部事件槽。
func (r *Recorder) Close() error {
	var firstErr error
	for _, sink := range r.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
