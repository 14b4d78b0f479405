// Package audit 提供追加写入的类型化事件日志，供事后回放与分析。
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind 是事件类型的封闭枚举。
type Kind string

const (
	KindRiskEvaluated    Kind = "risk_evaluated"
	KindRuleFired        Kind = "rule_fired"
	KindGuardrailRefused Kind = "guardrail_refused"
	KindOperationSettled Kind = "operation_settled"
	KindSessionStarted   Kind = "session_started"
	KindSessionStopped   Kind = "session_stopped"
	KindVoteQueued       Kind = "vote_queued"
	KindVoteVetoed       Kind = "vote_vetoed"
	KindVoteExecuted     Kind = "vote_executed"
	KindBudgetDenied     Kind = "budget_denied"
)

// Event 是一条追加写入的审计记录。事件一经写入不可修改。
type Event struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	RunID      string            `json:"run_id,omitempty"`
	Payload    map[string]string `json:"payload,omitempty"`
	OccurredAt int64             `json:"occurred_at"`
}

// NewEvent 构造一条带唯一标识和时间戳的事件。
func NewEvent(kind Kind, runID string, payload map[string]string) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		RunID:      runID,
		Payload:    payload,
		OccurredAt: time.Now().Unix(),
	}
}

// Sink 接收审计事件。实现只追加，不提供删除或改写。
type Sink interface {
	Append(ctx context.Context, event Event) error
	Close() error
}
