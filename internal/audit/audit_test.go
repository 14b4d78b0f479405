package audit

import (
	"context"
	"errors"
	"testing"
)

func TestMemorySinkReplayOrder(t *testing.T) {
	t.Parallel()

	sink := NewMemorySink()
	ctx := context.Background()

	first := NewEvent(KindRiskEvaluated, "run-1", map[string]string{"score": "60"})
	second := NewEvent(KindRuleFired, "run-1", map[string]string{"rule": "approval.unlimited_or_over_cap"})
	if err := sink.Append(ctx, first); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := sink.Append(ctx, second); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	events := sink.Replay()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != KindRiskEvaluated || events[1].Kind != KindRuleFired {
		t.Fatalf("replay must preserve append order: %+v", events)
	}
	if events[0].ID == events[1].ID {
		t.Fatalf("event ids must be unique")
	}
}

type failingSink struct{ calls int }

func (s *failingSink) Append(context.Context, Event) error {
	s.calls++
	return errors.New("broker down")
}

func (s *failingSink) Close() error { return nil }

func TestRecorderFansOutToAllSinks(t *testing.T) {
	t.Parallel()

	memory := NewMemorySink()
	failing := &failingSink{}
	recorder := NewRecorder(failing, memory)

	recorder.Record(context.Background(), KindOperationSettled, "run-2", map[string]string{"op_hash": "0xabc"})

	if failing.calls != 1 {
		t.Fatalf("failing sink should still be attempted")
	}
	events := memory.Replay()
	if len(events) != 1 || events[0].RunID != "run-2" {
		t.Fatalf("healthy sink must receive the event: %+v", events)
	}
}

func TestRecorderDegradesWhenAllSinksFail(t *testing.T) {
	t.Parallel()

	failing := &failingSink{}
	recorder := NewRecorder(failing)

	// 全部槽失败时事件落入审计日志，调用方不收到错误。
	recorder.Record(context.Background(), KindBudgetDenied, "run-3", map[string]string{"reason": "DAILY_LIMIT_EXCEEDED"})
	if failing.calls != 1 {
		t.Fatalf("sink should have been attempted once")
	}
}
