package governance

import (
	"context"
	stdErrors "errors"
	"strings"
	"testing"
	"time"

	xerrors "AgentSafe-Chain/internal/errors"
)

type stubCaster struct {
	calls int
	err   error
}

func (s *stubCaster) Cast(_ context.Context, req CastRequest) (CastReceipt, error) {
	s.calls++
	if s.err != nil {
		return CastReceipt{}, s.err
	}
	return CastReceipt{TxHash: "0xabc", Receipt: "ok:" + req.ProposalID}, nil
}

func newTestService(t *testing.T, caster Caster, window time.Duration, clock *func() time.Time) *Service {
	t.Helper()
	return NewService(NewMemoryStore(), caster, window, WithClock(func() time.Time { return (*clock)() }))
}

func TestVetoWindowLifecycle(t *testing.T) {
	// 场景：3600 秒窗口，t+1000 执行失败并报告剩余约 2600 秒；
	// t+1000 否决成功；此后执行永远失败。
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	now := base
	clock := func() time.Time { return now }
	caster := &stubCaster{}
	service := newTestService(t, caster, 3600*time.Second, &clock)

	vote, err := service.Queue(ctx, "dao.eth", "prop-1", 1, "支持理由")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if vote.RationaleHash == "" {
		t.Fatalf("rationale hash should be recorded")
	}

	now = base.Add(1000 * time.Second)
	_, err = service.Execute(ctx, vote.ID)
	if xerrors.CodeOf(err) != CodeVetoWindowActive {
		t.Fatalf("expected VETO_WINDOW_ACTIVE, got %v", err)
	}
	if e, ok := xerrors.From(err); ok {
		remaining := e.Metadata()["remaining_seconds"]
		if remaining != "2600" {
			t.Fatalf("expected 2600 remaining seconds, got %s", remaining)
		}
	} else {
		t.Fatalf("expected coded error")
	}

	if _, err := service.Veto(ctx, vote.ID); err != nil {
		t.Fatalf("veto: %v", err)
	}

	now = base.Add(5000 * time.Second)
	if _, err := service.Execute(ctx, vote.ID); !stdErrors.Is(err, ErrVoteVetoed) {
		t.Fatalf("expected vetoed error, got %v", err)
	}
	if caster.calls != 0 {
		t.Fatalf("vetoed vote must never reach the caster")
	}
}

func TestExecuteAfterWindow(t *testing.T) {
	ctx := context.Background()
	base := time.Now()
	now := base
	clock := func() time.Time { return now }
	caster := &stubCaster{}
	service := newTestService(t, caster, time.Hour, &clock)

	vote, err := service.Queue(ctx, "dao.eth", "prop-2", 2, "")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}

	now = base.Add(2 * time.Hour)
	executed, err := service.Execute(ctx, vote.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if executed.Status != StatusExecuted || executed.TxHash != "0xabc" {
		t.Fatalf("unexpected executed vote: %+v", executed)
	}
	if !strings.HasPrefix(executed.Receipt, "ok:") {
		t.Fatalf("receipt must be persisted: %+v", executed)
	}

	// 终态之后的任何迁移均失败。
	if _, err := service.Execute(ctx, vote.ID); !stdErrors.Is(err, ErrVoteTerminal) {
		t.Fatalf("expected terminal error on re-execute, got %v", err)
	}
	if _, err := service.Veto(ctx, vote.ID); !stdErrors.Is(err, ErrVoteTerminal) {
		t.Fatalf("expected terminal error on veto after execute, got %v", err)
	}
}

func TestCastFailureKeepsVoteQueued(t *testing.T) {
	ctx := context.Background()
	base := time.Now()
	now := base
	clock := func() time.Time { return now }
	caster := &stubCaster{err: stdErrors.New("snapshot unreachable")}
	service := newTestService(t, caster, time.Minute, &clock)

	vote, err := service.Queue(ctx, "dao.eth", "prop-3", 1, "")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}

	now = base.Add(2 * time.Minute)
	if _, err := service.Execute(ctx, vote.ID); xerrors.CodeOf(err) != CodeVoteCastFailed {
		t.Fatalf("expected VOTE_CAST_FAILED, got %v", err)
	}

	reloaded, err := service.Get(ctx, vote.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.Status != StatusQueued {
		t.Fatalf("failed cast must keep the vote queued, got %s", reloaded.Status)
	}

	// 外部服务恢复后重试成功。
	caster.err = nil
	if _, err := service.Execute(ctx, vote.ID); err != nil {
		t.Fatalf("retry execute: %v", err)
	}
}

func TestExecuteDueSkipsFailures(t *testing.T) {
	ctx := context.Background()
	base := time.Now()
	now := base
	clock := func() time.Time { return now }
	caster := &stubCaster{}
	service := newTestService(t, caster, time.Minute, &clock)

	first, err := service.Queue(ctx, "dao.eth", "prop-a", 1, "")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	second, err := service.Queue(ctx, "dao.eth", "prop-b", 1, "")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if _, err := service.Veto(ctx, first.ID); err != nil {
		t.Fatalf("veto: %v", err)
	}

	now = base.Add(2 * time.Minute)
	executed, err := service.ExecuteDue(ctx, 10)
	if err != nil {
		t.Fatalf("execute due: %v", err)
	}
	if executed != 1 {
		t.Fatalf("expected exactly one executed vote, got %d", executed)
	}
	reloaded, err := service.Get(ctx, second.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.Status != StatusExecuted {
		t.Fatalf("due vote should be executed, got %s", reloaded.Status)
	}
}

func TestMemoryStoreRejectsTerminalUpdates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	vote := &QueuedVote{ID: "v1", ProposalID: "p", Space: "s", Status: StatusQueued}
	if err := store.Create(ctx, vote); err != nil {
		t.Fatalf("create: %v", err)
	}
	vote.Status = StatusExecuted
	if err := store.Update(ctx, vote); err != nil {
		t.Fatalf("update: %v", err)
	}
	vote.Status = StatusQueued
	if err := store.Update(ctx, vote); !stdErrors.Is(err, ErrVoteTerminal) {
		t.Fatalf("terminal record must refuse updates, got %v", err)
	}
}
