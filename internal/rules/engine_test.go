package rules

import (
	"testing"
)

func approvalEval(mutate func(*Evaluation)) Evaluation {
	eval := Evaluation{
		Domain:  DomainApproval,
		ChainID: 1,
		Approval: &ApprovalEvaluation{
			Token:   "0x1111111111111111111111111111111111111111",
			Spender: "0x2222222222222222222222222222222222222222",
			Amount:  "1000",
		},
	}
	if mutate != nil {
		mutate(&eval)
	}
	return eval
}

func TestDecideUnlimitedApprovalAlwaysBlocks(t *testing.T) {
	// 场景：is_unlimited 为 true 时，不论其他字段如何都必须 BLOCK_APPROVAL。
	eval := approvalEval(func(e *Evaluation) {
		e.Approval.IsUnlimited = true
		e.Approval.SpenderFlagged = true
		e.Approval.Amount = "1"
	})
	ruling, err := Decide(eval)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ruling.Action != ActionBlockApproval {
		t.Fatalf("expected BLOCK_APPROVAL, got %s", ruling.Action)
	}
	if ruling.Rule != "approval.unlimited_or_over_cap" {
		t.Fatalf("unexpected rule: %s", ruling.Rule)
	}
}

func TestDecideAmountOverCapBlocks(t *testing.T) {
	eval := approvalEval(func(e *Evaluation) {
		e.Approval.Amount = "2000000000000000000000000" // 2e24 > 1e24 上限
	})
	ruling, err := Decide(eval)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ruling.Action != ActionBlockApproval {
		t.Fatalf("expected BLOCK_APPROVAL, got %s", ruling.Action)
	}
}

func TestDecideFlaggedSpenderRevokes(t *testing.T) {
	eval := approvalEval(func(e *Evaluation) {
		e.Approval.SpenderFlagged = true
	})
	ruling, err := Decide(eval)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ruling.Action != ActionRevokeApproval {
		t.Fatalf("expected REVOKE_APPROVAL, got %s", ruling.Action)
	}
}

func TestDecideSafeApprovalNoAction(t *testing.T) {
	ruling, err := Decide(approvalEval(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ruling.Action != ActionNone {
		t.Fatalf("expected NO_ACTION, got %s", ruling.Action)
	}
}

func TestDecideLiquidationRepay(t *testing.T) {
	eval := Evaluation{
		Domain:  DomainLiquidation,
		ChainID: 1,
		Liquidation: &LiquidationEvaluation{
			Protocol:     "aave-v3",
			HealthFactor: 1.01,
			ShortfallUSD: 2500,
		},
	}
	ruling, err := Decide(eval)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ruling.Action != ActionLiquidationRepay {
		t.Fatalf("expected LIQUIDATION_REPAY, got %s", ruling.Action)
	}

	eval.Liquidation.ShortfallUSD = 90_000 // 超过缺口上限
	ruling, err = Decide(eval)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ruling.Action != ActionNone {
		t.Fatalf("expected NO_ACTION for oversized shortfall, got %s", ruling.Action)
	}
}

func TestDecideRejectsMalformedInput(t *testing.T) {
	cases := []Evaluation{
		{Domain: "unknown", ChainID: 1},
		{Domain: DomainApproval, ChainID: 1},
		{Domain: DomainApproval, ChainID: 0, Approval: &ApprovalEvaluation{Token: "0x1", Spender: "0x2"}},
		{Domain: DomainApproval, ChainID: 1, Approval: &ApprovalEvaluation{Token: "0x1", Spender: "0x2", Amount: "abc"}},
		{Domain: DomainLiquidation, ChainID: 1, Liquidation: &LiquidationEvaluation{HealthFactor: -1}},
	}
	for i, eval := range cases {
		if _, err := Decide(eval); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestDecideIsPureAndHashStable(t *testing.T) {
	eval := approvalEval(nil)
	first, err := Decide(eval)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Decide(eval)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Action != second.Action || first.ContentHash != second.ContentHash {
		t.Fatalf("rulings differ for identical input: %+v vs %+v", first, second)
	}

	changed := approvalEval(func(e *Evaluation) { e.Approval.Amount = "1001" })
	third, err := Decide(changed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third.ContentHash == first.ContentHash {
		t.Fatalf("different evaluations must hash differently")
	}
}

func TestNewIntentCarriesRuleAndHash(t *testing.T) {
	eval := approvalEval(func(e *Evaluation) { e.Approval.SpenderFlagged = true })
	ruling, err := Decide(eval)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	intent := NewIntent("run-9", eval, ruling)
	if intent.Action != ActionRevokeApproval {
		t.Fatalf("unexpected action: %s", intent.Action)
	}
	if intent.Target != eval.Approval.Token {
		t.Fatalf("intent target should be the token address")
	}
	if intent.Metadata["content_hash"] != ruling.ContentHash || intent.Metadata["spender"] == "" {
		t.Fatalf("intent metadata incomplete: %+v", intent.Metadata)
	}
	if !IsValidActionKind(intent.Action) {
		t.Fatalf("intent action outside the closed enum")
	}
}
