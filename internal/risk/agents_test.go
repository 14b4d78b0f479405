package risk

import (
	"context"
	"strings"
	"testing"
)

func TestTargetAgentZeroAddress(t *testing.T) {
	agent := NewTargetAgent()
	report := agent.Evaluate(TxInput{ChainID: 1, To: zeroAddress, Value: "0"})
	if report.Severity != SeverityCritical {
		t.Fatalf("expected CRITICAL severity, got %s", report.Severity)
	}
	if report.Recommendation != RecommendBlock {
		t.Fatalf("expected block recommendation, got %s", report.Recommendation)
	}
}

func TestTargetAgentBareHighValueTransfer(t *testing.T) {
	agent := NewTargetAgent()
	report := agent.Evaluate(TxInput{
		ChainID: 1,
		To:      "0x1111111111111111111111111111111111111111",
		Value:   "2000000000000000000",
	})
	if report.Severity != SeverityHigh {
		t.Fatalf("expected HIGH severity, got %s", report.Severity)
	}
}

func TestApprovalAgentUnlimitedAllowance(t *testing.T) {
	calldata := "0x" + selectorApprove +
		"000000000000000000000000deadbeefdeadbeefdeadbeefdeadbeefdeadbeef" +
		strings.Repeat("f", 64)
	agent := NewApprovalAgent(nil)
	report := agent.Evaluate(TxInput{ChainID: 1, To: "0x2222222222222222222222222222222222222222", Value: "0", CallData: calldata})
	if report.Severity != SeverityCritical {
		t.Fatalf("expected CRITICAL severity for unlimited allowance, got %s", report.Severity)
	}
	if report.Evidence["spender"] != "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef" {
		t.Fatalf("unexpected spender evidence: %s", report.Evidence["spender"])
	}
}

func TestApprovalAgentFlaggedSpender(t *testing.T) {
	spender := "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	calldata := "0x" + selectorApprove +
		"000000000000000000000000deadbeefdeadbeefdeadbeefdeadbeefdeadbeef" +
		"0000000000000000000000000000000000000000000000000000000000000064"
	agent := NewApprovalAgent([]string{spender})
	report := agent.Evaluate(TxInput{ChainID: 1, To: "0x2222222222222222222222222222222222222222", Value: "0", CallData: calldata})
	if report.Severity != SeverityHigh {
		t.Fatalf("expected HIGH severity for flagged spender, got %s", report.Severity)
	}
	if report.Recommendation != RecommendBlock {
		t.Fatalf("expected block recommendation, got %s", report.Recommendation)
	}
}

func TestApprovalAgentSkipsNonApprovalCalls(t *testing.T) {
	agent := NewApprovalAgent(nil)
	report := agent.Evaluate(TxInput{ChainID: 1, To: "0x2222222222222222222222222222222222222222", Value: "0", CallData: "0xa9059cbb"})
	if report.Severity != SeverityLow || report.Score != 0 {
		t.Fatalf("expected low severity zero score, got %s/%d", report.Severity, report.Score)
	}
}

func TestSwapAgentHighSlippage(t *testing.T) {
	agent := NewSwapAgent()
	report := agent.Evaluate(TxInput{
		ChainID:  1,
		To:       "0x3333333333333333333333333333333333333333",
		Value:    "0",
		CallData: "0x38ed1739",
		Metadata: map[string]string{"slippage_bps": "800"},
	})
	if report.Severity != SeverityHigh {
		t.Fatalf("expected HIGH severity for high slippage, got %s", report.Severity)
	}
	if report.Evidence["function"] != "swapExactTokensForTokens" {
		t.Fatalf("unexpected function evidence: %s", report.Evidence["function"])
	}
}

func TestHealthAgentBands(t *testing.T) {
	agent := NewHealthAgent()
	cases := map[string]Severity{
		"0.95": SeverityCritical,
		"1.05": SeverityHigh,
		"1.30": SeverityMedium,
		"2.00": SeverityLow,
	}
	for factor, expected := range cases {
		report := agent.Evaluate(TxInput{
			ChainID:  1,
			To:       "0x4444444444444444444444444444444444444444",
			Value:    "0",
			Metadata: map[string]string{"health_factor": factor},
		})
		if report.Severity != expected {
			t.Fatalf("health factor %s: expected %s, got %s", factor, expected, report.Severity)
		}
	}
}

func TestAgentsAreDeterministic(t *testing.T) {
	input := TxInput{
		ChainID:  1,
		To:       "0x2222222222222222222222222222222222222222",
		Value:    "0",
		CallData: "0x" + selectorApprove + strings.Repeat("0", 64) + strings.Repeat("f", 64),
	}
	for _, agent := range DefaultAgents(nil) {
		first := agent.Evaluate(input)
		second := agent.Evaluate(input)
		if first.Score != second.Score || first.Severity != second.Severity {
			t.Fatalf("agent %s is not deterministic: %+v vs %+v", agent.ID(), first, second)
		}
	}
}

func TestEvaluateAllIsOrderIndependent(t *testing.T) {
	input := TxInput{ChainID: 1, To: "0x2222222222222222222222222222222222222222", Value: "0"}
	agents := DefaultAgents(nil)
	reversed := make([]Agent, len(agents))
	for i, agent := range agents {
		reversed[len(agents)-1-i] = agent
	}

	first := EvaluateAll(context.Background(), agents, input)
	second := EvaluateAll(context.Background(), reversed, input)
	if len(first) != len(second) {
		t.Fatalf("report counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].AgentID != second[i].AgentID || first[i].Score != second[i].Score {
			t.Fatalf("report %d differs across orderings: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestTxInputValidate(t *testing.T) {
	valid := TxInput{ChainID: 1, To: "0x1111111111111111111111111111111111111111", Value: "10", CallData: "0xabcdef"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	invalid := TxInput{ChainID: 1, To: "0x1111111111111111111111111111111111111111", Value: "-5"}
	if err := invalid.Validate(); err == nil {
		t.Fatalf("expected negative value to be rejected")
	}
	badHex := TxInput{ChainID: 1, To: "0x1111111111111111111111111111111111111111", Value: "0", CallData: "0xzz"}
	if err := badHex.Validate(); err == nil {
		t.Fatalf("expected malformed call data to be rejected")
	}
}
