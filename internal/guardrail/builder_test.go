package guardrail

import (
	"math/big"
	"strings"
	"testing"

	xerrors "AgentSafe-Chain/internal/errors"
	"AgentSafe-Chain/internal/rules"
)

const (
	testToken  = "0x1111111111111111111111111111111111111111"
	testRouter = "0x3333333333333333333333333333333333333333"
)

func newTestBuilder(t *testing.T, swapEnabled bool) *Builder {
	t.Helper()
	builder, err := NewBuilder(Config{
		TokenAllowlist:  []string{testToken},
		RouterAllowlist: []string{testRouter},
		SwapEnabled:     swapEnabled,
	})
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	return builder
}

func revokeIntent(token string) rules.Intent {
	return rules.Intent{
		ID:      "intent-1",
		Action:  rules.ActionRevokeApproval,
		ChainID: 1,
		Target:  token,
		Value:   "0",
		Metadata: map[string]string{
			"spender": "0x2222222222222222222222222222222222222222",
		},
	}
}

func swapIntent(amount, value string) rules.Intent {
	return rules.Intent{
		ID:       "intent-2",
		Action:   rules.ActionSwapRebalance,
		ChainID:  1,
		Target:   testRouter,
		Value:    value,
		CallData: "0x38ed1739" + strings.Repeat("00", 32),
		Metadata: map[string]string{"token_amount": amount},
	}
}

func TestBuildRevokeApproval(t *testing.T) {
	builder := newTestBuilder(t, false)
	artifact, err := builder.Build(revokeIntent(testToken), Caps{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact.To != testToken {
		t.Fatalf("unexpected target: %s", artifact.To)
	}
	// approve 选择器 + spender + 零额度。
	if !strings.HasPrefix(artifact.CallData, "0x095ea7b3") {
		t.Fatalf("calldata must start with the approve selector: %s", artifact.CallData)
	}
	if !strings.Contains(artifact.CallData, "2222222222222222222222222222222222222222") {
		t.Fatalf("calldata must encode the spender: %s", artifact.CallData)
	}
	if strings.Count(artifact.CallData, attributionSuffix) != 1 {
		t.Fatalf("attribution suffix must appear exactly once: %s", artifact.CallData)
	}
}

func TestBuildRevokeRejectsUnknownToken(t *testing.T) {
	// 场景：token 不在允许名单内，必须返回 TOKEN_NOT_ALLOWED。
	builder := newTestBuilder(t, false)
	_, err := builder.Build(revokeIntent("0x9999999999999999999999999999999999999999"), Caps{})
	if err == nil {
		t.Fatalf("expected refusal")
	}
	if xerrors.CodeOf(err) != CodeTokenNotAllowed {
		t.Fatalf("expected TOKEN_NOT_ALLOWED, got %s", xerrors.CodeOf(err))
	}
}

func TestBuildRejectsUnsupportedActions(t *testing.T) {
	builder := newTestBuilder(t, true)
	for _, action := range []rules.ActionKind{rules.ActionNone, rules.ActionBlockApproval, rules.ActionGovernanceVote, "ARBITRARY_CALL"} {
		_, err := builder.Build(rules.Intent{Action: action, ChainID: 1}, Caps{})
		if xerrors.CodeOf(err) != CodeActionNotSupported {
			t.Fatalf("action %s: expected ACTION_NOT_SUPPORTED, got %v", action, err)
		}
	}
}

func TestBuildSwapRequiresFeatureFlag(t *testing.T) {
	builder := newTestBuilder(t, false)
	_, err := builder.Build(swapIntent("100", "0"), Caps{MaxTokenAmount: big.NewInt(1000), MaxValueWei: big.NewInt(1000)})
	if xerrors.CodeOf(err) != CodeSwapDisabled {
		t.Fatalf("expected SWAP_DISABLED, got %v", err)
	}
}

func TestBuildSwapRejectsUnknownRouter(t *testing.T) {
	builder := newTestBuilder(t, true)
	intent := swapIntent("100", "0")
	intent.Target = "0x8888888888888888888888888888888888888888"
	_, err := builder.Build(intent, Caps{MaxTokenAmount: big.NewInt(1000), MaxValueWei: big.NewInt(1000)})
	if xerrors.CodeOf(err) != CodeTargetNotAllowed {
		t.Fatalf("expected TARGET_NOT_ALLOWED, got %v", err)
	}
}

func TestBuildSwapRejectsUnknownSelector(t *testing.T) {
	builder := newTestBuilder(t, true)
	intent := swapIntent("100", "0")
	intent.CallData = "0xdeadbeef"
	_, err := builder.Build(intent, Caps{MaxTokenAmount: big.NewInt(1000), MaxValueWei: big.NewInt(1000)})
	if xerrors.CodeOf(err) != CodeUnknownSelector {
		t.Fatalf("expected UNKNOWN_SELECTOR, got %v", err)
	}
}

func TestBuildSwapEnforcesCaps(t *testing.T) {
	builder := newTestBuilder(t, true)
	caps := Caps{MaxTokenAmount: big.NewInt(1000), MaxValueWei: big.NewInt(500)}

	if _, err := builder.Build(swapIntent("1001", "0"), caps); xerrors.CodeOf(err) != CodeExceedsCap {
		t.Fatalf("expected EXCEEDS_CAP for token amount, got %v", err)
	}
	if _, err := builder.Build(swapIntent("100", "501"), caps); xerrors.CodeOf(err) != CodeExceedsCap {
		t.Fatalf("expected EXCEEDS_CAP for eth value, got %v", err)
	}
	artifact, err := builder.Build(swapIntent("100", "400"), caps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Count(artifact.CallData, attributionSuffix) != 1 {
		t.Fatalf("attribution suffix must appear exactly once")
	}
}

func TestBuildSwapAppendsAttributionToCoincidingPayload(t *testing.T) {
	// 载荷本身以归因字节结尾时后缀仍然追加，后缀是尾缀而非去重标记。
	builder := newTestBuilder(t, true)
	intent := swapIntent("100", "0")
	intent.CallData = "0x38ed1739" + strings.Repeat("00", 28) + attributionSuffix
	payload := strings.TrimPrefix(intent.CallData, "0x")

	artifact, err := builder.Build(intent, Caps{MaxTokenAmount: big.NewInt(1000), MaxValueWei: big.NewInt(1000)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact.CallData != "0x"+payload+attributionSuffix {
		t.Fatalf("suffix must be appended unconditionally: %s", artifact.CallData)
	}
}

func TestBuildSwapRejectsMalformedHex(t *testing.T) {
	builder := newTestBuilder(t, true)
	intent := swapIntent("100", "0")
	intent.CallData = "0x38ed1739zz"
	_, err := builder.Build(intent, Caps{MaxTokenAmount: big.NewInt(1000), MaxValueWei: big.NewInt(1000)})
	if xerrors.CodeOf(err) != CodeMalformedCallData {
		t.Fatalf("expected MALFORMED_CALLDATA, got %v", err)
	}
}
