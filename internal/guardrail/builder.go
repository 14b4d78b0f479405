package guardrail

import (
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentSafe-Chain/internal/errors"
	"AgentSafe-Chain/internal/rules"
)

// 守护栏拒绝码。守护栏只能拒绝动作，永远不能放行被其他层拦下的动作。
const (
	CodeActionNotSupported xerrors.Code = "ACTION_NOT_SUPPORTED"
	CodeTokenNotAllowed    xerrors.Code = "TOKEN_NOT_ALLOWED"
	CodeTargetNotAllowed   xerrors.Code = "TARGET_NOT_ALLOWED"
	CodeSwapDisabled       xerrors.Code = "SWAP_DISABLED"
	CodeUnknownSelector    xerrors.Code = "UNKNOWN_SELECTOR"
	CodeExceedsCap         xerrors.Code = "EXCEEDS_CAP"
	CodeMalformedCallData  xerrors.Code = "MALFORMED_CALLDATA"
)

func init() {
	refusal := xerrors.Attributes{
		Message:   "guardrail refused the action",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	}
	for _, code := range []xerrors.Code{
		CodeActionNotSupported, CodeTokenNotAllowed, CodeTargetNotAllowed,
		CodeSwapDisabled, CodeUnknownSelector, CodeExceedsCap, CodeMalformedCallData,
	} {
		xerrors.Register(code, refusal)
	}
}

// attributionSuffix 是附加在每条可执行 call data 末尾的固定归因标记。
const attributionSuffix = "61736366" // "ascf"

// erc20ApproveABI 仅包含构建授权撤销所需的函数。
const erc20ApproveABI = `[{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}]`

// swapSelectors 是允许透传的 DEX 入口选择器。
var swapSelectors = map[string]struct{}{
	"38ed1739": {}, // swapExactTokensForTokens
	"7ff36ab5": {}, // swapExactETHForTokens
	"18cbafe5": {}, // swapExactTokensForETH
	"414bf389": {}, // exactInputSingle
}

// Config 描述构建器的允许名单与功能开关，启动时加载后只读。
type Config struct {
	TokenAllowlist  []string
	RouterAllowlist []string
	SwapEnabled     bool
}

// Caps 是调用方为单个周期提供的支出上限。
type Caps struct {
	MaxTokenAmount *big.Int
	MaxValueWei    *big.Int
}

// Artifact 是通过全部守护栏检查后可交付执行层的调用描述。
type Artifact struct {
	Action   rules.ActionKind `json:"action"`
	ChainID  int64            `json:"chain_id"`
	To       string           `json:"to"`
	Value    *big.Int         `json:"value"`
	CallData string           `json:"call_data"`
}

// Builder 将动作意图转换为 call data，仅支持显式允许的动作类型，
// 其余一律拒绝。它是防止任意链上调用的最后一道防线。
type Builder struct {
	tokens  map[string]struct{}
	routers map[string]struct{}
	swap    bool
	abi     abi.ABI
}

// NewBuilder 构造守护栏 call data 构建器。
func NewBuilder(cfg Config) (*Builder, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ApproveABI))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析 ERC20 ABI 失败")
	}
	builder := &Builder{
		tokens:  lowercaseSet(cfg.TokenAllowlist),
		routers: lowercaseSet(cfg.RouterAllowlist),
		swap:    cfg.SwapEnabled,
		abi:     parsed,
	}
	return builder, nil
}

// Build 为动作意图生成 call data。任何检查失败都返回带拒绝码的错误。
func (b *Builder) Build(intent rules.Intent, caps Caps) (*Artifact, error) {
	if b == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "守护栏构建器未初始化")
	}
	switch intent.Action {
	case rules.ActionRevokeApproval:
		return b.buildRevoke(intent)
	case rules.ActionSwapRebalance:
		return b.buildSwap(intent, caps)
	default:
		return nil, xerrors.New(CodeActionNotSupported,
			"守护栏不支持该动作类型: "+string(intent.Action),
			xerrors.WithMetadata("action", string(intent.Action)))
	}
}

// buildRevoke 生成 approve(spender, 0) 调用，token 必须在允许名单内。
func (b *Builder) buildRevoke(intent rules.Intent) (*Artifact, error) {
	token := strings.ToLower(strings.TrimSpace(intent.Target))
	if token == "" || !common.IsHexAddress(token) {
		return nil, xerrors.New(CodeMalformedCallData, "撤销授权缺少合法的 token 地址")
	}
	if _, ok := b.tokens[token]; !ok {
		return nil, xerrors.New(CodeTokenNotAllowed,
			"token 不在允许名单内",
			xerrors.WithMetadata("token", token))
	}
	spender := strings.TrimSpace(intent.Metadata["spender"])
	if !common.IsHexAddress(spender) {
		return nil, xerrors.New(CodeMalformedCallData, "撤销授权缺少合法的 spender 地址")
	}

	packed, err := b.abi.Pack("approve", common.HexToAddress(spender), big.NewInt(0))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "编码 approve 调用失败")
	}
	return &Artifact{
		Action:   intent.Action,
		ChainID:  intent.ChainID,
		To:       token,
		Value:    big.NewInt(0),
		CallData: withAttribution(hex.EncodeToString(packed)),
	}, nil
}

// buildSwap 透传一笔已编码的兑换调用，受功能开关、路由名单、
// 选择器名单与周期上限的共同约束。
func (b *Builder) buildSwap(intent rules.Intent, caps Caps) (*Artifact, error) {
	if !b.swap {
		return nil, xerrors.New(CodeSwapDisabled, "兑换再平衡功能未开启")
	}
	router := strings.ToLower(strings.TrimSpace(intent.Target))
	if _, ok := b.routers[router]; !ok {
		return nil, xerrors.New(CodeTargetNotAllowed,
			"路由地址不在允许名单内",
			xerrors.WithMetadata("router", router))
	}

	data := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(intent.CallData), "0x"))
	if len(data) < 8 || len(data)%2 != 0 {
		return nil, xerrors.New(CodeMalformedCallData, "兑换 call data 不是合法的十六进制")
	}
	if _, err := hex.DecodeString(data); err != nil {
		return nil, xerrors.New(CodeMalformedCallData, "兑换 call data 不是合法的十六进制")
	}
	if _, ok := swapSelectors[data[:8]]; !ok {
		return nil, xerrors.New(CodeUnknownSelector,
			"兑换 call data 的函数选择器未知",
			xerrors.WithMetadata("selector", data[:8]))
	}

	amount, ok := new(big.Int).SetString(strings.TrimSpace(intent.Metadata["token_amount"]), 10)
	if !ok || amount.Sign() < 0 {
		return nil, xerrors.New(CodeMalformedCallData, "兑换缺少合法的 token 数量")
	}
	value, ok := new(big.Int).SetString(strings.TrimSpace(intent.Value), 10)
	if !ok || value.Sign() < 0 {
		return nil, xerrors.New(CodeMalformedCallData, "兑换缺少合法的 ETH 金额")
	}
	if caps.MaxTokenAmount == nil || amount.Cmp(caps.MaxTokenAmount) > 0 {
		return nil, xerrors.New(CodeExceedsCap,
			"token 数量超过周期上限",
			xerrors.WithMetadata("amount", amount.String()))
	}
	if caps.MaxValueWei == nil || value.Cmp(caps.MaxValueWei) > 0 {
		return nil, xerrors.New(CodeExceedsCap,
			"ETH 金额超过周期上限",
			xerrors.WithMetadata("value", value.String()))
	}

	return &Artifact{
		Action:   intent.Action,
		ChainID:  intent.ChainID,
		To:       router,
		Value:    value,
		CallData: withAttribution(data),
	}, nil
}

// withAttribution 追加固定归因后缀，每条可执行路径恰好追加一次。
// 后缀是固定尾缀而非去重标记，载荷本身以相同字节结尾时仍然追加。
func withAttribution(data string) string {
	return "0x" + data + attributionSuffix
}

func lowercaseSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value != "" {
			set[value] = struct{}{}
		}
	}
	return set
}
