package risk

import (
	"math/big"
	"strings"

	xerrors "AgentSafe-Chain/internal/errors"
)

// Severity 表示风险报告的严重等级，数值越大越严重。
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String 返回严重等级的文本表示。
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "LOW"
	}
}

// AgentKind 是风险信号智能体的封闭枚举。
type AgentKind string

const (
	AgentKindApproval AgentKind = "approval_sentinel"
	AgentKindTarget   AgentKind = "target_heuristic"
	AgentKindSwap     AgentKind = "swap_inspector"
	AgentKindHealth   AgentKind = "health_monitor"
)

// IsValidAgentKind 检查智能体类型是否为支持的枚举值。
func IsValidAgentKind(kind AgentKind) bool {
	switch kind {
	case AgentKindApproval, AgentKindTarget, AgentKindSwap, AgentKindHealth:
		return true
	default:
		return false
	}
}

// Recommendation 是智能体给出的建议，仅作参考，不直接决定结果。
type Recommendation string

const (
	RecommendAllow  Recommendation = "allow"
	RecommendReview Recommendation = "review"
	RecommendBlock  Recommendation = "block"
)

// Report 是单个智能体对一次交易评估的不可变结论。
type Report struct {
	AgentID        string            `json:"agent_id"`
	Kind           AgentKind         `json:"kind"`
	Timestamp      int64             `json:"timestamp"`
	Score          int               `json:"score"`
	ConfidenceBPS  int               `json:"confidence_bps"`
	Severity       Severity          `json:"severity"`
	Reasons        []string          `json:"reasons"`
	Evidence       map[string]string `json:"evidence,omitempty"`
	Recommendation Recommendation    `json:"recommendation"`
}

// TxInput 描述待评估的交易，对应外部输入的交易描述符。
type TxInput struct {
	ChainID  int64             `json:"chain_id"`
	From     string            `json:"from"`
	To       string            `json:"to"`
	Value    string            `json:"value"`
	CallData string            `json:"call_data"`
	Kind     string            `json:"kind,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ValueBig 将十进制的 Value 解析为大整数，非法输入返回 nil。
func (in TxInput) ValueBig() *big.Int {
	v := strings.TrimSpace(in.Value)
	if v == "" {
		return big.NewInt(0)
	}
	parsed, ok := new(big.Int).SetString(v, 10)
	if !ok || parsed.Sign() < 0 {
		return nil
	}
	return parsed
}

// Validate 校验交易描述符的必填字段。
func (in TxInput) Validate() error {
	if in.ChainID <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "链 ID 必须为正数")
	}
	if strings.TrimSpace(in.To) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易目标地址不能为空")
	}
	if in.ValueBig() == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易金额必须是非负整数字符串")
	}
	data := strings.TrimPrefix(strings.TrimSpace(in.CallData), "0x")
	for _, r := range data {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') && (r < 'A' || r > 'F') {
			return xerrors.New(xerrors.CodeInvalidArgument, "call data 必须是合法的十六进制")
		}
	}
	return nil
}

// clampScore 将评分限制在 0 到 100 区间。
func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
