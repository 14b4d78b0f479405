package rules

import (
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ActionKind 是规则引擎输出的封闭动作枚举。
type ActionKind string

const (
	ActionNone             ActionKind = "NO_ACTION"
	ActionBlockApproval    ActionKind = "BLOCK_APPROVAL"
	ActionRevokeApproval   ActionKind = "REVOKE_APPROVAL"
	ActionLiquidationRepay ActionKind = "LIQUIDATION_REPAY"
	ActionSwapRebalance    ActionKind = "SWAP_REBALANCE"
	ActionGovernanceVote   ActionKind = "GOVERNANCE_VOTE"
)

// IsValidActionKind 检查动作类型是否为支持的枚举值。
func IsValidActionKind(kind ActionKind) bool {
	switch kind {
	case ActionNone, ActionBlockApproval, ActionRevokeApproval,
		ActionLiquidationRepay, ActionSwapRebalance, ActionGovernanceVote:
		return true
	default:
		return false
	}
}

// 规则引擎的硬编码阈值。
var (
	// approvalAmountCap 是未被显式标记为无限授权时允许的最大授权额度。
	approvalAmountCap = new(big.Int).Mul(big.NewInt(1_000_000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	// liquidationHealthThreshold 以下的健康因子触发还款保护。
	liquidationHealthThreshold = 1.05
	// liquidationShortfallCapUSD 是自动还款允许覆盖的最大缺口。
	liquidationShortfallCapUSD = 50_000.0
)

// Ruling 是规则引擎对一条评估记录的裁决。
type Ruling struct {
	Action      ActionKind `json:"action"`
	Rule        string     `json:"rule"`
	ContentHash string     `json:"content_hash"`
}

// Decide 将一条已验证的评估记录确定性地映射为唯一的动作。
// 纯函数：字节级相同的评估记录必然得到相同的动作与内容哈希。
func Decide(eval Evaluation) (Ruling, error) {
	if err := eval.Validate(); err != nil {
		return Ruling{}, err
	}
	hash, err := eval.ContentHash()
	if err != nil {
		return Ruling{}, err
	}
	ruling := Ruling{Action: ActionNone, Rule: "default.no_action", ContentHash: hash}

	switch eval.Domain {
	case DomainApproval:
		approval := eval.Approval
		if approval.IsUnlimited || approvalAmountExceedsCap(approval.Amount) {
			ruling.Action = ActionBlockApproval
			ruling.Rule = "approval.unlimited_or_over_cap"
			return ruling, nil
		}
		if approval.SpenderFlagged {
			ruling.Action = ActionRevokeApproval
			ruling.Rule = "approval.flagged_spender"
			return ruling, nil
		}
	case DomainLiquidation:
		position := eval.Liquidation
		if position.HealthFactor < liquidationHealthThreshold && position.ShortfallUSD <= liquidationShortfallCapUSD {
			ruling.Action = ActionLiquidationRepay
			ruling.Rule = "liquidation.health_under_threshold"
			return ruling, nil
		}
	case DomainGovernance:
		// 治理表决不经规则引擎触发，由投票队列的否决窗口机制把关。
		ruling.Rule = "governance.defer_to_queue"
	}
	return ruling, nil
}

// approvalAmountExceedsCap 判断授权额度是否超过上限，空值视为未超。
func approvalAmountExceedsCap(amount string) bool {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return false
	}
	parsed, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return false
	}
	return parsed.Cmp(approvalAmountCap) > 0
}

// Intent 是经过校验的动作意图，与执行机制解耦。
type Intent struct {
	ID        string            `json:"id"`
	RunID     string            `json:"run_id"`
	CreatedAt int64             `json:"created_at"`
	Action    ActionKind        `json:"action"`
	ChainID   int64             `json:"chain_id"`
	Target    string            `json:"target"`
	Value     string            `json:"value"`
	CallData  string            `json:"call_data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewIntent 依据裁决构造一条动作意图。目标地址与元数据来自评估记录，
// call data 留空占位，由 guardrail 构建器填充。
func NewIntent(runID string, eval Evaluation, ruling Ruling) Intent {
	intent := Intent{
		ID:        uuid.NewString(),
		RunID:     runID,
		CreatedAt: time.Now().Unix(),
		Action:    ruling.Action,
		ChainID:   eval.ChainID,
		Value:     "0",
		Metadata: map[string]string{
			"rule":         ruling.Rule,
			"content_hash": ruling.ContentHash,
		},
	}
	switch eval.Domain {
	case DomainApproval:
		if eval.Approval != nil {
			intent.Target = eval.Approval.Token
			intent.Metadata["spender"] = eval.Approval.Spender
		}
	case DomainLiquidation:
		if eval.Liquidation != nil {
			intent.Metadata["protocol"] = eval.Liquidation.Protocol
		}
	case DomainGovernance:
		if eval.Governance != nil {
			intent.Metadata["space"] = eval.Governance.Space
			intent.Metadata["proposal_id"] = eval.Governance.ProposalID
		}
	}
	return intent
}
