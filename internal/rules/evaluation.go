package rules

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	xerrors "AgentSafe-Chain/internal/errors"
)

// Domain 是评估记录的判别标签。
type Domain string

const (
	DomainApproval    Domain = "approval"
	DomainGovernance  Domain = "governance"
	DomainLiquidation Domain = "liquidation"
)

// Evaluation 是带判别标签的评估记录，只有与标签匹配的分支会被填充。
// Decide 之前必须先通过 Validate，非法输入一律拒绝，绝不隐式修正。
type Evaluation struct {
	Domain      Domain                 `json:"domain"`
	ChainID     int64                  `json:"chain_id"`
	Approval    *ApprovalEvaluation    `json:"approval,omitempty"`
	Governance  *GovernanceEvaluation  `json:"governance,omitempty"`
	Liquidation *LiquidationEvaluation `json:"liquidation,omitempty"`
}

// ApprovalEvaluation 描述一笔代币授权。
type ApprovalEvaluation struct {
	Token          string `json:"token"`
	Spender        string `json:"spender"`
	Amount         string `json:"amount"`
	IsUnlimited    bool   `json:"is_unlimited"`
	SpenderFlagged bool   `json:"spender_flagged"`
}

// GovernanceEvaluation 描述一次治理提案表决请求。
type GovernanceEvaluation struct {
	Space      string `json:"space"`
	ProposalID string `json:"proposal_id"`
	Choice     int    `json:"choice"`
}

// LiquidationEvaluation 描述一个借贷仓位的清算风险。
type LiquidationEvaluation struct {
	Protocol     string  `json:"protocol"`
	HealthFactor float64 `json:"health_factor"`
	ShortfallUSD float64 `json:"shortfall_usd"`
}

// Validate 校验评估记录的结构完整性。
func (e Evaluation) Validate() error {
	if e.ChainID <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "评估记录缺少合法的链 ID")
	}
	switch e.Domain {
	case DomainApproval:
		if e.Approval == nil {
			return xerrors.New(xerrors.CodeInvalidArgument, "approval 评估缺少授权字段")
		}
		if strings.TrimSpace(e.Approval.Token) == "" || strings.TrimSpace(e.Approval.Spender) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "approval 评估缺少 token 或 spender")
		}
		if amount := strings.TrimSpace(e.Approval.Amount); amount != "" {
			if parsed, ok := new(big.Int).SetString(amount, 10); !ok || parsed.Sign() < 0 {
				return xerrors.New(xerrors.CodeInvalidArgument, "approval 金额必须是非负整数字符串")
			}
		}
	case DomainGovernance:
		if e.Governance == nil {
			return xerrors.New(xerrors.CodeInvalidArgument, "governance 评估缺少提案字段")
		}
		if strings.TrimSpace(e.Governance.Space) == "" || strings.TrimSpace(e.Governance.ProposalID) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "governance 评估缺少 space 或 proposal id")
		}
	case DomainLiquidation:
		if e.Liquidation == nil {
			return xerrors.New(xerrors.CodeInvalidArgument, "liquidation 评估缺少仓位字段")
		}
		if e.Liquidation.HealthFactor < 0 || e.Liquidation.ShortfallUSD < 0 {
			return xerrors.New(xerrors.CodeInvalidArgument, "liquidation 评估字段不能为负数")
		}
	default:
		return xerrors.New(xerrors.CodeInvalidArgument, "未知的评估域: "+string(e.Domain))
	}
	return nil
}

// ContentHash 计算评估记录的规范化内容哈希，用于审计回放。
// 结构体字段顺序固定，序列化结果对字节级相同的输入保持稳定。
func (e Evaluation) ContentHash() (string, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化评估记录失败")
	}
	return crypto.Keccak256Hash(payload).Hex(), nil
}
