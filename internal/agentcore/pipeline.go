// Package agentcore 串联整条防护流水线：风险评估、共识、规则裁决、
// call data 构建与执行，并由会话、预算和治理闸门把关。
package agentcore

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"AgentSafe-Chain/internal/advisor"
	"AgentSafe-Chain/internal/audit"
	"AgentSafe-Chain/internal/budget"
	xerrors "AgentSafe-Chain/internal/errors"
	"AgentSafe-Chain/internal/execution"
	"AgentSafe-Chain/internal/governance"
	"AgentSafe-Chain/internal/guardrail"
	"AgentSafe-Chain/internal/risk"
	"AgentSafe-Chain/internal/rules"
	"AgentSafe-Chain/internal/services"
	"AgentSafe-Chain/internal/session"
	"AgentSafe-Chain/pkg/logger"
)

// Request 描述一次完整的防护评估：待检交易与其结构化评估记录。
type Request struct {
	RunID  string           `json:"run_id,omitempty"`
	Wallet string           `json:"wallet"`
	Tx     risk.TxInput     `json:"tx"`
	Eval   rules.Evaluation `json:"eval"`
	Cost   float64          `json:"cost"`
}

// Result 汇总一次流水线运行的全部产出。
type Result struct {
	RunID     string                 `json:"run_id"`
	Decision  risk.Decision          `json:"decision"`
	Ruling    rules.Ruling           `json:"ruling"`
	Narrative string                 `json:"narrative,omitempty"`
	Vote      *governance.QueuedVote `json:"vote,omitempty"`
	Execution *execution.Result      `json:"execution,omitempty"`
	CreatedAt int64                  `json:"created_at"`
}

// Pipeline 是系统的业务核心，按固定顺序驱动各组件。
type Pipeline struct {
	agents     []risk.Agent
	thresholds risk.Thresholds
	builder    *guardrail.Builder
	caps       guardrail.Caps
	executor   *execution.Executor
	sessions   *session.Manager
	governor   *budget.Governor
	votes      *governance.Service
	advisor    advisor.Client
	quotes     services.QuoteClient
	recorder   *audit.Recorder
	log        *slog.Logger
}

// Option 定义可选的流水线配置。
type Option func(*Pipeline)

// WithAdvisor 配置解说客户端。解说失败只会被省略，不影响决策。
func WithAdvisor(client advisor.Client) Option {
	return func(p *Pipeline) {
		p.advisor = client
	}
}

// WithQuotes 配置询价客户端，兑换再平衡路径用它确定最小到手量。
func WithQuotes(client services.QuoteClient) Option {
	return func(p *Pipeline) {
		p.quotes = client
	}
}

// WithThresholds 覆盖共识阈值。
func WithThresholds(thresholds risk.Thresholds) Option {
	return func(p *Pipeline) {
		p.thresholds = thresholds
	}
}

// New 创建流水线。所有闸门组件都是必需的。
func New(
	agents []risk.Agent,
	builder *guardrail.Builder,
	caps guardrail.Caps,
	executor *execution.Executor,
	sessions *session.Manager,
	governor *budget.Governor,
	votes *governance.Service,
	recorder *audit.Recorder,
	opts ...Option,
) (*Pipeline, error) {
	if len(agents) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "至少需要一个风险智能体")
	}
	if builder == nil || executor == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "缺少 guardrail 构建器或执行服务")
	}
	if sessions == nil || governor == nil || votes == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "缺少会话、预算或治理组件")
	}
	if recorder == nil {
		recorder = audit.NewRecorder()
	}

	pipeline := &Pipeline{
		agents:     agents,
		thresholds: risk.DefaultThresholds(),
		builder:    builder,
		caps:       caps,
		executor:   executor,
		sessions:   sessions,
		governor:   governor,
		votes:      votes,
		recorder:   recorder,
		log:        logger.Named("agentcore"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(pipeline)
		}
	}
	return pipeline, nil
}

// Run 执行一轮完整评估。闸门顺序：会话 -> 预算 -> 评估 -> 裁决 ->
// 构建 -> 执行。任何闸门拒绝都让整条流水线失败关闭。
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}

	if err := req.Tx.Validate(); err != nil {
		return nil, err
	}
	if err := req.Eval.Validate(); err != nil {
		return nil, err
	}

	view, err := p.sessions.Active(ctx, req.Wallet)
	if err != nil {
		return nil, err
	}

	if err := p.governor.Allocate(ctx, req.Cost); err != nil {
		p.recorder.Record(ctx, audit.KindBudgetDenied, runID, map[string]string{
			"wallet": req.Wallet,
			"reason": string(xerrors.CodeOf(err)),
		})
		p.logRefusal(runID, err)
		return nil, err
	}
	// 流水线在任何闸门失败或无链上动作时归还预留，只有落账成功的
	// 花费保留在当日消耗里。
	spent := false
	defer func() {
		if !spent {
			p.governor.Release(ctx, req.Cost)
		}
	}()

	reports := risk.EvaluateAll(ctx, p.agents, req.Tx)
	decision := risk.Aggregate(runID, reports, p.thresholds)
	p.recorder.Record(ctx, audit.KindRiskEvaluated, runID, map[string]string{
		"wallet":        req.Wallet,
		"verdict":       string(decision.Verdict),
		"blended_score": fmt.Sprintf("%.2f", decision.BlendedScore),
		"severity":      decision.Severity.String(),
	})

	ruling, err := rules.Decide(req.Eval)
	if err != nil {
		return nil, err
	}
	p.recorder.Record(ctx, audit.KindRuleFired, runID, map[string]string{
		"rule":         ruling.Rule,
		"action":       string(ruling.Action),
		"content_hash": ruling.ContentHash,
	})

	result := &Result{
		RunID:     runID,
		Decision:  decision,
		Ruling:    ruling,
		CreatedAt: time.Now().Unix(),
	}
	p.attachNarrative(ctx, result)

	// 治理表决不走规则引擎的链上动作，转入否决窗口队列。
	if req.Eval.Domain == rules.DomainGovernance {
		vote, err := p.queueVote(ctx, runID, req.Eval)
		if err != nil {
			return nil, err
		}
		result.Vote = vote
		return result, nil
	}

	switch ruling.Action {
	case rules.ActionNone, rules.ActionBlockApproval:
		// BLOCK_APPROVAL 只拦截原始请求，不产生新的链上动作。
		return result, nil
	}

	intent := rules.NewIntent(runID, req.Eval, ruling)
	artifact, err := p.builder.Build(intent, p.capsFor(view))
	if err != nil {
		p.recorder.Record(ctx, audit.KindGuardrailRefused, runID, map[string]string{
			"action": string(ruling.Action),
			"code":   string(xerrors.CodeOf(err)),
		})
		p.logRefusal(runID, err)
		return nil, err
	}

	execResult, err := p.executor.Execute(ctx, artifact, attestationsFrom(reports))
	if err != nil {
		return nil, err
	}
	result.Execution = execResult

	if err := p.governor.Spend(ctx, req.Cost); err != nil {
		p.log.Warn("预算记账失败", "run_id", runID, "error", err)
	} else {
		spent = true
	}
	p.recorder.Record(ctx, audit.KindOperationSettled, runID, map[string]string{
		"wallet":     view.Wallet,
		"op_hash":    execResult.OpHash.Hex(),
		"state":      string(execResult.State),
		"provenance": string(execResult.Provenance),
	})
	return result, nil
}

// RebalanceRequest 描述一次主动的兑换再平衡。
type RebalanceRequest struct {
	Wallet      string  `json:"wallet"`
	ChainID     int64   `json:"chain_id"`
	Router      string  `json:"router"`
	TokenIn     string  `json:"token_in"`
	TokenOut    string  `json:"token_out"`
	AmountIn    string  `json:"amount_in"`
	SlippageBPS int     `json:"slippage_bps"`
	CallData    string  `json:"call_data"`
	ValueWei    string  `json:"value_wei"`
	Cost        float64 `json:"cost"`
}

// Rebalance 执行一次受允许名单和会话限额约束的兑换。询价客户端
// 提供最小到手量；滑点超过会话限额时直接拒绝。
func (p *Pipeline) Rebalance(ctx context.Context, req RebalanceRequest) (*execution.Result, error) {
	view, err := p.sessions.Active(ctx, req.Wallet)
	if err != nil {
		return nil, err
	}
	if view.MaxSlippageBPS > 0 && req.SlippageBPS > view.MaxSlippageBPS {
		return nil, xerrors.New(xerrors.CodeGuardrailRefused, "滑点超过会话限额",
			xerrors.WithMetadata("slippage_bps", fmt.Sprintf("%d", req.SlippageBPS)),
			xerrors.WithMetadata("max_slippage_bps", fmt.Sprintf("%d", view.MaxSlippageBPS)))
	}
	if err := p.governor.Allocate(ctx, req.Cost); err != nil {
		return nil, err
	}
	spent := false
	defer func() {
		if !spent {
			p.governor.Release(ctx, req.Cost)
		}
	}()

	runID := uuid.NewString()

	tx := risk.TxInput{
		ChainID:  req.ChainID,
		From:     req.Wallet,
		To:       req.Router,
		Value:    "0",
		CallData: req.CallData,
		Kind:     "swap",
		Metadata: map[string]string{"slippage_bps": fmt.Sprintf("%d", req.SlippageBPS)},
	}
	if req.ValueWei != "" {
		tx.Value = req.ValueWei
	}
	reports := risk.EvaluateAll(ctx, p.agents, tx)
	decision := risk.Aggregate(runID, reports, p.thresholds)
	p.recorder.Record(ctx, audit.KindRiskEvaluated, runID, map[string]string{
		"wallet":  req.Wallet,
		"verdict": string(decision.Verdict),
	})
	if decision.Verdict == risk.VerdictBlock {
		return nil, xerrors.New(xerrors.CodeGuardrailRefused, "风险共识拒绝了这次兑换",
			xerrors.WithMetadata("blended_score", fmt.Sprintf("%.2f", decision.BlendedScore)))
	}

	intent := rules.Intent{
		ID:        uuid.NewString(),
		RunID:     runID,
		CreatedAt: time.Now().Unix(),
		Action:    rules.ActionSwapRebalance,
		ChainID:   req.ChainID,
		Target:    req.Router,
		Value:     req.ValueWei,
		CallData:  req.CallData,
		Metadata:  map[string]string{"token_amount": req.AmountIn},
	}
	if intent.Value == "" {
		intent.Value = "0"
	}

	if p.quotes != nil {
		quote, err := p.quotes.GetQuote(ctx, services.QuoteRequest{
			TokenIn:     req.TokenIn,
			TokenOut:    req.TokenOut,
			AmountIn:    req.AmountIn,
			SlippageBPS: req.SlippageBPS,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeUnavailable, err, "询价失败，拒绝盲目兑换")
		}
		intent.Metadata["min_amount_out"] = quote.MinAmountOut
		if view.MaxPriceImpactBPS > 0 && quote.PriceImpact > view.MaxPriceImpactBPS {
			return nil, xerrors.New(xerrors.CodeGuardrailRefused, "价格冲击超过会话限额",
				xerrors.WithMetadata("price_impact_bps", fmt.Sprintf("%d", quote.PriceImpact)))
		}
	}

	artifact, err := p.builder.Build(intent, p.capsFor(view))
	if err != nil {
		p.recorder.Record(ctx, audit.KindGuardrailRefused, runID, map[string]string{
			"action": string(rules.ActionSwapRebalance),
			"code":   string(xerrors.CodeOf(err)),
		})
		p.logRefusal(runID, err)
		return nil, err
	}

	result, err := p.executor.Execute(ctx, artifact, attestationsFrom(reports))
	if err != nil {
		return nil, err
	}
	if err := p.governor.Spend(ctx, req.Cost); err != nil {
		p.log.Warn("预算记账失败", "run_id", runID, "error", err)
	} else {
		spent = true
	}
	p.recorder.Record(ctx, audit.KindOperationSettled, runID, map[string]string{
		"wallet":  view.Wallet,
		"op_hash": result.OpHash.Hex(),
		"state":   string(result.State),
	})
	return result, nil
}

// capsFor 把会话推导的周期上限并入静态配置上限。会话上限与配置上限
// 同时存在时取较小者，会话因此能收紧守护栏，但永远不能放宽它。
func (p *Pipeline) capsFor(view session.View) guardrail.Caps {
	caps := p.caps
	sessionCap, ok := new(big.Int).SetString(view.CapAmount, 10)
	if !ok || sessionCap.Sign() <= 0 {
		return caps
	}
	if caps.MaxTokenAmount == nil || sessionCap.Cmp(caps.MaxTokenAmount) < 0 {
		caps.MaxTokenAmount = sessionCap
	}
	return caps
}

// logRefusal 按错误码注册的属性记录闸门拒绝：需要告警的写入审计日志，
// 其余进普通日志。
func (p *Pipeline) logRefusal(runID string, err error) {
	fields := []any{
		"run_id", runID,
		"code", string(xerrors.CodeOf(err)),
		"severity", string(xerrors.SeverityOf(err)),
		"error", err,
	}
	if xerrors.ShouldAlert(err) {
		logger.Audit().Error("闸门拒绝", fields...)
		return
	}
	p.log.Warn("闸门拒绝", fields...)
}

func (p *Pipeline) queueVote(ctx context.Context, runID string, eval rules.Evaluation) (*governance.QueuedVote, error) {
	gov := eval.Governance
	if gov == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "治理评估缺少提案信息")
	}
	rationale := fmt.Sprintf("run=%s space=%s proposal=%s", runID, gov.Space, gov.ProposalID)
	vote, err := p.votes.Queue(ctx, gov.Space, gov.ProposalID, gov.Choice, rationale)
	if err != nil {
		return nil, err
	}
	p.recorder.Record(ctx, audit.KindVoteQueued, runID, map[string]string{
		"vote_id":     vote.ID,
		"space":       vote.Space,
		"proposal_id": vote.ProposalID,
	})
	return vote, nil
}

// attachNarrative 请求解说并追加到共识备注。解说只供人工复核参考，
// 失败时静默省略。
func (p *Pipeline) attachNarrative(ctx context.Context, result *Result) {
	if p.advisor == nil {
		return
	}
	narrative, err := p.advisor.Explain(ctx, advisor.Request{
		RunID:        result.RunID,
		Verdict:      string(result.Decision.Verdict),
		BlendedScore: result.Decision.BlendedScore,
		Action:       string(result.Ruling.Action),
		Reasons:      reasonsOf(result.Decision),
	})
	if err != nil {
		p.log.Warn("解说生成失败", "run_id", result.RunID, "error", err)
		return
	}
	result.Narrative = narrative.Summary
	result.Decision.Notes = append(result.Decision.Notes, "narrative: "+narrative.Summary)
}

func reasonsOf(decision risk.Decision) []string {
	reasons := make([]string, 0, len(decision.Notes)+len(decision.Dissenting))
	reasons = append(reasons, decision.Notes...)
	for _, dissenter := range decision.Dissenting {
		reasons = append(reasons, "dissent: "+dissenter)
	}
	return reasons
}

func attestationsFrom(reports []risk.Report) []execution.Attestation {
	attestations := make([]execution.Attestation, 0, len(reports))
	for _, report := range reports {
		attestations = append(attestations, execution.Attestation{
			AgentAddress: report.AgentID,
			DecisionCode: string(report.Recommendation),
			RiskScore:    report.Score,
			DetailsHash:  crypto.Keccak256Hash([]byte(strings.Join(report.Reasons, "\n"))),
		})
	}
	return attestations
}

// SessionSigner 把会话密钥管理器适配成执行层的签名接口，
// 秘密材料始终留在管理器内部。
type SessionSigner struct {
	manager *session.Manager
	wallet  string
}

var _ execution.Signer = (*SessionSigner)(nil)

// NewSessionSigner 绑定某个钱包的活跃会话。
func NewSessionSigner(manager *session.Manager, wallet string) *SessionSigner {
	return &SessionSigner{manager: manager, wallet: wallet}
}

// SignDigest 用会话委托密钥对摘要签名。
func (s *SessionSigner) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	return s.manager.SignDigest(ctx, s.wallet, digest)
}
