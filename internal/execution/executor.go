package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "AgentSafe-Chain/internal/errors"
	"AgentSafe-Chain/internal/guardrail"
	"AgentSafe-Chain/pkg/logger"
)

// State 表示一次执行在状态机中的位置。
type State string

const (
	StateBuilt     State = "built"
	StateSigned    State = "signed"
	StateSubmitted State = "submitted"
	StateSettled   State = "settled"
	StateFailed    State = "failed"
)

// 执行层错误码。签名者缺失与背书不足永远阻断，不参与降级。
const (
	CodeSignerMissing       xerrors.Code = "SIGNER_MISSING"
	CodeProvenanceThreshold xerrors.Code = "PROVENANCE_THRESHOLD"
	CodeReplayDetected      xerrors.Code = "REPLAY_DETECTED"
	CodeChainMismatch       xerrors.Code = "CHAIN_MISMATCH"
	CodeEntryPointMismatch  xerrors.Code = "ENTRYPOINT_MISMATCH"
)

func init() {
	xerrors.Register(CodeSignerMissing, xerrors.Attributes{
		Message:  "signer not configured",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeProvenanceThreshold, xerrors.Attributes{
		Message:  "insufficient provenance approvals",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeReplayDetected, xerrors.Attributes{
		Message:  "operation hash already seen",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeChainMismatch, xerrors.Attributes{
		Message:  "chain id does not match configuration",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeEntryPointMismatch, xerrors.Attributes{
		Message:  "entry point does not match configuration",
		Severity: xerrors.SeverityWarning,
	})
}

// Signer 为操作哈希产生 secp256k1 签名。秘密材料不经过执行层。
type Signer interface {
	SignDigest(ctx context.Context, digest []byte) ([]byte, error)
}

// Attestation 是一条参与溯源登记的代理背书输入。
type Attestation struct {
	AgentAddress string
	DecisionCode string
	RiskScore    int
	DetailsHash  common.Hash
}

// Config 描述执行服务的固定参数。
type Config struct {
	ChainID             int64
	EntryPoint          string
	SmartAccount        string
	ProvenanceThreshold int
	ReplayTTL           time.Duration
	Policy              RetryPolicy
}

// Result 汇报一次执行的最终状态。轮询超限时 Receipt 为全零值，
// 由调用方稍后自行重查，绝不触发二次提交。
type Result struct {
	State      State
	OpHash     common.Hash
	Provenance ProvenanceLabel
	Receipt    Receipt
}

// Executor 驱动 BUILD -> SIGN -> SUBMIT -> POLL 状态机。
// 提交一经中继确认便不再回退。
type Executor struct {
	chainID    *big.Int
	entryPoint common.Address
	sender     common.Address
	threshold  int
	replayTTL  time.Duration
	policy     RetryPolicy

	bundler  Bundler
	registry Registry
	replay   ReplaySet
	signer   Signer
	clock    Clock
	log      *slog.Logger
}

// Option 用于定制执行器。
type Option func(*Executor)

// WithClock 注入测试时钟。
func WithClock(clock Clock) Option {
	return func(e *Executor) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// NewExecutor 组装执行服务。signer 可以为 nil，此时所有需要签名的
// 路径都会被阻断。
func NewExecutor(cfg Config, bundler Bundler, registry Registry, replay ReplaySet, signer Signer, opts ...Option) (*Executor, error) {
	if bundler == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "缺少打包器客户端")
	}
	if replay == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "缺少重放保护集合")
	}
	if cfg.ChainID <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "链 ID 必须为正")
	}
	entryPoint := strings.TrimSpace(cfg.EntryPoint)
	if !common.IsHexAddress(entryPoint) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "入口点地址不合法")
	}
	if cfg.ProvenanceThreshold <= 0 {
		cfg.ProvenanceThreshold = 1
	}
	if cfg.ReplayTTL <= 0 {
		cfg.ReplayTTL = 15 * time.Minute
	}

	executor := &Executor{
		chainID:    big.NewInt(cfg.ChainID),
		entryPoint: common.HexToAddress(entryPoint),
		sender:     common.HexToAddress(cfg.SmartAccount),
		threshold:  cfg.ProvenanceThreshold,
		replayTTL:  cfg.ReplayTTL,
		policy:     cfg.Policy.normalized(),
		bundler:    bundler,
		registry:   registry,
		replay:     replay,
		signer:     signer,
		clock:      systemClock{},
		log:        logger.Named("execution"),
	}
	for _, opt := range opts {
		opt(executor)
	}
	return executor, nil
}

// Execute 将守护层产出的 call data 包装为用户操作并走完整个状态机。
func (e *Executor) Execute(ctx context.Context, artifact *guardrail.Artifact, attestations []Attestation) (*Result, error) {
	if artifact == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少执行产物")
	}
	if artifact.ChainID != e.chainID.Int64() {
		return nil, xerrors.New(CodeChainMismatch, "产物链 ID 与配置不一致",
			xerrors.WithMetadata("artifact_chain_id", big.NewInt(artifact.ChainID).String()),
			xerrors.WithMetadata("config_chain_id", e.chainID.String()))
	}

	op, err := e.buildOperation(ctx, artifact)
	if err != nil {
		return nil, err
	}
	opHash := op.Hash(e.entryPoint, e.chainID)

	label, err := e.recordProvenance(ctx, opHash, attestations)
	if err != nil {
		return nil, err
	}

	if e.signer == nil {
		return nil, xerrors.New(CodeSignerMissing, "未配置签名者，拒绝执行")
	}
	signature, err := e.signer.SignDigest(ctx, opHash.Bytes())
	if err != nil {
		return nil, xerrors.Wrap(CodeSignerMissing, err, "签名失败")
	}
	op.Signature = signature

	return e.submitAndPoll(ctx, op, opHash, label)
}

// Relay 接受用户已签名的操作：校验链与入口点、做重放检查，
// 然后原样提交，绝不重新签名。
func (e *Executor) Relay(ctx context.Context, op *UserOperation, chainID int64, entryPoint string) (*Result, error) {
	if op == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少用户操作")
	}
	if chainID != e.chainID.Int64() {
		return nil, xerrors.New(CodeChainMismatch, "中继请求链 ID 与配置不一致")
	}
	if !common.IsHexAddress(entryPoint) || common.HexToAddress(entryPoint) != e.entryPoint {
		return nil, xerrors.New(CodeEntryPointMismatch, "中继请求入口点与配置不一致")
	}
	if len(op.Signature) == 0 {
		return nil, xerrors.New(CodeSignerMissing, "中继操作缺少签名")
	}

	opHash := op.Hash(e.entryPoint, e.chainID)
	fresh, err := e.replay.Remember(ctx, opHash, e.replayTTL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "重放检查失败")
	}
	if !fresh {
		return nil, xerrors.New(CodeReplayDetected, "操作哈希在保护窗口内已出现",
			xerrors.WithMetadata("op_hash", opHash.Hex()))
	}

	return e.submitAndPoll(ctx, op, opHash, ProvenanceOffChain)
}

func (e *Executor) buildOperation(ctx context.Context, artifact *guardrail.Artifact) (*UserOperation, error) {
	callData, err := hexutil.Decode(artifact.CallData)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "call data 不是合法十六进制")
	}

	nonce, err := e.bundler.Nonce(ctx, e.sender)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnavailable, err, "获取账户序号失败")
	}
	fees, err := e.bundler.EstimateFees(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnavailable, err, "获取费用估算失败")
	}

	return &UserOperation{
		Sender:               e.sender,
		Nonce:                (*hexutil.Big)(nonce),
		CallData:             callData,
		CallGasLimit:         (*hexutil.Big)(big.NewInt(200_000)),
		VerificationGasLimit: (*hexutil.Big)(big.NewInt(150_000)),
		PreVerificationGas:   (*hexutil.Big)(big.NewInt(50_000)),
		MaxFeePerGas:         (*hexutil.Big)(fees.MaxFeePerGas),
		MaxPriorityFeePerGas: (*hexutil.Big)(fees.MaxPriorityFeePerGas),
		PaymasterAndData:     hexutil.Bytes{},
		Signature:            hexutil.Bytes{},
	}, nil
}

// recordProvenance 在签名前逐条写入背书并读回计数。注册中心不可达
// 时降级为离线标记，但背书数不足永远阻断。
func (e *Executor) recordProvenance(ctx context.Context, opHash common.Hash, attestations []Attestation) (ProvenanceLabel, error) {
	if e.registry == nil {
		return ProvenanceOffChain, nil
	}

	reachable := true
	for _, att := range attestations {
		err := e.registry.RecordApproval(ctx, Approval{
			OpHash:       opHash,
			AgentAddress: att.AgentAddress,
			DecisionCode: att.DecisionCode,
			RiskScore:    att.RiskScore,
			DetailsHash:  att.DetailsHash,
		})
		if err != nil {
			e.log.Warn("溯源注册中心写入失败", "op_hash", opHash.Hex(), "error", err)
			reachable = false
			break
		}
	}

	if reachable {
		count, err := e.registry.ApprovalCount(ctx, opHash)
		if err != nil {
			reachable = false
		} else if count < e.threshold {
			return "", xerrors.New(CodeProvenanceThreshold, "背书数不足，拒绝执行",
				xerrors.WithMetadata("op_hash", opHash.Hex()),
				xerrors.WithMetadata("approvals", fmt.Sprintf("%d", count)),
				xerrors.WithMetadata("threshold", fmt.Sprintf("%d", e.threshold)))
		} else {
			return ProvenanceOnChain, nil
		}
	}

	e.log.Warn("溯源注册中心不可达，降级为离线标记", "op_hash", opHash.Hex())
	return ProvenanceOffChain, nil
}

func (e *Executor) submitAndPoll(ctx context.Context, op *UserOperation, opHash common.Hash, label ProvenanceLabel) (*Result, error) {
	submittedHash, err := e.bundler.SendUserOperation(ctx, op, e.entryPoint)
	if err != nil {
		return &Result{State: StateFailed, OpHash: opHash, Provenance: label},
			xerrors.Wrap(xerrors.CodeSubmissionFailure, err, "提交用户操作失败")
	}
	if submittedHash != (common.Hash{}) {
		opHash = submittedHash
	}
	e.log.Info("用户操作已提交", "op_hash", opHash.Hex(), "provenance", string(label))

	// 已提交，之后的任何失败都只影响回执可见性，不回退提交。
	for attempt := 0; attempt < e.policy.MaxAttempts; attempt++ {
		receipt, err := e.bundler.GetUserOperationReceipt(ctx, opHash)
		if err == nil && receipt != nil {
			return &Result{State: StateSettled, OpHash: opHash, Provenance: label, Receipt: *receipt}, nil
		}
		if err != nil {
			e.log.Warn("查询回执失败", "op_hash", opHash.Hex(), "attempt", attempt+1, "error", err)
		}
		if attempt < e.policy.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return &Result{State: StateSettled, OpHash: opHash, Provenance: label}, nil
			default:
			}
			e.clock.Sleep(e.policy.intervalAt(attempt))
		}
	}

	e.log.Info("回执轮询达到上限，返回全零回执", "op_hash", opHash.Hex())
	return &Result{State: StateSettled, OpHash: opHash, Provenance: label}, nil
}
