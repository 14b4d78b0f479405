package governance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	xerrors "AgentSafe-Chain/internal/errors"
	"AgentSafe-Chain/pkg/keymutex"
	"AgentSafe-Chain/pkg/logger"
)

// CastRequest 描述一次对外部投票服务的表决请求。
type CastRequest struct {
	Space      string `json:"space"`
	ProposalID string `json:"proposal_id"`
	Choice     int    `json:"choice"`
	Signature  string `json:"signature,omitempty"`
}

// CastReceipt 是外部投票服务返回的回执。
type CastReceipt struct {
	TxHash  string `json:"tx_hash,omitempty"`
	Receipt string `json:"receipt"`
}

// Caster 对接外部投票服务。实现必须带有限时与确定性降级。
type Caster interface {
	Cast(ctx context.Context, req CastRequest) (CastReceipt, error)
}

// Service 管理投票的排队、否决与执行。
// 状态机：queued -> vetoed | executed，终态永不回退。
type Service struct {
	store      Store
	caster     Caster
	vetoWindow time.Duration
	locks      *keymutex.KeyMutex
	clock      func() time.Time
	log        *slog.Logger
}

// Option 定义可选配置。
type Option func(*Service)

// WithClock 注入时间源，便于测试否决窗口。
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService 构造治理投票服务。
func NewService(store Store, caster Caster, vetoWindow time.Duration, opts ...Option) *Service {
	if vetoWindow <= 0 {
		vetoWindow = time.Hour
	}
	s := &Service{
		store:      store,
		caster:     caster,
		vetoWindow: vetoWindow,
		locks:      keymutex.New(),
		clock:      time.Now,
		log:        logger.Named("governance"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Queue 将一次表决意图放入否决窗口。rationale 以哈希形式留档。
func (s *Service) Queue(ctx context.Context, space, proposalID string, choice int, rationale string) (*QueuedVote, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "投票存储未初始化")
	}
	if strings.TrimSpace(space) == "" || strings.TrimSpace(proposalID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "space 与 proposal id 不能为空")
	}
	now := s.clock()
	vote := &QueuedVote{
		ID:           uuid.NewString(),
		ProposalID:   proposalID,
		Space:        space,
		Choice:       choice,
		ExecuteAfter: now.Add(s.vetoWindow).Unix(),
		Status:       StatusQueued,
		CreatedAt:    now.Unix(),
	}
	if rationale != "" {
		vote.RationaleHash = crypto.Keccak256Hash([]byte(rationale)).Hex()
	}
	if err := s.store.Create(ctx, vote); err != nil {
		return nil, err
	}
	logger.Audit().Info("投票已排队",
		slog.String("vote_id", vote.ID),
		slog.String("space", space),
		slog.String("proposal_id", proposalID),
		slog.Int64("execute_after", vote.ExecuteAfter),
	)
	return vote, nil
}

// Veto 在执行之前否决一条排队投票。终态记录拒绝否决。
func (s *Service) Veto(ctx context.Context, voteID string) (*QueuedVote, error) {
	unlock := s.locks.Lock(voteID)
	defer unlock()

	vote, err := s.store.Get(ctx, voteID)
	if err != nil {
		return nil, err
	}
	if vote.Status.IsTerminal() {
		return nil, ErrVoteTerminal
	}
	vote.Status = StatusVetoed
	vote.Vetoed = true
	if err := s.store.Update(ctx, vote); err != nil {
		return nil, err
	}
	logger.Audit().Info("投票已否决", slog.String("vote_id", voteID))
	return vote, nil
}

// Execute 在否决窗口结束后通过外部投票服务执行表决。
// 窗口未过返回剩余秒数；投票失败时记录保持排队以便重试。
func (s *Service) Execute(ctx context.Context, voteID string) (*QueuedVote, error) {
	if s.caster == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置投票服务客户端")
	}
	unlock := s.locks.Lock(voteID)
	defer unlock()

	vote, err := s.store.Get(ctx, voteID)
	if err != nil {
		return nil, err
	}
	switch vote.Status {
	case StatusVetoed:
		return nil, ErrVoteVetoed
	case StatusExecuted:
		return nil, ErrVoteTerminal
	}
	now := s.clock().Unix()
	if now < vote.ExecuteAfter {
		remaining := vote.ExecuteAfter - now
		return nil, xerrors.New(CodeVetoWindowActive,
			fmt.Sprintf("否决窗口尚未结束，剩余 %d 秒", remaining),
			xerrors.WithMetadata("remaining_seconds", fmt.Sprintf("%d", remaining)))
	}

	receipt, err := s.caster.Cast(ctx, CastRequest{
		Space:      vote.Space,
		ProposalID: vote.ProposalID,
		Choice:     vote.Choice,
	})
	if err != nil {
		// 失败保持排队，等待下一轮重试。
		s.log.Warn("外部投票失败", slog.String("vote_id", voteID), slog.Any("error", err))
		return nil, xerrors.Wrap(CodeVoteCastFailed, err, "外部投票服务调用失败")
	}

	vote.Status = StatusExecuted
	vote.TxHash = receipt.TxHash
	vote.Receipt = receipt.Receipt
	if err := s.store.Update(ctx, vote); err != nil {
		return nil, err
	}
	logger.Audit().Info("投票已执行",
		slog.String("vote_id", voteID),
		slog.String("tx_hash", receipt.TxHash),
	)
	return vote, nil
}

// ExecuteDue 执行全部已到期的排队投票，返回成功执行的数量。
// 单条失败不会中断整轮执行。
func (s *Service) ExecuteDue(ctx context.Context, limit int) (int, error) {
	if s.store == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "投票存储未初始化")
	}
	due, err := s.store.ListDue(ctx, s.clock().Unix(), limit)
	if err != nil {
		return 0, err
	}
	executed := 0
	for _, vote := range due {
		if _, err := s.Execute(ctx, vote.ID); err != nil {
			continue
		}
		executed++
	}
	return executed, nil
}

// Get 返回投票记录。
func (s *Service) Get(ctx context.Context, voteID string) (*QueuedVote, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "投票存储未初始化")
	}
	return s.store.Get(ctx, voteID)
}
