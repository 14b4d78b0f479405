package governance

import (
	xerrors "AgentSafe-Chain/internal/errors"
)

// Status 表示排队投票在生命周期中的状态。
type Status string

const (
	StatusQueued   Status = "queued"
	StatusVetoed   Status = "vetoed"
	StatusExecuted Status = "executed"
)

// IsTerminal 判断状态是否为终态。终态永不回退。
func (s Status) IsTerminal() bool {
	return s == StatusVetoed || s == StatusExecuted
}

// IsValidStatus 检查状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusQueued, StatusVetoed, StatusExecuted:
		return true
	default:
		return false
	}
}

// QueuedVote 是一条受否决窗口保护的治理投票记录。
type QueuedVote struct {
	ID            string `json:"id"`
	ProposalID    string `json:"proposal_id"`
	Space         string `json:"space"`
	Choice        int    `json:"choice"`
	RationaleHash string `json:"rationale_hash,omitempty"`
	ExecuteAfter  int64  `json:"execute_after"`
	Vetoed        bool   `json:"vetoed"`
	Status        Status `json:"status"`
	TxHash        string `json:"tx_hash,omitempty"`
	Receipt       string `json:"receipt,omitempty"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

// 治理相关错误码。
const (
	CodeVoteNotFound     xerrors.Code = "VOTE_NOT_FOUND"
	CodeVoteTerminal     xerrors.Code = "VOTE_TERMINAL"
	CodeVetoWindowActive xerrors.Code = "VETO_WINDOW_ACTIVE"
	CodeVoteVetoed       xerrors.Code = "VOTE_VETOED"
	CodeVoteCastFailed   xerrors.Code = "VOTE_CAST_FAILED"
)

var (
	// ErrVoteNotFound 表示指定的投票不存在。
	ErrVoteNotFound = xerrors.New(CodeVoteNotFound, "vote not found")
	// ErrVoteTerminal 表示投票已处于终态，任何迁移都被拒绝。
	ErrVoteTerminal = xerrors.New(CodeVoteTerminal, "vote already terminal")
	// ErrVoteVetoed 表示投票已被否决。
	ErrVoteVetoed = xerrors.New(CodeVoteVetoed, "vote vetoed")
)

func init() {
	xerrors.Register(CodeVoteNotFound, xerrors.Attributes{
		Message:  "vote not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeVoteTerminal, xerrors.Attributes{
		Message:  "vote already terminal",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeVetoWindowActive, xerrors.Attributes{
		Message:  "veto window still active",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeVoteVetoed, xerrors.Attributes{
		Message:  "vote vetoed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeVoteCastFailed, xerrors.Attributes{
		Message:   "vote cast failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

func cloneVote(vote *QueuedVote) *QueuedVote {
	if vote == nil {
		return nil
	}
	clone := *vote
	return &clone
}
