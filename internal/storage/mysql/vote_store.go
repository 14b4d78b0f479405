package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"AgentSafe-Chain/internal/governance"
)

// VoteStore 使用 MySQL 持久化排队投票，进程重启后被否决窗口保护的
// 投票依旧可以恢复执行。
type VoteStore struct {
	db *sql.DB
}

var _ governance.Store = (*VoteStore)(nil)

// NewVoteStore 创建连接池并执行嵌入的 SQL 迁移。
func NewVoteStore(ctx context.Context, cfg Config) (*VoteStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store := &VoteStore{db: db}
	if err := store.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Create 写入一条新的排队投票。主键冲突视为调用方错误。
func (s *VoteStore) Create(ctx context.Context, vote *governance.QueuedVote) error {
	const stmt = `INSERT INTO queued_votes
        (id, proposal_id, space, choice, rationale_hash, execute_after, vetoed, status, tx_hash, receipt, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		vote.ID,
		vote.ProposalID,
		vote.Space,
		vote.Choice,
		vote.RationaleHash,
		vote.ExecuteAfter,
		vote.Vetoed,
		string(vote.Status),
		vote.TxHash,
		vote.Receipt,
		vote.CreatedAt,
		vote.UpdatedAt,
	); err != nil {
		return fmt.Errorf("写入排队投票失败: %w", err)
	}
	return nil
}

// Get 按 ID 查询投票，不存在时返回 governance.ErrVoteNotFound。
func (s *VoteStore) Get(ctx context.Context, id string) (*governance.QueuedVote, error) {
	const query = `SELECT id, proposal_id, space, choice, rationale_hash, execute_after, vetoed, status, tx_hash, receipt, created_at, updated_at
        FROM queued_votes WHERE id = ?`

	vote, err := scanVote(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, governance.ErrVoteNotFound
		}
		return nil, fmt.Errorf("查询排队投票失败: %w", err)
	}
	return vote, nil
}

// Update 覆盖一条尚未进入终态的投票。终态记录永远不会被改写。
func (s *VoteStore) Update(ctx context.Context, vote *governance.QueuedVote) error {
	const stmt = `UPDATE queued_votes
        SET choice = ?, rationale_hash = ?, execute_after = ?, vetoed = ?, status = ?, tx_hash = ?, receipt = ?, updated_at = ?
        WHERE id = ? AND status = ?`

	result, err := s.db.ExecContext(ctx, stmt,
		vote.Choice,
		vote.RationaleHash,
		vote.ExecuteAfter,
		vote.Vetoed,
		string(vote.Status),
		vote.TxHash,
		vote.Receipt,
		vote.UpdatedAt,
		vote.ID,
		string(governance.StatusQueued),
	)
	if err != nil {
		return fmt.Errorf("更新排队投票失败: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("读取更新结果失败: %w", err)
	}
	if affected == 0 {
		existing, getErr := s.Get(ctx, vote.ID)
		if getErr != nil {
			return getErr
		}
		if existing.Status.IsTerminal() {
			return governance.ErrVoteTerminal
		}
		return nil
	}
	return nil
}

// ListDue 返回否决窗口已过且仍在排队的投票，最早到期的在前。
func (s *VoteStore) ListDue(ctx context.Context, now int64, limit int) ([]*governance.QueuedVote, error) {
	if limit <= 0 {
		limit = 50
	}

	const query = `SELECT id, proposal_id, space, choice, rationale_hash, execute_after, vetoed, status, tx_hash, receipt, created_at, updated_at
        FROM queued_votes
        WHERE status = ? AND vetoed = 0 AND execute_after <= ?
        ORDER BY execute_after ASC, id ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, string(governance.StatusQueued), now, limit)
	if err != nil {
		return nil, fmt.Errorf("查询到期投票失败: %w", err)
	}
	defer rows.Close()

	var votes []*governance.QueuedVote
	for rows.Next() {
		vote, err := scanVote(rows)
		if err != nil {
			return nil, fmt.Errorf("解析到期投票失败: %w", err)
		}
		votes = append(votes, vote)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历到期投票失败: %w", err)
	}
	return votes, nil
}

// Close 关闭底层数据库连接。
func (s *VoteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVote(row rowScanner) (*governance.QueuedVote, error) {
	var (
		vote    governance.QueuedVote
		status  string
		receipt sql.NullString
	)
	if err := row.Scan(
		&vote.ID,
		&vote.ProposalID,
		&vote.Space,
		&vote.Choice,
		&vote.RationaleHash,
		&vote.ExecuteAfter,
		&vote.Vetoed,
		&status,
		&vote.TxHash,
		&receipt,
		&vote.CreatedAt,
		&vote.UpdatedAt,
	); err != nil {
		return nil, err
	}
	vote.Status = governance.Status(status)
	vote.Receipt = receipt.String
	return &vote, nil
}
