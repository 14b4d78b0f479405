package governance

import "context"

// Store 抽象了排队投票的持久化接口。
// 实现必须保证终态记录不再被任何更新覆盖。
type Store interface {
	Create(ctx context.Context, vote *QueuedVote) error
	Get(ctx context.Context, id string) (*QueuedVote, error)
	Update(ctx context.Context, vote *QueuedVote) error
	ListDue(ctx context.Context, now int64, limit int) ([]*QueuedVote, error)
	Close() error
}
