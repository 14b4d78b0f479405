// Package budget 实现资金使用的治理：跟踪国库余额与当日累计消耗，
// 并在任何上限被触碰时拒绝新的分配。检查按固定顺序执行，
// 第一个被违反的约束即为拒绝原因。
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	xerrors "AgentSafe-Chain/internal/errors"
)

// 预算相关拒绝码。
const (
	CodeActionCapExceeded  xerrors.Code = "ACTION_CAP_EXCEEDED"
	CodeDailyLimitExceeded xerrors.Code = "DAILY_LIMIT_EXCEEDED"
	CodeTreasuryExhausted  xerrors.Code = "TREASURY_EXHAUSTED"
	CodeRunwayTooShort     xerrors.Code = "RUNWAY_TOO_SHORT"
	CodeSustainabilityLow  xerrors.Code = "SUSTAINABILITY_LOW"
)

func init() {
	refusal := xerrors.Attributes{
		Message:  "budget allocation refused",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	}
	for _, code := range []xerrors.Code{
		CodeActionCapExceeded, CodeDailyLimitExceeded, CodeTreasuryExhausted,
		CodeRunwayTooShort, CodeSustainabilityLow,
	} {
		xerrors.Register(code, refusal)
	}
}

// Config 描述预算治理的上限参数。
type Config struct {
	// PerActionCap 是单次动作允许的最大花费。
	PerActionCap float64
	// DailyLimit 是单日累计消耗上限。
	DailyLimit float64
	// MinRunwayDays 是估算续航（treasury / (burn+1)）允许的最小天数。
	MinRunwayDays float64
	// SustainabilityFloor 是外部可持续性信号允许的下限。
	SustainabilityFloor float64
}

// applyDefaults 填充缺省配置。
func (c *Config) applyDefaults() {
	if c.PerActionCap <= 0 {
		c.PerActionCap = 1_000
	}
	if c.DailyLimit <= 0 {
		c.DailyLimit = 5_000
	}
	if c.MinRunwayDays <= 0 {
		c.MinRunwayDays = 30
	}
	if c.SustainabilityFloor <= 0 {
		c.SustainabilityFloor = 0.2
	}
}

// State 是预算状态的只读快照。
type State struct {
	Treasury       float64   `json:"treasury"`
	DayBurn        float64   `json:"day_burn"`
	Reserved       float64   `json:"reserved"`
	LastReset      string    `json:"last_reset"`
	Sustainability float64   `json:"sustainability"`
	TakenAt        time.Time `json:"taken_at"`
}

// Governor 是进程级唯一的预算治理者，所有变更串行执行。
// Allocate 通过即记入在途预留，避免并发请求各自通过校验后一起扣款
// 把当日消耗推过限额。
type Governor struct {
	cfg            Config
	mu             sync.Mutex
	treasury       float64
	dayBurn        float64
	reserved       float64
	lastReset      string
	sustainability float64
	clock          func() time.Time
}

// Option 定义可选配置。
type Option func(*Governor)

// WithClock 注入时间源，便于测试跨日重置。
func WithClock(clock func() time.Time) Option {
	return func(g *Governor) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// NewGovernor 创建预算治理者。
func NewGovernor(cfg Config, treasury float64, opts ...Option) *Governor {
	cfg.applyDefaults()
	g := &Governor{
		cfg:            cfg,
		treasury:       treasury,
		sustainability: 1.0,
		clock:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	g.lastReset = dayOf(g.clock())
	return g
}

// SetSustainability 更新外部可持续性信号。
func (g *Governor) SetSustainability(signal float64) {
	g.mu.Lock()
	g.sustainability = signal
	g.mu.Unlock()
}

// Allocate 校验一次花费是否被允许。检查顺序固定，第一个违规即拒绝：
// 单次上限、当日限额、国库余额、续航天数、可持续性信号。
// 校验通过即把花费记入在途预留，在途金额与已消耗一起计入各项限额，
// 后续由 Spend 落账或由 Release 归还。
func (g *Governor) Allocate(_ context.Context, cost float64) error {
	if cost < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "花费不能为负数")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetIfNewDay()

	committed := g.dayBurn + g.reserved
	if cost > g.cfg.PerActionCap {
		return xerrors.New(CodeActionCapExceeded,
			fmt.Sprintf("单次花费 %.2f 超过上限 %.2f", cost, g.cfg.PerActionCap))
	}
	if committed+cost > g.cfg.DailyLimit {
		return xerrors.New(CodeDailyLimitExceeded,
			fmt.Sprintf("当日累计消耗将达 %.2f，超过限额 %.2f", committed+cost, g.cfg.DailyLimit))
	}
	if cost > g.treasury-g.reserved {
		return xerrors.New(CodeTreasuryExhausted,
			fmt.Sprintf("花费 %.2f 超过国库可用余额 %.2f", cost, g.treasury-g.reserved))
	}
	runway := (g.treasury - g.reserved - cost) / (committed + cost + 1)
	if runway < g.cfg.MinRunwayDays {
		return xerrors.New(CodeRunwayTooShort,
			fmt.Sprintf("估算续航 %.1f 天低于下限 %.1f 天", runway, g.cfg.MinRunwayDays))
	}
	if g.sustainability < g.cfg.SustainabilityFloor {
		return xerrors.New(CodeSustainabilityLow,
			fmt.Sprintf("可持续性信号 %.2f 低于下限 %.2f", g.sustainability, g.cfg.SustainabilityFloor))
	}
	g.reserved += cost
	return nil
}

// Release 归还一笔未落账的预留。花费最终没有发生时调用，
// 多余的归还会被截断到当前在途金额。
func (g *Governor) Release(_ context.Context, cost float64) {
	if cost <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reserved -= cost
	if g.reserved < 0 {
		g.reserved = 0
	}
}

// Spend 记录一次实际花费：消耗对应的预留，扣减国库并累计当日消耗。
func (g *Governor) Spend(_ context.Context, cost float64) error {
	if cost < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "花费不能为负数")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetIfNewDay()
	if cost > g.treasury {
		return xerrors.New(CodeTreasuryExhausted, "国库余额不足")
	}
	g.reserved -= cost
	if g.reserved < 0 {
		g.reserved = 0
	}
	g.treasury -= cost
	g.dayBurn += cost
	return nil
}

// Snapshot 返回当前预算状态。
func (g *Governor) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetIfNewDay()
	return State{
		Treasury:       g.treasury,
		DayBurn:        g.dayBurn,
		Reserved:       g.reserved,
		LastReset:      g.lastReset,
		Sustainability: g.sustainability,
		TakenAt:        g.clock(),
	}
}

// resetIfNewDay 在跨过 UTC 日界时清零当日消耗。调用方必须持有锁。
func (g *Governor) resetIfNewDay() {
	today := dayOf(g.clock())
	if today != g.lastReset {
		g.dayBurn = 0
		g.lastReset = today
	}
}

func dayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
