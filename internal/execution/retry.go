package execution

import "time"

// Clock 抽象时间与休眠，方便测试注入。
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// RetryPolicy 约束回执轮询的尝试次数与间隔。Backoff 大于 1 时
// 每次轮询间隔按倍数放大。
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
	Backoff     float64
}

// DefaultRetryPolicy 返回默认的轮询策略。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 10,
		Interval:    2 * time.Second,
		Backoff:     1.5,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Interval <= 0 {
		p.Interval = time.Second
	}
	if p.Backoff < 1 {
		p.Backoff = 1
	}
	return p
}

func (p RetryPolicy) intervalAt(attempt int) time.Duration {
	interval := float64(p.Interval)
	for i := 0; i < attempt; i++ {
		interval *= p.Backoff
	}
	return time.Duration(interval)
}
