package session

import (
	"crypto/ecdsa"
	"math/big"
	"time"

	xerrors "AgentSafe-Chain/internal/errors"
)

// 会话相关错误码。
const (
	CodeSessionNotFound xerrors.Code = "SESSION_NOT_FOUND"
	CodeSessionExpired  xerrors.Code = "SESSION_EXPIRED"
)

var (
	// ErrSessionNotFound 表示钱包没有任何会话记录。
	ErrSessionNotFound = xerrors.New(CodeSessionNotFound, "session not found")
	// ErrSessionExpired 表示会话存在但已过期。
	ErrSessionExpired = xerrors.New(CodeSessionExpired, "session expired")
)

func init() {
	xerrors.Register(CodeSessionNotFound, xerrors.Attributes{
		Message:  "session not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeSessionExpired, xerrors.Attributes{
		Message:  "session expired",
		Severity: xerrors.SeverityInfo,
	})
}

// Session 是一个钱包的委托签名会话。私钥只存在于进程内存中，
// 随会话生命周期存活，任何读取接口都不会返回它。
type Session struct {
	ID                string
	Wallet            string
	DelegateAddress   string
	delegateKey       *ecdsa.PrivateKey
	PrevSigner        string
	SeedAmount        *big.Int
	CapAmount         *big.Int
	MaxSlippageBPS    int
	MaxPriceImpactBPS int
	CreatedAt         time.Time
	ExpiresAt         time.Time
}

// View 是会话的只读视图，不携带任何密钥材料。
type View struct {
	ID                string    `json:"id"`
	Wallet            string    `json:"wallet"`
	DelegateAddress   string    `json:"delegate_address"`
	PrevSigner        string    `json:"prev_signer,omitempty"`
	SeedAmount        string    `json:"seed_amount"`
	CapAmount         string    `json:"cap_amount"`
	MaxSlippageBPS    int       `json:"max_slippage_bps"`
	MaxPriceImpactBPS int       `json:"max_price_impact_bps"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	Expired           bool      `json:"expired"`
}

// view 生成会话的只读视图。
func (s *Session) view(now time.Time) View {
	v := View{
		ID:                s.ID,
		Wallet:            s.Wallet,
		DelegateAddress:   s.DelegateAddress,
		PrevSigner:        s.PrevSigner,
		MaxSlippageBPS:    s.MaxSlippageBPS,
		MaxPriceImpactBPS: s.MaxPriceImpactBPS,
		CreatedAt:         s.CreatedAt,
		ExpiresAt:         s.ExpiresAt,
		Expired:           now.After(s.ExpiresAt),
	}
	if s.SeedAmount != nil {
		v.SeedAmount = s.SeedAmount.String()
	}
	if s.CapAmount != nil {
		v.CapAmount = s.CapAmount.String()
	}
	return v
}

// DeriveCap 按固定比例从种子金额推导周期上限：floor(seed * capBps / 10000)。
// 上限永远不可独立设置，只能由种子推导。
func DeriveCap(seed *big.Int, capBps int) *big.Int {
	if seed == nil || seed.Sign() <= 0 || capBps <= 0 {
		return big.NewInt(0)
	}
	cap := new(big.Int).Mul(seed, big.NewInt(int64(capBps)))
	return cap.Div(cap, big.NewInt(10_000))
}
