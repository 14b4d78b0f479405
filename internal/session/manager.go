package session

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	xerrors "AgentSafe-Chain/internal/errors"
	"AgentSafe-Chain/pkg/keymutex"
)

// Config 控制会话管理器的默认参数。
type Config struct {
	// TTL 是新会话的有效期。
	TTL time.Duration
	// CapBPS 是周期上限占种子金额的固定比例（bps）。
	CapBPS int
	// MaxSlippageBPS 与 MaxPriceImpactBPS 是会话交易的参数上限。
	MaxSlippageBPS    int
	MaxPriceImpactBPS int
}

// applyDefaults 填充缺省配置。
func (c *Config) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if c.CapBPS <= 0 {
		c.CapBPS = 2000
	}
	if c.MaxSlippageBPS <= 0 {
		c.MaxSlippageBPS = 100
	}
	if c.MaxPriceImpactBPS <= 0 {
		c.MaxPriceImpactBPS = 300
	}
}

// Manager 管理委托签名会话：每个钱包至多一个在册会话，
// 新会话覆盖旧会话，停止时恢复钱包此前的签名者。
type Manager struct {
	cfg      Config
	mu       sync.RWMutex
	sessions map[string]*Session
	locks    *keymutex.KeyMutex
	clock    func() time.Time
}

// Option 定义可选的管理器配置。
type Option func(*Manager)

// WithClock 注入时间源，便于测试。
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewManager 创建会话管理器。
func NewManager(cfg Config, opts ...Option) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		locks:    keymutex.New(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Start 为钱包签发一个全新的委托凭据。同一钱包重复调用会覆盖旧会话。
// 周期上限按固定比例从种子推导，推导结果为零的种子被拒绝，
// 以维持种子为正时上限必须为正的约束。
func (m *Manager) Start(ctx context.Context, wallet string, seed *big.Int, prevSigner string) (View, error) {
	wallet = strings.ToLower(strings.TrimSpace(wallet))
	if wallet == "" {
		return View{}, xerrors.New(xerrors.CodeInvalidArgument, "钱包地址不能为空")
	}
	if seed == nil || seed.Sign() < 0 {
		return View{}, xerrors.New(xerrors.CodeInvalidArgument, "种子金额必须是非负整数")
	}
	cap := DeriveCap(seed, m.cfg.CapBPS)
	if seed.Sign() > 0 && cap.Sign() == 0 {
		return View{}, xerrors.New(xerrors.CodeInvalidArgument, "种子金额过小，推导出的周期上限为零")
	}

	unlock := m.locks.Lock(wallet)
	defer unlock()

	select {
	case <-ctx.Done():
		return View{}, ctx.Err()
	default:
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return View{}, xerrors.Wrap(xerrors.CodeUnknown, err, "生成委托密钥失败")
	}
	now := m.clock()
	sess := &Session{
		ID:                uuid.NewString(),
		Wallet:            wallet,
		DelegateAddress:   strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()),
		delegateKey:       key,
		PrevSigner:        strings.ToLower(strings.TrimSpace(prevSigner)),
		SeedAmount:        new(big.Int).Set(seed),
		CapAmount:         cap,
		MaxSlippageBPS:    m.cfg.MaxSlippageBPS,
		MaxPriceImpactBPS: m.cfg.MaxPriceImpactBPS,
		CreatedAt:         now,
		ExpiresAt:         now.Add(m.cfg.TTL),
	}

	m.mu.Lock()
	m.sessions[wallet] = sess
	m.mu.Unlock()

	return sess.view(now), nil
}

// Stop 终止钱包的会话并返回应恢复的此前签名者地址。
// 密钥材料随会话一并丢弃。
func (m *Manager) Stop(_ context.Context, wallet string) (string, error) {
	wallet = strings.ToLower(strings.TrimSpace(wallet))
	unlock := m.locks.Lock(wallet)
	defer unlock()

	m.mu.Lock()
	sess, ok := m.sessions[wallet]
	if ok {
		delete(m.sessions, wallet)
	}
	m.mu.Unlock()

	if !ok {
		return "", ErrSessionNotFound
	}
	sess.delegateKey = nil
	return sess.PrevSigner, nil
}

// Active 返回未过期的会话视图；过期会话返回 ErrSessionExpired。
func (m *Manager) Active(_ context.Context, wallet string) (View, error) {
	wallet = strings.ToLower(strings.TrimSpace(wallet))
	m.mu.RLock()
	sess, ok := m.sessions[wallet]
	m.mu.RUnlock()
	if !ok {
		return View{}, ErrSessionNotFound
	}
	now := m.clock()
	if now.After(sess.ExpiresAt) {
		return View{}, ErrSessionExpired
	}
	return sess.view(now), nil
}

// Lookup 返回任意状态的会话视图，供恢复流程使用。
func (m *Manager) Lookup(_ context.Context, wallet string) (View, error) {
	wallet = strings.ToLower(strings.TrimSpace(wallet))
	m.mu.RLock()
	sess, ok := m.sessions[wallet]
	m.mu.RUnlock()
	if !ok {
		return View{}, ErrSessionNotFound
	}
	return sess.view(m.clock()), nil
}

// SignDigest 用钱包当前会话的委托密钥对 32 字节摘要签名。
// 密钥从不离开管理器，这是唯一能使用它的路径。
func (m *Manager) SignDigest(_ context.Context, wallet string, digest []byte) ([]byte, error) {
	wallet = strings.ToLower(strings.TrimSpace(wallet))
	m.mu.RLock()
	sess, ok := m.sessions[wallet]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if m.clock().After(sess.ExpiresAt) {
		return nil, ErrSessionExpired
	}
	if sess.delegateKey == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "会话缺少委托密钥")
	}
	if len(digest) != 32 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "签名摘要必须是 32 字节")
	}
	return crypto.Sign(digest, sess.delegateKey)
}
