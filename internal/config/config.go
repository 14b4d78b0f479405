package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// Config 描述守护进程在启动阶段加载的全部配置。
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Chain      ChainConfig      `json:"chain"`
	Guardrail  GuardrailConfig  `json:"guardrail"`
	Session    SessionConfig    `json:"session"`
	Budget     BudgetConfig     `json:"budget"`
	Governance GovernanceConfig `json:"governance"`
	Replay     ReplayConfig     `json:"replay"`
	Audit      AuditConfig      `json:"audit"`
	Services   ServicesConfig   `json:"services"`
	Runtime    RuntimeConfig    `json:"runtime"`
	Strict     bool             `json:"strict"`
}

// RuntimeConfig 放置运行时的通用参数。IntakeDir 是评估请求的投递目录，
// 守护进程轮询其中的 JSON 文件并逐个执行。
type RuntimeConfig struct {
	DataDir   string `json:"data_dir"`
	IntakeDir string `json:"intake_dir"`
}

// LoggingConfig 控制结构化日志与审计日志输出。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// ChainConfig 包含链身份与出站端点。
type ChainConfig struct {
	ChainID             int64  `json:"chain_id"`
	EntryPoint          string `json:"entry_point"`
	SmartAccount        string `json:"smart_account"`
	BundlerURL          string `json:"bundler_url"`
	RegistryURL         string `json:"registry_url"`
	ProvenanceThreshold int    `json:"provenance_threshold"`
}

// GuardrailConfig 控制 call data 构建器的允许名单与上限。
type GuardrailConfig struct {
	AllowlistPath  string `json:"allowlist_path"`
	SwapEnabled    bool   `json:"swap_enabled"`
	MaxTokenAmount string `json:"max_token_amount"`
	MaxValueWei    string `json:"max_value_wei"`
}

// SessionConfig 控制会话密钥的生命周期与限额。
type SessionConfig struct {
	TTLSeconds        int `json:"ttl_seconds"`
	CapBPS            int `json:"cap_bps"`
	MaxSlippageBPS    int `json:"max_slippage_bps"`
	MaxPriceImpactBPS int `json:"max_price_impact_bps"`
}

// BudgetConfig 控制预算闸门的各项上限。
type BudgetConfig struct {
	Treasury            float64 `json:"treasury"`
	PerActionCap        float64 `json:"per_action_cap"`
	DailyLimit          float64 `json:"daily_limit"`
	MinRunwayDays       float64 `json:"min_runway_days"`
	SustainabilityFloor float64 `json:"sustainability_floor"`
}

// GovernanceConfig 控制投票队列与其持久化后端。
type GovernanceConfig struct {
	VetoWindowSeconds      int    `json:"veto_window_seconds"`
	ExecuteIntervalSeconds int    `json:"execute_interval_seconds"`
	StoreDriver            string `json:"store_driver"`
	MySQLDSN               string `json:"mysql_dsn"`
}

// ReplayConfig 控制中继重放保护的后端。
type ReplayConfig struct {
	Driver     string `json:"driver"`
	TTLSeconds int    `json:"ttl_seconds"`
	Redis      Redis  `json:"redis"`
}

// AuditConfig 控制审计事件槽。Drivers 可以同时启用多个。
type AuditConfig struct {
	Drivers     []string `json:"drivers"`
	Redis       Redis    `json:"redis"`
	RedisStream string   `json:"redis_stream"`
	RabbitURL   string   `json:"rabbitmq_url"`
	RabbitQueue string   `json:"rabbitmq_queue"`
}

// Redis 统一描述 Redis 连接参数。
type Redis struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// ServicesConfig 描述外部报价、投票与解说服务。
type ServicesConfig struct {
	Quote   ServiceEndpoint `json:"quote"`
	Vote    ServiceEndpoint `json:"vote"`
	Advisor AdvisorConfig   `json:"advisor"`
}

// ServiceEndpoint 是单个外部服务的选择与地址。
type ServiceEndpoint struct {
	Driver         string `json:"driver"`
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// AdvisorConfig 描述解说生成方式。
type AdvisorConfig struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
	BaseURL  string `json:"base_url"`
	Model    string `json:"model"`
}

// Load 解析指定路径的 JSON 配置文件并套用默认值。
// 严格模式下还会做一次加载期校验。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	if cfg.Strict {
		if err := cfg.validateStrict(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Logging.OutputPaths) == 0 {
		c.Logging.OutputPaths = []string{"stdout"}
	}

	if c.Chain.ProvenanceThreshold <= 0 {
		c.Chain.ProvenanceThreshold = 2
	}

	if c.Guardrail.AllowlistPath != "" && !filepath.IsAbs(c.Guardrail.AllowlistPath) {
		c.Guardrail.AllowlistPath = filepath.Join(baseDir, c.Guardrail.AllowlistPath)
	}

	if c.Session.TTLSeconds <= 0 {
		c.Session.TTLSeconds = 3600
	}
	if c.Session.CapBPS <= 0 {
		c.Session.CapBPS = 2000
	}

	if c.Governance.VetoWindowSeconds <= 0 {
		c.Governance.VetoWindowSeconds = 3600
	}
	if c.Governance.ExecuteIntervalSeconds <= 0 {
		c.Governance.ExecuteIntervalSeconds = 60
	}
	if c.Governance.StoreDriver == "" {
		c.Governance.StoreDriver = "memory"
	}

	if c.Replay.Driver == "" {
		c.Replay.Driver = "memory"
	}
	if c.Replay.TTLSeconds <= 0 {
		c.Replay.TTLSeconds = 900
	}

	if len(c.Audit.Drivers) == 0 {
		c.Audit.Drivers = []string{"memory"}
	}

	if c.Services.Quote.Driver == "" {
		c.Services.Quote.Driver = "fallback"
	}
	if c.Services.Vote.Driver == "" {
		c.Services.Vote.Driver = "fallback"
	}
	if c.Services.Advisor.Provider == "" {
		c.Services.Advisor.Provider = "fallback"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Runtime.IntakeDir == "" {
		c.Runtime.IntakeDir = filepath.Join(c.Runtime.DataDir, "intake")
	} else if !filepath.IsAbs(c.Runtime.IntakeDir) {
		c.Runtime.IntakeDir = filepath.Join(baseDir, c.Runtime.IntakeDir)
	}
}

// validateStrict 在加载期拒绝明显危险的配置：零地址、空允许名单路径
// 或缺失的链身份。失败关闭，宁可不启动。
func (c *Config) validateStrict() error {
	if c.Chain.ChainID <= 0 {
		return errors.New("严格模式: chain_id 必须为正")
	}
	if isZeroOrEmptyAddress(c.Chain.EntryPoint) {
		return errors.New("严格模式: entry_point 不能为空或零地址")
	}
	if isZeroOrEmptyAddress(c.Chain.SmartAccount) {
		return errors.New("严格模式: smart_account 不能为空或零地址")
	}
	if strings.TrimSpace(c.Guardrail.AllowlistPath) == "" {
		return errors.New("严格模式: 必须提供允许名单文件")
	}
	return nil
}

func isZeroOrEmptyAddress(addr string) bool {
	addr = strings.ToLower(strings.TrimSpace(addr))
	return addr == "" || addr == zeroAddress
}
