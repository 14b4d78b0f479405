package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"AgentSafe-Chain/internal/advisor"
	"AgentSafe-Chain/internal/agentcore"
	"AgentSafe-Chain/internal/audit"
	"AgentSafe-Chain/internal/budget"
	"AgentSafe-Chain/internal/config"
	"AgentSafe-Chain/internal/execution"
	"AgentSafe-Chain/internal/governance"
	"AgentSafe-Chain/internal/guardrail"
	"AgentSafe-Chain/internal/risk"
	"AgentSafe-Chain/internal/services"
	"AgentSafe-Chain/internal/session"
	"AgentSafe-Chain/internal/storage/mysql"
	"AgentSafe-Chain/pkg/logger"
)

// main 是 AgentSafe 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agentsafed 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AGENTSAFE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agentsafe.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditPath != "",
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()
	slogger := logger.L()

	allowlist, err := config.LoadAllowlist(cfg.Guardrail.AllowlistPath, cfg.Strict)
	if err != nil {
		return err
	}

	builder, err := guardrail.NewBuilder(guardrail.Config{
		TokenAllowlist:  allowlist.Tokens,
		RouterAllowlist: allowlist.Routers,
		SwapEnabled:     cfg.Guardrail.SwapEnabled,
	})
	if err != nil {
		return err
	}
	caps, err := buildCaps(cfg.Guardrail)
	if err != nil {
		return err
	}

	sessions := session.NewManager(session.Config{
		TTL:               time.Duration(cfg.Session.TTLSeconds) * time.Second,
		CapBPS:            cfg.Session.CapBPS,
		MaxSlippageBPS:    cfg.Session.MaxSlippageBPS,
		MaxPriceImpactBPS: cfg.Session.MaxPriceImpactBPS,
	})

	governor := budget.NewGovernor(budget.Config{
		PerActionCap:        cfg.Budget.PerActionCap,
		DailyLimit:          cfg.Budget.DailyLimit,
		MinRunwayDays:       cfg.Budget.MinRunwayDays,
		SustainabilityFloor: cfg.Budget.SustainabilityFloor,
	}, cfg.Budget.Treasury)

	voteStore, err := buildVoteStore(ctx, cfg.Governance)
	if err != nil {
		return err
	}
	defer voteStore.Close()

	caster, err := buildVoteCaster(cfg.Services.Vote)
	if err != nil {
		return err
	}
	votes := governance.NewService(voteStore, caster,
		time.Duration(cfg.Governance.VetoWindowSeconds)*time.Second)

	replaySet, err := buildReplaySet(cfg.Replay)
	if err != nil {
		return err
	}
	defer replaySet.Close()

	bundler, err := execution.DialBundler(ctx, cfg.Chain.BundlerURL)
	if err != nil {
		return err
	}
	defer bundler.Close()

	var registry execution.Registry
	if cfg.Chain.RegistryURL != "" {
		registry, err = execution.NewHTTPRegistry(cfg.Chain.RegistryURL, 0)
		if err != nil {
			return err
		}
	}

	executor, err := execution.NewExecutor(execution.Config{
		ChainID:             cfg.Chain.ChainID,
		EntryPoint:          cfg.Chain.EntryPoint,
		SmartAccount:        cfg.Chain.SmartAccount,
		ProvenanceThreshold: cfg.Chain.ProvenanceThreshold,
		ReplayTTL:           time.Duration(cfg.Replay.TTLSeconds) * time.Second,
		Policy:              execution.DefaultRetryPolicy(),
	}, bundler, registry, replaySet,
		agentcore.NewSessionSigner(sessions, cfg.Chain.SmartAccount))
	if err != nil {
		return err
	}

	recorder, err := buildRecorder(cfg.Audit)
	if err != nil {
		return err
	}
	defer recorder.Close()

	quotes, err := buildQuoteClient(cfg.Services.Quote)
	if err != nil {
		return err
	}

	pipeline, err := agentcore.New(
		risk.DefaultAgents(allowlist.FlaggedSpenders),
		builder,
		caps,
		executor,
		sessions,
		governor,
		votes,
		recorder,
		agentcore.WithAdvisor(buildAdvisor(cfg.Services.Advisor)),
		agentcore.WithQuotes(quotes),
	)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Runtime.IntakeDir, 0o755); err != nil {
		return err
	}

	slogger.Info("agentsafed 已启动",
		"chain_id", cfg.Chain.ChainID,
		"governance_store", cfg.Governance.StoreDriver,
		"replay_driver", cfg.Replay.Driver,
		"intake_dir", cfg.Runtime.IntakeDir,
	)

	ticker := time.NewTicker(time.Duration(cfg.Governance.ExecuteIntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slogger.Info("收到退出信号，agentsafed 正在关闭")
			return nil
		case <-ticker.C:
			drainIntake(ctx, pipeline, cfg.Runtime.IntakeDir, slogger)

			executed, err := votes.ExecuteDue(ctx, 50)
			if err != nil && !errors.Is(err, context.Canceled) {
				slogger.Warn("推进治理队列失败", "error", err)
				continue
			}
			if executed > 0 {
				slogger.Info("治理队列推进完成", "executed", executed)
			}
		}
	}
}

// drainIntake 消化投递目录中的评估请求。每个 JSON 文件是一条
// agentcore.Request，结果写回同名 .result.json 文件。
func drainIntake(ctx context.Context, pipeline *agentcore.Pipeline, dir string, slogger *slog.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slogger.Warn("读取投递目录失败", "dir", dir, "error", err)
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".result.json") {
			continue
		}
		path := filepath.Join(dir, name)

		content, err := os.ReadFile(path)
		if err != nil {
			slogger.Warn("读取评估请求失败", "file", name, "error", err)
			continue
		}

		var req agentcore.Request
		if err := json.Unmarshal(content, &req); err != nil {
			slogger.Warn("评估请求格式非法", "file", name, "error", err)
			_ = os.Remove(path)
			continue
		}

		result, runErr := pipeline.Run(ctx, req)
		outcome := map[string]any{"request": req}
		if runErr != nil {
			outcome["error"] = runErr.Error()
		} else {
			outcome["result"] = result
		}

		encoded, err := json.MarshalIndent(outcome, "", "  ")
		if err == nil {
			resultPath := strings.TrimSuffix(path, ".json") + ".result.json"
			if err := os.WriteFile(resultPath, encoded, 0o644); err != nil {
				slogger.Warn("写入评估结果失败", "file", name, "error", err)
			}
		}
		_ = os.Remove(path)
	}
}

func buildCaps(cfg config.GuardrailConfig) (guardrail.Caps, error) {
	caps := guardrail.Caps{}
	if cfg.MaxTokenAmount != "" {
		amount, ok := new(big.Int).SetString(cfg.MaxTokenAmount, 10)
		if !ok {
			return caps, fmt.Errorf("max_token_amount 不是合法的十进制整数: %s", cfg.MaxTokenAmount)
		}
		caps.MaxTokenAmount = amount
	}
	if cfg.MaxValueWei != "" {
		value, ok := new(big.Int).SetString(cfg.MaxValueWei, 10)
		if !ok {
			return caps, fmt.Errorf("max_value_wei 不是合法的十进制整数: %s", cfg.MaxValueWei)
		}
		caps.MaxValueWei = value
	}
	return caps, nil
}

func buildVoteStore(ctx context.Context, cfg config.GovernanceConfig) (governance.Store, error) {
	switch cfg.StoreDriver {
	case "", "memory":
		return governance.NewMemoryStore(), nil
	case "mysql":
		return mysql.NewVoteStore(ctx, mysql.Config{DSN: cfg.MySQLDSN})
	default:
		return nil, fmt.Errorf("未知的治理存储驱动: %s", cfg.StoreDriver)
	}
}

func buildReplaySet(cfg config.ReplayConfig) (execution.ReplaySet, error) {
	switch cfg.Driver {
	case "", "memory":
		return execution.NewMemoryReplaySet(), nil
	case "redis":
		return execution.NewRedisReplaySet(execution.RedisReplaySetConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	default:
		return nil, fmt.Errorf("未知的重放保护驱动: %s", cfg.Driver)
	}
}

func buildRecorder(cfg config.AuditConfig) (*audit.Recorder, error) {
	var sinks []audit.Sink
	for _, driver := range cfg.Drivers {
		switch driver {
		case "memory":
			sinks = append(sinks, audit.NewMemorySink())
		case "redis":
			sink, err := audit.NewRedisSink(audit.RedisSinkConfig{
				Address:  cfg.Redis.Address,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				Stream:   cfg.RedisStream,
			})
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, sink)
		case "rabbitmq":
			sink, err := audit.NewRabbitMQSink(audit.RabbitMQSinkConfig{
				URL:     cfg.RabbitURL,
				Queue:   cfg.RabbitQueue,
				Durable: true,
			})
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, sink)
		default:
			return nil, fmt.Errorf("未知的审计驱动: %s", driver)
		}
	}
	return audit.NewRecorder(sinks...), nil
}

func buildQuoteClient(cfg config.ServiceEndpoint) (services.QuoteClient, error) {
	switch cfg.Driver {
	case "", "fallback":
		return services.NewFallbackQuoteClient(), nil
	case "http":
		return services.NewHTTPQuoteClient(cfg.BaseURL, time.Duration(cfg.TimeoutSeconds)*time.Second)
	default:
		return nil, fmt.Errorf("未知的报价服务驱动: %s", cfg.Driver)
	}
}

func buildVoteCaster(cfg config.ServiceEndpoint) (governance.Caster, error) {
	switch cfg.Driver {
	case "", "fallback":
		return services.NewFallbackVoteClient(), nil
	case "http":
		return services.NewHTTPVoteClient(cfg.BaseURL, time.Duration(cfg.TimeoutSeconds)*time.Second)
	default:
		return nil, fmt.Errorf("未知的投票服务驱动: %s", cfg.Driver)
	}
}

func buildAdvisor(cfg config.AdvisorConfig) advisor.Client {
	if cfg.Provider == "openai" && cfg.APIKey != "" {
		client, err := advisor.NewOpenAIClient(advisor.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
		if err == nil {
			return client
		}
		logger.L().Warn("解说客户端初始化失败，退回确定性实现", "error", err)
	}
	return advisor.NewFallback()
}
