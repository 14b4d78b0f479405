package risk

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Agent 是无状态的风险信号智能体，针对单笔交易输出一份报告。
// Evaluate 必须是纯函数：除时间戳外，相同输入必须得到相同的报告。
type Agent interface {
	ID() string
	Kind() AgentKind
	Evaluate(input TxInput) Report
}

// 常见函数选择器。
const (
	selectorApprove           = "095ea7b3"
	selectorIncreaseAllowance = "39509351"
	selectorTransferFrom      = "23b872dd"
)

// dexSelectors 是已知 DEX 兑换入口的选择器集合。
var dexSelectors = map[string]string{
	"38ed1739": "swapExactTokensForTokens",
	"7ff36ab5": "swapExactETHForTokens",
	"18cbafe5": "swapExactTokensForETH",
	"414bf389": "exactInputSingle",
	"c04b8d59": "exactInput",
}

// unlimitedAllowance 是无限授权的哨兵值（2^256-1）。
var unlimitedAllowance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// highValueWei 以上的裸转账（无 call data）被视为高风险。
var highValueWei = new(big.Int).Mul(big.NewInt(1), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// zeroAddress 是以太坊零地址。
const zeroAddress = "0x0000000000000000000000000000000000000000"

// EvaluateAll 并行运行全部智能体并按 agent id 排序返回报告。
// 报告彼此独立且可交换，并行与串行执行得到相同结果。
func EvaluateAll(ctx context.Context, agents []Agent, input TxInput) []Report {
	reports := make([]Report, len(agents))
	var wg sync.WaitGroup
	for i, ag := range agents {
		if ag == nil {
			continue
		}
		wg.Add(1)
		go func(idx int, ag Agent) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			default:
			}
			reports[idx] = ag.Evaluate(input)
		}(i, ag)
	}
	wg.Wait()

	results := make([]Report, 0, len(reports))
	for _, report := range reports {
		if report.AgentID == "" {
			continue
		}
		results = append(results, report)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].AgentID < results[j].AgentID
	})
	return results
}

// DefaultAgents 返回系统内置的风险信号智能体集合。
func DefaultAgents(flaggedSpenders []string) []Agent {
	return []Agent{
		NewTargetAgent(),
		NewApprovalAgent(flaggedSpenders),
		NewSwapAgent(),
		NewHealthAgent(),
	}
}

// TargetAgent 检查交易目标地址与裸转账金额。
type TargetAgent struct{}

// NewTargetAgent 创建目标地址检查智能体。
func NewTargetAgent() *TargetAgent { return &TargetAgent{} }

func (a *TargetAgent) ID() string      { return "agent.target" }
func (a *TargetAgent) Kind() AgentKind { return AgentKindTarget }

// Evaluate 实现 Agent 接口。
func (a *TargetAgent) Evaluate(input TxInput) Report {
	report := baseReport(a.ID(), a.Kind())
	data := normalizeCallData(input.CallData)
	value := input.ValueBig()

	switch {
	case strings.EqualFold(strings.TrimSpace(input.To), zeroAddress):
		report.Score = 95
		report.Severity = SeverityCritical
		report.Recommendation = RecommendBlock
		report.Reasons = append(report.Reasons, "交易目标为零地址")
		report.Evidence["target"] = input.To
	case data == "" && value != nil && value.Cmp(highValueWei) > 0:
		report.Score = 70
		report.Severity = SeverityHigh
		report.Recommendation = RecommendReview
		report.Reasons = append(report.Reasons, "空 call data 且转账金额超过高风险阈值")
		report.Evidence["value"] = value.String()
	default:
		report.Score = 5
		report.Severity = SeverityLow
		report.Recommendation = RecommendAllow
		report.Reasons = append(report.Reasons, "目标地址检查未发现异常")
	}
	return report
}

// ApprovalAgent 识别授权类调用并检查无限授权与可疑 spender。
type ApprovalAgent struct {
	flaggedSpenders map[string]struct{}
}

// NewApprovalAgent 创建授权检查智能体。
func NewApprovalAgent(flaggedSpenders []string) *ApprovalAgent {
	set := make(map[string]struct{}, len(flaggedSpenders))
	for _, spender := range flaggedSpenders {
		spender = strings.ToLower(strings.TrimSpace(spender))
		if spender != "" {
			set[spender] = struct{}{}
		}
	}
	return &ApprovalAgent{flaggedSpenders: set}
}

func (a *ApprovalAgent) ID() string      { return "agent.approval" }
func (a *ApprovalAgent) Kind() AgentKind { return AgentKindApproval }

// Evaluate 实现 Agent 接口。
func (a *ApprovalAgent) Evaluate(input TxInput) Report {
	report := baseReport(a.ID(), a.Kind())
	data := normalizeCallData(input.CallData)

	selector := ""
	if len(data) >= 8 {
		selector = data[:8]
	}
	if selector != selectorApprove && selector != selectorIncreaseAllowance {
		report.Score = 0
		report.Severity = SeverityLow
		report.ConfidenceBPS = 4000
		report.Recommendation = RecommendAllow
		report.Reasons = append(report.Reasons, "非授权类调用，跳过授权检查")
		return report
	}
	report.Evidence["selector"] = selector

	spender, amount := decodeApprovalArgs(data)
	if spender != "" {
		report.Evidence["spender"] = spender
	}

	switch {
	case amount != nil && amount.Cmp(unlimitedAllowance) == 0:
		report.Score = 92
		report.Severity = SeverityCritical
		report.Recommendation = RecommendBlock
		report.Reasons = append(report.Reasons, "检测到无限授权哨兵值")
	case a.isFlagged(spender):
		report.Score = 80
		report.Severity = SeverityHigh
		report.Recommendation = RecommendBlock
		report.Reasons = append(report.Reasons, fmt.Sprintf("spender %s 在风险名单中", spender))
	case amount != nil && amount.Cmp(highValueWei) > 0:
		report.Score = 55
		report.Severity = SeverityMedium
		report.Recommendation = RecommendReview
		report.Reasons = append(report.Reasons, "授权额度超过常规阈值")
		report.Evidence["amount"] = amount.String()
	default:
		report.Score = 20
		report.Severity = SeverityLow
		report.Recommendation = RecommendAllow
		report.Reasons = append(report.Reasons, "授权参数在安全范围内")
	}
	return report
}

func (a *ApprovalAgent) isFlagged(spender string) bool {
	if spender == "" {
		return false
	}
	_, ok := a.flaggedSpenders[strings.ToLower(spender)]
	return ok
}

// SwapAgent 识别 DEX 兑换调用并评估滑点相关风险。
type SwapAgent struct{}

// NewSwapAgent 创建兑换检查智能体。
func NewSwapAgent() *SwapAgent { return &SwapAgent{} }

func (a *SwapAgent) ID() string      { return "agent.swap" }
func (a *SwapAgent) Kind() AgentKind { return AgentKindSwap }

// Evaluate 实现 Agent 接口。
func (a *SwapAgent) Evaluate(input TxInput) Report {
	report := baseReport(a.ID(), a.Kind())
	data := normalizeCallData(input.CallData)

	selector := ""
	if len(data) >= 8 {
		selector = data[:8]
	}
	name, isSwap := dexSelectors[selector]
	if !isSwap {
		report.Score = 0
		report.Severity = SeverityLow
		report.ConfidenceBPS = 4000
		report.Recommendation = RecommendAllow
		report.Reasons = append(report.Reasons, "非 DEX 兑换调用，跳过兑换检查")
		return report
	}
	report.Evidence["selector"] = selector
	report.Evidence["function"] = name

	slippageBPS := parseIntMetadata(input.Metadata, "slippage_bps")
	switch {
	case slippageBPS > 500:
		report.Score = 75
		report.Severity = SeverityHigh
		report.Recommendation = RecommendReview
		report.Reasons = append(report.Reasons, fmt.Sprintf("兑换滑点 %d bps 超过安全上限", slippageBPS))
	case slippageBPS > 100:
		report.Score = 45
		report.Severity = SeverityMedium
		report.Recommendation = RecommendReview
		report.Reasons = append(report.Reasons, fmt.Sprintf("兑换滑点 %d bps 偏高", slippageBPS))
	default:
		report.Score = 25
		report.Severity = SeverityLow
		report.Recommendation = RecommendAllow
		report.Reasons = append(report.Reasons, "DEX 兑换参数在安全范围内")
	}
	return report
}

// HealthAgent 根据借贷健康因子分段评估清算风险。
type HealthAgent struct{}

// NewHealthAgent 创建健康因子检查智能体。
func NewHealthAgent() *HealthAgent { return &HealthAgent{} }

func (a *HealthAgent) ID() string      { return "agent.health" }
func (a *HealthAgent) Kind() AgentKind { return AgentKindHealth }

// Evaluate 实现 Agent 接口。
func (a *HealthAgent) Evaluate(input TxInput) Report {
	report := baseReport(a.ID(), a.Kind())
	raw, ok := input.Metadata["health_factor"]
	if !ok {
		report.Score = 0
		report.Severity = SeverityLow
		report.ConfidenceBPS = 3000
		report.Recommendation = RecommendAllow
		report.Reasons = append(report.Reasons, "输入未携带健康因子，跳过清算检查")
		return report
	}
	factor, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		report.Score = 40
		report.Severity = SeverityMedium
		report.Recommendation = RecommendReview
		report.Reasons = append(report.Reasons, "健康因子格式非法")
		report.Evidence["health_factor"] = raw
		return report
	}
	report.Evidence["health_factor"] = raw

	switch {
	case factor < 1.0:
		report.Score = 90
		report.Severity = SeverityCritical
		report.Recommendation = RecommendBlock
		report.Reasons = append(report.Reasons, "健康因子低于 1.0，仓位已可被清算")
	case factor < 1.1:
		report.Score = 70
		report.Severity = SeverityHigh
		report.Recommendation = RecommendReview
		report.Reasons = append(report.Reasons, "健康因子低于 1.1，清算风险极高")
	case factor < 1.5:
		report.Score = 40
		report.Severity = SeverityMedium
		report.Recommendation = RecommendReview
		report.Reasons = append(report.Reasons, "健康因子偏低，需要关注")
	default:
		report.Score = 10
		report.Severity = SeverityLow
		report.Recommendation = RecommendAllow
		report.Reasons = append(report.Reasons, "健康因子处于安全区间")
	}
	return report
}

// baseReport 构造带默认置信度与时间戳的报告骨架。
func baseReport(id string, kind AgentKind) Report {
	return Report{
		AgentID:       id,
		Kind:          kind,
		Timestamp:     time.Now().Unix(),
		ConfidenceBPS: 8000,
		Reasons:       make([]string, 0, 2),
		Evidence:      make(map[string]string, 2),
	}
}

// normalizeCallData 去除 0x 前缀并转为小写。
func normalizeCallData(data string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(data), "0x"))
}

// decodeApprovalArgs 解析 approve(spender, amount) 参数，解析失败返回零值。
func decodeApprovalArgs(data string) (string, *big.Int) {
	if len(data) < 8+64+64 {
		return "", nil
	}
	spenderWord := data[8 : 8+64]
	amountWord := data[8+64 : 8+128]
	spender := "0x" + spenderWord[24:]
	amount, ok := new(big.Int).SetString(amountWord, 16)
	if !ok {
		return spender, nil
	}
	return spender, amount
}

// parseIntMetadata 读取元数据中的整数字段，缺失或非法时返回 0。
func parseIntMetadata(metadata map[string]string, key string) int {
	if metadata == nil {
		return 0
	}
	raw, ok := metadata[key]
	if !ok {
		return 0
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return value
}
