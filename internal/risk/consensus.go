package risk

import (
	"fmt"
	"time"
)

// Verdict 是共识引擎给出的最终决定。
type Verdict string

const (
	VerdictAllow  Verdict = "ALLOW"
	VerdictReview Verdict = "REVIEW_REQUIRED"
	VerdictBlock  Verdict = "BLOCK"
)

// Thresholds 控制共识引擎的评分阈值与权重。
type Thresholds struct {
	// High 及以上的混合评分直接阻断。
	High float64
	// Mid 及以上的混合评分需要人工复核。
	Mid float64
	// MaxWeight 是最大评分在混合评分中的权重，其余权重归平均评分。
	MaxWeight float64
	// ConfidenceFloor 是低风险报告被计入支持方所需的最低置信度（bps）。
	ConfidenceFloor int
}

// DefaultThresholds 返回默认阈值。
// 混合评分采用 70% 最大值 + 30% 平均值，单个严重异常无法被大量低风险报告稀释。
func DefaultThresholds() Thresholds {
	return Thresholds{
		High:            75,
		Mid:             45,
		MaxWeight:       0.7,
		ConfidenceFloor: 6000,
	}
}

// Decision 汇总一轮评估中全部报告的共识结论。
type Decision struct {
	RunID         string   `json:"run_id"`
	Timestamp     int64    `json:"timestamp"`
	Severity      Severity `json:"severity"`
	BlendedScore  float64  `json:"blended_score"`
	Verdict       Verdict  `json:"verdict"`
	ThresholdUsed float64  `json:"threshold_used"`
	Approving     []string `json:"approving"`
	Dissenting    []string `json:"dissenting"`
	Notes         []string `json:"notes,omitempty"`
}

// Aggregate 将一轮评估的全部报告聚合成一个共识决定。
// 输入顺序不影响结果；空报告集返回携带说明的安全放行。
func Aggregate(runID string, reports []Report, thresholds Thresholds) Decision {
	decision := Decision{
		RunID:      runID,
		Timestamp:  time.Now().Unix(),
		Severity:   SeverityLow,
		Verdict:    VerdictAllow,
		Approving:  make([]string, 0, len(reports)),
		Dissenting: make([]string, 0),
	}
	if thresholds.High <= 0 {
		thresholds = DefaultThresholds()
	}

	if len(reports) == 0 {
		decision.ThresholdUsed = thresholds.Mid
		decision.Notes = append(decision.Notes, "无可用风险报告，默认安全放行")
		return decision
	}

	maxScore := 0
	sum := 0
	for _, report := range reports {
		score := clampScore(report.Score)
		sum += score
		if score > maxScore {
			maxScore = score
		}
		if report.Severity > decision.Severity {
			decision.Severity = report.Severity
		}
	}
	mean := float64(sum) / float64(len(reports))
	decision.BlendedScore = thresholds.MaxWeight*float64(maxScore) + (1-thresholds.MaxWeight)*mean

	switch {
	case decision.BlendedScore >= thresholds.High || decision.Severity == SeverityCritical:
		decision.Verdict = VerdictBlock
		decision.ThresholdUsed = thresholds.High
	case decision.BlendedScore >= thresholds.Mid || decision.Severity == SeverityHigh:
		decision.Verdict = VerdictReview
		decision.ThresholdUsed = thresholds.Mid
	default:
		decision.Verdict = VerdictAllow
		decision.ThresholdUsed = thresholds.Mid
	}

	for _, report := range reports {
		if approves(report, thresholds) {
			decision.Approving = append(decision.Approving, report.AgentID)
			continue
		}
		decision.Dissenting = append(decision.Dissenting, report.AgentID)
		reason := "unspecified"
		if len(report.Reasons) > 0 {
			reason = report.Reasons[0]
		}
		decision.Notes = append(decision.Notes,
			fmt.Sprintf("%s 持异议: %s", report.AgentID, reason))
	}
	return decision
}

// approves 判断单份报告是否计入支持方。
// 显式建议放行，或低/中严重度且置信度达标的报告算作支持。
func approves(report Report, thresholds Thresholds) bool {
	if report.Recommendation == RecommendAllow {
		return true
	}
	if report.Severity <= SeverityMedium && report.ConfidenceBPS >= thresholds.ConfidenceFloor {
		return true
	}
	return false
}
