// Package advisor 生成面向人工复核者的决策解说。
// 解说只附加在共识备注中，永远不参与安全决策本身。
package advisor

import (
	"context"
	"fmt"
	"strings"
)

// Request 描述一次待解说的评估结果。
type Request struct {
	RunID        string
	Verdict      string
	BlendedScore float64
	Action       string
	Reasons      []string
}

// Narrative 是生成的解说文本。
type Narrative struct {
	Summary string
}

// Client 定义解说生成的统一接口。实现失败时上层省略解说继续执行。
type Client interface {
	Explain(ctx context.Context, req Request) (*Narrative, error)
}

// Fallback 是不依赖外部服务的确定性实现，按固定模板拼接解说。
type Fallback struct{}

var _ Client = (*Fallback)(nil)

// NewFallback 创建确定性解说实现。
func NewFallback() *Fallback { return &Fallback{} }

// Explain 按模板生成解说，相同输入永远得到相同输出。
func (f *Fallback) Explain(_ context.Context, req Request) (*Narrative, error) {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("评估 %s 的综合风险分为 %.1f，结论为 %s。",
		strings.TrimSpace(req.RunID), req.BlendedScore, req.Verdict))
	if req.Action != "" {
		builder.WriteString(fmt.Sprintf("建议动作: %s。", req.Action))
	}
	if len(req.Reasons) > 0 {
		builder.WriteString("主要理由: ")
		limit := len(req.Reasons)
		if limit > 3 {
			limit = 3
		}
		builder.WriteString(strings.Join(req.Reasons[:limit], "；"))
		builder.WriteString("。")
	}
	return &Narrative{Summary: builder.String()}, nil
}
