package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"AgentSafe-Chain/internal/governance"
)

// HTTPVoteClient 把表决请求投递给外部投票服务。
type HTTPVoteClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ governance.Caster = (*HTTPVoteClient)(nil)

// NewHTTPVoteClient 创建指向配置端点的投票客户端。
func NewHTTPVoteClient(baseURL string, timeout time.Duration) (*HTTPVoteClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("未配置投票服务地址")
	}
	if timeout <= 0 {
		timeout = defaultServiceTimeout
	}
	return &HTTPVoteClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Cast 提交一次表决并返回服务端回执。
func (c *HTTPVoteClient) Cast(ctx context.Context, req governance.CastRequest) (governance.CastReceipt, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return governance.CastReceipt{}, fmt.Errorf("序列化表决请求失败: %w", err)
	}

	endpoint := c.baseURL + "/votes"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return governance.CastReceipt{}, fmt.Errorf("构建表决请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return governance.CastReceipt{}, fmt.Errorf("请求投票服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return governance.CastReceipt{}, fmt.Errorf("投票服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var receipt governance.CastReceipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return governance.CastReceipt{}, fmt.Errorf("解析表决回执失败: %w", err)
	}
	return receipt, nil
}

// FallbackVoteClient 是确定性的本地降级实现：不产生交易，只返回
// 由请求内容派生的回执标识，保证同一请求幂等。
type FallbackVoteClient struct{}

var _ governance.Caster = (*FallbackVoteClient)(nil)

// NewFallbackVoteClient 创建降级投票实现。
func NewFallbackVoteClient() *FallbackVoteClient { return &FallbackVoteClient{} }

// Cast 返回按请求内容派生的确定性回执。
func (c *FallbackVoteClient) Cast(_ context.Context, req governance.CastRequest) (governance.CastReceipt, error) {
	if strings.TrimSpace(req.Space) == "" || strings.TrimSpace(req.ProposalID) == "" {
		return governance.CastReceipt{}, errors.New("表决请求缺少 space 或 proposal_id")
	}

	digest := crypto.Keccak256Hash([]byte(fmt.Sprintf("%s|%s|%d", req.Space, req.ProposalID, req.Choice)))
	return governance.CastReceipt{
		Receipt: "fallback:" + digest.Hex(),
	}, nil
}
