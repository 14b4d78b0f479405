// Package services 封装外部报价与投票服务的客户端。
// 所有网络调用都带有限时，并提供确定性的本地降级实现。
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultServiceTimeout = 10 * time.Second

// QuoteRequest 描述一次兑换询价。
type QuoteRequest struct {
	TokenIn     string `json:"token_in"`
	TokenOut    string `json:"token_out"`
	AmountIn    string `json:"amount_in"`
	SlippageBPS int    `json:"slippage_bps"`
}

// Quote 是询价结果。
type Quote struct {
	AmountOut    string `json:"amount_out"`
	MinAmountOut string `json:"min_amount_out"`
	PriceImpact  int    `json:"price_impact_bps"`
	Source       string `json:"source"`
}

// QuoteClient 定义询价能力。
type QuoteClient interface {
	GetQuote(ctx context.Context, req QuoteRequest) (*Quote, error)
}

// HTTPQuoteClient 通过 HTTP 访问外部报价服务。
type HTTPQuoteClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ QuoteClient = (*HTTPQuoteClient)(nil)

// NewHTTPQuoteClient 创建指向配置端点的询价客户端。
func NewHTTPQuoteClient(baseURL string, timeout time.Duration) (*HTTPQuoteClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("未配置报价服务地址")
	}
	if timeout <= 0 {
		timeout = defaultServiceTimeout
	}
	return &HTTPQuoteClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// GetQuote 请求一次询价。
func (c *HTTPQuoteClient) GetQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	query := url.Values{}
	query.Set("token_in", req.TokenIn)
	query.Set("token_out", req.TokenOut)
	query.Set("amount_in", req.AmountIn)
	query.Set("slippage_bps", fmt.Sprintf("%d", req.SlippageBPS))

	endpoint := c.baseURL + "/quote?" + query.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("构建报价请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求报价服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("报价服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var quote Quote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, fmt.Errorf("解析报价响应失败: %w", err)
	}
	return &quote, nil
}

// FallbackQuoteClient 是确定性的本地降级实现：按 1:1 报价并仅按
// 滑点参数折减最小到手量，供外部服务不可用时保底使用。
type FallbackQuoteClient struct{}

var _ QuoteClient = (*FallbackQuoteClient)(nil)

// NewFallbackQuoteClient 创建降级询价实现。
func NewFallbackQuoteClient() *FallbackQuoteClient { return &FallbackQuoteClient{} }

// GetQuote 返回确定性的保守报价。
func (c *FallbackQuoteClient) GetQuote(_ context.Context, req QuoteRequest) (*Quote, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(req.AmountIn), 10)
	if !ok || amount.Sign() < 0 {
		return nil, errors.New("amount_in 不是合法的十进制整数")
	}

	slippage := req.SlippageBPS
	if slippage < 0 {
		slippage = 0
	}
	if slippage > 10_000 {
		slippage = 10_000
	}

	minOut := new(big.Int).Mul(amount, big.NewInt(int64(10_000-slippage)))
	minOut.Div(minOut, big.NewInt(10_000))

	return &Quote{
		AmountOut:    amount.String(),
		MinAmountOut: minOut.String(),
		PriceImpact:  0,
		Source:       "fallback",
	}, nil
}
