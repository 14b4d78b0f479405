package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ProvenanceLabel 标记一次执行的溯源方式。注册中心不可达时会降级为
// 离线标记而不是阻断执行，这是一个刻意保留的可用性取舍。
type ProvenanceLabel string

const (
	ProvenanceOnChain  ProvenanceLabel = "registry"
	ProvenanceOffChain ProvenanceLabel = "off-chain"
)

// Approval 是写入溯源注册中心的单个代理背书记录。
type Approval struct {
	OpHash       common.Hash `json:"op_hash"`
	AgentAddress string      `json:"agent_address"`
	DecisionCode string      `json:"decision_code"`
	RiskScore    int         `json:"risk_score"`
	DetailsHash  common.Hash `json:"details_hash"`
}

// Registry 抽象外部溯源注册中心：逐条写入背书、按操作哈希读回计数。
type Registry interface {
	RecordApproval(ctx context.Context, approval Approval) error
	ApprovalCount(ctx context.Context, opHash common.Hash) (int, error)
}

// MemoryRegistry 是进程内的注册中心实现，主要用于测试与本地联调。
type MemoryRegistry struct {
	mu        sync.Mutex
	approvals map[common.Hash]map[string]Approval
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry 创建空的内存注册中心。
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{approvals: make(map[common.Hash]map[string]Approval)}
}

// RecordApproval 记录一条背书，同一代理重复写入只计一次。
func (r *MemoryRegistry) RecordApproval(_ context.Context, approval Approval) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byAgent, ok := r.approvals[approval.OpHash]
	if !ok {
		byAgent = make(map[string]Approval)
		r.approvals[approval.OpHash] = byAgent
	}
	byAgent[approval.AgentAddress] = approval
	return nil
}

// ApprovalCount 返回指定操作哈希下的独立背书数。
func (r *MemoryRegistry) ApprovalCount(_ context.Context, opHash common.Hash) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.approvals[opHash]), nil
}

const defaultRegistryTimeout = 10 * time.Second

// HTTPRegistry 通过受限超时的 HTTP 调用访问外部溯源注册中心。
type HTTPRegistry struct {
	baseURL    string
	httpClient *http.Client
}

var _ Registry = (*HTTPRegistry)(nil)

// NewHTTPRegistry 创建指向配置端点的注册中心客户端。
func NewHTTPRegistry(baseURL string, timeout time.Duration) (*HTTPRegistry, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("未配置溯源注册中心地址")
	}
	if timeout <= 0 {
		timeout = defaultRegistryTimeout
	}
	return &HTTPRegistry{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// RecordApproval 提交一条背书记录。
func (r *HTTPRegistry) RecordApproval(ctx context.Context, approval Approval) error {
	payload, err := json.Marshal(approval)
	if err != nil {
		return fmt.Errorf("序列化背书记录失败: %w", err)
	}

	endpoint := r.baseURL + "/approvals"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("构建注册中心请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求溯源注册中心失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("注册中心返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// ApprovalCount 查询操作哈希当前的背书计数。
func (r *HTTPRegistry) ApprovalCount(ctx context.Context, opHash common.Hash) (int, error) {
	endpoint := fmt.Sprintf("%s/approvals/%s/count", r.baseURL, opHash.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("构建注册中心请求失败: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("请求溯源注册中心失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return 0, fmt.Errorf("注册中心返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, fmt.Errorf("解析注册中心响应失败: %w", err)
	}
	return decoded.Count, nil
}
