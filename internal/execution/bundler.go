package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// FeeEstimate 汇总一次操作所需的费用字段。
type FeeEstimate struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Bundler 抽象打包器中继的出站调用面：提交操作与查询回执，
// 外加构造操作所需的序号和费用估算。
type Bundler interface {
	Nonce(ctx context.Context, sender common.Address) (*big.Int, error)
	EstimateFees(ctx context.Context) (FeeEstimate, error)
	SendUserOperation(ctx context.Context, op *UserOperation, entryPoint common.Address) (common.Hash, error)
	GetUserOperationReceipt(ctx context.Context, opHash common.Hash) (*Receipt, error)
	Close()
}

// RPCBundler 通过 go-ethereum 的 JSON-RPC 客户端访问打包器节点。
type RPCBundler struct {
	client *gethrpc.Client
}

var _ Bundler = (*RPCBundler)(nil)

// DialBundler 连接配置的打包器 RPC 端点。
func DialBundler(ctx context.Context, rawURL string) (*RPCBundler, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errors.New("未配置打包器 RPC 地址")
	}

	client, err := gethrpc.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("连接打包器节点失败: %w", err)
	}
	return &RPCBundler{client: client}, nil
}

// Nonce 查询智能账户当前的序号。
func (b *RPCBundler) Nonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	var result hexutil.Big
	if err := b.client.CallContext(ctx, &result, "eth_getTransactionCount", sender, "pending"); err != nil {
		return nil, fmt.Errorf("查询账户序号失败: %w", err)
	}
	return (*big.Int)(&result), nil
}

// EstimateFees 获取当前的费用估算。优先级费用不可用时退化为基础价。
func (b *RPCBundler) EstimateFees(ctx context.Context) (FeeEstimate, error) {
	var gasPrice hexutil.Big
	if err := b.client.CallContext(ctx, &gasPrice, "eth_gasPrice"); err != nil {
		return FeeEstimate{}, fmt.Errorf("查询 gas 价格失败: %w", err)
	}

	var tip hexutil.Big
	if err := b.client.CallContext(ctx, &tip, "eth_maxPriorityFeePerGas"); err != nil {
		tip = gasPrice
	}

	return FeeEstimate{
		MaxFeePerGas:         (*big.Int)(&gasPrice),
		MaxPriorityFeePerGas: (*big.Int)(&tip),
	}, nil
}

// SendUserOperation 把已签名的操作提交给打包器。
func (b *RPCBundler) SendUserOperation(ctx context.Context, op *UserOperation, entryPoint common.Address) (common.Hash, error) {
	var opHash common.Hash
	if err := b.client.CallContext(ctx, &opHash, "eth_sendUserOperation", op, entryPoint); err != nil {
		return common.Hash{}, fmt.Errorf("提交用户操作失败: %w", err)
	}
	return opHash, nil
}

// GetUserOperationReceipt 查询操作回执。打包器尚未打包时返回 nil。
func (b *RPCBundler) GetUserOperationReceipt(ctx context.Context, opHash common.Hash) (*Receipt, error) {
	var receipt *Receipt
	if err := b.client.CallContext(ctx, &receipt, "eth_getUserOperationReceipt", opHash); err != nil {
		return nil, fmt.Errorf("查询操作回执失败: %w", err)
	}
	return receipt, nil
}

// Close 释放底层 RPC 连接。
func (b *RPCBundler) Close() {
	if b != nil && b.client != nil {
		b.client.Close()
	}
}
