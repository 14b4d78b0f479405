package execution

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// UserOperation 是提交给打包器的账户抽象操作。所有数值字段按
// 十六进制编码上行，与打包器 RPC 的线格式保持一致。
type UserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes  `json:"paymasterAndData"`
	Signature            hexutil.Bytes  `json:"signature"`
}

// Hash 计算操作哈希：先对操作本体做 Keccak256，再与入口点地址和
// 链 ID 绑定做二次哈希，避免跨链或跨入口点重放同一个签名。
func (op *UserOperation) Hash(entryPoint common.Address, chainID *big.Int) common.Hash {
	inner := crypto.Keccak256(
		op.Sender.Bytes(),
		bigBytes(op.Nonce),
		crypto.Keccak256(op.CallData),
		bigBytes(op.CallGasLimit),
		bigBytes(op.VerificationGasLimit),
		bigBytes(op.PreVerificationGas),
		bigBytes(op.MaxFeePerGas),
		bigBytes(op.MaxPriorityFeePerGas),
		crypto.Keccak256(op.PaymasterAndData),
	)
	return crypto.Keccak256Hash(inner, entryPoint.Bytes(), bigBytes((*hexutil.Big)(chainID)))
}

func bigBytes(v *hexutil.Big) []byte {
	if v == nil {
		return common.BigToHash(new(big.Int)).Bytes()
	}
	return common.BigToHash((*big.Int)(v)).Bytes()
}

// Receipt 是打包器返回的操作回执。轮询超限时调用方会拿到一份
// 全零回执，由上层自行决定何时重新查询。
type Receipt struct {
	UserOpHash  common.Hash `json:"userOpHash"`
	TxHash      common.Hash `json:"transactionHash"`
	BlockNumber uint64      `json:"blockNumber"`
	Success     bool        `json:"success"`
	GasUsed     uint64      `json:"actualGasUsed"`
}
