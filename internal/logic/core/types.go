package core

import (
	"encoding/json"

	"github.com/gagliardetto/solana-go"
)

// RoutePlanStep 聚合器路由中的一跳
type RoutePlanStep struct {
	AmmKey     string // 池子地址
	Label      string // DEX 名称
	InputMint  string
	OutputMint string
	InAmount   uint64
	OutAmount  uint64
	Percent    int // 本跳承担的比例
}

// Quote 兑换报价，只在一次构建调用内存活，不落库。
type Quote struct {
	InputMint            solana.PublicKey
	OutputMint           solana.PublicKey
	InAmount             uint64 // 用户需支付的输入 token 数量（最小单位）
	OutAmount            uint64 // 兑换得到的结算 token 数量（最小单位）
	RequestedAmount      uint64 // 请求的精确输出数量
	OtherAmountThreshold uint64 // ExactOut 下为最大输入
	SwapMode             string
	SlippageBps          int
	PriceImpactPct       string
	RoutePlan            []RoutePlanStep
	ContextSlot          uint64

	// Raw 聚合器返回的原始 JSON，请求 swap-instructions 时原样回传
	Raw json.RawMessage
}

// MaxInput ExactOut 报价在滑点范围内可能扣除的最大输入数量
func (q *Quote) MaxInput() uint64 {
	if q.OtherAmountThreshold > q.InAmount {
		return q.OtherAmountThreshold
	}
	return q.InAmount
}

// Venues 返回路由经过的 DEX 名称，用于日志
func (q *Quote) Venues() []string {
	labels := make([]string, 0, len(q.RoutePlan))
	for _, step := range q.RoutePlan {
		labels = append(labels, step.Label)
	}
	return labels
}

// InstructionSet 表示一次支付的有序指令列表以及路由引用的地址查找表。
// 结算转账指令必须位于最后，校验器依赖这一顺序。
type InstructionSet struct {
	Instructions []solana.Instruction
	LookupTables []solana.PublicKey
}

// AppendSettlement 追加结算转账，调用后不应再追加其它指令
func (s *InstructionSet) AppendSettlement(ix solana.Instruction) {
	s.Instructions = append(s.Instructions, ix)
}

// Last 返回最后一条指令
func (s *InstructionSet) Last() solana.Instruction {
	if len(s.Instructions) == 0 {
		return nil
	}
	return s.Instructions[len(s.Instructions)-1]
}

// UnsignedTransaction 已编译、待客户端签名的 v0 交易。每次构建都使用新的 blockhash，只能使用一次。
type UnsignedTransaction struct {
	Transaction          string // base64 序列化结果（签名位为零值）
	Payer                solana.PublicKey
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
	ComputeUnitLimit     uint32
	ComputeUnitPrice     uint64 // µlamports/CU
	LookupTables         []solana.PublicKey
}

// AccountState 本地预检需要的账户快照
type AccountState struct {
	Address    solana.PublicKey
	Exists     bool
	Owner      solana.PublicKey
	Lamports   uint64
	Executable bool
	Data       []byte
}

// MintInfo 解码后的 mint 账户
type MintInfo struct {
	Mint            string
	MintAuthority   *string
	Supply          uint64
	Decimals        uint8
	IsInitialized   bool
	FreezeAuthority *string
}

// CompiledInstruction 最终交易中的一条主指令（账户以下标表示）
type CompiledInstruction struct {
	ProgramIDIndex uint16
	Accounts       []uint16
	Data           []byte
}

// TokenBalance 交易执行后某个 token 账户的余额快照
type TokenBalance struct {
	AccountIndex uint16
	Owner        solana.PublicKey
	Mint         solana.PublicKey
	Amount       uint64
}

// FinalizedTx 校验器使用的最终确认交易视图，账户列表已包含查找表加载的地址。
type FinalizedTx struct {
	Signature         solana.Signature
	Slot              uint64
	BlockTime         int64
	AccountKeys       []solana.PublicKey // 静态账户 + 查找表 writable + 查找表 readonly
	Instructions      []CompiledInstruction
	PostTokenBalances map[uint16]TokenBalance
	Err               interface{} // 非 nil 表示链上执行失败
}

// VerifiedPayment 从链上交易重新推导出的支付事实
type VerifiedPayment struct {
	Signature   solana.Signature
	Signer      solana.PublicKey
	Source      solana.PublicKey
	Mint        solana.PublicKey
	Destination solana.PublicKey
	Reference   solana.PublicKey
	RawAmount   uint64
	Quantity    uint64 // 实际购买的计费单位数，履约必须使用该值
	Slot        uint64
	BlockTime   int64
}
