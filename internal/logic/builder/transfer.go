package builder

import (
	"fmt"

	"sol-pay-gateway/internal/consts"

	sdktoken "github.com/blocto/solana-go-sdk/program/token"
	"github.com/gagliardetto/solana-go"
	"github.com/near/borsh-go"
)

// 结算转账指令的账户顺序，校验器按相同下标解析
const (
	TransferAccountSource = iota
	TransferAccountMint
	TransferAccountDestination
	TransferAccountAuthority
	TransferAccountReference

	TransferAccountCount
)

// TransferCheckedData SPL Token TransferChecked 指令数据（borsh 布局：u8 + u64 + u8）
type TransferCheckedData struct {
	Instruction uint8
	Amount      uint64
	Decimals    uint8
}

// EncodeTransferChecked 编码 TransferChecked 指令数据
func EncodeTransferChecked(amount uint64, decimals uint8) ([]byte, error) {
	return borsh.Serialize(TransferCheckedData{
		Instruction: uint8(sdktoken.InstructionTransferChecked),
		Amount:      amount,
		Decimals:    decimals,
	})
}

// DecodeTransferChecked 解码 TransferChecked 指令数据，判别字节不匹配时返回错误
func DecodeTransferChecked(data []byte) (TransferCheckedData, error) {
	var out TransferCheckedData
	if len(data) != 10 {
		return out, fmt.Errorf("transfer checked data length %d, want 10", len(data))
	}
	if data[0] != uint8(sdktoken.InstructionTransferChecked) {
		return out, fmt.Errorf("instruction discriminator %d is not TransferChecked", data[0])
	}
	if err := borsh.Deserialize(&out, data); err != nil {
		return out, fmt.Errorf("decode transfer checked: %w", err)
	}
	return out, nil
}

// AssociatedTokenAddress 按 token 程序推导 ATA（Token 与 Token-2022 的 ATA 不同）
func AssociatedTokenAddress(owner, mint, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{owner[:], tokenProgram[:], mint[:]},
		consts.AssociatedTokenProgram,
	)
	return addr, err
}

// newTransferChecked 构造带检索标签的 TransferChecked 指令。
// mint 与 decimals 写入指令，由 token 程序在执行时断言。
func newTransferChecked(
	tokenProgram, source, mint, destination, authority, reference solana.PublicKey,
	amount uint64, decimals uint8,
) (solana.Instruction, error) {
	data, err := EncodeTransferChecked(amount, decimals)
	if err != nil {
		return nil, err
	}
	metas := make(solana.AccountMetaSlice, TransferAccountCount)
	metas[TransferAccountSource] = solana.NewAccountMeta(source, true, false)
	metas[TransferAccountMint] = solana.NewAccountMeta(mint, false, false)
	metas[TransferAccountDestination] = solana.NewAccountMeta(destination, true, false)
	metas[TransferAccountAuthority] = solana.NewAccountMeta(authority, false, true)
	metas[TransferAccountReference] = solana.NewAccountMeta(reference, false, false)
	return solana.NewInstruction(tokenProgram, metas, data), nil
}
