package types

import (
	"fmt"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Pubkey 是 32 字节公钥的统一表示，负责在 blocto 与 gagliardetto 两套 SDK 之间转换。
type Pubkey [32]byte

func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

func (p Pubkey) Equals(other Pubkey) bool {
	return p == other
}

func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

// Solana 转换为 gagliardetto 的 PublicKey（交易构建、RPC 调用）
func (p Pubkey) Solana() solana.PublicKey {
	return solana.PublicKey(p)
}

// Blocto 转换为 blocto SDK 的 PublicKey（账户读取、布局解析）
func (p Pubkey) Blocto() common.PublicKey {
	return common.PublicKey(p)
}

func PubkeyFromSolana(pk solana.PublicKey) Pubkey {
	return Pubkey(pk)
}

func PubkeyFromBlocto(pk common.PublicKey) Pubkey {
	return Pubkey(pk)
}

// TryPubkeyFromBase58 解析 base58 字符串为 Pubkey，失败时返回 error（用于不信任输入路径）
func TryPubkeyFromBase58(s string) (Pubkey, error) {
	data, err := base58.Decode(s)
	if err != nil {
		return Pubkey{}, fmt.Errorf("failed to decode base58 pubkey %q: %w", s, err)
	}
	if len(data) != 32 {
		return Pubkey{}, fmt.Errorf("invalid pubkey length: got %d, want 32, input=%q", len(data), s)
	}
	var p Pubkey
	copy(p[:], data)
	return p, nil
}

// PubkeyFromBase58 仅用于常量与配置初始化，非法输入直接 panic
func PubkeyFromBase58(s string) Pubkey {
	p, err := TryPubkeyFromBase58(s)
	if err != nil {
		panic(err)
	}
	return p
}
