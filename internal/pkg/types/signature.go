package types

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Signature 表示 64 字节交易签名，同时也是支付记录的主键。
type Signature [64]byte

func (s Signature) String() string {
	return base58.Encode(s[:])
}

func (s Signature) IsZero() bool {
	return s == Signature{}
}

func (s Signature) Solana() solana.Signature {
	return solana.Signature(s)
}

func SignatureFromSolana(sig solana.Signature) Signature {
	return Signature(sig)
}

// TrySignatureFromBase58 解析客户端传入的签名字符串
func TrySignatureFromBase58(s string) (Signature, error) {
	var sig Signature
	data, err := base58.Decode(s)
	if err != nil {
		return sig, fmt.Errorf("failed to decode base58 signature %q: %w", s, err)
	}
	if len(data) != 64 {
		return sig, fmt.Errorf("invalid signature length: got %d, want 64", len(data))
	}
	copy(sig[:], data)
	return sig, nil
}
