package builder

import (
	"fmt"

	"sol-pay-gateway/internal/consts"
	"sol-pay-gateway/internal/logic/core"

	sdktoken "github.com/blocto/solana-go-sdk/program/token"
	"github.com/gagliardetto/solana-go"
)

// token 账户状态（与 SPL Token 布局一致）
const (
	tokenStateUninitialized uint8 = 0
	tokenStateFrozen        uint8 = 2

	// tokenAccountBaseSize Token-2022 账户在基础布局之后追加扩展数据
	tokenAccountBaseSize = 165
)

// ValidateTokenSender 校验 SPL token 发送账户：已初始化、未冻结、owner 为 payer、mint 匹配、余额充足
func ValidateTokenSender(payer, mint solana.PublicKey, state core.AccountState, required uint64) error {
	if !state.Exists {
		return fmt.Errorf("%w: token account %s does not exist", core.ErrInvalidSenderAccount, state.Address)
	}
	if !consts.IsSPLTokenProgram(state.Owner) {
		return fmt.Errorf("%w: %s is not owned by a token program", core.ErrInvalidSenderAccount, state.Address)
	}
	data := state.Data
	if len(data) > tokenAccountBaseSize {
		data = data[:tokenAccountBaseSize]
	}
	acct, err := sdktoken.TokenAccountFromData(data)
	if err != nil {
		return fmt.Errorf("%w: decode token account %s: %v", core.ErrInvalidSenderAccount, state.Address, err)
	}
	switch uint8(acct.State) {
	case tokenStateUninitialized:
		return fmt.Errorf("%w: token account %s is uninitialized", core.ErrInvalidSenderAccount, state.Address)
	case tokenStateFrozen:
		return fmt.Errorf("%w: token account %s is frozen", core.ErrInvalidSenderAccount, state.Address)
	}
	if solana.PublicKey(acct.Owner) != payer {
		return fmt.Errorf("%w: token account owner %s is not payer %s", core.ErrInvalidSenderAccount, acct.Owner.ToBase58(), payer)
	}
	if solana.PublicKey(acct.Mint) != mint {
		return fmt.Errorf("%w: token account mint %s, want %s", core.ErrInvalidSenderAccount, acct.Mint.ToBase58(), mint)
	}
	if acct.Amount < required {
		return fmt.Errorf("%w: need %d, have %d", core.ErrInsufficientFunds, required, acct.Amount)
	}
	return nil
}
