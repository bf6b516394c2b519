package builder

import (
	"context"
	"fmt"

	"sol-pay-gateway/internal/consts"
	"sol-pay-gateway/internal/logic/core"
	"sol-pay-gateway/internal/pkg/logger"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/shopspring/decimal"
)

// QuoteSource 报价与拆解指令来源（quote.Client 实现）
type QuoteSource interface {
	GetQuote(ctx context.Context, inputMint solana.PublicKey, quantity uint64) (*core.Quote, error)
	GetSwapInstructions(ctx context.Context, signer solana.PublicKey, q *core.Quote) (*core.InstructionSet, error)
}

// AccountReader 读取单个账户状态，账户不存在时返回 Exists=false 而非错误
type AccountReader interface {
	GetAccount(ctx context.Context, address solana.PublicKey) (core.AccountState, error)
}

type Options struct {
	SettlementMint     solana.PublicKey
	SettlementDecimals uint8
	Merchant           solana.PublicKey // 收款钱包
	Reference          solana.PublicKey // 检索标签
}

// Builder 组合支付指令。持有报价客户端，报价客户端不反向引用 Builder。
type Builder struct {
	quotes   QuoteSource
	accounts AccountReader
	pricing  core.Pricing
	opts     Options

	merchantATA solana.PublicKey
}

// Plan 一次构建的产物
type Plan struct {
	Instructions *core.InstructionSet
	RawAmount    uint64 // 结算 token 最小单位
	InputMint    solana.PublicKey
	InputAmount  uint64      // 用户实际支付的输入 token 数量
	Quote        *core.Quote // 结算币种直付时为 nil
}

func New(quotes QuoteSource, accounts AccountReader, pricing core.Pricing, opts Options) (*Builder, error) {
	if pricing.Decimals() != opts.SettlementDecimals {
		return nil, fmt.Errorf("pricing decimals %d != settlement decimals %d", pricing.Decimals(), opts.SettlementDecimals)
	}
	if opts.Reference.IsZero() {
		return nil, fmt.Errorf("reference key is required")
	}
	merchantATA, err := AssociatedTokenAddress(opts.Merchant, opts.SettlementMint, consts.TokenProgram)
	if err != nil {
		return nil, fmt.Errorf("derive merchant ata: %w", err)
	}
	return &Builder{
		quotes:      quotes,
		accounts:    accounts,
		pricing:     pricing,
		opts:        opts,
		merchantATA: merchantATA,
	}, nil
}

func (b *Builder) MerchantATA() solana.PublicKey {
	return b.merchantATA
}

// ComposeSettlementTransfer 构造从 payer 的结算 ATA 到商户 ATA 的 TransferChecked，末尾附带检索标签
func (b *Builder) ComposeSettlementTransfer(payer solana.PublicKey, rawAmount uint64) (solana.Instruction, error) {
	source, err := AssociatedTokenAddress(payer, b.opts.SettlementMint, consts.TokenProgram)
	if err != nil {
		return nil, fmt.Errorf("derive payer ata: %w", err)
	}
	return newTransferChecked(
		consts.TokenProgram,
		source,
		b.opts.SettlementMint,
		b.merchantATA,
		payer,
		b.opts.Reference,
		rawAmount,
		b.opts.SettlementDecimals,
	)
}

// ComposeNativeTransfer 原生 SOL 转账。本地校验不通过时不构造指令。
func (b *Builder) ComposeNativeTransfer(recipient solana.PublicKey, amount decimal.Decimal, sender solana.PublicKey, state core.AccountState) (solana.Instruction, error) {
	lamports, err := CheckNativeSender(amount, state)
	if err != nil {
		return nil, err
	}
	return system.NewTransferInstruction(lamports, sender, recipient).Build(), nil
}

// CheckNativeSender 校验原生 SOL 发送方：系统程序拥有、不可执行、精度不超过 9 位、余额充足。
// 返回转换后的 lamports 数量。
func CheckNativeSender(amount decimal.Decimal, state core.AccountState) (uint64, error) {
	if !state.Exists {
		return 0, fmt.Errorf("%w: sender account %s does not exist", core.ErrInvalidSenderAccount, state.Address)
	}
	if !state.Owner.Equals(consts.SystemProgram) {
		return 0, fmt.Errorf("%w: sender owner %s is not the system program", core.ErrInvalidSenderAccount, state.Owner)
	}
	if state.Executable {
		return 0, fmt.Errorf("%w: sender %s is executable", core.ErrInvalidSenderAccount, state.Address)
	}
	if amount.Sign() <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", core.ErrInvalidRequest)
	}
	if !amount.Equal(amount.Truncate(consts.NativeDecimals)) {
		return 0, fmt.Errorf("%w: amount %s exceeds %d decimal places", core.ErrInvalidRequest, amount, consts.NativeDecimals)
	}
	raw := amount.Shift(consts.NativeDecimals).BigInt()
	if !raw.IsUint64() {
		return 0, fmt.Errorf("%w: amount %s overflows lamports", core.ErrInvalidRequest, amount)
	}
	lamports := raw.Uint64()
	if lamports > state.Lamports {
		return 0, fmt.Errorf("%w: need %d lamports, have %d", core.ErrInsufficientFunds, lamports, state.Lamports)
	}
	return lamports, nil
}

// Build 根据输入币种选择直付或兑换路径，结算转账始终位于最后
func (b *Builder) Build(ctx context.Context, payer, inputMint solana.PublicKey, quantity uint64) (*Plan, error) {
	if quantity == 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", core.ErrInvalidRequest)
	}
	if inputMint.IsZero() || inputMint.Equals(b.opts.SettlementMint) {
		return b.BuildSettlementPayment(ctx, payer, quantity)
	}
	return b.BuildSwapPayment(ctx, payer, inputMint, quantity)
}

// BuildSettlementPayment 用户直接持有结算 token，只需一条转账
func (b *Builder) BuildSettlementPayment(ctx context.Context, payer solana.PublicKey, quantity uint64) (*Plan, error) {
	rawAmount, err := b.pricing.RawAmount(quantity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}

	source, err := AssociatedTokenAddress(payer, b.opts.SettlementMint, consts.TokenProgram)
	if err != nil {
		return nil, fmt.Errorf("derive payer ata: %w", err)
	}
	state, err := b.accounts.GetAccount(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("read payer settlement account: %w", err)
	}
	if err := ValidateTokenSender(payer, b.opts.SettlementMint, state, rawAmount); err != nil {
		return nil, err
	}

	ix, err := b.ComposeSettlementTransfer(payer, rawAmount)
	if err != nil {
		return nil, err
	}
	set := &core.InstructionSet{}
	set.AppendSettlement(ix)
	return &Plan{
		Instructions: set,
		RawAmount:    rawAmount,
		InputMint:    b.opts.SettlementMint,
		InputAmount:  rawAmount,
	}, nil
}

// BuildSwapPayment 先兑换成结算 token 再转账给商户
func (b *Builder) BuildSwapPayment(ctx context.Context, payer, inputMint solana.PublicKey, quantity uint64) (*Plan, error) {
	q, err := b.quotes.GetQuote(ctx, inputMint, quantity)
	if err != nil {
		return nil, err
	}
	if err := b.checkInputFunds(ctx, payer, inputMint, q.MaxInput()); err != nil {
		return nil, err
	}

	set, err := b.quotes.GetSwapInstructions(ctx, payer, q)
	if err != nil {
		return nil, err
	}
	ix, err := b.ComposeSettlementTransfer(payer, q.RequestedAmount)
	if err != nil {
		return nil, err
	}
	set.AppendSettlement(ix)

	logger.Infof("[InstructionBuilder] swap payment composed: payer=%s in=%s inAmount=%d raw=%d ixs=%d luts=%d",
		payer, inputMint, q.InAmount, q.RequestedAmount, len(set.Instructions), len(set.LookupTables))
	return &Plan{
		Instructions: set,
		RawAmount:    q.RequestedAmount,
		InputMint:    inputMint,
		InputAmount:  q.InAmount,
		Quote:        q,
	}, nil
}

// checkInputFunds 兑换路径的本地预检：原生 SOL 检查钱包余额，SPL token 检查输入 ATA
func (b *Builder) checkInputFunds(ctx context.Context, payer, inputMint solana.PublicKey, required uint64) error {
	if inputMint.Equals(consts.WSOLMint) {
		state, err := b.accounts.GetAccount(ctx, payer)
		if err != nil {
			return fmt.Errorf("read payer account: %w", err)
		}
		_, err = CheckNativeSender(decimal.New(int64(required), -consts.NativeDecimals), state)
		return err
	}

	mintState, err := b.accounts.GetAccount(ctx, inputMint)
	if err != nil {
		return fmt.Errorf("read input mint: %w", err)
	}
	if !mintState.Exists || !consts.IsSPLTokenProgram(mintState.Owner) {
		return fmt.Errorf("%w: %s is not a token mint", core.ErrInvalidRequest, inputMint)
	}
	source, err := AssociatedTokenAddress(payer, inputMint, mintState.Owner)
	if err != nil {
		return fmt.Errorf("derive input ata: %w", err)
	}
	state, err := b.accounts.GetAccount(ctx, source)
	if err != nil {
		return fmt.Errorf("read input token account: %w", err)
	}
	return ValidateTokenSender(payer, inputMint, state, required)
}
