package verifier

import (
	"context"
	"fmt"
	"time"

	"sol-pay-gateway/internal/consts"
	"sol-pay-gateway/internal/logic/builder"
	"sol-pay-gateway/internal/logic/core"
	"sol-pay-gateway/internal/pkg/logger"
	"sol-pay-gateway/internal/pkg/metrics"

	"github.com/gagliardetto/solana-go"
)

type TransactionFetcher interface {
	// FetchFinalized 读取 finalized 交易，尚未被索引时返回 (nil, nil)
	FetchFinalized(ctx context.Context, sig solana.Signature) (*core.FinalizedTx, error)
}

type Options struct {
	SettlementMint solana.PublicKey
	Merchant       solana.PublicKey
	Reference      solana.PublicKey

	LookupAttempts int           // 查询 finalized 交易的最大次数，<=0 时使用默认值
	LookupDelay    time.Duration // 两次查询的间隔，<=0 时使用默认值
}

// Verifier 只依据链上最终状态重新推导支付事实，不信任客户端提交的任何参数
type Verifier struct {
	fetcher  TransactionFetcher
	pricing  core.Pricing
	opts     Options
	attempts int
	delay    time.Duration
}

func New(fetcher TransactionFetcher, pricing core.Pricing, opts Options) *Verifier {
	v := &Verifier{
		fetcher:  fetcher,
		pricing:  pricing,
		opts:     opts,
		attempts: consts.TxLookupAttempts,
		delay:    consts.TxLookupDelay,
	}
	if opts.LookupAttempts > 0 {
		v.attempts = opts.LookupAttempts
	}
	if opts.LookupDelay > 0 {
		v.delay = opts.LookupDelay
	}
	return v
}

// Verify 校验成功时返回的 Quantity 才是履约应使用的数量
func (v *Verifier) Verify(ctx context.Context, sig solana.Signature) (*core.VerifiedPayment, error) {
	tx, err := v.fetch(ctx, sig)
	if err != nil {
		metrics.VerifyTotal.WithLabelValues("not_found").Inc()
		return nil, err
	}
	payment, err := v.Check(tx)
	if err != nil {
		reason, _ := core.VerificationReasonOf(err)
		metrics.VerifyTotal.WithLabelValues(string(reason)).Inc()
		logger.Warnf("[Verifier] rejected sig=%s: %v", sig, err)
		return nil, err
	}
	metrics.VerifyTotal.WithLabelValues("ok").Inc()
	logger.Infof("[Verifier] verified sig=%s signer=%s raw=%d quantity=%d slot=%d",
		sig, payment.Signer, payment.RawAmount, payment.Quantity, payment.Slot)
	return payment, nil
}

// fetch 交易可能尚未被索引，按固定间隔重试
func (v *Verifier) fetch(ctx context.Context, sig solana.Signature) (*core.FinalizedTx, error) {
	var lastErr error
	for attempt := 1; attempt <= v.attempts; attempt++ {
		tx, err := v.fetcher.FetchFinalized(ctx, sig)
		if err == nil && tx != nil {
			return tx, nil
		}
		if err != nil {
			lastErr = err
			logger.Debugf("[Verifier] fetch sig=%s attempt=%d failed: %v", sig, attempt, err)
		}
		if attempt == v.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", core.ErrTransactionNotFound, sig, ctx.Err())
		case <-time.After(v.delay):
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %s after %d attempts: %v", core.ErrTransactionNotFound, sig, v.attempts, lastErr)
	}
	return nil, fmt.Errorf("%w: %s after %d attempts", core.ErrTransactionNotFound, sig, v.attempts)
}

// Check 按顺序校验，遇到第一个失败即返回
func (v *Verifier) Check(tx *core.FinalizedTx) (*core.VerifiedPayment, error) {
	if tx.Err != nil {
		return nil, core.NewVerificationError(core.ReasonExecutionFailed, "%v", tx.Err)
	}
	if len(tx.Instructions) == 0 {
		return nil, core.NewVerificationError(core.ReasonMalformedTransfer, "no instructions")
	}

	// 结算转账总是最后一条主指令
	last := tx.Instructions[len(tx.Instructions)-1]
	program, ok := keyAt(tx, last.ProgramIDIndex)
	if !ok || !consts.IsSPLTokenProgram(program) {
		return nil, core.NewVerificationError(core.ReasonMalformedTransfer, "last instruction program %s", program)
	}
	if len(last.Accounts) < builder.TransferAccountCount {
		return nil, core.NewVerificationError(core.ReasonMalformedTransfer, "last instruction has %d accounts", len(last.Accounts))
	}
	payload, err := builder.DecodeTransferChecked(last.Data)
	if err != nil {
		return nil, core.NewVerificationError(core.ReasonMalformedTransfer, "%v", err)
	}

	var keys [builder.TransferAccountCount]solana.PublicKey
	for i := range keys {
		k, ok := keyAt(tx, last.Accounts[i])
		if !ok {
			return nil, core.NewVerificationError(core.ReasonMalformedTransfer, "account index %d out of range", last.Accounts[i])
		}
		keys[i] = k
	}

	// 1. 检索标签
	reference := keys[builder.TransferAccountReference]
	if !reference.Equals(v.opts.Reference) {
		return nil, core.NewVerificationError(core.ReasonBadReference, "reference %s", reference)
	}

	// 2. 目标账户 owner
	destIndex := last.Accounts[builder.TransferAccountDestination]
	balance, ok := tx.PostTokenBalances[destIndex]
	if !ok {
		return nil, core.NewVerificationError(core.ReasonWrongDestination, "no token balance for destination %s", keys[builder.TransferAccountDestination])
	}
	if !balance.Owner.Equals(v.opts.Merchant) {
		return nil, core.NewVerificationError(core.ReasonWrongDestination, "destination owner %s", balance.Owner)
	}

	// 3. 目标账户 mint
	if !balance.Mint.Equals(v.opts.SettlementMint) {
		return nil, core.NewVerificationError(core.ReasonWrongCurrency, "destination mint %s", balance.Mint)
	}

	// 4. 金额必须是单价的整数倍
	quantity, ok := v.pricing.QuantityOf(payload.Amount)
	if !ok {
		return nil, core.NewVerificationError(core.ReasonAmountNotMultiple,
			"amount %d is not a multiple of unit price %d", payload.Amount, v.pricing.UnitPriceBaseUnits())
	}

	return &core.VerifiedPayment{
		Signature:   tx.Signature,
		Signer:      keys[builder.TransferAccountAuthority],
		Source:      keys[builder.TransferAccountSource],
		Mint:        balance.Mint,
		Destination: keys[builder.TransferAccountDestination],
		Reference:   reference,
		RawAmount:   payload.Amount,
		Quantity:    quantity,
		Slot:        tx.Slot,
		BlockTime:   tx.BlockTime,
	}, nil
}

func keyAt(tx *core.FinalizedTx, index uint16) (solana.PublicKey, bool) {
	if int(index) >= len(tx.AccountKeys) {
		return solana.PublicKey{}, false
	}
	return tx.AccountKeys[index], true
}
