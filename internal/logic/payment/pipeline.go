package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sol-pay-gateway/internal/consts"
	"sol-pay-gateway/internal/logic/builder"
	"sol-pay-gateway/internal/logic/core"
	"sol-pay-gateway/internal/logic/ledger"
	"sol-pay-gateway/internal/logic/submitter"
	"sol-pay-gateway/internal/pkg/logger"
	"sol-pay-gateway/internal/pkg/metrics"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

type PlanBuilder interface {
	Build(ctx context.Context, payer, inputMint solana.PublicKey, quantity uint64) (*builder.Plan, error)
}

type TxAssembler interface {
	Assemble(ctx context.Context, payer solana.PublicKey, set *core.InstructionSet) (*core.UnsignedTransaction, error)
}

type TxSubmitter interface {
	SendAndConfirm(ctx context.Context, signedTxBase64 string) (solana.Signature, error)
}

type PaymentVerifier interface {
	Verify(ctx context.Context, sig solana.Signature) (*core.VerifiedPayment, error)
}

type LedgerStore interface {
	RecordSubmission(ctx context.Context, rec *ledger.PaymentRecord) (*ledger.PaymentRecord, error)
	PersistPayment(ctx context.Context, rec *ledger.PaymentRecord) (bool, error)
	MarkStatus(ctx context.Context, signature, from, to string) (bool, error)
	ClaimFulfillment(ctx context.Context, signature string) (bool, error)
	GetPayment(ctx context.Context, signature string) (*ledger.PaymentRecord, error)
	ListPending(ctx context.Context, submittedBefore time.Time, limit int) ([]ledger.PaymentRecord, error)
}

// Fulfiller 外部履约回调，失败不回滚支付
type Fulfiller interface {
	Fulfill(ctx context.Context, payment *core.VerifiedPayment, booking json.RawMessage) error
}

// ProgressRecorder 可选的状态标记（Redis），写失败只记日志
type ProgressRecorder interface {
	MarkState(ctx context.Context, signature string, state core.PaymentState) error
}

type Timeouts struct {
	Submit  time.Duration
	Verify  time.Duration
	Fulfill time.Duration
}

type BuildRequest struct {
	Payer     solana.PublicKey
	InputMint solana.PublicKey
	Quantity  uint64
}

type BuildResult struct {
	AttemptID            string
	Transaction          string // base64，未签名
	RawAmount            uint64
	InputMint            solana.PublicKey
	InputAmount          uint64
	Quantity             uint64
	LastValidBlockHeight uint64
	ComputeUnitLimit     uint32
	ComputeUnitPrice     uint64
	State                core.PaymentState
}

type SubmitRequest struct {
	SignedTransaction string
	Booking           json.RawMessage
}

type SubmitResult struct {
	AttemptID        string
	Signature        solana.Signature
	Quantity         uint64 // 链上校验得出，而非客户端请求值
	RawAmount        uint64
	Fulfilled        bool // 本次调用触发了履约
	AlreadyProcessed bool // 该签名此前已履约
	State            core.PaymentState
}

type Pipeline struct {
	builder   PlanBuilder
	assembler TxAssembler
	submitter TxSubmitter
	verifier  PaymentVerifier
	store     LedgerStore
	fulfiller Fulfiller
	progress  ProgressRecorder
	timeouts  Timeouts

	resumeMinAge time.Duration
	abandonAfter time.Duration
}

func NewPipeline(
	b PlanBuilder,
	a TxAssembler,
	s TxSubmitter,
	v PaymentVerifier,
	store LedgerStore,
	fulfiller Fulfiller,
	progress ProgressRecorder,
	timeouts Timeouts,
) *Pipeline {
	return &Pipeline{
		builder:   b,
		assembler: a,
		submitter: s,
		verifier:  v,
		store:     store,
		fulfiller: fulfiller,
		progress:  progress,
		timeouts:  timeouts,

		resumeMinAge: consts.ResumeMinAge,
		abandonAfter: consts.AbandonAfter,
	}
}

// BuildPayableTransaction 报价、组装指令并编译为待签名交易。本地校验失败时不会产生任何网络费用。
func (p *Pipeline) BuildPayableTransaction(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	flow := core.NewFlow(uuid.NewString())
	if req.Quantity == 0 || req.Payer.IsZero() {
		flow.Fail(core.StateBuildFailed)
		metrics.BuildTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: payer and positive quantity are required", core.ErrInvalidRequest)
	}
	plan, err := p.builder.Build(ctx, req.Payer, req.InputMint, req.Quantity)
	if err != nil {
		if errors.Is(err, core.ErrQuoteUnavailable) {
			flow.Fail(core.StateQuoteFailed)
			metrics.BuildTotal.WithLabelValues("quote_failed").Inc()
		} else {
			flow.Fail(core.StateBuildFailed)
			metrics.BuildTotal.WithLabelValues("build_failed").Inc()
		}
		logger.Warnf("[Pipeline] build %s failed, payer=%s input=%s quantity=%d: %v",
			flow.ID(), req.Payer, req.InputMint, req.Quantity, err)
		return nil, err
	}
	if err := flow.Advance(core.StateInstructionsBuilt); err != nil {
		return nil, err
	}

	utx, err := p.assembler.Assemble(ctx, req.Payer, plan.Instructions)
	if err != nil {
		flow.Fail(core.StateBuildFailed)
		metrics.BuildTotal.WithLabelValues("assemble_failed").Inc()
		logger.Warnf("[Pipeline] assemble %s failed: %v", flow.ID(), err)
		return nil, err
	}
	if err := flow.Advance(core.StateTxAssembled); err != nil {
		return nil, err
	}

	metrics.BuildTotal.WithLabelValues("ok").Inc()
	logger.Infof("[Pipeline] built %s payer=%s input=%s in=%d raw=%d quantity=%d",
		flow.ID(), req.Payer, plan.InputMint, plan.InputAmount, plan.RawAmount, req.Quantity)
	return &BuildResult{
		AttemptID:            flow.ID(),
		Transaction:          utx.Transaction,
		RawAmount:            plan.RawAmount,
		InputMint:            plan.InputMint,
		InputAmount:          plan.InputAmount,
		Quantity:             req.Quantity,
		LastValidBlockHeight: utx.LastValidBlockHeight,
		ComputeUnitLimit:     utx.ComputeUnitLimit,
		ComputeUnitPrice:     utx.ComputeUnitPrice,
		State:                flow.State(),
	}, nil
}

// SubmitAndVerify 广播、确认并独立校验已签名交易，校验通过后履约一次。
// 广播前先把签名与 booking 登记入库；确认阶段失败时仍返回签名，由补偿任务或 VerifyAndFulfill 继续。
func (p *Pipeline) SubmitAndVerify(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	flow := core.ResumeFlow(uuid.NewString(), core.StateTxSigned)

	tx, _, err := submitter.DecodeSigned(req.SignedTransaction)
	if err != nil {
		return nil, err
	}
	if err := p.registerSubmission(ctx, tx.Signatures[0], tx.Message.AccountKeys[0], req.Booking); err != nil {
		return nil, err
	}

	submitCtx, cancel := withTimeout(ctx, p.timeouts.Submit)
	sig, err := p.submitter.SendAndConfirm(submitCtx, req.SignedTransaction)
	cancel()
	if sig.IsZero() {
		return nil, err
	}
	if advErr := flow.Advance(core.StateSubmitted); advErr != nil {
		return nil, advErr
	}
	p.markProgress(ctx, sig, core.StateSubmitted)
	result := &SubmitResult{AttemptID: flow.ID(), Signature: sig, State: flow.State()}
	if err != nil {
		logger.Warnf("[Pipeline] %s sig=%s not confirmed: %v", flow.ID(), sig, err)
		return result, err
	}

	if err := flow.Advance(core.StateConfirmed); err != nil {
		return result, err
	}
	p.markProgress(ctx, sig, core.StateConfirmed)
	return p.verifyAndFulfill(ctx, flow, sig, req.Booking)
}

// VerifyAndFulfill 只凭签名恢复：重复调用安全，同一签名最多履约一次。
// 签名已登记时只使用登记的 booking，调用方提供不同的 booking 会被拒绝。
func (p *Pipeline) VerifyAndFulfill(ctx context.Context, sig solana.Signature, booking json.RawMessage) (*SubmitResult, error) {
	if sig.IsZero() {
		return nil, fmt.Errorf("%w: empty signature", core.ErrInvalidRequest)
	}
	flow := core.ResumeFlow(uuid.NewString(), core.StateConfirmed)
	return p.verifyAndFulfill(ctx, flow, sig, booking)
}

func (p *Pipeline) verifyAndFulfill(ctx context.Context, flow *core.Flow, sig solana.Signature, booking json.RawMessage) (*SubmitResult, error) {
	result := &SubmitResult{AttemptID: flow.ID(), Signature: sig}
	fail := func(err error) (*SubmitResult, error) {
		result.State = flow.State()
		return result, err
	}

	rec, err := p.store.GetPayment(ctx, sig.String())
	switch {
	case err == nil && rec.Status == ledger.StatusFulfilled:
		result.Quantity = rec.Quantity
		result.RawAmount = rec.RawAmount
		result.AlreadyProcessed = true
		result.State = core.StateFulfilled
		logger.Infof("[Pipeline] sig=%s already fulfilled", sig)
		return result, nil
	case errors.Is(err, ledger.ErrRecordNotFound):
		rec = nil
	case err != nil:
		return fail(err)
	}
	if rec != nil {
		if booking, err = resolveBooking(rec, booking); err != nil {
			return fail(err)
		}
	}

	var payment *core.VerifiedPayment
	if rec != nil && rec.Status == ledger.StatusVerified {
		// 已校验入库但上次未完成履约，直接使用入库结果
		payment = paymentFromRecord(rec)
	} else {
		verifyCtx, cancel := withTimeout(ctx, p.timeouts.Verify)
		payment, err = p.verifier.Verify(verifyCtx, sig)
		cancel()
		if err != nil {
			if errors.Is(err, core.ErrVerificationFailed) {
				flow.Fail(core.StateVerificationFailed)
				p.markProgress(ctx, sig, core.StateVerificationFailed)
				if rec != nil {
					p.markStatus(ctx, sig, ledger.StatusSubmitted, ledger.StatusRejected)
				}
			}
			return fail(err)
		}
	}
	if err := flow.Advance(core.StateVerified); err != nil {
		return fail(err)
	}
	result.Quantity = payment.Quantity
	result.RawAmount = payment.RawAmount

	if rec == nil || rec.Status != ledger.StatusVerified {
		if _, err := p.store.PersistPayment(ctx, newRecord(payment, booking)); err != nil {
			return fail(fmt.Errorf("persist payment %s: %w", sig, err))
		}
		// 并发登记时库中先写入的 booking 为准
		stored, err := p.store.GetPayment(ctx, sig.String())
		if err != nil {
			return fail(fmt.Errorf("reload payment %s: %w", sig, err))
		}
		if booking, err = resolveBooking(stored, booking); err != nil {
			return fail(err)
		}
	}
	p.markProgress(ctx, sig, core.StateVerified)

	claimed, err := p.store.ClaimFulfillment(ctx, sig.String())
	if err != nil {
		return fail(fmt.Errorf("claim fulfillment %s: %w", sig, err))
	}
	if !claimed {
		result.AlreadyProcessed = true
		result.State = core.StateFulfilled
		return result, nil
	}

	p.fulfill(ctx, payment, booking)
	if err := flow.Advance(core.StateFulfilled); err != nil {
		return fail(err)
	}
	p.markProgress(ctx, sig, core.StateFulfilled)
	result.Fulfilled = true
	result.State = flow.State()
	return result, nil
}

// ResumePending 补偿两类记录：已登记但提交请求没等到 finalized 的 submitted，
// 以及已校验入库但未领取履约的 verified（进程在入库与领取之间退出）
func (p *Pipeline) ResumePending(ctx context.Context, limit int) (int, error) {
	records, err := p.store.ListPending(ctx, time.Now().Add(-p.resumeMinAge), limit)
	if err != nil {
		return 0, err
	}
	done := 0
	for i := range records {
		rec := &records[i]
		sig, err := solana.SignatureFromBase58(rec.Signature)
		if err != nil {
			logger.Errorf("[Pipeline] invalid signature in ledger %q: %v", rec.Signature, err)
			continue
		}
		res, err := p.VerifyAndFulfill(ctx, sig, nil)
		if err != nil {
			if errors.Is(err, core.ErrTransactionNotFound) && rec.Status == ledger.StatusSubmitted &&
				time.Since(rec.CreatedAt) > p.abandonAfter {
				p.markStatus(ctx, sig, ledger.StatusSubmitted, ledger.StatusAbandoned)
			}
			logger.Warnf("[Pipeline] resume sig=%s status=%s failed: %v", sig, rec.Status, err)
			continue
		}
		if res.Fulfilled {
			done++
		}
	}
	return done, nil
}

// registerSubmission 广播前登记，签名已登记过时 booking 必须一致
func (p *Pipeline) registerSubmission(ctx context.Context, sig solana.Signature, signer solana.PublicKey, booking json.RawMessage) error {
	stored, err := p.store.RecordSubmission(ctx, &ledger.PaymentRecord{
		Signature: sig.String(),
		Signer:    signer.String(),
		Booking:   string(booking),
	})
	if err != nil {
		return err
	}
	_, err = resolveBooking(stored, booking)
	return err
}

// fulfill 尽力而为：超时与错误只记录，不影响支付结果
func (p *Pipeline) fulfill(ctx context.Context, payment *core.VerifiedPayment, booking json.RawMessage) {
	fctx, cancel := withTimeout(context.WithoutCancel(ctx), p.timeouts.Fulfill)
	defer cancel()
	if err := p.fulfiller.Fulfill(fctx, payment, booking); err != nil {
		metrics.FulfillTotal.WithLabelValues("error").Inc()
		logger.Errorf("[Pipeline] fulfillment callback failed, sig=%s quantity=%d: %v",
			payment.Signature, payment.Quantity, err)
		return
	}
	metrics.FulfillTotal.WithLabelValues("ok").Inc()
}

func (p *Pipeline) markProgress(ctx context.Context, sig solana.Signature, state core.PaymentState) {
	if p.progress == nil {
		return
	}
	if err := p.progress.MarkState(ctx, sig.String(), state); err != nil {
		logger.Warnf("[Pipeline] mark progress sig=%s state=%s: %v", sig, state, err)
	}
}

func (p *Pipeline) markStatus(ctx context.Context, sig solana.Signature, from, to string) {
	if _, err := p.store.MarkStatus(ctx, sig.String(), from, to); err != nil {
		logger.Warnf("[Pipeline] mark ledger sig=%s %s -> %s: %v", sig, from, to, err)
	}
}

// resolveBooking 以库中记录的 booking 为准；调用方未提供时沿用，提供了但不一致时拒绝
func resolveBooking(rec *ledger.PaymentRecord, booking json.RawMessage) (json.RawMessage, error) {
	stored := json.RawMessage(rec.Booking)
	if len(booking) == 0 || sameJSON(stored, booking) {
		return stored, nil
	}
	return nil, fmt.Errorf("%w: signature %s", core.ErrBookingConflict, rec.Signature)
}

func sameJSON(a, b json.RawMessage) bool {
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func newRecord(payment *core.VerifiedPayment, booking json.RawMessage) *ledger.PaymentRecord {
	return &ledger.PaymentRecord{
		Signature: payment.Signature.String(),
		Signer:    payment.Signer.String(),
		Mint:      payment.Mint.String(),
		RawAmount: payment.RawAmount,
		Quantity:  payment.Quantity,
		Status:    ledger.StatusVerified,
		Slot:      payment.Slot,
		BlockTime: payment.BlockTime,
		Booking:   string(booking),
	}
}

func paymentFromRecord(rec *ledger.PaymentRecord) *core.VerifiedPayment {
	payment := &core.VerifiedPayment{
		RawAmount: rec.RawAmount,
		Quantity:  rec.Quantity,
		Slot:      rec.Slot,
		BlockTime: rec.BlockTime,
	}
	payment.Signature, _ = solana.SignatureFromBase58(rec.Signature)
	payment.Signer, _ = solana.PublicKeyFromBase58(rec.Signer)
	payment.Mint, _ = solana.PublicKeyFromBase58(rec.Mint)
	return payment
}
