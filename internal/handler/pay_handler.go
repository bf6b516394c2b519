package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"sol-pay-gateway/internal/logic/core"
	"sol-pay-gateway/internal/logic/payment"
	"sol-pay-gateway/internal/pkg/logger"
	"sol-pay-gateway/internal/pkg/types"

	"github.com/gagliardetto/solana-go"
	"github.com/zeromicro/go-zero/rest/httpx"
)

const maxBodyBytes = 256 * 1024

// PaymentService 两个库入口加签名补偿入口
type PaymentService interface {
	BuildPayableTransaction(ctx context.Context, req payment.BuildRequest) (*payment.BuildResult, error)
	SubmitAndVerify(ctx context.Context, req payment.SubmitRequest) (*payment.SubmitResult, error)
	VerifyAndFulfill(ctx context.Context, sig solana.Signature, booking json.RawMessage) (*payment.SubmitResult, error)
}

// BuildHandler POST /v1/pay/build
func BuildHandler(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BuildRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		payer, err := types.TryPubkeyFromBase58(req.Payer)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: payer: %v", core.ErrInvalidRequest, err), nil)
			return
		}
		var inputMint solana.PublicKey
		if req.InputMint != "" {
			mint, err := types.TryPubkeyFromBase58(req.InputMint)
			if err != nil {
				writeError(w, r, fmt.Errorf("%w: input_mint: %v", core.ErrInvalidRequest, err), nil)
				return
			}
			inputMint = mint.Solana()
		}

		res, err := svc.BuildPayableTransaction(r.Context(), payment.BuildRequest{
			Payer:     payer.Solana(),
			InputMint: inputMint,
			Quantity:  req.Quantity,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, BuildResponse{
			AttemptID:            res.AttemptID,
			Transaction:          res.Transaction,
			RawAmount:            res.RawAmount,
			InputMint:            res.InputMint.String(),
			InputAmount:          res.InputAmount,
			Quantity:             res.Quantity,
			LastValidBlockHeight: res.LastValidBlockHeight,
			ComputeUnitLimit:     res.ComputeUnitLimit,
			ComputeUnitPrice:     res.ComputeUnitPrice,
			State:                string(res.State),
		})
	}
}

// SubmitHandler POST /v1/pay/submit
func SubmitHandler(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SubmitRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if req.SignedTransaction == "" {
			writeError(w, r, fmt.Errorf("%w: signed_transaction is required", core.ErrInvalidRequest), nil)
			return
		}
		res, err := svc.SubmitAndVerify(r.Context(), payment.SubmitRequest{
			SignedTransaction: req.SignedTransaction,
			Booking:           req.Booking,
		})
		writePayment(w, r, res, err)
	}
}

// VerifyHandler POST /v1/pay/verify，凭签名补偿校验与履约
func VerifyHandler(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VerifyRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		sig, err := types.TrySignatureFromBase58(req.Signature)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: signature: %v", core.ErrInvalidRequest, err), nil)
			return
		}
		res, err := svc.VerifyAndFulfill(r.Context(), sig.Solana(), req.Booking)
		writePayment(w, r, res, err)
	}
}

func writePayment(w http.ResponseWriter, r *http.Request, res *payment.SubmitResult, err error) {
	if err != nil {
		writeError(w, r, err, res)
		return
	}
	httpx.OkJsonCtx(r.Context(), w, PaymentResponse{
		AttemptID:        res.AttemptID,
		Signature:        res.Signature.String(),
		Quantity:         res.Quantity,
		RawAmount:        res.RawAmount,
		Fulfilled:        res.Fulfilled,
		AlreadyProcessed: res.AlreadyProcessed,
		State:            string(res.State),
	})
}

func writeError(w http.ResponseWriter, r *http.Request, err error, res *payment.SubmitResult) {
	status, code := statusOf(err)
	body := ErrorResponse{Code: code, Error: err.Error()}
	if res != nil {
		if !res.Signature.IsZero() {
			body.Signature = res.Signature.String()
		}
		body.State = string(res.State)
	}
	if status >= http.StatusInternalServerError {
		logger.Errorf("[Handler] %s %s: %v", r.Method, r.URL.Path, err)
	} else {
		logger.Infof("[Handler] %s %s -> %d %s: %v", r.Method, r.URL.Path, status, code, err)
	}
	httpx.WriteJsonCtx(r.Context(), w, status, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}
	return nil
}
