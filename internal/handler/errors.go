package handler

import (
	"context"
	"errors"
	"net/http"

	"sol-pay-gateway/internal/logic/core"
)

// statusOf 错误分类到 HTTP 状态码与错误码。
// 确认不确定与交易未找到返回 202：资金可能已上链，客户端应稍后凭签名重试 verify。
func statusOf(err error) (int, string) {
	if reason, ok := core.VerificationReasonOf(err); ok {
		return http.StatusPaymentRequired, string(reason)
	}
	switch {
	case errors.Is(err, core.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, core.ErrInvalidSenderAccount):
		return http.StatusUnprocessableEntity, "invalid_sender_account"
	case errors.Is(err, core.ErrBookingConflict):
		return http.StatusConflict, "booking_conflict"
	case errors.Is(err, core.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, core.ErrQuoteUnavailable):
		return http.StatusServiceUnavailable, "quote_unavailable"
	case errors.Is(err, core.ErrSimulationFailed):
		return http.StatusBadGateway, "simulation_failed"
	case errors.Is(err, core.ErrBroadcastFailed):
		return http.StatusBadGateway, "broadcast_failed"
	case errors.Is(err, core.ErrConfirmationIndeterminate):
		return http.StatusAccepted, "confirmation_indeterminate"
	case errors.Is(err, core.ErrTransactionNotFound):
		return http.StatusAccepted, "transaction_not_found"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusAccepted, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
