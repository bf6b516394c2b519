package core

import (
	"errors"
	"fmt"
)

var (
	ErrQuoteUnavailable          = errors.New("quote unavailable")
	ErrInvalidSenderAccount      = errors.New("invalid sender account")
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrSimulationFailed          = errors.New("simulation failed")
	ErrConfirmationIndeterminate = errors.New("confirmation indeterminate")
	ErrBroadcastFailed           = errors.New("broadcast failed")
	ErrTransactionFailed         = errors.New("transaction execution failed")
	ErrTransactionNotFound       = errors.New("transaction not found")
	ErrVerificationFailed        = errors.New("verification failed")
	ErrInvalidRequest            = errors.New("invalid request")
	ErrBookingConflict           = errors.New("booking does not match the one recorded for this signature")
	ErrIllegalTransition         = errors.New("illegal payment state transition")
)

// VerificationReason 校验失败原因，始终是致命错误，不重试
type VerificationReason string

const (
	ReasonBadReference      VerificationReason = "BadReference"
	ReasonWrongDestination  VerificationReason = "WrongDestination"
	ReasonWrongCurrency     VerificationReason = "WrongCurrency"
	ReasonAmountNotMultiple VerificationReason = "AmountNotMultiple"
	ReasonExecutionFailed   VerificationReason = "ExecutionFailed"
	ReasonMalformedTransfer VerificationReason = "MalformedTransfer"
)

type VerificationError struct {
	Reason VerificationReason
	Detail string
}

func NewVerificationError(reason VerificationReason, format string, args ...interface{}) *VerificationError {
	return &VerificationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

func (e *VerificationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("verification failed: %s", e.Reason)
	}
	return fmt.Sprintf("verification failed: %s: %s", e.Reason, e.Detail)
}

// Is 使 errors.Is(err, ErrVerificationFailed) 对所有原因成立
func (e *VerificationError) Is(target error) bool {
	return target == ErrVerificationFailed
}

// VerificationReasonOf 提取校验失败原因
func VerificationReasonOf(err error) (VerificationReason, bool) {
	var ve *VerificationError
	if errors.As(err, &ve) {
		return ve.Reason, true
	}
	return "", false
}
