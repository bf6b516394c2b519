package handler

import "encoding/json"

type BuildRequest struct {
	Payer     string `json:"payer"`
	InputMint string `json:"input_mint"` // 为空时按结算币种直付
	Quantity  uint64 `json:"quantity"`
}

type BuildResponse struct {
	AttemptID            string `json:"attempt_id"`
	Transaction          string `json:"transaction"`
	RawAmount            uint64 `json:"raw_amount"`
	InputMint            string `json:"input_mint"`
	InputAmount          uint64 `json:"input_amount"`
	Quantity             uint64 `json:"quantity"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height"`
	ComputeUnitLimit     uint32 `json:"compute_unit_limit"`
	ComputeUnitPrice     uint64 `json:"compute_unit_price"`
	State                string `json:"state"`
}

type SubmitRequest struct {
	SignedTransaction string          `json:"signed_transaction"`
	Booking           json.RawMessage `json:"booking,omitempty"`
}

type VerifyRequest struct {
	Signature string          `json:"signature"`
	Booking   json.RawMessage `json:"booking,omitempty"`
}

type PaymentResponse struct {
	AttemptID        string `json:"attempt_id,omitempty"`
	Signature        string `json:"signature"`
	Quantity         uint64 `json:"quantity"`
	RawAmount        uint64 `json:"raw_amount"`
	Fulfilled        bool   `json:"fulfilled"`
	AlreadyProcessed bool   `json:"already_processed"`
	State            string `json:"state"`
}

type ErrorResponse struct {
	Code      string `json:"code"`
	Error     string `json:"error"`
	Signature string `json:"signature,omitempty"` // 已广播时返回，客户端可凭此调用 verify
	State     string `json:"state,omitempty"`
}
