package quote

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"sol-pay-gateway/internal/consts"
	"sol-pay-gateway/internal/logic/core"

	"github.com/gagliardetto/solana-go"
)

// 聚合器返回的 JSON 结构。必填字段使用指针，缺失即视为格式错误。

type quoteResponse struct {
	InputMint            *string         `json:"inputMint"`
	InAmount             *string         `json:"inAmount"`
	OutputMint           *string         `json:"outputMint"`
	OutAmount            *string         `json:"outAmount"`
	OtherAmountThreshold string          `json:"otherAmountThreshold"`
	SwapMode             *string         `json:"swapMode"`
	SlippageBps          int             `json:"slippageBps"`
	PriceImpactPct       string          `json:"priceImpactPct"`
	RoutePlan            []routePlanWire `json:"routePlan"`
	ContextSlot          uint64          `json:"contextSlot"`
}

type routePlanWire struct {
	SwapInfo struct {
		AmmKey     string `json:"ammKey"`
		Label      string `json:"label"`
		InputMint  string `json:"inputMint"`
		OutputMint string `json:"outputMint"`
		InAmount   string `json:"inAmount"`
		OutAmount  string `json:"outAmount"`
	} `json:"swapInfo"`
	Percent int `json:"percent"`
}

type accountMetaWire struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

type instructionWire struct {
	ProgramID string            `json:"programId"`
	Accounts  []accountMetaWire `json:"accounts"`
	Data      string            `json:"data"`
}

type swapInstructionsResponse struct {
	ComputeBudgetInstructions   []instructionWire `json:"computeBudgetInstructions"`
	SetupInstructions           []instructionWire `json:"setupInstructions"`
	SwapInstruction             *instructionWire  `json:"swapInstruction"`
	CleanupInstruction          *instructionWire  `json:"cleanupInstruction"`
	OtherInstructions           []instructionWire `json:"otherInstructions"`
	AddressLookupTableAddresses []string          `json:"addressLookupTableAddresses"`
	Error                       string            `json:"error"`
}

type swapRequest struct {
	UserPublicKey    string          `json:"userPublicKey"`
	QuoteResponse    json.RawMessage `json:"quoteResponse"`
	WrapAndUnwrapSol bool            `json:"wrapAndUnwrapSol"`
	TrackingAccount  string          `json:"trackingAccount,omitempty"`
}

type swapResponse struct {
	SwapTransaction      *string `json:"swapTransaction"`
	LastValidBlockHeight uint64  `json:"lastValidBlockHeight"`
}

// decodeQuote 严格解析报价，返回的错误都会被包装为 ErrQuoteUnavailable
func decodeQuote(raw []byte) (*core.Quote, error) {
	var w quoteResponse
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	if w.InputMint == nil || w.OutputMint == nil || w.InAmount == nil || w.OutAmount == nil || w.SwapMode == nil {
		return nil, fmt.Errorf("quote missing required field")
	}
	if *w.SwapMode != swapModeExactOut {
		return nil, fmt.Errorf("quote swapMode %q, want %s", *w.SwapMode, swapModeExactOut)
	}

	inputMint, err := solana.PublicKeyFromBase58(*w.InputMint)
	if err != nil {
		return nil, fmt.Errorf("quote inputMint: %w", err)
	}
	outputMint, err := solana.PublicKeyFromBase58(*w.OutputMint)
	if err != nil {
		return nil, fmt.Errorf("quote outputMint: %w", err)
	}
	inAmount, err := strconv.ParseUint(*w.InAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("quote inAmount: %w", err)
	}
	outAmount, err := strconv.ParseUint(*w.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("quote outAmount: %w", err)
	}
	var threshold uint64
	if w.OtherAmountThreshold != "" {
		if threshold, err = strconv.ParseUint(w.OtherAmountThreshold, 10, 64); err != nil {
			return nil, fmt.Errorf("quote otherAmountThreshold: %w", err)
		}
	}

	q := &core.Quote{
		InputMint:            inputMint,
		OutputMint:           outputMint,
		InAmount:             inAmount,
		OutAmount:            outAmount,
		OtherAmountThreshold: threshold,
		SwapMode:             *w.SwapMode,
		SlippageBps:          w.SlippageBps,
		PriceImpactPct:       w.PriceImpactPct,
		ContextSlot:          w.ContextSlot,
		Raw:                  append(json.RawMessage(nil), raw...),
	}
	for _, step := range w.RoutePlan {
		// 单跳金额仅用于日志，解析失败记 0
		in, _ := strconv.ParseUint(step.SwapInfo.InAmount, 10, 64)
		out, _ := strconv.ParseUint(step.SwapInfo.OutAmount, 10, 64)
		q.RoutePlan = append(q.RoutePlan, core.RoutePlanStep{
			AmmKey:     step.SwapInfo.AmmKey,
			Label:      step.SwapInfo.Label,
			InputMint:  step.SwapInfo.InputMint,
			OutputMint: step.SwapInfo.OutputMint,
			InAmount:   in,
			OutAmount:  out,
			Percent:    step.Percent,
		})
	}
	return q, nil
}

// decodeInstruction 将聚合器的指令描述转换为 solana.Instruction
func decodeInstruction(w *instructionWire) (solana.Instruction, error) {
	programID, err := solana.PublicKeyFromBase58(w.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("programId %q: %w", w.ProgramID, err)
	}
	data, err := base64.StdEncoding.DecodeString(w.Data)
	if err != nil {
		return nil, fmt.Errorf("data of %s: %w", w.ProgramID, err)
	}
	metas := make(solana.AccountMetaSlice, 0, len(w.Accounts))
	for i, acc := range w.Accounts {
		pk, err := solana.PublicKeyFromBase58(acc.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("account[%d] of %s: %w", i, w.ProgramID, err)
		}
		metas = append(metas, solana.NewAccountMeta(pk, acc.IsWritable, acc.IsSigner))
	}
	return solana.NewInstruction(programID, metas, data), nil
}

// decodeInstructionSet 按 setup* → swap → cleanup? → other* 的顺序解码。
// 聚合器给出的 compute budget 指令被丢弃，CU 设置统一由组装阶段负责。
func decodeInstructionSet(w *swapInstructionsResponse) (*core.InstructionSet, error) {
	if w.Error != "" {
		return nil, fmt.Errorf("aggregator error: %s", w.Error)
	}
	if w.SwapInstruction == nil {
		return nil, fmt.Errorf("swap-instructions missing swapInstruction")
	}

	ordered := make([]*instructionWire, 0, len(w.SetupInstructions)+len(w.OtherInstructions)+2)
	for i := range w.SetupInstructions {
		ordered = append(ordered, &w.SetupInstructions[i])
	}
	ordered = append(ordered, w.SwapInstruction)
	if w.CleanupInstruction != nil {
		ordered = append(ordered, w.CleanupInstruction)
	}
	for i := range w.OtherInstructions {
		ordered = append(ordered, &w.OtherInstructions[i])
	}

	set := &core.InstructionSet{}
	for _, desc := range ordered {
		ix, err := decodeInstruction(desc)
		if err != nil {
			return nil, err
		}
		if ix.ProgramID().Equals(consts.ComputeBudgetProgram) {
			continue
		}
		set.Instructions = append(set.Instructions, ix)
	}
	for _, addr := range w.AddressLookupTableAddresses {
		pk, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			return nil, fmt.Errorf("lookup table %q: %w", addr, err)
		}
		set.LookupTables = append(set.LookupTables, pk)
	}
	return set, nil
}
