package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"sol-pay-gateway/internal/logic/core"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// 估算接口与近期费用都拿不到时返回错误，由调用方回退到配置值
var errNoFeeSamples = errors.New("no non-zero prioritization fee samples")

// EstimatePriorityFee 优先使用 getPriorityFeeEstimate 扩展接口，失败时取近期非零费用的中位数
func (c *Client) EstimatePriorityFee(ctx context.Context, accounts []solana.PublicKey) (uint64, error) {
	fee, err := c.estimateByProvider(ctx, accounts)
	if err == nil {
		return fee, nil
	}

	recent, rerr := c.rpc.GetRecentPrioritizationFees(ctx, accounts)
	if rerr != nil {
		return 0, fmt.Errorf("priority fee estimate: %v; recent fees: %w", err, rerr)
	}
	fees := make([]uint64, 0, len(recent))
	for _, f := range recent {
		if f.PrioritizationFee > 0 {
			fees = append(fees, f.PrioritizationFee)
		}
	}
	if len(fees) == 0 {
		return 0, errNoFeeSamples
	}
	sort.Slice(fees, func(i, j int) bool { return fees[i] < fees[j] })
	return fees[len(fees)/2], nil
}

type priorityFeeEstimate struct {
	PriorityFeeEstimate *float64 `json:"priorityFeeEstimate"`
}

func (c *Client) estimateByProvider(ctx context.Context, accounts []solana.PublicKey) (uint64, error) {
	keys := make([]string, len(accounts))
	for i, a := range accounts {
		keys[i] = a.String()
	}
	params := []interface{}{
		map[string]interface{}{
			"accountKeys": keys,
			"options": map[string]interface{}{
				"priorityLevel": c.priorityLevel,
			},
		},
	}
	var out priorityFeeEstimate
	if err := c.feeRPC.RPCCallForInto(ctx, &out, "getPriorityFeeEstimate", params); err != nil {
		return 0, err
	}
	if out.PriorityFeeEstimate == nil || *out.PriorityFeeEstimate < 0 {
		return 0, fmt.Errorf("getPriorityFeeEstimate: missing estimate")
	}
	return uint64(*out.PriorityFeeEstimate), nil
}

// SendRawTransaction 跳过预检且关闭节点侧重试，重发由 submitter 自己控制
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error) {
	maxRetries := uint(0)
	return c.rpc.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentProcessed,
		MaxRetries:          &maxRetries,
	})
}

// AwaitConfirmation 轮询签名状态直到 confirmed 或 ctx 结束。
// 返回 (false, ctx.Err()) 表示本轮窗口内未确认。
func (c *Client) AwaitConfirmation(ctx context.Context, sig solana.Signature) (bool, error) {
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()
	for {
		out, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
		if err == nil && out != nil && len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				return false, fmt.Errorf("%w: %v", core.ErrTransactionFailed, status.Err)
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return true, nil
			}
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// IsBlockhashValid 以 confirmed 视角判断 blockhash 是否仍在有效区块高度内
func (c *Client) IsBlockhashValid(ctx context.Context, hash solana.Hash) (bool, error) {
	out, err := c.rpc.IsBlockhashValid(ctx, hash, rpc.CommitmentConfirmed)
	if err != nil {
		return false, fmt.Errorf("isBlockhashValid %s: %w", hash, err)
	}
	if out == nil {
		return false, fmt.Errorf("isBlockhashValid %s: empty result", hash)
	}
	return out.Value, nil
}

// FetchFinalized 读取 finalized 交易；尚未索引时返回 nil, nil
func (c *Client) FetchFinalized(ctx context.Context, sig solana.Signature) (*core.FinalizedTx, error) {
	maxVersion := uint64(0)
	out, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentFinalized,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getTransaction %s: %w", sig, err)
	}
	if out == nil || out.Transaction == nil {
		return nil, nil
	}
	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", sig, err)
	}
	var blockTime int64
	if out.BlockTime != nil {
		blockTime = int64(*out.BlockTime)
	}
	return ToFinalizedTx(sig, out.Slot, blockTime, tx, out.Meta)
}

// ToFinalizedTx 把 RPC 结构转换为校验使用的扁平视图。
// 账户顺序：静态账户，随后是查找表加载的 writable，最后是 readonly。
func ToFinalizedTx(sig solana.Signature, slot uint64, blockTime int64, tx *solana.Transaction, meta *rpc.TransactionMeta) (*core.FinalizedTx, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction")
	}
	keys := make([]solana.PublicKey, 0, len(tx.Message.AccountKeys))
	keys = append(keys, tx.Message.AccountKeys...)
	if meta != nil {
		keys = append(keys, meta.LoadedAddresses.Writable...)
		keys = append(keys, meta.LoadedAddresses.ReadOnly...)
	}

	instructions := make([]core.CompiledInstruction, 0, len(tx.Message.Instructions))
	for _, ix := range tx.Message.Instructions {
		instructions = append(instructions, core.CompiledInstruction{
			ProgramIDIndex: ix.ProgramIDIndex,
			Accounts:       append([]uint16(nil), ix.Accounts...),
			Data:           append([]byte(nil), ix.Data...),
		})
	}

	out := &core.FinalizedTx{
		Signature:         sig,
		Slot:              slot,
		BlockTime:         blockTime,
		AccountKeys:       keys,
		Instructions:      instructions,
		PostTokenBalances: make(map[uint16]core.TokenBalance),
	}
	if meta == nil {
		return out, nil
	}
	out.Err = meta.Err
	for _, b := range meta.PostTokenBalances {
		var amount uint64
		if b.UiTokenAmount != nil {
			v, err := strconv.ParseUint(b.UiTokenAmount.Amount, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("token balance amount %q: %w", b.UiTokenAmount.Amount, err)
			}
			amount = v
		}
		var owner solana.PublicKey
		if b.Owner != nil {
			owner = *b.Owner
		}
		out.PostTokenBalances[b.AccountIndex] = core.TokenBalance{
			AccountIndex: b.AccountIndex,
			Owner:        owner,
			Mint:         b.Mint,
			Amount:       amount,
		}
	}
	return out, nil
}
