package chain

import (
	"context"
	"fmt"
	"time"

	"sol-pay-gateway/internal/config"
	"sol-pay-gateway/internal/consts"
	"sol-pay-gateway/internal/logic/assembler"
	"sol-pay-gateway/internal/logic/builder"
	"sol-pay-gateway/internal/logic/core"
	"sol-pay-gateway/internal/logic/submitter"
	"sol-pay-gateway/internal/logic/verifier"
	"sol-pay-gateway/internal/pkg/types"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/gagliardetto/solana-go"
	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"
	"github.com/gagliardetto/solana-go/rpc"
)

const confirmPollInterval = 400 * time.Millisecond

var (
	_ builder.AccountReader         = (*Client)(nil)
	_ assembler.Simulator           = (*Client)(nil)
	_ assembler.FeeEstimator        = (*Client)(nil)
	_ assembler.LookupTableResolver = (*Client)(nil)
	_ assembler.BlockhashSource     = (*Client)(nil)
	_ submitter.Broadcaster         = (*Client)(nil)
	_ submitter.ConfirmationSource  = (*Client)(nil)
	_ submitter.BlockhashValidator  = (*Client)(nil)
	_ verifier.TransactionFetcher   = (*Client)(nil)
)

// Client 是唯一直接访问 Solana RPC 的组件。
// 账户读取沿用 blocto SDK，交易相关调用使用 gagliardetto rpc。
type Client struct {
	rpc           *rpc.Client
	feeRPC        *rpc.Client
	accounts      *client.Client
	priorityLevel string
}

func NewClient(cfg config.SolanaConfig) *Client {
	feeEndpoint := cfg.PriorityFeeEndpoint
	if feeEndpoint == "" {
		feeEndpoint = cfg.RpcEndpoint
	}
	return &Client{
		rpc:           rpc.New(cfg.RpcEndpoint),
		feeRPC:        rpc.New(feeEndpoint),
		accounts:      client.NewClient(cfg.RpcEndpoint),
		priorityLevel: cfg.PriorityLevel,
	}
}

// GetAccount 账户不存在时返回 Exists=false
func (c *Client) GetAccount(ctx context.Context, address solana.PublicKey) (core.AccountState, error) {
	info, err := c.accounts.GetAccountInfo(ctx, types.PubkeyFromSolana(address).String())
	if err != nil {
		return core.AccountState{}, fmt.Errorf("getAccountInfo %s: %w", address, err)
	}
	owner := types.PubkeyFromBlocto(info.Owner).Solana()
	state := core.AccountState{
		Address:    address,
		Exists:     !owner.IsZero() || info.Lamports > 0,
		Owner:      owner,
		Lamports:   info.Lamports,
		Executable: info.Executable,
		Data:       info.Data,
	}
	return state, nil
}

// ResolveLookupTables 一次批量读取，无法解析的表直接跳过
func (c *Client) ResolveLookupTables(ctx context.Context, tables []solana.PublicKey) (map[solana.PublicKey]solana.PublicKeySlice, error) {
	if len(tables) == 0 {
		return nil, nil
	}
	out, err := c.rpc.GetMultipleAccounts(ctx, tables...)
	if err != nil {
		return nil, fmt.Errorf("getMultipleAccounts: %w", err)
	}
	resolved := make(map[solana.PublicKey]solana.PublicKeySlice, len(tables))
	for i, acc := range out.Value {
		if i >= len(tables) || acc == nil || acc.Data == nil {
			continue
		}
		if !acc.Owner.Equals(consts.AddressLookupTable) {
			continue
		}
		addrs, err := DecodeLookupTable(acc.Data.GetBinary())
		if err != nil {
			continue
		}
		resolved[tables[i]] = addrs
	}
	return resolved, nil
}

// DecodeLookupTable 解码链上查找表账户，返回其中的地址列表
func DecodeLookupTable(data []byte) (solana.PublicKeySlice, error) {
	state, err := addresslookuptable.DecodeAddressLookupTableState(data)
	if err != nil {
		return nil, fmt.Errorf("decode lookup table: %w", err)
	}
	return state.Addresses, nil
}

func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, uint64, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, 0, err
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, 0, fmt.Errorf("getLatestBlockhash: empty result")
	}
	return out.Value.Blockhash, out.Value.LastValidBlockHeight, nil
}

func (c *Client) Simulate(ctx context.Context, tx *solana.Transaction) (*assembler.SimulationResult, error) {
	out, err := c.rpc.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:              false,
		ReplaceRecentBlockhash: true,
		Commitment:             rpc.CommitmentProcessed,
	})
	if err != nil {
		return nil, err
	}
	if out == nil || out.Value == nil {
		return &assembler.SimulationResult{}, nil
	}
	return &assembler.SimulationResult{
		UnitsConsumed: out.Value.UnitsConsumed,
		Err:           out.Value.Err,
		Logs:          out.Value.Logs,
	}, nil
}
