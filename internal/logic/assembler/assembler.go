package assembler

import (
	"context"
	"encoding/base64"
	"fmt"

	"sol-pay-gateway/internal/consts"
	"sol-pay-gateway/internal/logic/core"
	"sol-pay-gateway/internal/pkg/logger"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/zeromicro/go-zero/core/mr"
)

// SimulationResult 模拟结果中组装阶段关心的部分
type SimulationResult struct {
	UnitsConsumed *uint64
	Err           interface{}
	Logs          []string
}

type Simulator interface {
	// Simulate 以 sigVerify=false、replaceRecentBlockhash=true 模拟交易
	Simulate(ctx context.Context, tx *solana.Transaction) (*SimulationResult, error)
}

type FeeEstimator interface {
	// EstimatePriorityFee 返回 µlamports/CU
	EstimatePriorityFee(ctx context.Context, accounts []solana.PublicKey) (uint64, error)
}

type LookupTableResolver interface {
	// ResolveLookupTables 批量读取查找表，无法解析的表不出现在返回结果中
	ResolveLookupTables(ctx context.Context, tables []solana.PublicKey) (map[solana.PublicKey]solana.PublicKeySlice, error)
}

type BlockhashSource interface {
	// LatestBlockhash 返回 finalized 的 blockhash 与其最后有效区块高度
	LatestBlockhash(ctx context.Context) (solana.Hash, uint64, error)
}

// Assembler 估算 CU 与优先费，解析查找表，编译最终 v0 交易
type Assembler struct {
	sim        Simulator
	fees       FeeEstimator
	tables     LookupTableResolver
	blockhash  BlockhashSource
	defaultFee uint64
}

func New(sim Simulator, fees FeeEstimator, tables LookupTableResolver, blockhash BlockhashSource, defaultFee uint64) *Assembler {
	if defaultFee == 0 {
		defaultFee = consts.DefaultPriorityFeeMicroLamports
	}
	return &Assembler{
		sim:        sim,
		fees:       fees,
		tables:     tables,
		blockhash:  blockhash,
		defaultFee: defaultFee,
	}
}

// Assemble 输入为不含 compute budget 的指令集合，输出待签名的 v0 交易
func (a *Assembler) Assemble(ctx context.Context, payer solana.PublicKey, set *core.InstructionSet) (*core.UnsignedTransaction, error) {
	if set == nil || len(set.Instructions) == 0 {
		return nil, fmt.Errorf("%w: empty instruction set", core.ErrInvalidRequest)
	}

	var (
		resolved  map[solana.PublicKey]solana.PublicKeySlice
		fee       = a.defaultFee
		blockhash solana.Hash
		lastValid uint64
	)

	// 查找表、优先费、blockhash 互不依赖，并发获取
	err := mr.Finish(func() error {
		resolved = a.resolveTables(ctx, set.LookupTables)
		return nil
	}, func() error {
		fee = a.estimateFee(ctx, set.Instructions)
		return nil
	}, func() error {
		var err error
		blockhash, lastValid, err = a.blockhash.LatestBlockhash(ctx)
		if err != nil {
			return fmt.Errorf("get latest blockhash: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	units, err := a.measureUnits(ctx, payer, set.Instructions, resolved, blockhash)
	if err != nil {
		return nil, err
	}

	tx, err := compile(payer, set.Instructions, units, fee, resolved, blockhash)
	if err != nil {
		return nil, err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}

	tables := make([]solana.PublicKey, 0, len(resolved))
	for _, key := range set.LookupTables {
		if _, ok := resolved[key]; ok {
			tables = append(tables, key)
		}
	}

	logger.Infof("[Assembler] assembled: payer=%s cu=%d price=%d luts=%d/%d size=%d",
		payer, units, fee, len(tables), len(set.LookupTables), len(raw))
	return &core.UnsignedTransaction{
		Transaction:          base64.StdEncoding.EncodeToString(raw),
		Payer:                payer,
		Blockhash:            blockhash,
		LastValidBlockHeight: lastValid,
		ComputeUnitLimit:     units,
		ComputeUnitPrice:     fee,
		LookupTables:         tables,
	}, nil
}

// measureUnits 用宽松的占位 compute budget 模拟，读取实际消耗的 CU
func (a *Assembler) measureUnits(
	ctx context.Context,
	payer solana.PublicKey,
	ixs []solana.Instruction,
	tables map[solana.PublicKey]solana.PublicKeySlice,
	blockhash solana.Hash,
) (uint32, error) {
	draft, err := compile(payer, ixs, consts.ProvisionalComputeUnitLimit, consts.ProvisionalComputeUnitPrice, tables, blockhash)
	if err != nil {
		return 0, err
	}
	res, err := a.sim.Simulate(ctx, draft)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrSimulationFailed, err)
	}
	if res == nil {
		return consts.ProvisionalComputeUnitLimit, nil
	}
	if res.Err != nil {
		// 客户端钱包会再次模拟，这里只记录
		logger.Warnf("[Assembler] simulation reported error: %v logs=%v", res.Err, res.Logs)
	}
	if res.UnitsConsumed == nil || *res.UnitsConsumed == 0 {
		return consts.ProvisionalComputeUnitLimit, nil
	}
	units := *res.UnitsConsumed
	if units > uint64(consts.ProvisionalComputeUnitLimit) {
		units = uint64(consts.ProvisionalComputeUnitLimit)
	}
	return uint32(units), nil
}

func (a *Assembler) estimateFee(ctx context.Context, ixs []solana.Instruction) uint64 {
	if a.fees == nil {
		return a.defaultFee
	}
	fee, err := a.fees.EstimatePriorityFee(ctx, writableAccounts(ixs))
	if err != nil || fee == 0 {
		logger.Warnf("[Assembler] priority fee estimate unavailable, use default %d: %v", a.defaultFee, err)
		return a.defaultFee
	}
	return fee
}

func (a *Assembler) resolveTables(ctx context.Context, keys []solana.PublicKey) map[solana.PublicKey]solana.PublicKeySlice {
	if len(keys) == 0 || a.tables == nil {
		return nil
	}
	resolved, err := a.tables.ResolveLookupTables(ctx, keys)
	if err != nil {
		logger.Warnf("[Assembler] resolve %d lookup tables failed, compile without them: %v", len(keys), err)
		return nil
	}
	if len(resolved) < len(keys) {
		logger.Debugf("[Assembler] %d of %d lookup tables unresolved, dropped", len(keys)-len(resolved), len(keys))
	}
	return resolved
}

// compile 在指令前插入 compute budget 指令并编译 v0 交易，签名位预填零值
func compile(
	payer solana.PublicKey,
	ixs []solana.Instruction,
	unitLimit uint32,
	unitPrice uint64,
	tables map[solana.PublicKey]solana.PublicKeySlice,
	blockhash solana.Hash,
) (*solana.Transaction, error) {
	limitIx, err := computebudget.NewSetComputeUnitLimitInstruction(unitLimit).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build compute unit limit: %w", err)
	}
	priceIx, err := computebudget.NewSetComputeUnitPriceInstruction(unitPrice).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build compute unit price: %w", err)
	}

	all := make([]solana.Instruction, 0, len(ixs)+2)
	all = append(all, limitIx, priceIx)
	all = append(all, ixs...)

	opts := []solana.TransactionOption{solana.TransactionPayer(payer)}
	if len(tables) > 0 {
		opts = append(opts, solana.TransactionAddressTables(tables))
	}
	tx, err := solana.NewTransaction(all, blockhash, opts...)
	if err != nil {
		return nil, fmt.Errorf("compile transaction: %w", err)
	}
	tx.Message.SetVersion(solana.MessageVersionV0)
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	return tx, nil
}

// writableAccounts 优先费估算只关心可写账户
func writableAccounts(ixs []solana.Instruction) []solana.PublicKey {
	seen := make(map[solana.PublicKey]struct{})
	out := make([]solana.PublicKey, 0, 16)
	for _, ix := range ixs {
		for _, meta := range ix.Accounts() {
			if !meta.IsWritable {
				continue
			}
			if _, ok := seen[meta.PublicKey]; ok {
				continue
			}
			seen[meta.PublicKey] = struct{}{}
			out = append(out, meta.PublicKey)
		}
	}
	return out
}
