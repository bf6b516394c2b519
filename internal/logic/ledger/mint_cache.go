package ledger

import (
	"context"
	"errors"
	"fmt"

	"sol-pay-gateway/internal/consts"
	"sol-pay-gateway/internal/logic/core"
	"sol-pay-gateway/internal/pkg/logger"

	"github.com/blocto/solana-go-sdk/common"
	sdktoken "github.com/blocto/solana-go-sdk/program/token"
	"github.com/gagliardetto/solana-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// mintBaseSize Token-2022 mint 在基础布局之后追加扩展数据
const mintBaseSize = 82

type AccountReader interface {
	GetAccount(ctx context.Context, address solana.PublicKey) (core.AccountState, error)
}

// MintCache 旁路缓存：先查表，未命中再从链上解码并回写。并发写入以最后一次为准，内容相同。
type MintCache struct {
	db       *gorm.DB
	accounts AccountReader
}

func NewMintCache(db *gorm.DB, accounts AccountReader) *MintCache {
	return &MintCache{db: db, accounts: accounts}
}

func (c *MintCache) GetOrFetchMint(ctx context.Context, mint solana.PublicKey) (*core.MintInfo, error) {
	var entry MintCacheEntry
	err := c.db.WithContext(ctx).Where("mint = ?", mint.String()).Take(&entry).Error
	switch {
	case err == nil:
		return entry.toMintInfo(), nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("read mint cache %s: %w", mint, err)
	}

	state, err := c.accounts.GetAccount(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("fetch mint %s: %w", mint, err)
	}
	info, err := DecodeMint(mint, state)
	if err != nil {
		return nil, err
	}
	if !info.IsInitialized {
		// 未初始化的 mint 字段仍可能变化，不缓存
		return info, nil
	}

	entry = newMintCacheEntry(info)
	err = c.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&entry).Error
	if err != nil {
		logger.Warnf("[MintCache] write back %s failed: %v", mint, err)
	}
	return info, nil
}

// DecodeMint 使用 SPL Token mint 布局解码账户数据
func DecodeMint(mint solana.PublicKey, state core.AccountState) (*core.MintInfo, error) {
	if !state.Exists {
		return nil, fmt.Errorf("mint %s does not exist", mint)
	}
	if !consts.IsSPLTokenProgram(state.Owner) {
		return nil, fmt.Errorf("mint %s owner %s is not a token program", mint, state.Owner)
	}
	data := state.Data
	if len(data) > mintBaseSize {
		data = data[:mintBaseSize]
	}
	acct, err := sdktoken.MintAccountFromData(data)
	if err != nil {
		return nil, fmt.Errorf("decode mint %s: %w", mint, err)
	}
	return &core.MintInfo{
		Mint:            mint.String(),
		MintAuthority:   optionalKey(acct.MintAuthority),
		Supply:          acct.Supply,
		Decimals:        acct.Decimals,
		IsInitialized:   acct.IsInitialized,
		FreezeAuthority: optionalKey(acct.FreezeAuthority),
	}, nil
}

func optionalKey(pk *common.PublicKey) *string {
	if pk == nil {
		return nil
	}
	s := pk.ToBase58()
	return &s
}

func newMintCacheEntry(info *core.MintInfo) MintCacheEntry {
	return MintCacheEntry{
		Mint:            info.Mint,
		MintAuthority:   info.MintAuthority,
		Supply:          info.Supply,
		Decimals:        info.Decimals,
		IsInitialized:   info.IsInitialized,
		FreezeAuthority: info.FreezeAuthority,
	}
}

func (e *MintCacheEntry) toMintInfo() *core.MintInfo {
	return &core.MintInfo{
		Mint:            e.Mint,
		MintAuthority:   e.MintAuthority,
		Supply:          e.Supply,
		Decimals:        e.Decimals,
		IsInitialized:   e.IsInitialized,
		FreezeAuthority: e.FreezeAuthority,
	}
}
