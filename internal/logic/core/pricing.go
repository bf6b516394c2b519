package core

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Pricing 固定美元单价与结算 token 精度之间的换算。
// 所有金额都以整数最小单位表示，换算过程不经过浮点数。
type Pricing struct {
	unitPrice decimal.Decimal
	decimals  uint8
	unitRaw   uint64
}

// NewPricing unitPriceUSD 为十进制字符串（如 "50" 或 "12.5"），
// 单价换算到最小单位后必须是正整数。
func NewPricing(unitPriceUSD string, decimals uint8) (Pricing, error) {
	price, err := decimal.NewFromString(unitPriceUSD)
	if err != nil {
		return Pricing{}, fmt.Errorf("invalid unit price %q: %w", unitPriceUSD, err)
	}
	if price.Sign() <= 0 {
		return Pricing{}, fmt.Errorf("unit price must be positive: %s", unitPriceUSD)
	}
	p := Pricing{unitPrice: price, decimals: decimals}
	raw, err := p.scale(big.NewInt(1))
	if err != nil {
		return Pricing{}, err
	}
	p.unitRaw = raw
	return p, nil
}

// RawAmount 返回 unitPrice * quantity * 10^decimals，结果必须是可放入 uint64 的整数
func (p Pricing) RawAmount(quantity uint64) (uint64, error) {
	if quantity == 0 {
		return 0, fmt.Errorf("quantity must be positive")
	}
	return p.scale(new(big.Int).SetUint64(quantity))
}

func (p Pricing) scale(quantity *big.Int) (uint64, error) {
	amount := p.unitPrice.Mul(decimal.NewFromBigInt(quantity, 0)).Shift(int32(p.decimals))
	if !amount.IsInteger() {
		return 0, fmt.Errorf("amount %s is not representable with %d decimals", amount, p.decimals)
	}
	bi := amount.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("amount %s overflows uint64", amount)
	}
	return bi.Uint64(), nil
}

// UnitPriceBaseUnits 单个计费单位对应的结算 token 最小单位数量
func (p Pricing) UnitPriceBaseUnits() uint64 {
	return p.unitRaw
}

// QuantityOf raw 必须是单价的正整数倍，否则返回 false（不做任何取整）
func (p Pricing) QuantityOf(raw uint64) (uint64, bool) {
	if p.unitRaw == 0 || raw == 0 || raw%p.unitRaw != 0 {
		return 0, false
	}
	return raw / p.unitRaw, true
}

func (p Pricing) Decimals() uint8 {
	return p.decimals
}

func (p Pricing) UnitPrice() decimal.Decimal {
	return p.unitPrice
}
