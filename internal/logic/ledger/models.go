package ledger

import "time"

// 支付记录状态：submitted → verified → fulfilled；submitted 也可能转为 rejected 或 abandoned
const (
	StatusSubmitted = "submitted"
	StatusVerified  = "verified"
	StatusFulfilled = "fulfilled"
	StatusRejected  = "rejected"  // 链上校验未通过
	StatusAbandoned = "abandoned" // 长时间查不到交易，不再补偿
)

// PaymentRecord 签名唯一，保证同一笔交易最多履约一次。
// 广播前先登记为 submitted 并固定 booking，之后只有链上校验通过才会变为 verified。
type PaymentRecord struct {
	Signature string `gorm:"primaryKey;size:88"`
	Signer    string `gorm:"size:44;index"`
	Mint      string `gorm:"size:44"` // 结算币种
	RawAmount uint64
	Quantity  uint64
	Status    string `gorm:"size:16;index"`
	Slot      uint64
	BlockTime int64
	Booking   string // 原始预约数据（JSON），随首次登记写入，之后不再修改
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PaymentRecord) TableName() string {
	return "payment_records"
}

// MintCacheEntry mint 初始化后字段不再变化，缓存永不失效
type MintCacheEntry struct {
	Mint            string  `gorm:"primaryKey;size:44"`
	MintAuthority   *string `gorm:"size:44"`
	Supply          uint64
	Decimals        uint8
	IsInitialized   bool
	FreezeAuthority *string `gorm:"size:44"`
	CreatedAt       time.Time
}

func (MintCacheEntry) TableName() string {
	return "mint_cache"
}
