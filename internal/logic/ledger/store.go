package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrRecordNotFound = errors.New("payment record not found")

// Store 支付记录。签名主键天然分区，单行原子操作即可，无需跨键事务。
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// RecordSubmission 广播前登记签名与 booking，已存在时保持原记录，返回库中的记录
func (s *Store) RecordSubmission(ctx context.Context, rec *PaymentRecord) (*PaymentRecord, error) {
	rec.Status = StatusSubmitted
	if err := s.insertIfAbsent(ctx, rec); err != nil {
		return nil, err
	}
	return s.GetPayment(ctx, rec.Signature)
}

// PersistPayment 按签名幂等写入校验结果。
// 不存在时插入；存在 submitted 记录时补齐链上字段并置为 verified（booking 保持不变）；
// 其它状态不覆盖，返回 false。
func (s *Store) PersistPayment(ctx context.Context, rec *PaymentRecord) (bool, error) {
	if rec.Status == "" {
		rec.Status = StatusVerified
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "signature"}}, DoNothing: true}).
		Create(rec)
	if res.Error != nil {
		return false, fmt.Errorf("persist payment %s: %w", rec.Signature, res.Error)
	}
	if res.RowsAffected == 1 || rec.Status != StatusVerified {
		return res.RowsAffected == 1, nil
	}

	res = s.db.WithContext(ctx).
		Model(&PaymentRecord{}).
		Where("signature = ? AND status IN ?", rec.Signature, []string{StatusSubmitted, StatusRejected, StatusAbandoned}).
		Updates(map[string]interface{}{
			"signer":     rec.Signer,
			"mint":       rec.Mint,
			"raw_amount": rec.RawAmount,
			"quantity":   rec.Quantity,
			"slot":       rec.Slot,
			"block_time": rec.BlockTime,
			"status":     StatusVerified,
		})
	if res.Error != nil {
		return false, fmt.Errorf("promote payment %s: %w", rec.Signature, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkStatus from → to 的条件更新
func (s *Store) MarkStatus(ctx context.Context, signature, from, to string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&PaymentRecord{}).
		Where("signature = ? AND status = ?", signature, from).
		Update("status", to)
	if res.Error != nil {
		return false, fmt.Errorf("mark payment %s %s -> %s: %w", signature, from, to, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) insertIfAbsent(ctx context.Context, rec *PaymentRecord) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "signature"}}, DoNothing: true}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("record submission %s: %w", rec.Signature, err)
	}
	return nil
}

// ClaimFulfillment verified → fulfilled 的条件更新，只有一个调用方能拿到 true
func (s *Store) ClaimFulfillment(ctx context.Context, signature string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&PaymentRecord{}).
		Where("signature = ? AND status = ?", signature, StatusVerified).
		Update("status", StatusFulfilled)
	if res.Error != nil {
		return false, fmt.Errorf("claim fulfillment %s: %w", signature, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) GetPayment(ctx context.Context, signature string) (*PaymentRecord, error) {
	var rec PaymentRecord
	err := s.db.WithContext(ctx).Where("signature = ?", signature).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", signature, err)
	}
	return &rec, nil
}

// ListPending 待补偿的记录：已校验未履约的全部返回，submitted 只返回 submittedBefore 之前登记的
func (s *Store) ListPending(ctx context.Context, submittedBefore time.Time, limit int) ([]PaymentRecord, error) {
	var out []PaymentRecord
	err := s.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND created_at < ?)", StatusVerified, StatusSubmitted, submittedBefore).
		Order("created_at").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list pending payments: %w", err)
	}
	return out, nil
}
