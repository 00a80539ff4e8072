package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Josh0007-sunday/chainproofserver/internal/models"
)

// PaymentStore persists PaymentRecords keyed by signature.
type PaymentStore interface {
	// FindBySignature returns nil, nil when no record exists.
	FindBySignature(ctx context.Context, signature string) (*models.PaymentRecord, error)
	// UpsertBySignature inserts rec if the signature is new, otherwise overwrites
	// the stored row only while it is still pending. It returns the stored row.
	UpsertBySignature(ctx context.Context, rec *models.PaymentRecord) (*models.PaymentRecord, error)
	ListByRequester(ctx context.Context, requesterID string, limit int) ([]models.PaymentRecord, error)
	HasConfirmedPayment(ctx context.Context, requesterID, endpoint string) (bool, error)
	Ping(ctx context.Context) error
}

// GormStore is the SQL PaymentStore.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(conn *gorm.DB) *GormStore {
	return &GormStore{db: conn}
}

func (s *GormStore) FindBySignature(ctx context.Context, signature string) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	err := s.db.WithContext(ctx).Where("signature = ?", signature).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) UpsertBySignature(ctx context.Context, rec *models.PaymentRecord) (*models.PaymentRecord, error) {
	row := *rec
	row.ID = 0
	if row.Status == "" {
		row.Status = models.StatusPending
	}
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "signature"}},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		// 已存在：仅 pending 状态可被覆盖
		return tx.Model(&models.PaymentRecord{}).
			Where("signature = ? AND status = ?", row.Signature, models.StatusPending).
			Updates(map[string]interface{}{
				"amount":       row.Amount,
				"decimals":     row.Decimals,
				"token_mint":   row.TokenMint,
				"sender":       row.Sender,
				"recipient":    row.Recipient,
				"endpoint":     row.Endpoint,
				"requester_id": row.RequesterID,
				"variant":      row.Variant,
				"status":       row.Status,
				"network":      row.Network,
				"slot":         row.Slot,
				"block_time":   row.BlockTime,
				"fail_reason":  row.FailReason,
				"verified_at":  row.VerifiedAt,
				"updated_at":   now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.FindBySignature(ctx, rec.Signature)
}

func (s *GormStore) ListByRequester(ctx context.Context, requesterID string, limit int) ([]models.PaymentRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var recs []models.PaymentRecord
	err := s.db.WithContext(ctx).
		Where("requester_id = ?", requesterID).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (s *GormStore) HasConfirmedPayment(ctx context.Context, requesterID, endpoint string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.PaymentRecord{}).
		Where("requester_id = ? AND endpoint = ? AND status = ?", requesterID, endpoint, models.StatusConfirmed).
		Count(&n).Error
	return n > 0, err
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
