package repository

import (
	"context"

	"github.com/smallbiznis/carehub/internal/syncintake/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.SyncRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO sync_records (id, device_id, local_id, order_id, payload_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (device_id, local_id) DO NOTHING`,
		record.ID,
		record.DeviceID,
		record.LocalID,
		record.OrderID,
		record.PayloadHash,
		record.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, deviceID, localID string) (*domain.SyncRecord, error) {
	var record domain.SyncRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, device_id, local_id, order_id, payload_hash, created_at
		 FROM sync_records
		 WHERE device_id = ? AND local_id = ?`,
		deviceID, localID,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}
