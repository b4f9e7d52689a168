package archive

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// EpochRecord is one closed epoch in the reporting archive. Amounts are
// decimal strings so base-unit values survive unscathed.
type EpochRecord struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	PoolName     string    `gorm:"size:64;index:idx_pool_epoch,unique"`
	EpochID      uint64    `gorm:"index:idx_pool_epoch,unique"`
	EndTime      time.Time
	ClosedAt     time.Time
	SeniorAssets string `gorm:"size:80"`
	JuniorAssets string `gorm:"size:80"`
	CreatedAt    time.Time
	Outcomes     []RedemptionOutcome `gorm:"foreignKey:EpochRecordID"`
}

// RedemptionOutcome records how one tranche's redemption queue settled at an
// epoch close.
type RedemptionOutcome struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	EpochRecordID   uuid.UUID `gorm:"type:uuid;index"`
	Tranche         string    `gorm:"size:16"`
	SharesRequested string    `gorm:"size:80"`
	SharesProcessed string    `gorm:"size:80"`
	AmountProcessed string    `gorm:"size:80"`
	PartialFill     bool
	CreatedAt       time.Time
}

// AutoMigrate creates or updates the archive schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EpochRecord{}, &RedemptionOutcome{})
}

// Archive is the epoch-close reporting store backed by SQLite.
type Archive struct {
	db *gorm.DB
}

// Open opens (or creates) the archive database at path and migrates the
// schema.
func Open(path string) (*Archive, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return &Archive{db: db}, nil
}

// New wraps an existing gorm handle, migrating the schema.
func New(db *gorm.DB) (*Archive, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return &Archive{db: db}, nil
}

// RecordEpochClose persists one closed epoch with its per-tranche redemption
// outcomes in a single transaction.
func (a *Archive) RecordEpochClose(record EpochRecord, outcomes []RedemptionOutcome) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return a.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		for i := range outcomes {
			if outcomes[i].ID == uuid.Nil {
				outcomes[i].ID = uuid.New()
			}
			outcomes[i].EpochRecordID = record.ID
			if err := tx.Create(&outcomes[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// EpochHistory returns the most recent closed epochs for the pool, newest
// first, with outcomes preloaded.
func (a *Archive) EpochHistory(poolName string, limit int) ([]EpochRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []EpochRecord
	err := a.db.
		Preload("Outcomes").
		Where("pool_name = ?", poolName).
		Order("epoch_id DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// Epoch returns one closed epoch with its outcomes, or gorm.ErrRecordNotFound.
func (a *Archive) Epoch(poolName string, epochID uint64) (EpochRecord, error) {
	var record EpochRecord
	err := a.db.
		Preload("Outcomes").
		Where("pool_name = ? AND epoch_id = ?", poolName, epochID).
		First(&record).Error
	return record, err
}
