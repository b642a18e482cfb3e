package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/waitline/backend/internal/queue"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationRepairCustomerPositions = "2026-08-10_repair_customer_positions"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationRepairCustomerPositions, apply: repairCustomerPositions},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// repairCustomerPositions renumbers the active members of every queue so the
// positions are dense from 1 and the head carries the next status. Databases
// written by the pre-transactional client can hold gapped or duplicated
// positions; relative order by stored position is preserved.
func repairCustomerPositions(db *gorm.DB) error {
	activeStatuses := []queue.Status{queue.StatusWaiting, queue.StatusNext}

	var queueIDs []string
	if err := db.Model(&queue.Customer{}).
		Distinct("queue_id").
		Where("status IN ?", activeStatuses).
		Pluck("queue_id", &queueIDs).Error; err != nil {
		return err
	}

	for _, queueID := range queueIDs {
		err := db.Transaction(func(tx *gorm.DB) error {
			var members []queue.Customer
			if err := tx.Where("queue_id = ? AND status IN ?", queueID, activeStatuses).
				Order("position ASC").
				Find(&members).Error; err != nil {
				return err
			}
			for index, member := range members {
				position := index + 1
				status := queue.StatusWaiting
				if position == 1 {
					status = queue.StatusNext
				}
				if member.Position == position && member.Status == status {
					continue
				}
				if err := tx.Model(&queue.Customer{}).
					Where("customer_id = ?", member.CustomerID).
					Updates(map[string]interface{}{
						"position": position,
						"status":   status,
					}).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
