package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "queue.service.new"
	opCreateQueue = "queue.create"
	opGetQueue    = "queue.get"
	opSetActive   = "queue.set_active"
	opDeleteQueue = "queue.delete"
	opRoster      = "queue.roster"
	opJoin        = "queue.join"
	opServeNext   = "queue.serve_next"
	opRemove      = "queue.remove"
	opClear       = "queue.clear"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// maxQueueIDAttempts bounds suffix regeneration when a generated id collides.
const maxQueueIDAttempts = 5

// ServiceConfig describes the dependencies of the ordering engine.
type ServiceConfig struct {
	Database        *gorm.DB
	Clock           func() time.Time
	QueueIDProvider QueueIDProvider
	IDProvider      IDProvider
	Logger          *zap.Logger
}

// Service is the single ordering authority for queue positions. Every
// position-mutating operation runs inside one transaction under the queue's
// mutex, so invariants hold in every state visible to other operations.
type Service struct {
	db              *gorm.DB
	clock           func() time.Time
	queueIDProvider QueueIDProvider
	idProvider      IDProvider
	logger          *zap.Logger
	locks           lockRegistry
}

// NewService constructs the queue service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	queueIDProvider := cfg.QueueIDProvider
	if queueIDProvider == nil {
		queueIDProvider = NewQueueIDProvider()
	}

	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:              cfg.Database,
		clock:           clock,
		queueIDProvider: queueIDProvider,
		idProvider:      idProvider,
		logger:          logger,
	}, nil
}

// CreateQueue persists a new active queue under a slug-plus-suffix id,
// regenerating the suffix on collision up to maxQueueIDAttempts.
func (s *Service) CreateQueue(ctx context.Context, request CreateQueueRequest) (Queue, error) {
	cleaned, err := request.validate()
	if err != nil {
		return Queue{}, newServiceError(opCreateQueue, "invalid_input", err)
	}

	for attempt := 0; attempt < maxQueueIDAttempts; attempt++ {
		queueID, err := s.queueIDProvider.NewQueueID(cleaned.BusinessName)
		if err != nil {
			s.logError(opCreateQueue, "id_generation_failed", err)
			return Queue{}, newServiceError(opCreateQueue, "id_generation_failed", err)
		}

		created := Queue{
			QueueID:      queueID,
			BusinessName: cleaned.BusinessName,
			ContactEmail: cleaned.ContactEmail,
			ContactPhone: cleaned.ContactPhone,
			IsActive:     true,
			CreatedAt:    s.clock().UTC(),
		}

		txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var existing Queue
			err := tx.Where("queue_id = ?", queueID).Take(&existing).Error
			if err == nil {
				return newServiceError(opCreateQueue, "id_collision", ErrIDCollision)
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return newServiceError(opCreateQueue, "queue_select_failed", err)
			}
			if err := tx.Create(&created).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return newServiceError(opCreateQueue, "id_collision", ErrIDCollision)
				}
				return newServiceError(opCreateQueue, "queue_insert_failed", err)
			}
			return nil
		})
		if txErr == nil {
			s.logger.Info("queue created",
				zap.String("queue_id", queueID),
				zap.String("business_name", cleaned.BusinessName))
			return created, nil
		}
		if errors.Is(txErr, ErrIDCollision) {
			continue
		}
		s.logError(opCreateQueue, "transaction_failed", txErr, zap.String("queue_id", queueID))
		return Queue{}, txErr
	}

	s.logError(opCreateQueue, "attempts_exhausted", ErrCreateFailed,
		zap.Int("attempts", maxQueueIDAttempts))
	return Queue{}, newServiceError(opCreateQueue, "attempts_exhausted", ErrCreateFailed)
}

// GetQueue returns the queue for the provided id.
func (s *Service) GetQueue(ctx context.Context, queueID string) (Queue, error) {
	var queue Queue
	err := s.db.WithContext(ctx).Where("queue_id = ?", queueID).Take(&queue).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Queue{}, newServiceError(opGetQueue, "queue_not_found", ErrQueueNotFound)
	}
	if err != nil {
		s.logError(opGetQueue, "queue_select_failed", err, zap.String("queue_id", queueID))
		return Queue{}, newServiceError(opGetQueue, "queue_select_failed", err)
	}
	return queue, nil
}

// SetQueueActive toggles whether the queue accepts new joins.
func (s *Service) SetQueueActive(ctx context.Context, queueID string, active bool) (Queue, error) {
	mutex := s.locks.forQueue(queueID)
	mutex.Lock()
	defer mutex.Unlock()

	var updated Queue
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		queue, err := lockQueue(tx, opSetActive, queueID)
		if err != nil {
			return err
		}
		queue.IsActive = active
		if err := tx.Model(&Queue{}).
			Where("queue_id = ?", queueID).
			Update("is_active", active).Error; err != nil {
			return newServiceError(opSetActive, "queue_update_failed", err)
		}
		updated = queue
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrQueueNotFound) {
			s.logError(opSetActive, "transaction_failed", txErr, zap.String("queue_id", queueID))
		}
		return Queue{}, txErr
	}
	return updated, nil
}

// DeleteQueue removes the queue and all of its members. Administrative
// escape hatch, not part of the vendor workflow.
func (s *Service) DeleteQueue(ctx context.Context, queueID string) error {
	mutex := s.locks.forQueue(queueID)
	mutex.Lock()
	defer mutex.Unlock()

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockQueue(tx, opDeleteQueue, queueID); err != nil {
			return err
		}
		if err := tx.Where("queue_id = ?", queueID).Delete(&Customer{}).Error; err != nil {
			return newServiceError(opDeleteQueue, "customers_delete_failed", err)
		}
		if err := tx.Where("queue_id = ?", queueID).Delete(&Queue{}).Error; err != nil {
			return newServiceError(opDeleteQueue, "queue_delete_failed", err)
		}
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrQueueNotFound) {
			s.logError(opDeleteQueue, "transaction_failed", txErr, zap.String("queue_id", queueID))
		}
		return txErr
	}
	s.logger.Info("queue deleted", zap.String("queue_id", queueID))
	return nil
}

// Roster returns the non-terminal members of the queue ordered by position.
func (s *Service) Roster(ctx context.Context, queueID string) ([]Customer, error) {
	if _, err := s.GetQueue(ctx, queueID); err != nil {
		return nil, err
	}
	var members []Customer
	if err := s.db.WithContext(ctx).
		Where("queue_id = ? AND status IN ?", queueID, []Status{StatusWaiting, StatusNext}).
		Order("position ASC").
		Find(&members).Error; err != nil {
		s.logError(opRoster, "query_failed", err, zap.String("queue_id", queueID))
		return nil, newServiceError(opRoster, "query_failed", err)
	}
	return members, nil
}

// Join appends a customer to the end of an active queue. The new member
// takes position count+1; an empty queue makes the newcomer the head.
func (s *Service) Join(ctx context.Context, queueID string, request JoinRequest) (Customer, error) {
	cleaned, err := request.validate()
	if err != nil {
		return Customer{}, newServiceError(opJoin, "invalid_input", err)
	}

	customerID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opJoin, "id_generation_failed", err, zap.String("queue_id", queueID))
		return Customer{}, newServiceError(opJoin, "id_generation_failed", err)
	}

	mutex := s.locks.forQueue(queueID)
	mutex.Lock()
	defer mutex.Unlock()

	var created Customer
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		queue, err := lockQueue(tx, opJoin, queueID)
		if err != nil {
			return err
		}
		if !queue.IsActive {
			return newServiceError(opJoin, "queue_inactive", ErrQueueInactive)
		}

		var activeCount int64
		if err := tx.Model(&Customer{}).
			Where("queue_id = ? AND status IN ?", queueID, []Status{StatusWaiting, StatusNext}).
			Count(&activeCount).Error; err != nil {
			return newServiceError(opJoin, "count_failed", err)
		}

		status := StatusWaiting
		if activeCount == 0 {
			status = StatusNext
		}
		created = Customer{
			CustomerID: customerID,
			QueueID:    queueID,
			Name:       cleaned.Name,
			Phone:      cleaned.Phone,
			Message:    cleaned.Message,
			Position:   int(activeCount) + 1,
			Status:     status,
			JoinedAt:   s.clock().UTC(),
		}
		if err := tx.Create(&created).Error; err != nil {
			return newServiceError(opJoin, "customer_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrQueueNotFound) && !errors.Is(txErr, ErrQueueInactive) {
			s.logError(opJoin, "transaction_failed", txErr, zap.String("queue_id", queueID))
		}
		return Customer{}, txErr
	}

	s.logger.Info("customer joined",
		zap.String("queue_id", queueID),
		zap.String("customer_id", created.CustomerID),
		zap.Int("position", created.Position))
	return created, nil
}

// ServeNext marks the head of the queue served, stamps served_at, bumps the
// queue's served counter, and compacts the remainder. Returns nil when the
// queue has no active members.
func (s *Service) ServeNext(ctx context.Context, queueID string) (*Customer, error) {
	mutex := s.locks.forQueue(queueID)
	mutex.Lock()
	defer mutex.Unlock()

	var served *Customer
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockQueue(tx, opServeNext, queueID); err != nil {
			return err
		}

		var head Customer
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("queue_id = ? AND status IN ?", queueID, []Status{StatusWaiting, StatusNext}).
			Order("position ASC").
			Take(&head).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			served = nil
			return nil
		}
		if err != nil {
			return newServiceError(opServeNext, "head_select_failed", err)
		}

		servedAt := s.clock().UTC()
		head.Status = StatusServed
		head.ServedAt = &servedAt
		if err := tx.Model(&Customer{}).
			Where("customer_id = ?", head.CustomerID).
			Updates(map[string]interface{}{
				"status":    StatusServed,
				"served_at": servedAt,
			}).Error; err != nil {
			return newServiceError(opServeNext, "customer_update_failed", err)
		}

		if err := tx.Model(&Queue{}).
			Where("queue_id = ?", queueID).
			Update("served_count", gorm.Expr("served_count + 1")).Error; err != nil {
			return newServiceError(opServeNext, "served_count_update_failed", err)
		}

		if err := compact(tx, opServeNext, queueID); err != nil {
			return err
		}
		served = &head
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrQueueNotFound) {
			s.logError(opServeNext, "transaction_failed", txErr, zap.String("queue_id", queueID))
		}
		return nil, txErr
	}

	if served != nil {
		s.logger.Info("customer served",
			zap.String("queue_id", queueID),
			zap.String("customer_id", served.CustomerID))
	}
	return served, nil
}

// Remove marks the member left and compacts. Removing an already-terminal
// member is a no-op so repeated leave clicks cannot renumber the queue twice.
func (s *Service) Remove(ctx context.Context, queueID, customerID string) error {
	mutex := s.locks.forQueue(queueID)
	mutex.Lock()
	defer mutex.Unlock()

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockQueue(tx, opRemove, queueID); err != nil {
			return err
		}

		var member Customer
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("queue_id = ? AND customer_id = ?", queueID, customerID).
			Take(&member).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opRemove, "customer_not_found", ErrCustomerNotFound)
		}
		if err != nil {
			return newServiceError(opRemove, "customer_select_failed", err)
		}
		if member.Status.Terminal() {
			return nil
		}

		if err := tx.Model(&Customer{}).
			Where("customer_id = ?", member.CustomerID).
			Update("status", StatusLeft).Error; err != nil {
			return newServiceError(opRemove, "customer_update_failed", err)
		}
		return compact(tx, opRemove, queueID)
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrQueueNotFound) && !errors.Is(txErr, ErrCustomerNotFound) {
			s.logError(opRemove, "transaction_failed", txErr,
				zap.String("queue_id", queueID),
				zap.String("customer_id", customerID))
		}
		return txErr
	}

	s.logger.Info("customer removed",
		zap.String("queue_id", queueID),
		zap.String("customer_id", customerID))
	return nil
}

// ClearQueue marks every active member left in one locked transaction and
// returns how many members were cleared.
func (s *Service) ClearQueue(ctx context.Context, queueID string) (int64, error) {
	mutex := s.locks.forQueue(queueID)
	mutex.Lock()
	defer mutex.Unlock()

	var cleared int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockQueue(tx, opClear, queueID); err != nil {
			return err
		}
		result := tx.Model(&Customer{}).
			Where("queue_id = ? AND status IN ?", queueID, []Status{StatusWaiting, StatusNext}).
			Update("status", StatusLeft)
		if result.Error != nil {
			return newServiceError(opClear, "bulk_update_failed", result.Error)
		}
		cleared = result.RowsAffected
		return compact(tx, opClear, queueID)
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrQueueNotFound) {
			s.logError(opClear, "transaction_failed", txErr, zap.String("queue_id", queueID))
		}
		return 0, txErr
	}

	s.logger.Info("queue cleared",
		zap.String("queue_id", queueID),
		zap.Int64("cleared", cleared))
	return cleared, nil
}

// lockQueue loads the queue row under a row lock, establishing the queue's
// existence at the head of every mutating transaction.
func lockQueue(tx *gorm.DB, operation, queueID string) (Queue, error) {
	var queue Queue
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("queue_id = ?", queueID).
		Take(&queue).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Queue{}, newServiceError(operation, "queue_not_found", ErrQueueNotFound)
	}
	if err != nil {
		return Queue{}, newServiceError(operation, "queue_select_failed", err)
	}
	return queue, nil
}

// compact renumbers the non-terminal members densely from 1 in their current
// relative order and points the head at StatusNext. The previous position is
// the sort key, so compaction renumbers without ever reordering.
func compact(tx *gorm.DB, operation, queueID string) error {
	var members []Customer
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("queue_id = ? AND status IN ?", queueID, []Status{StatusWaiting, StatusNext}).
		Order("position ASC").
		Find(&members).Error; err != nil {
		return newServiceError(operation, "compact_select_failed", err)
	}

	for index, member := range members {
		position := index + 1
		status := StatusWaiting
		if position == 1 {
			status = StatusNext
		}
		if member.Position == position && member.Status == status {
			continue
		}
		if err := tx.Model(&Customer{}).
			Where("customer_id = ?", member.CustomerID).
			Updates(map[string]interface{}{
				"position": position,
				"status":   status,
			}).Error; err != nil {
			return newServiceError(operation, "compact_update_failed", err)
		}
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("queue service error", attrs...)
}
