package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the lifecycle states of a queue member.
type Status string

const (
	// StatusWaiting marks a member holding a position behind the head.
	StatusWaiting Status = "waiting"
	// StatusNext marks the member at position 1.
	StatusNext Status = "next"
	// StatusServed is terminal: the member was called up by the vendor.
	StatusServed Status = "served"
	// StatusLeft is terminal: the member left or was removed.
	StatusLeft Status = "left"
)

// Terminal reports whether the status excludes the member from position numbering.
func (s Status) Terminal() bool {
	return s == StatusServed || s == StatusLeft
}

const (
	maxBusinessNameLength = 120
	maxCustomerNameLength = 120
	maxContactLength      = 320
	maxMessageLength      = 500
)

var (
	// ErrQueueNotFound indicates the queue id does not exist.
	ErrQueueNotFound = errors.New("queue: queue not found")
	// ErrQueueInactive indicates the queue rejects new joins.
	ErrQueueInactive = errors.New("queue: queue inactive")
	// ErrCustomerNotFound indicates the customer id is not a member of the queue.
	ErrCustomerNotFound = errors.New("queue: customer not found")
	// ErrIDCollision indicates a generated queue id already exists; callers retry.
	ErrIDCollision = errors.New("queue: id collision")
	// ErrCreateFailed indicates id generation exhausted its retry budget.
	ErrCreateFailed = errors.New("queue: create failed")
	// ErrValidation indicates input that fails fast before any store write.
	ErrValidation = errors.New("queue: invalid input")
)

// Queue is the persisted waiting line owned by one vendor.
type Queue struct {
	QueueID      string    `gorm:"column:queue_id;primaryKey;size:64;not null"`
	BusinessName string    `gorm:"column:business_name;size:120;not null"`
	ContactEmail string    `gorm:"column:contact_email;size:320"`
	ContactPhone string    `gorm:"column:contact_phone;size:320"`
	IsActive     bool      `gorm:"column:is_active;not null;default:true"`
	ServedCount  int64     `gorm:"column:served_count;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Queue) TableName() string {
	return "queues"
}

// ContactSecret returns the value doubling as the dashboard credential.
// An empty result means the dashboard is unprotected.
func (q Queue) ContactSecret() string {
	if q.ContactEmail != "" {
		return q.ContactEmail
	}
	return q.ContactPhone
}

// Customer is one member of a queue's waiting line.
type Customer struct {
	CustomerID string     `gorm:"column:customer_id;primaryKey;size:64;not null"`
	QueueID    string     `gorm:"column:queue_id;size:64;not null;index:idx_customers_queue_position,priority:1"`
	Name       string     `gorm:"column:name;size:120;not null"`
	Phone      string     `gorm:"column:phone;size:320"`
	Message    string     `gorm:"column:message;size:500"`
	Position   int        `gorm:"column:position;not null;index:idx_customers_queue_position,priority:2"`
	Status     Status     `gorm:"column:status;size:16;not null"`
	JoinedAt   time.Time  `gorm:"column:joined_at;not null"`
	ServedAt   *time.Time `gorm:"column:served_at"`
}

// TableName provides the explicit table binding for GORM.
func (Customer) TableName() string {
	return "customers"
}

// BusinessName represents a validated display name for a queue.
type BusinessName string

// NewBusinessName validates raw input and returns a BusinessName.
func NewBusinessName(rawInput string) (BusinessName, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: business name empty", ErrValidation)
	}
	if len(trimmed) > maxBusinessNameLength {
		return "", fmt.Errorf("%w: business name exceeds %d characters", ErrValidation, maxBusinessNameLength)
	}
	return BusinessName(trimmed), nil
}

// String returns the underlying display string.
func (n BusinessName) String() string {
	return string(n)
}

// JoinRequest describes the input supplied by a joining customer.
type JoinRequest struct {
	Name    string
	Phone   string
	Message string
}

func (r JoinRequest) validate() (JoinRequest, error) {
	cleaned := JoinRequest{
		Name:    strings.TrimSpace(r.Name),
		Phone:   strings.TrimSpace(r.Phone),
		Message: strings.TrimSpace(r.Message),
	}
	if cleaned.Name == "" {
		return JoinRequest{}, fmt.Errorf("%w: customer name empty", ErrValidation)
	}
	if len(cleaned.Name) > maxCustomerNameLength {
		return JoinRequest{}, fmt.Errorf("%w: customer name exceeds %d characters", ErrValidation, maxCustomerNameLength)
	}
	if len(cleaned.Phone) > maxContactLength {
		return JoinRequest{}, fmt.Errorf("%w: phone exceeds %d characters", ErrValidation, maxContactLength)
	}
	if len(cleaned.Message) > maxMessageLength {
		return JoinRequest{}, fmt.Errorf("%w: message exceeds %d characters", ErrValidation, maxMessageLength)
	}
	return cleaned, nil
}

// CreateQueueRequest describes the input supplied by a vendor creating a queue.
type CreateQueueRequest struct {
	BusinessName string
	ContactEmail string
	ContactPhone string
}

func (r CreateQueueRequest) validate() (CreateQueueRequest, error) {
	name, err := NewBusinessName(r.BusinessName)
	if err != nil {
		return CreateQueueRequest{}, err
	}
	cleaned := CreateQueueRequest{
		BusinessName: name.String(),
		ContactEmail: strings.TrimSpace(r.ContactEmail),
		ContactPhone: strings.TrimSpace(r.ContactPhone),
	}
	if len(cleaned.ContactEmail) > maxContactLength {
		return CreateQueueRequest{}, fmt.Errorf("%w: contact email exceeds %d characters", ErrValidation, maxContactLength)
	}
	if len(cleaned.ContactPhone) > maxContactLength {
		return CreateQueueRequest{}, fmt.Errorf("%w: contact phone exceeds %d characters", ErrValidation, maxContactLength)
	}
	return cleaned, nil
}
