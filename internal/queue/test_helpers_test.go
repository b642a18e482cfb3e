package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var testDatabaseSequence int64

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	sequence := atomic.AddInt64(&testDatabaseSequence, 1)
	dsn := fmt.Sprintf("file:queue_test_%d?mode=memory&cache=shared", sequence)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Queue{}, &Customer{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

type sequentialIDGenerator struct {
	next int64
}

func (g *sequentialIDGenerator) NewID() (string, error) {
	value := atomic.AddInt64(&g.next, 1)
	return fmt.Sprintf("customer-%d", value), nil
}

type staticQueueIDProvider struct {
	ids   []string
	index int
}

func (p *staticQueueIDProvider) NewQueueID(string) (string, error) {
	if p.index >= len(p.ids) {
		return "", errors.New("exhausted queue ids")
	}
	id := p.ids[p.index]
	p.index++
	return id, nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := newTestDatabase(t)
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1700000000, 0).UTC() },
		IDProvider: &sequentialIDGenerator{},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, db
}

func mustCreateQueue(t *testing.T, service *Service, businessName string) Queue {
	t.Helper()
	created, err := service.CreateQueue(context.Background(), CreateQueueRequest{BusinessName: businessName})
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}
	return created
}

func mustJoin(t *testing.T, service *Service, queueID, name string) Customer {
	t.Helper()
	joined, err := service.Join(context.Background(), queueID, JoinRequest{Name: name})
	if err != nil {
		t.Fatalf("failed to join %s: %v", name, err)
	}
	return joined
}
