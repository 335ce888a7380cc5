package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqliteConfig "github.com/crabzie/hive/config/storage/sqlite"
	"github.com/crabzie/hive/internal/adapter/storage/sqlite"
	"github.com/crabzie/hive/internal/core/domain"
	"github.com/crabzie/hive/internal/core/port"
	"go.uber.org/zap"
)

var dbSeq atomic.Int64

func newTestRepo(t *testing.T) port.TaskRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:service_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := sqliteConfig.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlite.NewTaskRepository(db.DB, zap.NewNop())
}

// pollUntil fails the test when cond is still false after timeout
func pollUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// memBus is an in-process event stream
type memBus struct {
	mu     sync.Mutex
	events []domain.TaskEvent
	subs   map[chan domain.TaskEvent]string
}

func newMemBus() *memBus {
	return &memBus{subs: make(map[chan domain.TaskEvent]string)}
}

func (b *memBus) PublishEvent(_ context.Context, e domain.TaskEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	for ch, id := range b.subs {
		if id == "" || id == e.TaskID {
			select {
			case ch <- e:
			default:
			}
		}
	}
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, taskID string) (<-chan domain.TaskEvent, error) {
	ch := make(chan domain.TaskEvent, 16)
	b.mu.Lock()
	b.subs[ch] = taskID
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

func (b *memBus) For(taskID string) []domain.TaskEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.TaskEvent
	for _, e := range b.events {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out
}

// memCoordinator tracks presence without Redis
type memCoordinator struct {
	mu   sync.Mutex
	bees map[string]*domain.Bee
	err  error
}

func newMemCoordinator() *memCoordinator {
	return &memCoordinator{bees: make(map[string]*domain.Bee)}
}

func (c *memCoordinator) RegisterBee(_ context.Context, bee *domain.Bee, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bees[bee.ID] = bee
	return nil
}

func (c *memCoordinator) GetActiveBees(context.Context) ([]*domain.Bee, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*domain.Bee, 0, len(c.bees))
	for _, b := range c.bees {
		out = append(out, b)
	}
	return out, nil
}

func (c *memCoordinator) GetBee(_ context.Context, id string) (*domain.Bee, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return c.bees[id], nil
}

func (c *memCoordinator) Get(id string) *domain.Bee {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bees[id]
}

// memCache is a ResultCache backed by a map
type memCache struct {
	mu    sync.Mutex
	tasks map[string]*domain.TaskRecord
	hits  int
}

func newMemCache() *memCache {
	return &memCache{tasks: make(map[string]*domain.TaskRecord)}
}

func (c *memCache) Put(_ context.Context, t *domain.TaskRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *t
	c.tasks[t.ID] = &cp
	return nil
}

func (c *memCache) Get(_ context.Context, id string) (*domain.TaskRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	c.hits++
	cp := *t
	return &cp, nil
}

type testHive struct {
	repo     port.TaskRepository
	registry *HandlerRegistry
	router   *CapabilityRouter
	bus      *memBus
	cache    *memCache
	tasks    port.TaskService
}

func newTestHive(t *testing.T) *testHive {
	t.Helper()
	log := zap.NewNop()
	repo := newTestRepo(t)
	registry := NewHandlerRegistry(log)
	bus := newMemBus()
	cache := newMemCache()
	return &testHive{
		repo:     repo,
		registry: registry,
		router:   NewCapabilityRouter(registry, nil, "", log),
		bus:      bus,
		cache:    cache,
		tasks: NewEnqueuer(repo, bus, bus, cache, AwaitOptions{
			PollInterval:   10 * time.Millisecond,
			DefaultTimeout: time.Second,
			MaxTimeout:     5 * time.Second,
		}, log),
	}
}

func (h *testHive) newBee(id string, coordinator port.BeeCoordinator) *Bee {
	return NewBee(BeeOptions{
		ID:                id,
		Hostname:          "test",
		Interval:          10 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
	}, h.repo, h.router, h.bus, h.cache, coordinator, h.registry.Capabilities(), zap.NewNop())
}

func (h *testHive) enqueue(t *testing.T, command string, priority domain.Priority) *domain.TaskRecord {
	t.Helper()
	task, err := h.tasks.Enqueue(context.Background(), domain.EnqueueRequest{
		Command:  command,
		Payload:  map[string]any{"scope": "full"},
		Priority: priority,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return task
}

func (h *testHive) register(t *testing.T, id string, capability string, fn port.HandlerFunc) {
	t.Helper()
	if err := h.registry.Register(domain.HandlerDescriptor{ID: id, Capabilities: []string{capability}}, fn); err != nil {
		t.Fatalf("Register: %v", err)
	}
}

func okHandler(result map[string]any) port.HandlerFunc {
	return func(context.Context, map[string]any) (map[string]any, error) {
		return result, nil
	}
}
