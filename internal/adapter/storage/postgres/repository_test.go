package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	postgresConfig "github.com/crabzie/hive/config/storage/postgresql"
	config "github.com/crabzie/hive/config/utils"
	"github.com/crabzie/hive/internal/core/domain"
	"github.com/crabzie/hive/internal/core/port"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// openTestRepo connects to the database named by the PG_* variables and
// skips the test when PG_HOST is not set.
func openTestRepo(t *testing.T) port.TaskRepository {
	t.Helper()
	host := os.Getenv("PG_HOST")
	if host == "" {
		t.Skip("PG_HOST not set, skipping postgres repository tests")
	}

	cfg := &config.DB{
		Connection: "postgres",
		Host:       host,
		Port:       envOr("PG_PORT", "5432"),
		User:       envOr("PG_USER", "hive"),
		Password:   envOr("PG_PASS", "hive"),
		Name:       envOr("PG_DB", "hive"),
		MaxConns:   8,
	}
	ctx := context.Background()
	db, err := postgresConfig.New(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewTaskRepository(db.Pool, zap.NewNop())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// command makes a task type unique to this run, the table is shared
func command(name string) string {
	return fmt.Sprintf("%s_%s", name, uuid.NewString()[:8])
}

func newTask(command string, priority domain.Priority, createdAt time.Time) *domain.TaskRecord {
	return &domain.TaskRecord{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Command:   command,
		Payload:   map[string]any{"n": 1},
		Status:    domain.TaskStatusPending,
		Priority:  priority,
		CreatedAt: createdAt,
	}
}

func mustInsert(t *testing.T, repo port.TaskRepository, task *domain.TaskRecord) *domain.TaskRecord {
	t.Helper()
	if err := repo.Insert(context.Background(), task); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return task
}

func claim(t *testing.T, repo port.TaskRepository, id, worker string, startedAt time.Time) bool {
	t.Helper()
	ok, err := repo.UpdateStatus(context.Background(), id, domain.TaskStatusPending, domain.TaskStatusProcessing,
		domain.TaskUpdate{AssignedTo: &worker, StartedAt: &startedAt})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	return ok
}

func TestRepository_InsertAndGet(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	task := newTask(command("check_vitals"), domain.PriorityHigh, time.Now().UTC())
	task.Metadata = map[string]any{"source": "test"}
	mustInsert(t, repo, task)

	got, err := repo.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Command != task.Command || got.Status != domain.TaskStatusPending || got.Priority != domain.PriorityHigh {
		t.Fatalf("unexpected record: %#v", got)
	}
	if got.Payload["n"] != float64(1) || got.Metadata["source"] != "test" {
		t.Fatalf("unexpected maps: %#v %#v", got.Payload, got.Metadata)
	}
	if got.AssignedTo != nil || got.Result != nil || got.Error != nil || got.StartedAt != nil || got.CompletedAt != nil {
		t.Fatalf("pending task must have no owner or outcome: %#v", got)
	}

	if _, err := repo.GetByID(ctx, uuid.NewString()); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("want ErrTaskNotFound, got %v", err)
	}
}

func TestRepository_FindNextEligible_FIFOWithinPriority(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Now().UTC()

	a := mustInsert(t, repo, newTask(command("a"), domain.PriorityNormal, base))
	b := mustInsert(t, repo, newTask(command("b"), domain.PriorityHigh, base.Add(time.Millisecond)))
	c := mustInsert(t, repo, newTask(command("c"), domain.PriorityNormal, base.Add(2*time.Millisecond)))
	filter := domain.TaskFilter{Types: []string{a.Command, b.Command, c.Command}}

	for _, want := range []*domain.TaskRecord{b, a, c} {
		got, err := repo.FindNextEligible(ctx, filter)
		if err != nil {
			t.Fatalf("FindNextEligible: %v", err)
		}
		if got == nil || got.ID != want.ID {
			t.Fatalf("want %s, got %#v", want.Command, got)
		}
		if !claim(t, repo, got.ID, "bee-1", time.Now().UTC()) {
			t.Fatalf("claim of %s failed", got.Command)
		}
	}

	got, err := repo.FindNextEligible(ctx, filter)
	if err != nil || got != nil {
		t.Fatalf("want no eligible task, got %#v err=%v", got, err)
	}
}

func TestRepository_UpdateStatus_TerminalImmutability(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	task := mustInsert(t, repo, newTask(command("a"), domain.PriorityNormal, time.Now().UTC()))

	if !claim(t, repo, task.ID, "bee-1", time.Now().UTC()) {
		t.Fatal("first claim must win")
	}
	if claim(t, repo, task.ID, "bee-2", time.Now().UTC()) {
		t.Fatal("second claim must lose")
	}

	completedAt := time.Now().UTC()
	ok, err := repo.UpdateStatus(ctx, task.ID, domain.TaskStatusProcessing, domain.TaskStatusCompleted,
		domain.TaskUpdate{CompletedAt: &completedAt, Result: map[string]any{"status": "ok"}})
	if err != nil || !ok {
		t.Fatalf("complete: ok=%v err=%v", ok, err)
	}

	msg := "late failure"
	ok, err = repo.UpdateStatus(ctx, task.ID, domain.TaskStatusProcessing, domain.TaskStatusFailed,
		domain.TaskUpdate{CompletedAt: &completedAt, Error: &msg})
	if err != nil || ok {
		t.Fatalf("terminal row rewritten: ok=%v err=%v", ok, err)
	}

	got, _ := repo.GetByID(ctx, task.ID)
	if got.Status != domain.TaskStatusCompleted || got.Error != nil || got.Result["status"] != "ok" || *got.AssignedTo != "bee-1" {
		t.Fatalf("completed row changed: %#v", got)
	}
	if got.StartedAt == nil || got.CompletedAt == nil || got.CompletedAt.Before(*got.StartedAt) {
		t.Fatalf("timestamps out of order: %#v", got)
	}
}

func TestRepository_ConcurrentClaims(t *testing.T) {
	repo := openTestRepo(t)
	task := mustInsert(t, repo, newTask(command("a"), domain.PriorityNormal, time.Now().UTC()))

	const claimers = 50
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			worker := fmt.Sprintf("bee-%d", i)
			now := time.Now().UTC()
			ok, err := repo.UpdateStatus(context.Background(), task.ID, domain.TaskStatusPending, domain.TaskStatusProcessing,
				domain.TaskUpdate{AssignedTo: &worker, StartedAt: &now})
			if err != nil {
				t.Errorf("claimer %d: %v", i, err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("want exactly one winning claim, got %d", wins.Load())
	}
}

func TestRepository_ListStuck(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stuck := mustInsert(t, repo, newTask(command("stuck"), domain.PriorityNormal, now.Add(-2*time.Hour)))
	claim(t, repo, stuck.ID, "bee-1", now.Add(-time.Hour))
	fresh := mustInsert(t, repo, newTask(command("fresh"), domain.PriorityNormal, now))
	claim(t, repo, fresh.ID, "bee-1", now)

	tasks, err := repo.ListStuck(ctx, now.Add(-10*time.Minute), 1000)
	if err != nil {
		t.Fatalf("ListStuck: %v", err)
	}
	var sawStuck, sawFresh bool
	for _, task := range tasks {
		switch task.ID {
		case stuck.ID:
			sawStuck = true
		case fresh.ID:
			sawFresh = true
		}
	}
	if !sawStuck || sawFresh {
		t.Fatalf("want only the old claim listed, stuck=%v fresh=%v", sawStuck, sawFresh)
	}
}
