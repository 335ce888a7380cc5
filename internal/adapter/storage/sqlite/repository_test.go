package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqliteConfig "github.com/crabzie/hive/config/storage/sqlite"
	"github.com/crabzie/hive/internal/core/domain"
	"github.com/crabzie/hive/internal/core/port"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var dbSeq atomic.Int64

func openTestRepo(t *testing.T) port.TaskRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := sqliteConfig.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewTaskRepository(db.DB, zap.NewNop())
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

func claim(t *testing.T, repo port.TaskRepository, id, worker string) bool {
	t.Helper()
	now := time.Now().UTC()
	ok, err := repo.UpdateStatus(context.Background(), id, domain.TaskStatusPending, domain.TaskStatusProcessing,
		domain.TaskUpdate{AssignedTo: &worker, StartedAt: &now})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	return ok
}

func TestRepository_InsertAndGet(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	task := newTask("check_vitals", domain.PriorityNormal, time.Now().UTC())
	task.Metadata = map[string]any{"source": "test"}
	mustInsert(t, repo, task)

	got, err := repo.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Command != "check_vitals" || got.Status != domain.TaskStatusPending || got.Priority != domain.PriorityNormal {
		t.Fatalf("unexpected record: %#v", got)
	}
	if got.Payload["n"] != float64(1) || got.Metadata["source"] != "test" {
		t.Fatalf("unexpected maps: %#v %#v", got.Payload, got.Metadata)
	}
	if got.AssignedTo != nil || got.Result != nil || got.Error != nil || got.StartedAt != nil || got.CompletedAt != nil {
		t.Fatalf("pending task must have no owner or outcome: %#v", got)
	}
}

func TestRepository_GetByID_NotFound(t *testing.T) {
	repo := openTestRepo(t)
	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("want ErrTaskNotFound, got %v", err)
	}
}

func TestRepository_FindNextEligible_FIFOWithinPriority(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Now().UTC()

	a := mustInsert(t, repo, newTask("a", domain.PriorityNormal, base))
	b := mustInsert(t, repo, newTask("b", domain.PriorityHigh, base.Add(time.Millisecond)))
	c := mustInsert(t, repo, newTask("c", domain.PriorityNormal, base.Add(2*time.Millisecond)))

	for _, want := range []*domain.TaskRecord{b, a, c} {
		got, err := repo.FindNextEligible(ctx, domain.TaskFilter{})
		if err != nil {
			t.Fatalf("FindNextEligible: %v", err)
		}
		if got == nil || got.ID != want.ID {
			t.Fatalf("want %s, got %#v", want.Command, got)
		}
		if !claim(t, repo, got.ID, "bee-1") {
			t.Fatalf("claim of %s failed", got.Command)
		}
	}

	got, err := repo.FindNextEligible(ctx, domain.TaskFilter{})
	if err != nil || got != nil {
		t.Fatalf("want no eligible task, got %#v err=%v", got, err)
	}
}

func TestRepository_FindNextEligible_Filters(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	pinned := newTask("generate_image", domain.PriorityHigh, now)
	other := "bee-2"
	pinned.Affinity = &other
	mustInsert(t, repo, pinned)
	chat := mustInsert(t, repo, newTask("chat_reply", domain.PriorityNormal, now.Add(time.Millisecond)))
	image := mustInsert(t, repo, newTask("generate_image", domain.PriorityLow, now.Add(2*time.Millisecond)))

	got, err := repo.FindNextEligible(ctx, domain.TaskFilter{WorkerAffinity: "bee-1"})
	if err != nil {
		t.Fatalf("FindNextEligible: %v", err)
	}
	if got == nil || got.ID != chat.ID {
		t.Fatalf("task pinned to another bee must be skipped, got %#v", got)
	}

	got, err = repo.FindNextEligible(ctx, domain.TaskFilter{Types: []string{"generate_image"}, WorkerAffinity: "bee-1"})
	if err != nil {
		t.Fatalf("FindNextEligible: %v", err)
	}
	if got == nil || got.ID != image.ID {
		t.Fatalf("want unpinned image task, got %#v", got)
	}

	got, err = repo.FindNextEligible(ctx, domain.TaskFilter{Types: []string{"generate_image"}, WorkerAffinity: "bee-2"})
	if err != nil {
		t.Fatalf("FindNextEligible: %v", err)
	}
	if got == nil || got.ID != pinned.ID {
		t.Fatalf("want pinned task for its bee, got %#v", got)
	}
}

func TestRepository_UpdateStatus_IsConditional(t *testing.T) {
	repo := openTestRepo(t)
	task := mustInsert(t, repo, newTask("a", domain.PriorityNormal, time.Now().UTC()))

	if !claim(t, repo, task.ID, "bee-1") {
		t.Fatal("first claim should win")
	}
	if claim(t, repo, task.ID, "bee-2") {
		t.Fatal("second claim must observe processing and lose")
	}

	got, err := repo.GetByID(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.AssignedTo == nil || *got.AssignedTo != "bee-1" {
		t.Fatalf("owner overwritten: %#v", got.AssignedTo)
	}
}

func TestRepository_TerminalImmutability(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	task := mustInsert(t, repo, newTask("a", domain.PriorityNormal, time.Now().UTC()))
	claim(t, repo, task.ID, "bee-1")

	done := time.Now().UTC()
	ok, err := repo.UpdateStatus(ctx, task.ID, domain.TaskStatusProcessing, domain.TaskStatusCompleted,
		domain.TaskUpdate{Result: map[string]any{"status": "ok"}, CompletedAt: &done})
	if err != nil || !ok {
		t.Fatalf("complete: ok=%v err=%v", ok, err)
	}
	before, _ := repo.GetByID(ctx, task.ID)

	msg := "late failure"
	attempts := []struct {
		from, to domain.TaskStatus
	}{
		{domain.TaskStatusProcessing, domain.TaskStatusFailed},
		{domain.TaskStatusCompleted, domain.TaskStatusFailed},
		{domain.TaskStatusCompleted, domain.TaskStatusProcessing},
		{domain.TaskStatusPending, domain.TaskStatusProcessing},
	}
	for _, a := range attempts {
		ok, err := repo.UpdateStatus(ctx, task.ID, a.from, a.to, domain.TaskUpdate{Error: &msg, CompletedAt: &done})
		if err != nil {
			t.Fatalf("%s->%s: %v", a.from, a.to, err)
		}
		if ok {
			t.Fatalf("%s->%s on a completed task must fail", a.from, a.to)
		}
	}

	after, _ := repo.GetByID(ctx, task.ID)
	if after.Status != domain.TaskStatusCompleted || after.Error != nil || after.Result["status"] != before.Result["status"] {
		t.Fatalf("completed row changed: %#v", after)
	}
}

func TestRepository_ConcurrentClaims(t *testing.T) {
	repo := openTestRepo(t)
	task := mustInsert(t, repo, newTask("a", domain.PriorityNormal, time.Now().UTC()))

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
	old := time.Now().UTC().Add(-time.Hour)

	stuck := mustInsert(t, repo, newTask("a", domain.PriorityNormal, old))
	worker := "bee-1"
	if ok, _ := repo.UpdateStatus(ctx, stuck.ID, domain.TaskStatusPending, domain.TaskStatusProcessing,
		domain.TaskUpdate{AssignedTo: &worker, StartedAt: &old}); !ok {
		t.Fatal("claim stuck")
	}
	fresh := mustInsert(t, repo, newTask("b", domain.PriorityNormal, time.Now().UTC()))
	claim(t, repo, fresh.ID, "bee-1")
	mustInsert(t, repo, newTask("c", domain.PriorityNormal, old))

	tasks, err := repo.ListStuck(ctx, time.Now().UTC().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStuck: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != stuck.ID {
		t.Fatalf("want only the old processing task, got %d", len(tasks))
	}
}

func TestRepository_List(t *testing.T) {
	repo := openTestRepo(t)
	now := time.Now().UTC()
	mustInsert(t, repo, newTask("a", domain.PriorityNormal, now))
	b := mustInsert(t, repo, newTask("b", domain.PriorityNormal, now.Add(time.Millisecond)))
	claim(t, repo, b.ID, "bee-1")

	pending, err := repo.List(context.Background(), domain.TaskFilter{Statuses: []domain.TaskStatus{domain.TaskStatusPending}}, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 1 || pending[0].Command != "a" {
		t.Fatalf("unexpected pending list: %d", len(pending))
	}

	all, err := repo.List(context.Background(), domain.TaskFilter{}, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all[0].Command != "b" {
		t.Fatalf("want newest first, got %d", len(all))
	}
}
