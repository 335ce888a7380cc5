package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/crabzie/hive/internal/core/domain"
	"go.uber.org/zap"
)

func TestClaimer_AtMostOneWinner(t *testing.T) {
	h := newTestHive(t)
	task := h.enqueue(t, "check_vitals", domain.PriorityNormal)
	claimer := NewClaimer(h.repo, zap.NewNop())

	const claimers = 50
	var (
		mu      sync.Mutex
		winners []string
		wg      sync.WaitGroup
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			worker := fmt.Sprintf("bee-%d", i)
			cp := *task
			ok, err := claimer.Claim(context.Background(), &cp, worker)
			if err != nil {
				t.Errorf("%s: %v", worker, err)
				return
			}
			if ok {
				mu.Lock()
				winners = append(winners, worker)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("want exactly one winner, got %v", winners)
	}
	got, err := h.repo.GetByID(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.TaskStatusProcessing || got.AssignedTo == nil || *got.AssignedTo != winners[0] {
		t.Fatalf("row does not reflect the winner %s: %#v", winners[0], got)
	}
}

func TestClaimer_UpdatesTaskOnWin(t *testing.T) {
	h := newTestHive(t)
	task := h.enqueue(t, "check_vitals", domain.PriorityNormal)

	ok, err := NewClaimer(h.repo, zap.NewNop()).Claim(context.Background(), task, "bee-1")
	if err != nil || !ok {
		t.Fatalf("Claim: ok=%v err=%v", ok, err)
	}
	if task.Status != domain.TaskStatusProcessing || task.StartedAt == nil || *task.AssignedTo != "bee-1" {
		t.Fatalf("claimed task not updated in place: %#v", task)
	}
}
