package registry

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sacredlayer/internal/content"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestPlan(planID, projectID string, body string) *Plan {
	return &Plan{
		PlanID:        planID,
		ProjectID:     projectID,
		Title:         "Test plan",
		Content:       body,
		ContentHash:   content.Hash(body),
		Status:        StatusDraft,
		CreatedAt:     time.Now().UTC(),
		CodeComponent: "deadbeef",
		ChunkCount:    1,
	}
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	allowed := []struct{ from, to PlanStatus }{
		{StatusDraft, StatusPendingApproval},
		{StatusDraft, StatusApproved},
		{StatusPendingApproval, StatusApproved},
		{StatusApproved, StatusLocked},
		{StatusApproved, StatusSuperseded},
		{StatusLocked, StatusSuperseded},
		{StatusDraft, StatusArchived},
		{StatusLocked, StatusArchived},
		{StatusSuperseded, StatusArchived},
	}
	for _, tr := range allowed {
		if !tr.from.CanTransitionTo(tr.to) {
			t.Errorf("%s -> %s should be allowed", tr.from, tr.to)
		}
	}

	forbidden := []struct{ from, to PlanStatus }{
		{StatusApproved, StatusDraft},
		{StatusLocked, StatusDraft},
		{StatusLocked, StatusApproved},
		{StatusSuperseded, StatusApproved},
		{StatusArchived, StatusArchived},
		{StatusArchived, StatusApproved},
		{StatusPendingApproval, StatusLocked},
	}
	for _, tr := range forbidden {
		if tr.from.CanTransitionTo(tr.to) {
			t.Errorf("%s -> %s should be forbidden", tr.from, tr.to)
		}
	}
}

func TestSaveAndGet(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	plan := newTestPlan("plan-1", "proj-a", "The system must use OAuth2 for authentication.")

	if err := store.Save(plan); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	loaded, err := store.Get("plan-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if loaded.Content != plan.Content {
		t.Errorf("content mismatch: %q", loaded.Content)
	}
	if loaded.ContentHash != plan.ContentHash {
		t.Errorf("hash mismatch: %q", loaded.ContentHash)
	}
	if loaded.Status != StatusDraft {
		t.Errorf("expected draft, got %s", loaded.Status)
	}
	if loaded.CodeComponent != "deadbeef" {
		t.Errorf("code component not persisted: %q", loaded.CodeComponent)
	}
}

func TestGet_NotFound(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if _, err := store.Get("nope"); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("expected ErrPlanNotFound, got %v", err)
	}
}

func TestSave_DuplicateIDRejected(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	plan := newTestPlan("plan-1", "proj-a", "content")
	if err := store.Save(plan); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if err := store.Save(plan); err == nil {
		t.Error("duplicate plan id should be rejected")
	}
}

func TestGet_IntegrityViolation(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	plan := newTestPlan("plan-1", "proj-a", "original content")
	plan.ContentHash = content.Hash("different content") // stored hash lies
	if err := store.Save(plan); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	_, err := store.Get("plan-1")
	var integrityErr *ContentIntegrityError
	if !errors.As(err, &integrityErr) {
		t.Fatalf("expected ContentIntegrityError, got %v", err)
	}
	if integrityErr.PlanID != "plan-1" {
		t.Errorf("wrong plan id in error: %s", integrityErr.PlanID)
	}
}

func TestApprove_StampsAtomically(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	plan := newTestPlan("plan-1", "proj-a", "content")
	if err := store.Save(plan); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	approvedAt := time.Now().UTC()
	if err := store.Approve("plan-1", "alice", approvedAt); err != nil {
		t.Fatalf("Approve error: %v", err)
	}

	loaded, err := store.Get("plan-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if loaded.Status != StatusApproved {
		t.Errorf("expected approved, got %s", loaded.Status)
	}
	if loaded.ApprovedAt == nil {
		t.Fatal("approved_at missing after approval")
	}
	if loaded.ApprovedBy != "alice" {
		t.Errorf("approved_by mismatch: %q", loaded.ApprovedBy)
	}
}

func TestApprove_AlreadyApprovedRejected(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if err := store.Save(newTestPlan("plan-1", "proj-a", "content")); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if err := store.Approve("plan-1", "alice", time.Now()); err != nil {
		t.Fatalf("first Approve error: %v", err)
	}

	err := store.Approve("plan-1", "bob", time.Now())
	var transitionErr *InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if transitionErr.From != StatusApproved {
		t.Errorf("expected from=approved, got %s", transitionErr.From)
	}
}

func TestApprove_ConcurrentExactlyOneWins(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if err := store.Save(newTestPlan("plan-1", "proj-a", "content")); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Approve("plan-1", "approver", time.Now().UTC())
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		var transitionErr *InvalidTransitionError
		if !errors.As(err, &transitionErr) {
			t.Errorf("loser got unexpected error class: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one winning approval, got %d", wins)
	}
}

func TestTransition_Guards(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if err := store.Save(newTestPlan("plan-1", "proj-a", "content")); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	// draft -> locked is illegal
	err := store.Transition("plan-1", StatusLocked)
	var transitionErr *InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	// approve then lock is legal
	if err := store.Approve("plan-1", "alice", time.Now()); err != nil {
		t.Fatalf("Approve error: %v", err)
	}
	if err := store.Transition("plan-1", StatusLocked); err != nil {
		t.Fatalf("Transition to locked error: %v", err)
	}
	if err := store.Transition("plan-1", StatusSuperseded); err != nil {
		t.Fatalf("Transition locked->superseded error: %v", err)
	}
}

func TestUpdateContent_OnlyMutableStatuses(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if err := store.Save(newTestPlan("plan-1", "proj-a", "v1")); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	if err := store.UpdateContent("plan-1", "Updated", "v2", 1); err != nil {
		t.Fatalf("UpdateContent on draft error: %v", err)
	}
	loaded, err := store.Get("plan-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if loaded.Content != "v2" || loaded.ContentHash != content.Hash("v2") {
		t.Error("content update did not recompute hash")
	}

	if err := store.Approve("plan-1", "alice", time.Now()); err != nil {
		t.Fatalf("Approve error: %v", err)
	}
	if err := store.UpdateContent("plan-1", "Nope", "v3", 1); err == nil {
		t.Error("content update on approved plan must fail")
	}

	// Content unchanged after rejected update
	loaded, _ = store.Get("plan-1")
	if loaded.Content != "v2" {
		t.Errorf("approved content mutated: %q", loaded.Content)
	}
}

func TestUpdateMetadata(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	if err := store.Save(newTestPlan("plan-1", "proj-a", "content")); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	if err := store.UpdateMetadata("plan-1", map[string]string{"superseded_by": "plan-2"}); err != nil {
		t.Fatalf("UpdateMetadata error: %v", err)
	}
	loaded, err := store.Get("plan-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if loaded.Metadata["superseded_by"] != "plan-2" {
		t.Errorf("metadata not persisted: %v", loaded.Metadata)
	}
}

func TestList_Filters(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	store.Save(newTestPlan("plan-1", "proj-a", "a"))
	store.Save(newTestPlan("plan-2", "proj-a", "b"))
	store.Save(newTestPlan("plan-3", "proj-b", "c"))
	store.Approve("plan-1", "alice", time.Now())

	all, err := store.List("", "")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 plans, got %d", len(all))
	}

	projA, _ := store.List("proj-a", "")
	if len(projA) != 2 {
		t.Errorf("expected 2 proj-a plans, got %d", len(projA))
	}

	approved, _ := store.List("proj-a", StatusApproved)
	if len(approved) != 1 || approved[0].PlanID != "plan-1" {
		t.Errorf("expected only plan-1 approved, got %v", approved)
	}
}

func TestStatistics(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	store.Save(newTestPlan("plan-1", "proj-a", "a"))
	store.Save(newTestPlan("plan-2", "proj-b", "b"))
	store.Approve("plan-2", "alice", time.Now())

	stats, err := store.Statistics()
	if err != nil {
		t.Fatalf("Statistics error: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("expected total 2, got %d", stats.Total)
	}
	if stats.ByStatus[StatusDraft] != 1 || stats.ByStatus[StatusApproved] != 1 {
		t.Errorf("by-status counts wrong: %v", stats.ByStatus)
	}
	if stats.ByProject["proj-a"] != 1 || stats.ByProject["proj-b"] != 1 {
		t.Errorf("by-project counts wrong: %v", stats.ByProject)
	}
}

func TestImmutability_RepeatedReadsStable(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	body := "The content that must never change."
	plan := newTestPlan("plan-1", "proj-a", body)
	store.Save(plan)
	store.Approve("plan-1", "alice", time.Now())

	for i := 0; i < 5; i++ {
		loaded, err := store.Get("plan-1")
		if err != nil {
			t.Fatalf("read %d error: %v", i, err)
		}
		if loaded.Content != body {
			t.Fatalf("read %d: content changed", i)
		}
		if !content.Verify(loaded.Content, loaded.ContentHash) {
			t.Fatalf("read %d: hash no longer verifies", i)
		}
	}
}

func TestLoadAll(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	store.Save(newTestPlan("plan-1", "proj-a", "first body"))
	store.Save(newTestPlan("plan-2", "proj-a", "second body"))
	store.Save(newTestPlan("plan-3", "proj-b", "third body"))

	plans, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll error: %v", err)
	}
	if len(plans) != 3 {
		t.Fatalf("expected 3 plans, got %d", len(plans))
	}
	if plans["plan-2"].Content != "second body" {
		t.Errorf("plan-2 content wrong: %q", plans["plan-2"].Content)
	}
}

func TestLoadAll_SkipsCorruptedPlan(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	store.Save(newTestPlan("plan-ok", "proj-a", "intact body"))
	store.Save(newTestPlan("plan-bad", "proj-a", "original body"))

	// Corrupt plan-bad's content behind the store's back.
	if _, err := store.db.Exec(`UPDATE plans SET content = 'tampered' WHERE plan_id = 'plan-bad'`); err != nil {
		t.Fatalf("tamper update error: %v", err)
	}

	plans, err := store.LoadAll()
	var integrityErr *ContentIntegrityError
	if !errors.As(err, &integrityErr) {
		t.Fatalf("expected ContentIntegrityError, got %v", err)
	}
	if integrityErr.PlanID != "plan-bad" {
		t.Errorf("wrong plan flagged: %s", integrityErr.PlanID)
	}
	if _, ok := plans["plan-bad"]; ok {
		t.Error("corrupted plan should not load")
	}
	if _, ok := plans["plan-ok"]; !ok {
		t.Error("intact plan should still load")
	}
}
