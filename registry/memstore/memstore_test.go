package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/gurre/ddb-pitr/jobmodel"
	"github.com/gurre/ddb-pitr/registry"
)

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "missing")
	if err != registry.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateThenGet(t *testing.T) {
	s := New()
	job := jobmodel.Job{ID: "j1", Status: jobmodel.StatusQueued, CreatedAt: time.Now()}
	if err := s.Create(context.Background(), job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Get(context.Background(), "j1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != jobmodel.StatusQueued {
		t.Errorf("Status = %s, want %s", got.Status, jobmodel.StatusQueued)
	}
}

func TestListByStatusOrdersByCreatedAt(t *testing.T) {
	s := New()
	now := time.Now()
	_ = s.Create(context.Background(), jobmodel.Job{ID: "newer", Status: jobmodel.StatusQueued, CreatedAt: now.Add(time.Minute)})
	_ = s.Create(context.Background(), jobmodel.Job{ID: "older", Status: jobmodel.StatusQueued, CreatedAt: now})
	_ = s.Create(context.Background(), jobmodel.Job{ID: "done", Status: jobmodel.StatusDone, CreatedAt: now})

	list, err := s.ListByStatus(context.Background(), jobmodel.StatusQueued, "createdAt", 0)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}
	if list[0].ID != "older" || list[1].ID != "newer" {
		t.Errorf("order = [%s, %s], want [older, newer]", list[0].ID, list[1].ID)
	}
}

func TestConditionalUpdateSucceedsWhenStatusMatches(t *testing.T) {
	s := New()
	_ = s.Create(context.Background(), jobmodel.Job{ID: "j1", Status: jobmodel.StatusQueued, CreatedAt: time.Now()})

	newStatus := jobmodel.StatusProcessing
	changed, err := s.ConditionalUpdate(context.Background(), "j1",
		jobmodel.Patch{Status: &newStatus},
		registry.ClaimPredicate{RequiredStatus: jobmodel.StatusQueued})
	if err != nil {
		t.Fatalf("ConditionalUpdate: %v", err)
	}
	if !changed {
		t.Fatal("expected ConditionalUpdate to report changed=true")
	}

	got, _ := s.Get(context.Background(), "j1")
	if got.Status != jobmodel.StatusProcessing {
		t.Errorf("Status = %s, want %s", got.Status, jobmodel.StatusProcessing)
	}
}

func TestConditionalUpdateFailsWhenAlreadyClaimed(t *testing.T) {
	s := New()
	_ = s.Create(context.Background(), jobmodel.Job{ID: "j1", Status: jobmodel.StatusProcessing, CreatedAt: time.Now()})

	newStatus := jobmodel.StatusProcessing
	changed, err := s.ConditionalUpdate(context.Background(), "j1",
		jobmodel.Patch{Status: &newStatus},
		registry.ClaimPredicate{RequiredStatus: jobmodel.StatusQueued})
	if err != nil {
		t.Fatalf("ConditionalUpdate: %v", err)
	}
	if changed {
		t.Fatal("expected ConditionalUpdate to report changed=false for an already-claimed job")
	}
}

func TestDeleteByStatus(t *testing.T) {
	s := New()
	_ = s.Create(context.Background(), jobmodel.Job{ID: "a", Status: jobmodel.StatusDone, CreatedAt: time.Now()})
	_ = s.Create(context.Background(), jobmodel.Job{ID: "b", Status: jobmodel.StatusQueued, CreatedAt: time.Now()})

	if err := s.Delete(context.Background(), registry.DeletePredicate{Status: jobmodel.StatusDone}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := s.Get(context.Background(), "a"); err != registry.ErrNotFound {
		t.Error("expected job 'a' to be deleted")
	}
	if _, err := s.Get(context.Background(), "b"); err != nil {
		t.Error("expected job 'b' to remain")
	}
}

func TestUpdateMissingReturnsErrNotFound(t *testing.T) {
	s := New()
	err := s.Update(context.Background(), "missing", jobmodel.Patch{})
	if err != registry.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
