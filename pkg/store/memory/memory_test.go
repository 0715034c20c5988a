package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kreide-dev/kreide/pkg/store"
)

func testRun(id string, createdAt time.Time) *store.Run {
	return &store.Run{
		ID:     id,
		Prompt: "plot a sine wave",
		Model:  "test-model",
		Reply:  "done",
		Cells: []store.Cell{
			{Code: "import matplotlib", Status: "success", Artifacts: 1},
		},
		ImageFile: "image.png",
		CreatedAt: createdAt,
	}
}

func TestSaveAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	run := testRun("run-1", time.Now())
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Prompt != run.Prompt {
		t.Errorf("prompt = %q, want %q", got.Prompt, run.Prompt)
	}
	if len(got.Cells) != 1 || got.Cells[0].Artifacts != 1 {
		t.Errorf("cells = %+v", got.Cells)
	}
}

func TestSaveConflict(t *testing.T) {
	s := New()
	ctx := context.Background()

	run := testRun("run-1", time.Now())
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	if err := s.SaveRun(ctx, run); !errors.Is(err, store.ErrConflict) {
		t.Errorf("second SaveRun() error = %v, want ErrConflict", err)
	}
}

func TestGetMissing(t *testing.T) {
	s := New()
	if _, err := s.GetRun(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetRun() error = %v, want ErrNotFound", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		run := testRun(id, base.Add(time.Duration(i)*time.Minute))
		if err := s.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun(%s) error = %v", id, err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != "run-c" || runs[1].ID != "run-b" {
		t.Errorf("order = [%s %s], want [run-c run-b]", runs[0].ID, runs[1].ID)
	}
}
