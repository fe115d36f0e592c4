package core

import (
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
)

func TestNewJobSystemRejectsBadSizes(t *testing.T) {
	if _, err := NewJobSystem(0, 1); err != ErrNoWorkers {
		t.Fatalf("zero workers: got %v", err)
	}
	if _, err := NewJobSystem(1, -1); err != ErrNegativeChannelSize {
		t.Fatalf("negative channel: got %v", err)
	}
}

func TestParallelCoversEveryItemOnce(t *testing.T) {
	js, err := NewJobSystem(4, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer js.Shutdown()

	tests := []struct {
		name     string
		n, chunk int
	}{
		{"empty", 0, 4},
		{"single chunk", 3, 16},
		{"uneven", 103, 10},
		{"chunk of one", 17, 1},
		{"zero chunk", 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := make([]int32, tt.n)
			err := js.Parallel(tt.n, tt.chunk, func(lo, hi int) error {
				for i := lo; i < hi; i++ {
					atomic.AddInt32(&hits[i], 1)
				}
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			for i, h := range hits {
				if h != 1 {
					t.Fatalf("item %d visited %d times", i, h)
				}
			}
		})
	}
}

func TestParallelReturnsJobError(t *testing.T) {
	js, err := NewJobSystem(2, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer js.Shutdown()

	boom := errors.New("boom")
	var ran int32
	err = js.Parallel(10, 2, func(lo, hi int) error {
		atomic.AddInt32(&ran, 1)
		if lo == 4 {
			return boom
		}
		return nil
	})
	if err != boom {
		t.Fatalf("got %v, want boom", err)
	}
	if ran != 5 {
		t.Fatalf("%d chunks ran, want all 5", ran)
	}
}

func TestSubmitRunsCallbacksAndShutdownDrains(t *testing.T) {
	js, err := NewJobSystem(2, 4)
	if err != nil {
		t.Fatal(err)
	}
	var completed, failed, finished int32
	for i := 0; i < 6; i++ {
		fail := i%2 == 0
		err := js.Submit(Job{
			Run: func() error {
				if fail {
					return errors.New("odd job")
				}
				return nil
			},
			OnComplete:           func() { atomic.AddInt32(&completed, 1) },
			OnFailure:            func(error) { atomic.AddInt32(&failed, 1) },
			OnCompletionCallback: func() { atomic.AddInt32(&finished, 1) },
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := js.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if completed != 3 || failed != 3 || finished != 6 {
		t.Fatalf("completed %d failed %d finished %d", completed, failed, finished)
	}
	if err := js.Submit(Job{Run: func() error { return nil }}); err != ErrJobSystemClosed {
		t.Fatalf("submit after shutdown: got %v", err)
	}
	if err := js.Shutdown(); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}
