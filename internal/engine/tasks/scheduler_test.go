package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// pump polls both phases until done reports true or the deadline passes.
func pump(t *testing.T, s *Scheduler, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !done() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out; stats %+v", s.Stats())
		}
		s.ProcessScheduledTasks()
		if s.ProcessCompletedTasks() == 0 {
			time.Sleep(time.Millisecond)
		}
	}
}

func TestNothingRunsBeforePoll(t *testing.T) {
	s := New()
	defer s.Close()

	var ran atomic.Bool
	if err := s.Schedule("a", func() error { ran.Store(true); return nil }, nil, 1); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if ran.Load() {
		t.Fatal("work ran before ProcessScheduledTasks")
	}
	if st := s.Stats(); st.Pending != 1 || st.InFlight != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestInFlightBoundAndExactlyOnce(t *testing.T) {
	s := New(WithCompletionsPerPoll(2))
	defer s.Close()

	const n = 12
	gate := make(chan struct{})
	var running, peak atomic.Int32
	var mu sync.Mutex
	calls := make(map[string]int)

	for i := range n {
		id := fmt.Sprintf("task-%d", i)
		err := s.Schedule(id, func() error {
			cur := running.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			<-gate
			running.Add(-1)
			return nil
		}, func(r Result) {
			mu.Lock()
			calls[r.ID]++
			mu.Unlock()
		}, i%4)
		if err != nil {
			t.Fatalf("Schedule(%s): %v", id, err)
		}
	}

	if got := s.ProcessScheduledTasks(); got != MaxInFlight {
		t.Fatalf("dispatched %d, want %d", got, MaxInFlight)
	}
	if got := s.ProcessScheduledTasks(); got != 0 {
		t.Fatalf("dispatched %d more while saturated", got)
	}
	if st := s.Stats(); st.InFlight != MaxInFlight || st.Pending != n-MaxInFlight {
		t.Errorf("stats = %+v", st)
	}

	close(gate)
	pump(t, s, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == n
	})

	if p := peak.Load(); p > MaxInFlight {
		t.Errorf("peak concurrency %d exceeds %d", p, MaxInFlight)
	}
	for id, c := range calls {
		if c != 1 {
			t.Errorf("%s completed %d times", id, c)
		}
	}
	if st := s.Stats(); st.Completed != n || st.Failed != 0 || !s.Idle() {
		t.Errorf("final stats = %+v", st)
	}
}

func TestPriorityOrder(t *testing.T) {
	s := New(WithWorkers(1))
	defer s.Close()

	var mu sync.Mutex
	var order []string
	schedule := func(id string, prio int) {
		t.Helper()
		err := s.Schedule(id, func() error {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return nil
		}, nil, prio)
		if err != nil {
			t.Fatal(err)
		}
	}
	schedule("low-a", 3)
	schedule("normal", 1)
	schedule("low-b", 3)
	schedule("urgent", 0)
	schedule("below", 2)

	pump(t, s, s.Idle)

	want := []string{"urgent", "normal", "below", "low-a", "low-b"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestCompletionsPerPoll(t *testing.T) {
	s := New()
	defer s.Close()

	var done atomic.Int32
	for i := range 3 {
		if err := s.Schedule(fmt.Sprint(i), func() error { done.Add(1); return nil }, nil, 1); err != nil {
			t.Fatal(err)
		}
	}
	s.ProcessScheduledTasks()
	for done.Load() < 3 {
		time.Sleep(time.Millisecond)
	}

	// Workers may not have posted every result yet; wait for the first.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.WaitCompleted(ctx); err != nil {
		t.Fatal(err)
	}
	reaped := 1
	deadline := time.Now().Add(5 * time.Second)
	for reaped < 3 && time.Now().Before(deadline) {
		n := s.ProcessCompletedTasks()
		if n > 1 {
			t.Fatalf("reaped %d completions in one poll, want at most 1", n)
		}
		reaped += n
	}
	if reaped != 3 {
		t.Errorf("reaped %d, want 3", reaped)
	}
}

func TestFailuresReported(t *testing.T) {
	s := New()
	defer s.Close()

	boom := errors.New("boom")
	results := make(map[string]Result)
	record := func(r Result) { results[r.ID] = r }

	_ = s.Schedule("err", func() error { return boom }, record, 2)
	_ = s.Schedule("panic", func() error { panic("kaboom") }, record, 5)
	_ = s.Schedule("ok", func() error { return nil }, record, 0)

	pump(t, s, func() bool { return len(results) == 3 })

	if r := results["err"]; !errors.Is(r.Err, boom) || !r.Failed() || r.Hint != HintBelowNormal {
		t.Errorf("err result = %+v", r)
	}
	if r := results["panic"]; !errors.Is(r.Err, ErrTaskPanicked) || r.Priority != 5 || r.Hint != HintLowest {
		t.Errorf("panic result = %+v", r)
	}
	if r := results["ok"]; r.Failed() || r.Hint != HintHighest {
		t.Errorf("ok result = %+v", r)
	}
	if st := s.Stats(); st.Failed != 2 || st.Completed != 3 {
		t.Errorf("stats = %+v", st)
	}
}

func TestDuplicateAndClosed(t *testing.T) {
	s := New()

	noop := func() error { return nil }
	if err := s.Schedule("x", noop, nil, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.Schedule("x", noop, nil, 1); !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("expected ErrDuplicateTask, got %v", err)
	}

	// The id frees up once the completion has been reaped.
	pump(t, s, s.Idle)
	if err := s.Schedule("x", noop, nil, 1); err != nil {
		t.Errorf("reschedule after completion: %v", err)
	}

	s.Close()
	if st := s.Stats(); st.Pending != 0 {
		t.Errorf("pending tasks survived Close: %+v", st)
	}
	if err := s.Schedule("y", noop, nil, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if s.ProcessScheduledTasks() != 0 {
		t.Error("dispatched after Close")
	}
	s.Close()
}

func TestCloseDropsPendingCallbacks(t *testing.T) {
	s := New(WithWorkers(1))

	gate := make(chan struct{})
	// Callbacks run on this goroutine.
	calls := make(map[string]int)
	record := func(r Result) { calls[r.ID]++ }
	if err := s.Schedule("started", func() error { <-gate; return nil }, record, 0); err != nil {
		t.Fatal(err)
	}
	if s.ProcessScheduledTasks() != 1 {
		t.Fatal("expected one dispatch")
	}
	for i := range 3 {
		if err := s.Schedule(fmt.Sprintf("pending-%d", i), func() error { return nil }, record, 1); err != nil {
			t.Fatal(err)
		}
	}

	close(gate)
	s.Close()
	for s.ProcessCompletedTasks() > 0 {
	}

	if calls["started"] != 1 {
		t.Errorf("started task's callback ran %d times", calls["started"])
	}
	for i := range 3 {
		if _, ok := calls[fmt.Sprintf("pending-%d", i)]; ok {
			t.Errorf("pending-%d ran its callback after Close", i)
		}
	}
	if st := s.Stats(); st.Completed != 1 || st.Pending != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestHintFor(t *testing.T) {
	tests := []struct {
		priority int
		want     Hint
	}{
		{-1, HintHighest},
		{0, HintHighest},
		{1, HintNormal},
		{2, HintBelowNormal},
		{3, HintLowest},
		{10, HintLowest},
	}
	for _, tt := range tests {
		if got := HintFor(tt.priority); got != tt.want {
			t.Errorf("HintFor(%d) = %v, want %v", tt.priority, got, tt.want)
		}
	}
}
