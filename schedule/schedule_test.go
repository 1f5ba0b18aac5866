package schedule

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestNextAfter(t *testing.T) {
	d := NewDaily(2, 0, Job{Name: "noop", Run: func(ctx context.Context) error { return nil }})

	before := time.Date(2026, 8, 24, 1, 30, 0, 0, time.Local)
	next := d.nextAfter(before)
	want := time.Date(2026, 8, 24, 2, 0, 0, 0, time.Local)
	if !next.Equal(want) {
		t.Errorf("nextAfter(01:30) = %v, want %v", next, want)
	}

	after := time.Date(2026, 8, 24, 2, 0, 0, 0, time.Local)
	next = d.nextAfter(after)
	want = time.Date(2026, 8, 25, 2, 0, 0, 0, time.Local)
	if !next.Equal(want) {
		t.Errorf("nextAfter(02:00) = %v, want next day %v", next, want)
	}

	late := time.Date(2026, 8, 24, 23, 59, 0, 0, time.Local)
	if got := d.nextAfter(late); got.Day() != 25 {
		t.Errorf("nextAfter(23:59) = %v, want the 25th", got)
	}
}

func TestFireSkipsOverlappingRun(t *testing.T) {
	block := make(chan struct{})
	var mu sync.Mutex
	runs := 0

	d := NewDaily(2, 0, Job{Name: "slow", Run: func(ctx context.Context) error {
		mu.Lock()
		runs++
		mu.Unlock()
		<-block
		return nil
	}})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.fire(context.Background())
	}()

	// Wait until the first run holds the slot, then fire again.
	for {
		d.mu.Lock()
		started := d.running
		d.mu.Unlock()
		if started {
			break
		}
		time.Sleep(time.Millisecond)
	}
	d.fire(context.Background())

	close(block)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Errorf("job ran %d times, want 1 (overlap must be skipped)", runs)
	}
}

func TestFireRunsAgainAfterCompletion(t *testing.T) {
	runs := 0
	d := NewDaily(2, 0, Job{Name: "fast", Run: func(ctx context.Context) error {
		runs++
		return nil
	}})

	d.fire(context.Background())
	d.fire(context.Background())
	if runs != 2 {
		t.Errorf("job ran %d times, want 2", runs)
	}
}
