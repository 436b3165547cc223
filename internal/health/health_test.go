package health

import (
	"context"
	"sync"
	"testing"

	"remindd/pkg/logx"
)

type fakeProbe struct {
	mu    sync.Mutex
	alive bool
	scans int
}

func (f *fakeProbe) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeProbe) Scan(context.Context) error {
	f.mu.Lock()
	f.scans++
	f.mu.Unlock()
	return nil
}

type fakeRepairer struct {
	mu      sync.Mutex
	resyncs int
}

func (f *fakeRepairer) Resync(context.Context) error {
	f.mu.Lock()
	f.resyncs++
	f.mu.Unlock()
	return nil
}

func (f *fakeRepairer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resyncs
}

type depth int

func (d depth) QueueDepth() int { return int(d) }

type jobs int

func (j jobs) JobCount() int { return int(j) }

func TestHealthyCheckDoesNotRepair(t *testing.T) {
	t.Parallel()

	probe := &fakeProbe{alive: true}
	rep := &fakeRepairer{}
	m := New(probe, depth(0), depth(0), rep, jobs(3), logx.Nop(), Config{})

	r := m.Check(context.Background())
	if len(r.Issues) != 0 {
		t.Fatalf("want no issues, got %v", r.Issues)
	}
	if rep.count() != 0 {
		t.Fatal("healthy check should not resync")
	}
	if r.JobCount != 3 {
		t.Fatalf("want job count recorded, got %d", r.JobCount)
	}
}

func TestInactiveWatcherTriggersRepair(t *testing.T) {
	t.Parallel()

	probe := &fakeProbe{alive: false}
	rep := &fakeRepairer{}
	m := New(probe, depth(0), depth(0), rep, jobs(0), logx.Nop(), Config{})

	r := m.Check(context.Background())
	if len(r.Issues) == 0 {
		t.Fatal("want watcher issue")
	}
	if rep.count() != 1 {
		t.Fatalf("want one resync, got %d", rep.count())
	}
	if _, repairedAt := m.Last(); repairedAt.IsZero() {
		t.Fatal("last repair time should be set")
	}
}

func TestQueueThresholds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		proc, brdg int
		wantIssues int
	}{
		{"both under", 10, 5, 0},
		{"processor over", 11, 0, 1},
		{"bridge over", 0, 6, 1},
		{"both over", 11, 6, 2},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			probe := &fakeProbe{alive: true}
			rep := &fakeRepairer{}
			m := New(probe, depth(tc.proc), depth(tc.brdg), rep, jobs(0), logx.Nop(), Config{})

			r := m.Check(context.Background())
			if len(r.Issues) != tc.wantIssues {
				t.Fatalf("want %d issues, got %v", tc.wantIssues, r.Issues)
			}
			wantResyncs := 0
			if tc.wantIssues > 0 {
				wantResyncs = 1
			}
			if rep.count() != wantResyncs {
				t.Fatalf("want %d resyncs, got %d", wantResyncs, rep.count())
			}
		})
	}
}
