package health

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// pinTracker replaces the tracker's clock so uptime and timestamps are
// deterministic. The returned setter moves the fake time.
func pinTracker(tr *Tracker, base time.Time) func(time.Time) {
	cur := base
	var mu sync.Mutex
	tr.mu.Lock()
	tr.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return cur
	}
	tr.started = base
	tr.lastCheck = base
	tr.mu.Unlock()
	return func(at time.Time) {
		mu.Lock()
		cur = at
		mu.Unlock()
	}
}

func TestSnapshotStatistics(t *testing.T) {
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	tr := NewTracker()
	setNow := pinTracker(tr, base)

	tr.Record("power_to_choose", StatusSuccess, "")
	tr.Record("villa_del_arco", StatusFailure, "fetch timed out")
	tr.Record("power_to_choose", StatusSuccess, "")
	tr.Record("villa_del_arco", StatusFailure, "fetch timed out")

	setNow(base.Add(26*time.Hour + 3*time.Minute))
	snap := tr.Snapshot()

	if snap.Status != "healthy" {
		t.Fatalf("status = %s, want healthy", snap.Status)
	}
	st := snap.Statistics
	if st.TotalRuns != 4 || st.SuccessfulRuns != 2 || st.FailedRuns != 2 {
		t.Fatalf("runs = %d/%d/%d, want 4/2/2", st.TotalRuns, st.SuccessfulRuns, st.FailedRuns)
	}
	if st.SuccessRate != 50 {
		t.Fatalf("success rate = %v, want 50", st.SuccessRate)
	}
	if want := int64((26*time.Hour + 3*time.Minute) / time.Second); snap.UptimeSeconds != want {
		t.Fatalf("uptime seconds = %d, want %d", snap.UptimeSeconds, want)
	}
	if snap.UptimeHuman != "1d 2h 3m" {
		t.Fatalf("uptime human = %q, want 1d 2h 3m", snap.UptimeHuman)
	}
	if snap.LastCheck != base.Format(time.RFC3339) {
		t.Fatalf("last check = %s, want %s", snap.LastCheck, base.Format(time.RFC3339))
	}

	ok := snap.Scrapers["power_to_choose"]
	if ok.Status != string(StatusSuccess) || ok.Error != nil {
		t.Fatalf("unexpected power_to_choose status: %+v", ok)
	}
	bad := snap.Scrapers["villa_del_arco"]
	if bad.Status != string(StatusFailure) || bad.Error == nil || *bad.Error != "fetch timed out" {
		t.Fatalf("unexpected villa_del_arco status: %+v", bad)
	}
	if len(snap.RecentErrors) != 2 {
		t.Fatalf("recent errors = %d, want 2", len(snap.RecentErrors))
	}
}

func TestReadyAfterFirstRun(t *testing.T) {
	tr := NewTracker()
	if tr.Ready() {
		t.Fatal("expected not ready before any run")
	}
	tr.Record("power_to_choose", StatusFailure, "boom")
	if !tr.Ready() {
		t.Fatal("expected ready after first run, even a failed one")
	}
}

func TestSetHealthyReflectsInSnapshot(t *testing.T) {
	tr := NewTracker()
	if !tr.Healthy() {
		t.Fatal("expected healthy by default")
	}
	tr.SetHealthy(false)
	if tr.Healthy() {
		t.Fatal("expected unhealthy after SetHealthy(false)")
	}
	if got := tr.Snapshot().Status; got != "unhealthy" {
		t.Fatalf("snapshot status = %s, want unhealthy", got)
	}
}

func TestErrorHistoryIsBounded(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < maxErrors+5; i++ {
		tr.Record("flaky", StatusFailure, fmt.Sprintf("err %d", i))
	}

	snap := tr.Snapshot()
	if len(snap.RecentErrors) != recentErrors {
		t.Fatalf("recent errors = %d, want %d", len(snap.RecentErrors), recentErrors)
	}
	// The exposed entries are the newest ones.
	last := snap.RecentErrors[len(snap.RecentErrors)-1]
	if want := fmt.Sprintf("err %d", maxErrors+4); last.Error != want {
		t.Fatalf("newest retained error = %q, want %q", last.Error, want)
	}
	first := snap.RecentErrors[0]
	if want := fmt.Sprintf("err %d", maxErrors+5-recentErrors); first.Error != want {
		t.Fatalf("oldest exposed error = %q, want %q", first.Error, want)
	}
}

func TestFailureWithoutMessageKeepsNoHistory(t *testing.T) {
	tr := NewTracker()
	tr.Record("flaky", StatusFailure, "")
	snap := tr.Snapshot()
	if snap.Statistics.FailedRuns != 1 {
		t.Fatalf("failed runs = %d, want 1", snap.Statistics.FailedRuns)
	}
	if len(snap.RecentErrors) != 0 {
		t.Fatalf("recent errors = %d, want 0", len(snap.RecentErrors))
	}
}

func TestConcurrentRecords(t *testing.T) {
	tr := NewTracker()
	const workers = 8
	const each = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				if i%2 == 0 {
					tr.Record(fmt.Sprintf("s%d", w), StatusSuccess, "")
				} else {
					tr.Record(fmt.Sprintf("s%d", w), StatusFailure, "boom")
				}
			}
		}(w)
	}
	wg.Wait()

	st := tr.Snapshot().Statistics
	if st.TotalRuns != workers*each {
		t.Fatalf("total runs = %d, want %d", st.TotalRuns, workers*each)
	}
	if st.SuccessfulRuns+st.FailedRuns != st.TotalRuns {
		t.Fatalf("successful+failed = %d, want %d", st.SuccessfulRuns+st.FailedRuns, st.TotalRuns)
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "< 1m"},
		{time.Minute, "1m"},
		{time.Hour, "1h"},
		{time.Hour + time.Minute, "1h 1m"},
		{24 * time.Hour, "1d"},
		{26*time.Hour + 3*time.Minute, "1d 2h 3m"},
	}
	for _, tt := range tests {
		if got := formatUptime(tt.d); got != tt.want {
			t.Fatalf("formatUptime(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
