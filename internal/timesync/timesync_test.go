package timesync

import "testing"

func TestRecommendedSleepZeroBeforeAnySample(t *testing.T) {
	ts := New(4, 2, 9)
	if got := ts.RecommendedSleep(); got != 0 {
		t.Fatalf("RecommendedSleep() with no samples = %d, want 0", got)
	}
}

func TestRecommendedSleepBelowMinimumIsZero(t *testing.T) {
	// avg local - avg remote = 2, but the min threshold is 3: no sleep recommended.
	ts := New(4, 3, 9)
	ts.Sample(3, 1)
	if got := ts.RecommendedSleep(); got != 0 {
		t.Fatalf("RecommendedSleep() = %d, want 0 below the min-advantage threshold", got)
	}
}

func TestRecommendedSleepComputesHalfTheGap(t *testing.T) {
	ts := New(4, 1, 9)
	ts.Sample(6, 0) // gap 6, sleep = 3
	if got := ts.RecommendedSleep(); got != 3 {
		t.Fatalf("RecommendedSleep() = %d, want 3", got)
	}
}

func TestRecommendedSleepClampsToMax(t *testing.T) {
	ts := New(4, 1, 5)
	ts.Sample(100, 0)
	if got := ts.RecommendedSleep(); got != 5 {
		t.Fatalf("RecommendedSleep() = %d, want clamped to max 5", got)
	}
}

func TestRecommendedSleepZeroWhenLocalBehindRemote(t *testing.T) {
	ts := New(4, 1, 9)
	ts.Sample(0, 6)
	if got := ts.RecommendedSleep(); got != 0 {
		t.Fatalf("RecommendedSleep() = %d, want 0 when local lags remote", got)
	}
}

func TestSampleAveragesOverWindow(t *testing.T) {
	ts := New(2, 1, 9)
	ts.Sample(10, 0)
	ts.Sample(0, 0)
	// avgLocal = (10+0)/2 = 5, avgRemote = 0, sleep = 5/2 = 2
	if got := ts.RecommendedSleep(); got != 2 {
		t.Fatalf("RecommendedSleep() = %d, want 2 (avg of two samples)", got)
	}
}

func TestResetClearsWindow(t *testing.T) {
	ts := New(4, 1, 9)
	ts.Sample(6, 0)
	ts.Reset()
	if got := ts.RecommendedSleep(); got != 0 {
		t.Fatalf("RecommendedSleep() after Reset() = %d, want 0", got)
	}
}
