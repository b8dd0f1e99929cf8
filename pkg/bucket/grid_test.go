package bucket

import (
	"testing"
	"time"

	"reportgrid/pkg/config"
)

func TestBucketOf_AnchorsToEpoch(t *testing.T) {
	g := Default()

	ts := time.Date(2025, 3, 10, 8, 17, 45, 0, time.UTC)
	want := time.Date(2025, 3, 10, 8, 10, 0, 0, time.UTC)

	if got := g.BucketOf(ts); !got.Equal(want) {
		t.Errorf("BucketOf(%v) = %v, want %v", ts, got, want)
	}
}

func TestBucketOf_BucketStartMapsToItself(t *testing.T) {
	g := Default()

	start := time.Date(2025, 3, 10, 8, 10, 0, 0, time.UTC)
	if got := g.BucketOf(start); !got.Equal(start) {
		t.Errorf("bucket start %v mapped to %v", start, got)
	}
}

func TestBucketOf_Determinism(t *testing.T) {
	g := Default()

	// Timestamps share a bucket iff their floored offsets from the epoch
	// match.
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	for _, tc := range []struct {
		a, b time.Duration
		same bool
	}{
		{0, 9*time.Minute + 59*time.Second, true},
		{0, 10 * time.Minute, false},
		{3 * time.Minute, 7 * time.Minute, true},
		{19 * time.Minute, 21 * time.Minute, false},
	} {
		a, b := base.Add(tc.a), base.Add(tc.b)
		same := g.BucketOf(a).Equal(g.BucketOf(b))
		if same != tc.same {
			t.Errorf("BucketOf(%v) vs BucketOf(%v): same=%v, want %v", a, b, same, tc.same)
		}
	}
}

func TestBucketOf_BeforeEpochFloors(t *testing.T) {
	g := Default()

	ts := config.DefaultEpoch.Add(-1 * time.Minute)
	want := config.DefaultEpoch.Add(-10 * time.Minute)
	if got := g.BucketOf(ts); !got.Equal(want) {
		t.Errorf("BucketOf(%v) = %v, want %v", ts, got, want)
	}
}

func TestNewGrid_RejectsNonPositiveWidth(t *testing.T) {
	if _, err := NewGrid(0, config.DefaultEpoch); err == nil {
		t.Error("expected error for zero width")
	}
	if _, err := NewGrid(-time.Minute, config.DefaultEpoch); err == nil {
		t.Error("expected error for negative width")
	}
}

func TestFingerprint_ChangesWithConfig(t *testing.T) {
	a, _ := NewGrid(10*time.Minute, config.DefaultEpoch)
	b, _ := NewGrid(5*time.Minute, config.DefaultEpoch)
	c, _ := NewGrid(10*time.Minute, config.DefaultEpoch.Add(time.Hour))

	if a.Fingerprint() == b.Fingerprint() {
		t.Error("width change should change the fingerprint")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("epoch change should change the fingerprint")
	}
}
