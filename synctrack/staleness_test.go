package synctrack

import (
	"testing"
	"time"
)

func TestIsStaleBoundary(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	timeout := 900 * time.Second

	cases := []struct {
		name      string
		updatedAt time.Time
		expected  bool
	}{
		{"fresh", now.Add(-1 * time.Minute), false},
		{"exactly at timeout", now.Add(-900 * time.Second), false},
		{"one millisecond past", now.Add(-900*time.Second - time.Millisecond), true},
		{"well past", now.Add(-20 * time.Minute), true},
		{"future updatedAt", now.Add(time.Minute), false},
	}
	for _, tc := range cases {
		if got := IsStale(tc.updatedAt, now, timeout); got != tc.expected {
			t.Fatalf("%s: IsStale expected %v, got %v", tc.name, tc.expected, got)
		}
	}
}

func TestStaleTimeoutText(t *testing.T) {
	cases := []struct {
		timeout  time.Duration
		expected string
	}{
		{15 * time.Minute, "15 minutes"},
		{time.Minute, "1 minute"},
		{90 * time.Second, "90 seconds"},
		{time.Second, "1 second"},
		{0, "15 minutes"},
	}
	for _, tc := range cases {
		if got := staleTimeoutText(tc.timeout); got != tc.expected {
			t.Fatalf("staleTimeoutText(%s) expected %q, got %q", tc.timeout, tc.expected, got)
		}
	}
}

func TestIsStaleZeroTimeoutUsesDefault(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if IsStale(now.Add(-14*time.Minute), now, 0) {
		t.Fatalf("14 minutes should not be stale under the default timeout")
	}
	if !IsStale(now.Add(-16*time.Minute), now, 0) {
		t.Fatalf("16 minutes should be stale under the default timeout")
	}
}
