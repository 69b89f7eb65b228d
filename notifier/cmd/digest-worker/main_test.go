package main

import (
	"testing"
	"time"
)

func TestDigestLockTTLHasHeadroom(t *testing.T) {
	cases := []struct {
		intervalSec int
		want        time.Duration
	}{
		{intervalSec: 10, want: time.Minute},
		{intervalSec: 60, want: 2 * time.Minute},
		{intervalSec: 300, want: 10 * time.Minute},
	}
	for _, tc := range cases {
		got := digestLockTTL(tc.intervalSec)
		if got != tc.want {
			t.Fatalf("digestLockTTL(%d) = %v, want %v", tc.intervalSec, got, tc.want)
		}
		if got <= time.Duration(tc.intervalSec)*time.Second {
			t.Fatalf("digestLockTTL(%d) = %v, no headroom over the interval", tc.intervalSec, got)
		}
	}
}
