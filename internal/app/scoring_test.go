package app

import (
	"testing"
	"time"
)

func TestScore(t *testing.T) {
	cases := []struct {
		name    string
		correct bool
		elapsed time.Duration
		limit   int
		want    int
	}{
		{name: "wrong answer", correct: false, elapsed: time.Second, limit: 20, want: 0},
		{name: "instant", correct: true, elapsed: 0, limit: 20, want: 1500},
		{name: "half time", correct: true, elapsed: 10 * time.Second, limit: 20, want: 1250},
		{name: "five of thirty rounds up", correct: true, elapsed: 5 * time.Second, limit: 30, want: 1417},
		{name: "one millisecond rounds to full bonus", correct: true, elapsed: time.Millisecond, limit: 20, want: 1500},
		{name: "at the limit", correct: true, elapsed: 20 * time.Second, limit: 20, want: 1000},
		{name: "past the limit", correct: true, elapsed: 25 * time.Second, limit: 20, want: 1000},
		{name: "negative elapsed clamps", correct: true, elapsed: -time.Second, limit: 20, want: 1500},
		{name: "no limit", correct: true, elapsed: time.Second, limit: 0, want: 1000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Score(tc.correct, tc.elapsed, tc.limit); got != tc.want {
				t.Fatalf("Score(%v, %v, %d) = %d, want %d", tc.correct, tc.elapsed, tc.limit, got, tc.want)
			}
		})
	}
}

func TestScoreIsMonotonic(t *testing.T) {
	prev := Score(true, 0, 15)
	for ms := int64(100); ms <= 15000; ms += 100 {
		got := Score(true, time.Duration(ms)*time.Millisecond, 15)
		if got > prev {
			t.Fatalf("score grew with elapsed time at %dms: %d > %d", ms, got, prev)
		}
		if got < BasePoints || got > BasePoints+MaxBonus {
			t.Fatalf("score %d out of range at %dms", got, ms)
		}
		prev = got
	}
}
