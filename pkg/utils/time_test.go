package utils

import (
	"testing"
	"time"
)

func TestGetDayStartFrom(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			"mid-day UTC",
			time.Date(2024, 1, 15, 14, 30, 45, 123, time.UTC),
			time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			"already midnight",
			time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			// 23:30 in UTC+5 is 18:30 UTC the same day; the UTC day is
			// what the rollover keys on, not the local one.
			"non-UTC zone resolves to the UTC day",
			time.Date(2024, 1, 15, 23, 30, 0, 0, time.FixedZone("UTC+5", 5*3600)),
			time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			// 02:00 in UTC+5 on the 16th is 21:00 UTC on the 15th.
			"local tomorrow is still UTC today",
			time.Date(2024, 1, 16, 2, 0, 0, 0, time.FixedZone("UTC+5", 5*3600)),
			time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetDayStartFrom(tt.in); !got.Equal(tt.want) {
				t.Errorf("GetDayStartFrom(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNextDayStartFrom(t *testing.T) {
	in := time.Date(2024, 1, 15, 23, 59, 59, 0, time.UTC)
	want := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)
	if got := NextDayStartFrom(in); !got.Equal(want) {
		t.Errorf("NextDayStartFrom = %v, want %v", got, want)
	}
}

func TestSameUTCDay(t *testing.T) {
	a := time.Date(2024, 1, 15, 0, 0, 1, 0, time.UTC)
	b := time.Date(2024, 1, 15, 23, 59, 59, 0, time.UTC)
	c := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)
	if !SameUTCDay(a, b) {
		t.Error("first and last second of one UTC day must compare equal")
	}
	if SameUTCDay(b, c) {
		t.Error("midnight starts a new UTC day")
	}
}
