package utils

import "time"

// GetDayStart returns the current UTC day's midnight — the boundary the
// circuit breaker's daily rollover keys on. The engine's "day" is the
// venue's UTC day, never the host's local day, so a process running in
// any timezone rolls its daily aggregates at the same instant.
func GetDayStart() time.Time {
	return GetDayStartFrom(time.Now())
}

// GetDayStartFrom returns UTC midnight of the day containing t.
func GetDayStartFrom(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// NextDayStartFrom returns UTC midnight of the day after t, the instant
// at which aggregates booked at t become "yesterday's".
func NextDayStartFrom(t time.Time) time.Time {
	return GetDayStartFrom(t).Add(24 * time.Hour)
}

// SameUTCDay reports whether a and b fall on the same UTC calendar day.
func SameUTCDay(a, b time.Time) bool {
	return GetDayStartFrom(a).Equal(GetDayStartFrom(b))
}
