package clock

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, Location)
}

func TestBusinessDateMidnightReset(t *testing.T) {
	now := date(2025, time.March, 10, 0, 0)
	got := BusinessDate(now, 0, 0)
	want := date(2025, time.March, 10, 0, 0)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestBusinessDateBeforeReset(t *testing.T) {
	// Reset at 04:00: 03:59 still belongs to the previous day.
	now := date(2025, time.March, 10, 3, 59)
	got := BusinessDate(now, 4, 0)
	want := date(2025, time.March, 9, 0, 0)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestBusinessDateAtReset(t *testing.T) {
	now := date(2025, time.March, 10, 4, 0)
	got := BusinessDate(now, 4, 0)
	want := date(2025, time.March, 10, 0, 0)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestBusinessDateCrossesMonth(t *testing.T) {
	now := date(2025, time.March, 1, 2, 30)
	got := BusinessDate(now, 4, 0)
	want := date(2025, time.February, 28, 0, 0)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPeriodStart(t *testing.T) {
	cases := []struct {
		now  time.Time
		want time.Time
	}{
		{date(2025, time.March, 10, 3, 59), date(2025, time.March, 9, 4, 0)},
		{date(2025, time.March, 10, 4, 0), date(2025, time.March, 10, 4, 0)},
		{date(2025, time.March, 10, 23, 0), date(2025, time.March, 10, 4, 0)},
	}
	for _, c := range cases {
		if got := PeriodStart(c.now, 4, 0); !got.Equal(c.want) {
			t.Errorf("PeriodStart(%v) = %v, want %v", c.now, got, c.want)
		}
	}
}

func TestMonthStart(t *testing.T) {
	got := MonthStart(date(2025, time.March, 31, 23, 59))
	want := date(2025, time.March, 1, 0, 0)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestDateOnlyKeepsLocation(t *testing.T) {
	d := DateOnly(date(2025, time.July, 4, 18, 45))
	if d.Hour() != 0 || d.Minute() != 0 {
		t.Fatalf("not truncated: %v", d)
	}
	if d.Location() != Location {
		t.Fatalf("location changed: %v", d.Location())
	}
}
