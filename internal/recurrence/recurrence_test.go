package recurrence

import (
	"errors"
	"testing"
	"time"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNext(t *testing.T) {
	cases := []struct {
		name  string
		start string
		today string
		freq  int
		want  string
	}{
		{"on cycle day", "2024-01-01", "2024-01-15", 14, "2024-01-15"},
		{"mid cycle", "2024-01-01", "2024-06-10", 14, "2024-06-17"},
		{"start equals today", "2024-03-01", "2024-03-01", 7, "2024-03-01"},
		{"start in future", "2024-09-01", "2024-03-01", 7, "2024-09-01"},
		{"one day frequency", "2024-01-01", "2024-05-20", 1, "2024-05-20"},
		{"day before due", "2024-01-01", "2024-01-07", 7, "2024-01-08"},
		{"years of history", "2019-02-10", "2024-06-10", 30, "2024-06-13"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Next(day(tc.start), day(tc.today), tc.freq)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if got.Format("2006-01-02") != tc.want {
				t.Fatalf("got %s, want %s", got.Format("2006-01-02"), tc.want)
			}
		})
	}
}

func TestNextIsNeverInThePast(t *testing.T) {
	start := day("2020-01-01")
	for freq := 1; freq <= 45; freq++ {
		for d := 0; d < 120; d++ {
			today := day("2024-06-01").AddDate(0, 0, d)
			got, err := Next(start, today, freq)
			if err != nil {
				t.Fatalf("Next(freq=%d): %v", freq, err)
			}
			if got.Before(today) {
				t.Fatalf("freq=%d today=%s: next %s is in the past", freq, today.Format("2006-01-02"), got.Format("2006-01-02"))
			}
			if got.Sub(today) >= time.Duration(freq)*24*time.Hour {
				t.Fatalf("freq=%d today=%s: next %s is more than one cycle away", freq, today.Format("2006-01-02"), got.Format("2006-01-02"))
			}
		}
	}
}

func TestNextInvalidInput(t *testing.T) {
	if _, err := Next(day("2024-01-01"), day("2024-02-01"), 0); !errors.Is(err, ErrInvalidFrequency) {
		t.Fatalf("freq=0: got %v, want ErrInvalidFrequency", err)
	}
	if _, err := Next(day("2024-01-01"), day("2024-02-01"), -7); !errors.Is(err, ErrInvalidFrequency) {
		t.Fatalf("freq=-7: got %v, want ErrInvalidFrequency", err)
	}
	if _, err := Next(time.Time{}, day("2024-02-01"), 7); !errors.Is(err, ErrInvalidStart) {
		t.Fatalf("zero start: got %v, want ErrInvalidStart", err)
	}
}

func TestUpcoming(t *testing.T) {
	got, err := Upcoming(day("2024-01-01"), day("2024-06-10"), 14, 3)
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}
	want := []string{"2024-06-17", "2024-07-01", "2024-07-15"}
	if len(got) != len(want) {
		t.Fatalf("got %d dates, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Format("2006-01-02") != want[i] {
			t.Fatalf("dates[%d] = %s, want %s", i, got[i].Format("2006-01-02"), want[i])
		}
	}
}

func TestUpcomingZeroCount(t *testing.T) {
	got, err := Upcoming(day("2024-01-01"), day("2024-06-10"), 14, 0)
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d dates, want empty", len(got))
	}
}

func TestUpcomingNegativeCount(t *testing.T) {
	if _, err := Upcoming(day("2024-01-01"), day("2024-06-10"), 14, -1); !errors.Is(err, ErrInvalidCount) {
		t.Fatalf("got %v, want ErrInvalidCount", err)
	}
}

func TestOverdue(t *testing.T) {
	due, err := Overdue(day("2024-01-15"), day("2024-01-15"), 14)
	if err != nil {
		t.Fatalf("Overdue: %v", err)
	}
	if !due {
		t.Fatal("expected due on the scheduled day")
	}
	// a schedule missed by two days is still due, not pushed a cycle out
	due, err = Overdue(day("2024-01-15"), day("2024-01-17"), 14)
	if err != nil {
		t.Fatalf("Overdue: %v", err)
	}
	if !due {
		t.Fatal("missed schedule must stay due")
	}
	due, err = Overdue(day("2024-09-01"), day("2024-03-01"), 7)
	if err != nil {
		t.Fatalf("Overdue: %v", err)
	}
	if due {
		t.Fatal("future schedule must never be due")
	}
	if _, err := Overdue(day("2024-01-15"), day("2024-01-15"), 0); !errors.Is(err, ErrInvalidFrequency) {
		t.Fatalf("freq=0: got %v, want ErrInvalidFrequency", err)
	}
}
