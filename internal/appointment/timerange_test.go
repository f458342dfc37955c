package appointment

import (
	"errors"
	"testing"
	"time"
)

func mustRange(t *testing.T, start, end time.Time) TimeRange {
	t.Helper()
	tr, err := NewTimeRange(start, end)
	if err != nil {
		t.Fatalf("NewTimeRange(%s, %s): %v", start, end, err)
	}
	return tr
}

func at(hour, min int) time.Time {
	return time.Date(2025, 11, 12, hour, min, 0, 0, time.UTC)
}

func TestNewTimeRange_RejectsInverted(t *testing.T) {
	if _, err := NewTimeRange(at(10, 30), at(10, 0)); err == nil {
		t.Fatal("expected error for end before start")
	}
	if _, err := NewTimeRange(at(10, 0), at(10, 0)); err == nil {
		t.Fatal("expected error for zero-length range")
	}
}

func TestOverlaps_Symmetry(t *testing.T) {
	a := mustRange(t, at(10, 0), at(10, 30))
	b := mustRange(t, at(10, 15), at(10, 45))
	c := mustRange(t, at(11, 0), at(11, 30))

	if a.Overlaps(b) != b.Overlaps(a) {
		t.Fatal("overlap must be symmetric")
	}
	if a.Overlaps(c) != c.Overlaps(a) {
		t.Fatal("overlap must be symmetric for disjoint ranges")
	}
	if !a.Overlaps(a) {
		t.Fatal("a non-degenerate range must overlap itself")
	}
}

func TestOverlaps_HalfOpen(t *testing.T) {
	morning := mustRange(t, at(10, 0), at(10, 30))
	next := mustRange(t, at(10, 30), at(11, 0))
	inside := mustRange(t, at(10, 15), at(10, 45))
	covering := mustRange(t, at(9, 0), at(12, 0))

	if morning.Overlaps(next) {
		t.Fatal("touching endpoints must not overlap")
	}
	if !morning.Overlaps(inside) {
		t.Fatal("partially contained range must overlap")
	}
	if !morning.Overlaps(covering) {
		t.Fatal("covering range must overlap")
	}
}

func TestParseSlotDate(t *testing.T) {
	want := time.Date(2025, 11, 12, 0, 0, 0, 0, time.UTC)

	cases := []string{"12_11_2025", "12-11-2025", "2025-11-12"}
	for _, raw := range cases {
		got, err := ParseSlotDate(raw)
		if err != nil {
			t.Fatalf("ParseSlotDate(%q): %v", raw, err)
		}
		if !got.Equal(want) {
			t.Fatalf("ParseSlotDate(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestParseSlotDate_Rejects(t *testing.T) {
	cases := []string{"", "not-a-date", "2025/11/12", "30_02_2025", "12_13_2025", "2025-02-30"}
	for _, raw := range cases {
		if _, err := ParseSlotDate(raw); err == nil {
			t.Fatalf("ParseSlotDate(%q): expected error", raw)
		} else {
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("ParseSlotDate(%q): expected ValidationError, got %v", raw, err)
			}
		}
	}
}

func TestParseSlotTime(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"14:30", "14:30"},
		{"02:30 pm", "14:30"},
		{"02:30PM", "14:30"},
		{"12:00 am", "00:00"},
		{"12:00 pm", "12:00"},
		{"9:05", "09:05"},
		{"11:59 pm", "23:59"},
	}

	for _, tc := range cases {
		got, _, err := ParseSlotTime(tc.raw)
		if err != nil {
			t.Fatalf("ParseSlotTime(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseSlotTime(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestParseSlotTime_Rejects(t *testing.T) {
	cases := []string{"", "25:00", "10:60", "13:00 pm", "0:30 am", "noonish"}
	for _, raw := range cases {
		if _, _, err := ParseSlotTime(raw); err == nil {
			t.Fatalf("ParseSlotTime(%q): expected error", raw)
		}
	}
}

func TestNormalizeSlot_RoundTrip(t *testing.T) {
	// The two historical request shapes must land on the same instant.
	legacy, err := NormalizeSlot("12_11_2025", "02:30 pm", 30*time.Minute)
	if err != nil {
		t.Fatalf("normalize legacy form: %v", err)
	}
	iso, err := NormalizeSlot("2025-11-12", "14:30", 30*time.Minute)
	if err != nil {
		t.Fatalf("normalize iso form: %v", err)
	}

	if !legacy.Start.Equal(iso.Start) {
		t.Fatalf("start instants differ: %s vs %s", legacy.Start, iso.Start)
	}
	if !legacy.End.Equal(legacy.Start.Add(30 * time.Minute)) {
		t.Fatalf("implicit end should be start+30m, got %s", legacy.End)
	}
}

func TestSlotLabel(t *testing.T) {
	if got := SlotLabel(at(14, 30)); got != "14:30" {
		t.Fatalf("SlotLabel = %q, want 14:30", got)
	}
}
