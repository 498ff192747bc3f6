package pool

import (
	"testing"
	"time"
)

func TestParseEventTimeISO8601(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"2024-12-09T18:12:47Z", time.Date(2024, 12, 9, 18, 12, 47, 0, time.UTC)},
		{"2024-12-09T18:12:47.250Z", time.Date(2024, 12, 9, 18, 12, 47, 250000000, time.UTC)},
		{"2024-12-09 18:12:47", time.Date(2024, 12, 9, 18, 12, 47, 0, time.UTC)},
		{"2024-12-09 18:12:47,093", time.Date(2024, 12, 9, 18, 12, 47, 93000000, time.UTC)},
		{"2024-12-09", time.Date(2024, 12, 9, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		got, err := ParseEventTime([]byte(tt.input))
		if err != nil {
			t.Errorf("ParseEventTime(%q) error: %v", tt.input, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseEventTime(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseEventTimeOffset(t *testing.T) {
	got, err := ParseEventTime([]byte("2024-12-09T18:12:47+05:30"))
	if err != nil {
		t.Fatalf("ParseEventTime error: %v", err)
	}
	want := time.Date(2024, 12, 9, 18, 12, 47, 0, time.FixedZone("", 5*3600+30*60))
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseEventTimeUnixEpoch(t *testing.T) {
	got, err := ParseEventTime([]byte("1733767967"))
	if err != nil {
		t.Fatalf("ParseEventTime error: %v", err)
	}
	if got.Unix() != 1733767967 {
		t.Errorf("got unix %d, want 1733767967", got.Unix())
	}

	// Millisecond epoch
	got, err = ParseEventTime([]byte("1733767967250"))
	if err != nil {
		t.Fatalf("ParseEventTime error: %v", err)
	}
	if got.UnixMilli() != 1733767967250 {
		t.Errorf("got unix milli %d, want 1733767967250", got.UnixMilli())
	}
}

func TestParseEventTimeInvalid(t *testing.T) {
	for _, input := range []string{"", "not a time", "2024-13-40T99:99:99Z", "20241209"} {
		if _, err := ParseEventTime([]byte(input)); err == nil {
			t.Errorf("ParseEventTime(%q) expected error, got nil", input)
		}
	}
}

func TestLineBuffer(t *testing.T) {
	lb := NewLineBuffer([]byte("first\nsecond\r\nthird"))

	for i, want := range []string{"first", "second", "third"} {
		got := lb.NextLine()
		if string(got) != want {
			t.Errorf("line %d = %q, want %q", i, got, want)
		}
	}
	if lb.NextLine() != nil {
		t.Error("expected nil after last line")
	}
}
