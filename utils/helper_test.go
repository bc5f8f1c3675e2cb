package utils_test

import (
	"testing"
	"time"

	"bitbucket.org/intellihub/hub_backend/utils"
)

func TestParseFlexibleDate(t *testing.T) {
	cases := []struct {
		in   string
		ok   bool
		want time.Time
	}{
		{"2024-03-15T10:30:00Z", true, time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)},
		{"2024-03-15T10:30:00", true, time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)},
		{"2024-03-15", true, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"15/03/2024", true, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"15/03/2024 10:30", true, time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)},
		{"15-03-2024", true, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"", false, time.Time{}},
		{"not a date", false, time.Time{}},
		{"31/02/2024", false, time.Time{}},
	}
	for _, c := range cases {
		got, ok := utils.ParseFlexibleDate(c.in)
		if ok != c.ok {
			t.Fatalf("ParseFlexibleDate(%q): ok=%v, want %v", c.in, ok, c.ok)
		}
		if ok && !got.Equal(c.want) {
			t.Fatalf("ParseFlexibleDate(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	got, truncated := utils.Truncate("hello", 10)
	if got != "hello" || truncated {
		t.Fatalf("Truncate short: got %q truncated=%v", got, truncated)
	}
	got, truncated = utils.Truncate("hello world", 5)
	if got != "hello" || !truncated {
		t.Fatalf("Truncate long: got %q truncated=%v", got, truncated)
	}
	got, truncated = utils.Truncate("hello", 0)
	if got != "hello" || truncated {
		t.Fatalf("Truncate max=0: got %q truncated=%v", got, truncated)
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	// "Cittàè" is 8 bytes: the à and è are two bytes each. A cut inside the
	// à must back up to the previous boundary, never emit a broken rune.
	got, truncated := utils.Truncate("Cittàè", 5)
	if got != "Citt" || !truncated {
		t.Fatalf("Truncate mid-rune: got %q truncated=%v", got, truncated)
	}
	got, truncated = utils.Truncate("Cittàè", 6)
	if got != "Città" || !truncated {
		t.Fatalf("Truncate at rune boundary: got %q truncated=%v", got, truncated)
	}
}

func TestIsValidEmail(t *testing.T) {
	if !utils.IsValidEmail("mario.rossi@example.it") {
		t.Fatal("expected valid email")
	}
	if utils.IsValidEmail("not-an-email") {
		t.Fatal("expected invalid email")
	}
	if utils.IsValidEmail("") {
		t.Fatal("expected empty string to be invalid")
	}
}

func TestNormalizePhoneNumberFallback(t *testing.T) {
	// Unparseable input comes back trimmed, never empty.
	got := utils.NormalizePhoneNumber("  interno 42  ", utils.CountryCode)
	if got != "interno 42" {
		t.Fatalf("NormalizePhoneNumber fallback = %q", got)
	}
	if utils.NormalizePhoneNumber("", utils.CountryCode) != "" {
		t.Fatal("empty phone must stay empty")
	}
}

func TestNormalizePhoneNumberE164(t *testing.T) {
	// A valid Italian mobile lands in E.164 whether or not the prefix is
	// already there.
	withPrefix := utils.NormalizePhoneNumber("+39 347 123 4567", utils.CountryCode)
	withoutPrefix := utils.NormalizePhoneNumber("347 123 4567", utils.CountryCode)
	if withPrefix != "+393471234567" {
		t.Fatalf("E164 with prefix = %q", withPrefix)
	}
	if withPrefix != withoutPrefix {
		t.Fatalf("normalization must converge: %q vs %q", withPrefix, withoutPrefix)
	}
}
