package digest

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestGenerateRotatesByDayOfYear(t *testing.T) {
	// Jan 1 has YearDay 1, so the second tip is selected.
	day1 := time.Date(2026, 1, 1, 9, 0, 0, 0, time.Local)
	r := Generate(day1)
	if r.Type != "dailyReport" {
		t.Errorf("type = %q", r.Type)
	}
	if len(r.Content) != 1 {
		t.Fatalf("content has %d items, want 1", len(r.Content))
	}
	item := r.Content[0]
	if item.TipNumber != 2 || item.TotalTips != 5 {
		t.Errorf("tip number = %d/%d, want 2/5", item.TipNumber, item.TotalTips)
	}
	if !strings.Contains(item.Tip, "phantom loads") {
		t.Errorf("unexpected tip for day 1: %q", item.Tip)
	}
	if item.Title != "Daily Energy Tip" {
		t.Errorf("title = %q", item.Title)
	}
	if !strings.Contains(r.Message, "January 1, 2026") {
		t.Errorf("message = %q", r.Message)
	}

	// Five days later the rotation wraps to the same tip.
	if got := Generate(day1.AddDate(0, 0, 5)); got.Content[0].TipNumber != 2 {
		t.Errorf("rotation period wrong, tip number = %d", got.Content[0].TipNumber)
	}
	// Adjacent days select different tips.
	if got := Generate(day1.AddDate(0, 0, 1)); got.Content[0].TipNumber == 2 {
		t.Error("consecutive days selected the same tip")
	}
}

func TestFormatForInjection(t *testing.T) {
	r := Generate(time.Date(2026, 3, 10, 8, 0, 0, 0, time.Local))
	s, err := FormatForInjection(r, "int-9")
	if err != nil {
		t.Fatalf("FormatForInjection: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		t.Fatalf("injected digest not valid JSON: %v", err)
	}
	if decoded["interactionId"] != "int-9" {
		t.Errorf("interactionId = %v", decoded["interactionId"])
	}
	if decoded["type"] != "dailyReport" {
		t.Errorf("type = %v", decoded["type"])
	}
	// The original report must stay untouched.
	if r.InteractionID != "" {
		t.Error("FormatForInjection mutated the report")
	}
}

func TestShouldShowOncePerDay(t *testing.T) {
	tr := NewTracker(t.TempDir())
	now := time.Date(2026, 8, 24, 7, 30, 0, 0, time.Local)

	if !tr.ShouldShow("loc-1", "anna@example.com", now) {
		t.Fatal("first showing denied")
	}
	if tr.ShouldShow("loc-1", "anna@example.com", now.Add(2*time.Hour)) {
		t.Error("second showing on the same day allowed")
	}
	if !tr.ShouldShow("loc-1", "anna@example.com", now.AddDate(0, 0, 1)) {
		t.Error("next-day showing denied")
	}
}

func TestShouldShowPerUser(t *testing.T) {
	tr := NewTracker(t.TempDir())
	now := time.Date(2026, 8, 24, 7, 30, 0, 0, time.Local)

	tr.ShouldShow("loc-1", "anna@example.com", now)
	if !tr.ShouldShow("loc-1", "bob@example.com", now) {
		t.Error("one user's digest blocked another's")
	}
}

func TestShouldShowWithoutEmail(t *testing.T) {
	tr := NewTracker(t.TempDir())
	now := time.Now()
	if !tr.ShouldShow("loc-1", "", now) || !tr.ShouldShow("loc-1", "", now) {
		t.Error("digest without email must always show")
	}
}
