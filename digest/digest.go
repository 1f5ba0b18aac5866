// Package digest produces the daily energy-efficiency report shown as
// the first message when a user opens the chat.
package digest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/temosalmi/wattson/session"
)

type tip struct {
	text    string
	savings string
}

// Static rotation for now. Can later be replaced with spot-price driven
// or model-generated content.
var energyTips = []tip{
	{
		text:    "When boiling water, only fill your kettle with the amount you actually need. Most people boil 2-3 times more water than necessary.",
		savings: "This simple habit can save up to €50 per year on your electricity bill.",
	},
	{
		text:    "Check for 'phantom loads' - devices that consume power even when turned off. Common culprits include TVs, coffee makers, and phone chargers.",
		savings: "Eliminating phantom loads can reduce your electricity consumption by 5-10%.",
	},
	{
		text:    "Use your dishwasher's eco mode and only run it when it's full. The eco mode uses less water and energy, even though it takes longer.",
		savings: "This can save up to €40 per year compared to normal wash cycles.",
	},
	{
		text:    "Set your water heater temperature to 60°C (140°F). Higher temperatures waste energy and can be dangerous.",
		savings: "Lowering from 70°C to 60°C can save 6-10% on water heating costs.",
	},
	{
		text:    "Close curtains and blinds during hot summer days to keep your home cooler naturally, reducing air conditioning needs.",
		savings: "This simple step can reduce cooling costs by up to 15% during summer months.",
	},
}

// Item is one tip entry in the report content.
type Item struct {
	Title            string `json:"title"`
	Tip              string `json:"tip"`
	PotentialSavings string `json:"potentialSavings"`
	Date             string `json:"date"`
	TipNumber        int    `json:"tipNumber"`
	TotalTips        int    `json:"totalTips"`
}

// Report is the dailyReport message injected into the conversation.
type Report struct {
	Message       string `json:"message"`
	Type          string `json:"type"`
	Content       []Item `json:"content"`
	InteractionID string `json:"interactionId,omitempty"`
}

// Generate builds the report for the given local time, rotating tips by
// day of year.
func Generate(now time.Time) *Report {
	date := now.Format("January 2, 2006")
	idx := now.YearDay() % len(energyTips)
	t := energyTips[idx]
	return &Report{
		Message: fmt.Sprintf("Good morning! Here's your daily energy efficiency digest for %s.", date),
		Type:    "dailyReport",
		Content: []Item{{
			Title:            "Daily Energy Tip",
			Tip:              t.text,
			PotentialSavings: t.savings,
			Date:             date,
			TipNumber:        idx + 1,
			TotalTips:        len(energyTips),
		}},
	}
}

// FormatForInjection renders the report as the JSON string stored in
// conversation history so follow-up questions can reference it.
func FormatForInjection(r *Report, interactionID string) (string, error) {
	withID := *r
	withID.InteractionID = interactionID
	data, err := json.MarshalIndent(&withID, "", "  ")
	if err != nil {
		return "", fmt.Errorf("digest: marshal report: %w", err)
	}
	return string(data), nil
}

type trackingData struct {
	LastDigestDate string `json:"last_digest_date"`
	LocationID     string `json:"location_id"`
	UserEmail      string `json:"user_email"`
	UserHash       string `json:"user_hash"`
	LastUpdated    string `json:"last_updated"`
}

// Tracker remembers which users have already seen today's digest.
type Tracker struct {
	dir string
}

// NewTracker stores tracking files under dataDir/digest_tracking.
func NewTracker(dataDir string) *Tracker {
	return &Tracker{dir: filepath.Join(dataDir, "digest_tracking")}
}

// ShouldShow reports whether the digest is due for this user today and
// records the showing. Without an email there is no per-user tracking
// and the digest always shows. Tracking failures also show the digest;
// a duplicate report beats a missing one.
func (t *Tracker) ShouldShow(locationID, userEmail string, now time.Time) bool {
	if userEmail == "" {
		return true
	}
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		slog.Warn("digest: tracking dir not writable, showing digest", "error", err)
		return true
	}

	userHash := session.UserHash(userEmail)
	path := filepath.Join(t.dir, userHash+"_digest_log.json")
	today := now.Format("2006-01-02")

	var data trackingData
	if raw, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(raw, &data); err == nil && data.LastDigestDate == today {
			return false
		}
	}

	data = trackingData{
		LastDigestDate: today,
		LocationID:     locationID,
		UserEmail:      userEmail,
		UserHash:       userHash,
		LastUpdated:    now.Format(time.RFC3339),
	}
	raw, err := json.MarshalIndent(&data, "", "  ")
	if err != nil {
		return true
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		slog.Warn("digest: tracking file not written, digest may repeat", "error", err)
	}
	return true
}
