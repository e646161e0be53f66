// Package report exports scored accounts and amplification events as the
// JSON document the read-only viewer consumes.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nvandessel/charcoal/internal/models"
	"github.com/nvandessel/charcoal/internal/store"
)

// Document is the exported report shape: exported_at, totals, and the full
// set of scored accounts and amplification events.
type Document struct {
	ExportedAt    time.Time                   `json:"exported_at"`
	TotalAccounts int                         `json:"total_accounts"`
	TotalEvents   int                         `json:"total_events"`
	Accounts      []models.AccountScore       `json:"accounts"`
	Events        []models.AmplificationEvent `json:"events"`
}

// Build reads every account score and amplification event from s and
// assembles the export document. exportedAt is passed in rather than
// computed here so callers control the timestamp.
func Build(ctx context.Context, s store.Store, exportedAt time.Time) (Document, error) {
	accounts, err := s.GetAllAccountScores(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("reading account scores: %w", err)
	}
	events, err := s.GetAllEvents(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("reading amplification events: %w", err)
	}

	return Document{
		ExportedAt:    exportedAt,
		TotalAccounts: len(accounts),
		TotalEvents:   len(events),
		Accounts:      accounts,
		Events:        events,
	}, nil
}

// Marshal renders doc as indented JSON, matching the viewer's expected
// pretty-printed export format.
func Marshal(doc Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling report: %w", err)
	}
	return data, nil
}
