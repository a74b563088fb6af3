package delivery

import (
	"context"

	"github.com/kerbrat/veilleur/models"
)

// Sink is the adapter interface for result destinations. Implement
// this to add new destination types (spreadsheets, Airtable, ...).
// sinkRef is the opaque destination reference stored on the campaign,
// e.g. a spreadsheet id.
type Sink interface {
	// ExistingKeys returns the identity keys of the items already
	// present in the destination, for deduplication.
	ExistingKeys(ctx context.Context, sinkRef string) (map[string]struct{}, error)
	// Write appends the items to the destination and returns how many
	// were accepted.
	Write(ctx context.Context, sinkRef string, items []models.Item) (int, error)
}
