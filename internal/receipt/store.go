package receipt

import (
	"context"

	"github.com/google/uuid"
)

// Store is the primary document store. Implementations assign the document
// id on save and enforce transaction id uniqueness.
type Store interface {
	// Save stores doc, sets doc.ID and returns it.
	Save(ctx context.Context, doc *Document) (string, error)

	// Get returns ErrNotFound when no document has the id.
	Get(ctx context.Context, id string) (*Document, error)

	// List returns documents newest first.
	List(ctx context.Context, skip, limit int) ([]*Document, error)

	Count(ctx context.Context) (int, error)

	// Delete returns ErrNotFound when no document has the id.
	Delete(ctx context.Context, id string) error

	// HealthCheck never returns an error.
	HealthCheck(ctx context.Context) bool

	Close() error
}

// IDGenerator generates unique ids
type IDGenerator interface {
	Generate() string
}

// uuidV7Generator produces time-ordered ids, so byte order is creation order.
type uuidV7Generator struct{}

func (uuidV7Generator) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
