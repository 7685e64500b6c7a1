package audit

import (
	"context"

	"provenance/pkg/domain"
	dErrors "provenance/pkg/domain-errors"
)

// Store persists journal events and lists them per product.
type Store interface {
	Sink
	// ListByProduct returns events oldest first, optionally filtered to actions.
	ListByProduct(ctx context.Context, productID domain.ProductID, actions ...Action) ([]Event, error)
}

// Journal is the read side of the event journal.
type Journal struct {
	store Store
}

func NewJournal(store Store) *Journal {
	return &Journal{store: store}
}

func (j *Journal) List(ctx context.Context, productID domain.ProductID, actions ...Action) ([]Event, error) {
	for _, a := range actions {
		if a != ActionMint && a != ActionTransfer {
			return nil, dErrors.New(dErrors.CodeValidation, "unknown event action")
		}
	}
	events, err := j.store.ListByProduct(ctx, productID, actions...)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list product events")
	}
	return events, nil
}
