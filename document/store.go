package document

import (
	"context"

	"github.com/lexbox/ledger/id"
)

type Store interface {
	CreateDocument(ctx context.Context, d *Document) error
	GetDocument(ctx context.Context, docID id.DocumentID) (*Document, error)
	UpdateDocument(ctx context.Context, d *Document) error
	DeleteDocument(ctx context.Context, docID id.DocumentID) error
	ListDocuments(ctx context.Context, caseID string, opts ListOpts) ([]*Document, error)
}

type ListOpts struct {
	Category     Category
	Confidential *bool
	Limit        int
	Offset       int
}

// Matches applies the filter to a single document.
func (o ListOpts) Matches(d *Document) bool {
	if o.Category != "" && d.Category != o.Category {
		return false
	}
	if o.Confidential != nil && d.Confidential != *o.Confidential {
		return false
	}
	return true
}
