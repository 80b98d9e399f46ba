package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"docsense/internal/model"
	"docsense/internal/repository"
)

type documentStore interface {
	GetByUniqueFileKey(ctx context.Context, key string) (*model.Document, error)
	Create(ctx context.Context, doc *model.Document) error
}

// Resolver guarantees at most one document per owner and file name, so a
// repeated upload never pays for extraction and analysis twice.
type Resolver struct {
	docs documentStore
}

func NewResolver(docs documentStore) *Resolver {
	return &Resolver{docs: docs}
}

// Resolve returns the stored document for doc's unique file key, or inserts
// doc with status uploaded. The boolean is true when the document already
// existed, including when a concurrent insert won the race.
func (r *Resolver) Resolve(ctx context.Context, doc *model.Document) (*model.Document, bool, error) {
	doc.UniqueFileKey = model.UniqueFileKey(doc.OwnerID, doc.FileName)

	existing, err := r.docs.GetByUniqueFileKey(ctx, doc.UniqueFileKey)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, true, nil
	}

	doc.Status = model.StatusUploaded
	if err := r.docs.Create(ctx, doc); err != nil {
		if !errors.Is(err, repository.ErrDuplicateKey) {
			return nil, false, err
		}
		logrus.WithField("unique_file_key", doc.UniqueFileKey).Info("concurrent insert detected, returning existing document")
		existing, lookupErr := r.docs.GetByUniqueFileKey(ctx, doc.UniqueFileKey)
		if lookupErr != nil {
			return nil, false, lookupErr
		}
		if existing == nil {
			return nil, false, fmt.Errorf("document %q reported duplicate but was not found: %w", doc.UniqueFileKey, err)
		}
		return existing, true, nil
	}
	return doc, false, nil
}
