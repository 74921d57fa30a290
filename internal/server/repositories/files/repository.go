package files

import (
	"context"

	"github.com/dmitrijs2005/geocrypt/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, file *models.File) error
	GetByID(ctx context.Context, id string) (*models.File, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.File, error)
	// Delete removes the owner's record and returns its storage key.
	Delete(ctx context.Context, ownerID, id string) (string, error)
	// StorageKeyInUse reports whether any record still points at key.
	StorageKeyInUse(ctx context.Context, key string) (bool, error)
}
