package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/geocrypt/internal/access"
	"github.com/dmitrijs2005/geocrypt/internal/blobstore"
	"github.com/dmitrijs2005/geocrypt/internal/common"
	"github.com/dmitrijs2005/geocrypt/internal/cryptox"
	"github.com/dmitrijs2005/geocrypt/internal/dbx"
	"github.com/dmitrijs2005/geocrypt/internal/geo"
	"github.com/dmitrijs2005/geocrypt/internal/logging"
	"github.com/dmitrijs2005/geocrypt/internal/server/models"
	"github.com/dmitrijs2005/geocrypt/internal/server/repositories/repomanager"
)

const MaxFilenameLength = 255

// BlobStore is the tiered envelope store as seen by FileService.
type BlobStore interface {
	Put(ctx context.Context, key string, blob []byte) (blobstore.Tier, error)
	Get(ctx context.Context, key string) ([]byte, blobstore.Tier, error)
	Delete(ctx context.Context, key string) (blobstore.DeleteResult, error)
}

type UploadInput struct {
	Filename    string
	ContentType string
	Content     []byte
	Latitude    float64
	Longitude   float64
}

type UploadResult struct {
	File *models.File
	Tier blobstore.Tier
}

type DownloadResult struct {
	File    *models.File
	Content []byte
	// Tier served the envelope.
	Tier blobstore.Tier
}

type FileService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	blobs       BlobStore
	logger      logging.Logger
}

func NewFileService(db *sql.DB, m repomanager.RepositoryManager, blobs BlobStore, logger logging.Logger) *FileService {
	return &FileService{
		db:          db,
		repomanager: m,
		blobs:       blobs,
		logger:      logger.With("module", "files"),
	}
}

// StorageKey addresses the envelope of filename uploaded by ownerID inside
// the cell geoToken. The same triple always maps to the same key, a second
// upload replaces the first envelope.
func StorageKey(ownerID, geoToken, filename string) string {
	return ownerID + "/" + geoToken + "/" + filename
}

// cleanFilename reduces name to its last path element.
func cleanFilename(name string) (string, error) {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = path.Base(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", fmt.Errorf("%w: missing filename", common.ErrorValidation)
	}
	if len(name) > MaxFilenameLength || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: bad filename", common.ErrorValidation)
	}
	return name, nil
}

// Upload seals in.Content under the key of the cell containing
// (in.Latitude, in.Longitude), stores the envelope and records it.
// If the record cannot be written the stored envelope is removed again.
func (s *FileService) Upload(ctx context.Context, ownerID string, in UploadInput) (*UploadResult, error) {
	filename, err := cleanFilename(in.Filename)
	if err != nil {
		return nil, err
	}

	token, err := geo.Encode(in.Latitude, in.Longitude, geo.Precision)
	if err != nil {
		return nil, err
	}

	key, err := cryptox.DeriveLocationKey(in.Latitude, in.Longitude)
	if err != nil {
		return nil, err
	}
	envelope, err := cryptox.SealEnvelope(in.Content, key)
	common.WipeByteArray(key)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = common.DefaultContentType
	}

	storageKey := StorageKey(ownerID, token, filename)
	tier, err := s.blobs.Put(ctx, storageKey, envelope)
	if err != nil {
		return nil, err
	}

	record := &models.File{
		ID:          uuid.NewString(),
		Filename:    filename,
		StorageKey:  storageKey,
		GeoToken:    token,
		OwnerID:     ownerID,
		Size:        int64(len(in.Content)),
		ContentType: contentType,
		Tier:        tier.String(),
	}

	if err := s.repomanager.Files(s.db).Create(ctx, record); err != nil {
		// A record for the same key may already exist, then the envelope is live.
		if inUse, lookupErr := s.repomanager.Files(s.db).StorageKeyInUse(ctx, storageKey); lookupErr != nil || !inUse {
			if _, delErr := s.blobs.Delete(ctx, storageKey); delErr != nil {
				s.logger.Warn(ctx, "orphaned envelope after failed insert", "key", storageKey, "error", delErr.Error())
			}
		}
		return nil, fmt.Errorf("error saving file record: %w", err)
	}

	s.logger.Info(ctx, "file uploaded", "file_id", record.ID, "owner_id", ownerID, "tier", record.Tier, "size", record.Size)
	return &UploadResult{File: record, Tier: tier}, nil
}

// Download returns the plaintext of file id. The requester must own the file
// or present its exact token; either way the token is what unlocks the
// envelope.
func (s *FileService) Download(ctx context.Context, requesterID, id, token string) (*DownloadResult, error) {
	record, err := s.repomanager.Files(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if access.Authorize(record, requesterID, token) == access.Deny {
		s.logger.Info(ctx, "download denied", "file_id", id, "requester_id", requesterID)
		return nil, common.ErrorForbidden
	}

	lat, lon, err := geo.Decode(token)
	if err != nil {
		return nil, err
	}

	envelope, tier, err := s.blobs.Get(ctx, record.StorageKey)
	if err != nil {
		return nil, err
	}
	if recorded := blobstore.ParseTier(record.Tier); recorded != tier {
		s.logger.Info(ctx, "envelope served from another tier than recorded", "file_id", id,
			"recorded_tier", recorded.String(), "served_tier", tier.String())
	}

	key, err := cryptox.DeriveLocationKey(lat, lon)
	if err != nil {
		return nil, err
	}
	content, err := cryptox.OpenEnvelope(envelope, key)
	common.WipeByteArray(key)
	if err != nil {
		return nil, err
	}

	return &DownloadResult{File: record, Content: content, Tier: tier}, nil
}

// List returns the owner's records, newest first.
func (s *FileService) List(ctx context.Context, ownerID string) ([]*models.File, error) {
	return s.repomanager.Files(s.db).ListByOwner(ctx, ownerID)
}

// Get returns a record owned by ownerID. Records of other users are reported
// as not found.
func (s *FileService) Get(ctx context.Context, ownerID, id string) (*models.File, error) {
	record, err := s.repomanager.Files(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.OwnerID != ownerID {
		return nil, common.ErrorNotFound
	}
	return record, nil
}

// Delete removes the record and its envelope from both tiers in one
// transaction. If no tier could delete, the record is kept. A partial delete
// keeps the record removed and returns the *blobstore.PartialDeleteError.
//
// The envelope goes before the commit. A failed commit then leaves a record
// without an envelope; it downloads as not found and a repeated Delete
// removes it, since a missing key counts as deleted in both tiers.
func (s *FileService) Delete(ctx context.Context, ownerID, id string) (blobstore.DeleteResult, error) {
	result := blobstore.DeleteFailed
	var partial error
	envelopeGone := false

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Files(tx)

		key, err := repo.Delete(ctx, ownerID, id)
		if err != nil {
			return err
		}

		inUse, err := repo.StorageKeyInUse(ctx, key)
		if err != nil {
			return err
		}
		if inUse {
			result = blobstore.Deleted
			return nil
		}

		result, err = s.blobs.Delete(ctx, key)
		envelopeGone = result != blobstore.DeleteFailed
		if errors.Is(err, blobstore.ErrPartialDeleteFailure) {
			partial = err
			return nil
		}
		return err
	})
	if err != nil {
		if envelopeGone {
			s.logger.Error(ctx, "envelope removed but record kept", "file_id", id, "error", err.Error())
		}
		return blobstore.DeleteFailed, err
	}

	if partial != nil {
		s.logger.Warn(ctx, "file deleted, envelope left in one tier", "file_id", id, "error", partial.Error())
	}
	return result, partial
}
