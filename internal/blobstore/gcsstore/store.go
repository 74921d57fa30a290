// Package gcsstore is the primary blob tier on Google Cloud Storage.
package gcsstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/dmitrijs2005/geocrypt/internal/blobstore"
)

// object is the part of *storage.ObjectHandle the store uses.
type object interface {
	NewWriter(ctx context.Context) io.WriteCloser
	NewReader(ctx context.Context) (io.ReadCloser, error)
	Delete(ctx context.Context) error
}

type handle struct {
	oh *storage.ObjectHandle
}

func (h handle) NewWriter(ctx context.Context) io.WriteCloser {
	w := h.oh.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	return w
}

func (h handle) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return h.oh.NewReader(ctx)
}

func (h handle) Delete(ctx context.Context) error {
	return h.oh.Delete(ctx)
}

// Store is a blobstore.Backend over one GCS bucket.
type Store struct {
	object func(key string) object
	close  func() error
}

// New opens a GCS client for bucket. An empty credentialsFile uses
// application default credentials.
func New(ctx context.Context, bucket, credentialsFile string) (*Store, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is not set")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}

	b := client.Bucket(bucket)
	return &Store{
		object: func(key string) object { return handle{oh: b.Object(key)} },
		close:  client.Close,
	}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Put writes blob to object key.
func (s *Store) Put(ctx context.Context, key string, blob []byte) error {
	// Cancelling ctx aborts the upload; the object only appears on a
	// successful Close.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.object(key).NewWriter(ctx)
	if _, err := w.Write(blob); err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs put %s: %w", key, err)
	}
	return nil
}

// Get reads object key, mapping storage.ErrObjectNotExist to
// blobstore.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs get %s: %w", key, err)
	}
	defer r.Close()

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs read %s: %w", key, err)
	}
	return b, nil
}

// Delete removes object key. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete %s: %w", key, err)
	}
	return nil
}
