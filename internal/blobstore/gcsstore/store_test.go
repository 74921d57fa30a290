package gcsstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/geocrypt/internal/blobstore"
)

type fakeBucket struct {
	objects  map[string][]byte
	readErr  error
	writeErr error
	delErr   error
}

type fakeObject struct {
	b   *fakeBucket
	key string
}

type fakeWriter struct {
	bytes.Buffer
	o *fakeObject
}

func (w *fakeWriter) Close() error {
	if w.o.b.writeErr != nil {
		return w.o.b.writeErr
	}
	w.o.b.objects[w.o.key] = w.Bytes()
	return nil
}

func (o *fakeObject) NewWriter(context.Context) io.WriteCloser {
	return &fakeWriter{o: o}
}

func (o *fakeObject) NewReader(context.Context) (io.ReadCloser, error) {
	if o.b.readErr != nil {
		return nil, o.b.readErr
	}
	data, ok := o.b.objects[o.key]
	if !ok {
		return nil, storage.ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (o *fakeObject) Delete(context.Context) error {
	if o.b.delErr != nil {
		return o.b.delErr
	}
	if _, ok := o.b.objects[o.key]; !ok {
		return storage.ErrObjectNotExist
	}
	delete(o.b.objects, o.key)
	return nil
}

func newFakeStore() (*Store, *fakeBucket) {
	b := &fakeBucket{objects: map[string][]byte{}}
	return &Store{object: func(key string) object { return &fakeObject{b: b, key: key} }}, b
}

func TestStore_PutGetDelete(t *testing.T) {
	s, b := newFakeStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "alice/ezjmgtws/doc.txt", []byte("sealed")))
	assert.Equal(t, []byte("sealed"), b.objects["alice/ezjmgtws/doc.txt"])

	got, err := s.Get(ctx, "alice/ezjmgtws/doc.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed"), got)

	require.NoError(t, s.Delete(ctx, "alice/ezjmgtws/doc.txt"))
	assert.Empty(t, b.objects)
}

func TestStore_MissingObject(t *testing.T) {
	s, _ := newFakeStore()

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
	assert.NoError(t, s.Delete(context.Background(), "nope"))
}

func TestStore_BackendErrors(t *testing.T) {
	s, b := newFakeStore()
	boom := errors.New("googleapi: Error 503: backend unavailable")
	b.readErr, b.writeErr, b.delErr = boom, boom, boom

	err := s.Put(context.Background(), "k", []byte("x"))
	assert.ErrorIs(t, err, boom)

	_, err = s.Get(context.Background(), "k")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, blobstore.ErrNotFound)

	assert.ErrorIs(t, s.Delete(context.Background(), "k"), boom)
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), "", "")
	assert.Error(t, err)
}

func TestStore_CloseWithoutClient(t *testing.T) {
	s, _ := newFakeStore()
	assert.NoError(t, s.Close())
}
