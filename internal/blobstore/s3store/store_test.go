package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/geocrypt/internal/blobstore"
)

type fakeS3 struct {
	objects map[string][]byte
	err     error

	lastPut *s3.PutObjectInput
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastPut = in
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestStore_PutGetDelete(t *testing.T) {
	fake := newFakeS3()
	s := New(fake, "geocrypt-files")
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "alice/ezjmgtws/doc.txt", []byte("sealed")))
	assert.Equal(t, int64(6), aws.ToInt64(fake.lastPut.ContentLength))
	assert.Contains(t, fake.objects, "geocrypt-files/alice/ezjmgtws/doc.txt")

	got, err := s.Get(ctx, "alice/ezjmgtws/doc.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed"), got)

	require.NoError(t, s.Delete(ctx, "alice/ezjmgtws/doc.txt"))
	_, err = s.Get(ctx, "alice/ezjmgtws/doc.txt")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStore_ErrorMapping(t *testing.T) {
	notFound404 := &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusNotFound}},
			Err:      errors.New("not found"),
		},
	}
	forbidden := &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusForbidden}},
			Err:      errors.New("forbidden"),
		},
	}

	tests := []struct {
		name         string
		err          error
		wantNotFound bool
	}{
		{"typed NoSuchKey", &types.NoSuchKey{}, true},
		{"generic api NotFound", &smithy.GenericAPIError{Code: "NotFound"}, true},
		{"http 404", notFound404, true},
		{"http 403", forbidden, false},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"network", errors.New("dial tcp: connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeS3()
			fake.err = tt.err
			s := New(fake, "b")

			_, err := s.Get(context.Background(), "k")
			require.Error(t, err)
			assert.Equal(t, tt.wantNotFound, errors.Is(err, blobstore.ErrNotFound))

			delErr := s.Delete(context.Background(), "k")
			if tt.wantNotFound {
				assert.NoError(t, delErr)
			} else {
				assert.Error(t, delErr)
			}
		})
	}
}

func TestNewFromConfig_UsesPathStyleForCustomEndpoint(t *testing.T) {
	oldLoad, oldNew := loadDefaultAWSConfig, newS3ClientFromConfig
	t.Cleanup(func() { loadDefaultAWSConfig, newS3ClientFromConfig = oldLoad, oldNew })

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		var lo config.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		assert.Equal(t, "us-east-1", lo.Region)
		creds, err := lo.Credentials.Retrieve(ctx)
		require.NoError(t, err)
		assert.Equal(t, "admin", creds.AccessKeyID)
		return aws.Config{Region: lo.Region}, nil
	}

	var opts s3.Options
	newS3ClientFromConfig = func(_ aws.Config, optFns ...func(*s3.Options)) API {
		for _, fn := range optFns {
			fn(&opts)
		}
		return newFakeS3()
	}

	s, err := NewFromConfig(context.Background(), Config{
		Bucket:       "geocrypt-files",
		Region:       "us-east-1",
		AccessKey:    "admin",
		SecretKey:    "secretpassword",
		BaseEndpoint: "http://127.0.0.1:9000/",
	})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "http://127.0.0.1:9000/", aws.ToString(opts.BaseEndpoint))
	assert.True(t, opts.UsePathStyle)
}

func TestNewFromConfig_Errors(t *testing.T) {
	_, err := NewFromConfig(context.Background(), Config{})
	assert.Error(t, err)

	oldLoad := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = oldLoad })
	loadDefaultAWSConfig = func(context.Context, ...func(*config.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("boom")
	}
	_, err = NewFromConfig(context.Background(), Config{Bucket: "b"})
	assert.ErrorContains(t, err, "boom")
}
