package review

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectConfig locates the queue document in an S3 compatible bucket.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Bucket    string
	Key       string
}

// objectClient reads an object with its ETag and writes it conditionally:
// an empty etag means the object must not exist yet.
type objectClient interface {
	get(ctx context.Context, bucket, key string) ([]byte, string, error)
	put(ctx context.Context, bucket, key string, data []byte, etag string) error
}

var (
	errNoObject = errors.New("object does not exist")
	errConflict = errors.New("object changed since read")
)

const maxUpdateAttempts = 8

// ObjectStore keeps the queue as a single object. Every save uploads the
// whole document, conditional on the ETag that was read, so concurrent
// writers retry instead of overwriting each other.
type ObjectStore struct {
	client objectClient
	bucket string
	key    string
}

// NewObjectStore connects to the bucket and creates it when missing.
func NewObjectStore(ctx context.Context, cfg ObjectConfig) (*ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	key := cfg.Key
	if key == "" {
		key = "reviews.json"
	}
	return &ObjectStore{client: minioClient{client}, bucket: cfg.Bucket, key: key}, nil
}

func (s *ObjectStore) Load(ctx context.Context) ([]Item, error) {
	items, _, err := s.read(ctx)
	return items, err
}

func (s *ObjectStore) read(ctx context.Context) ([]Item, string, error) {
	data, etag, err := s.client.get(ctx, s.bucket, s.key)
	if errors.Is(err, errNoObject) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("load review queue %s/%s: %w", s.bucket, s.key, err)
	}
	items, err := decodeItems(data)
	if err != nil {
		return nil, "", err
	}
	return items, etag, nil
}

func (s *ObjectStore) Update(ctx context.Context, fn func(items []Item) ([]Item, error)) error {
	for attempt := 1; ; attempt++ {
		items, etag, err := s.read(ctx)
		if err != nil {
			return err
		}
		updated, err := fn(items)
		if errors.Is(err, errNoChange) {
			return nil
		}
		if err != nil {
			return err
		}
		data, err := encodeItems(updated)
		if err != nil {
			return err
		}
		err = s.client.put(ctx, s.bucket, s.key, data, etag)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errConflict) || attempt >= maxUpdateAttempts {
			return fmt.Errorf("save review queue %s/%s: %w", s.bucket, s.key, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

type minioClient struct {
	c *minio.Client
}

func (m minioClient) get(ctx context.Context, bucket, key string) ([]byte, string, error) {
	obj, err := m.c.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", mapObjectErr(err)
	}
	defer obj.Close()
	info, err := obj.Stat()
	if err != nil {
		return nil, "", mapObjectErr(err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", mapObjectErr(err)
	}
	return data, info.ETag, nil
}

func (m minioClient) put(ctx context.Context, bucket, key string, data []byte, etag string) error {
	opts := minio.PutObjectOptions{ContentType: "application/json"}
	if etag == "" {
		opts.SetMatchETagExcept("*")
	} else {
		opts.SetMatchETag(etag)
	}
	_, err := m.c.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), opts)
	return mapObjectErr(err)
}

func mapObjectErr(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case minio.NoSuchKey:
		return errNoObject
	case minio.PreconditionFailed:
		return errConflict
	}
	return err
}
