package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// expiresMetaKey is the object metadata entry holding the expiry as unix
// seconds.
const expiresMetaKey = "livetree-expires"

// S3API is the subset of *s3.Client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// S3Config locates the bucket holding snapshots.
type S3Config struct {
	Bucket string
	Prefix string
	Now    func() time.Time
}

// S3Store keeps each snapshot as one object. S3 has no per-object TTL, so
// the expiry is stored in metadata and checked on Load; a bucket lifecycle
// rule should reap old objects.
type S3Store struct {
	client S3API
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Client builds an S3 client for a static key pair. Endpoint may point
// at any S3-compatible service; path-style addressing is used when it is set.
func NewS3Client(region, endpoint, accessKey, secretKey string) *s3.Client {
	opts := s3.Options{
		Region: region,
		Credentials: aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: accessKey, SecretAccessKey: secretKey, Source: "livetree"}, nil
		}),
	}
	if endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

// NewS3Store wraps client.
func NewS3Store(client S3API, cfg S3Config) *S3Store {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, now: now}
}

func (s *S3Store) key(id string) string {
	return s.prefix + id
}

// Save implements Store.
func (s *S3Store) Save(ctx context.Context, id string, data []byte, expiresAt time.Time) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(id)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/msgpack"),
		Metadata:    map[string]string{expiresMetaKey: strconv.FormatInt(expiresAt.Unix(), 10)},
	})
	if err != nil {
		return fmt.Errorf("snapshot: s3 put: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *S3Store) Load(ctx context.Context, id string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot: s3 get: %w", err)
	}
	defer out.Body.Close()

	if s.expired(out.Metadata) {
		return nil, nil
	}
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("snapshot: s3 read: %w", err)
	}
	return data, nil
}

func (s *S3Store) expired(meta map[string]string) bool {
	raw, ok := meta[expiresMetaKey]
	if !ok {
		return false
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return true
	}
	return s.now().After(time.Unix(unix, 0))
}

// Delete implements Store.
func (s *S3Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return fmt.Errorf("snapshot: s3 delete: %w", err)
	}
	return nil
}

// Touch implements Store by copying the object onto itself with new
// metadata.
func (s *S3Store) Touch(ctx context.Context, id string, expiresAt time.Time) error {
	key := s.key(id)
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(s.bucket + "/" + key),
		MetadataDirective: types.MetadataDirectiveReplace,
		Metadata:          map[string]string{expiresMetaKey: strconv.FormatInt(expiresAt.Unix(), 10)},
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil
		}
		return fmt.Errorf("snapshot: s3 touch: %w", err)
	}
	return nil
}

// Close implements Store. The client holds no resources of its own.
func (s *S3Store) Close() error {
	return nil
}
