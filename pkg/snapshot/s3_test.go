package snapshot

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObject struct {
	data []byte
	meta map[string]string
}

// fakeS3 implements S3API over a map keyed by "bucket/key".
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = fakeObject{data: data, meta: in.Metadata}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data)), Metadata: obj.meta}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src, ok := f.objects[aws.ToString(in.CopySource)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	meta := src.meta
	if in.MetadataDirective == types.MetadataDirectiveReplace {
		meta = in.Metadata
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = fakeObject{data: src.data, meta: meta}
	return &s3.CopyObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	exerciseStore(t, NewS3Store(newFakeS3(), S3Config{Bucket: "b", Prefix: "snap/"}))
}

func TestS3StoreExpiryFromMetadata(t *testing.T) {
	fake := newFakeS3()
	now := time.Unix(10_000, 0)
	store := NewS3Store(fake, S3Config{Bucket: "b", Now: func() time.Time { return now }})
	ctx := context.Background()

	store.Save(ctx, "a", []byte("x"), now.Add(time.Minute))
	if _, ok := fake.objects["b/a"].meta[expiresMetaKey]; !ok {
		t.Fatal("expected expiry metadata")
	}

	now = now.Add(2 * time.Minute)
	if data, _ := store.Load(ctx, "a"); data != nil {
		t.Errorf("expected expired object to read as missing, got %q", data)
	}

	store.Touch(ctx, "a", now.Add(time.Minute))
	if data, _ := store.Load(ctx, "a"); string(data) != "x" {
		t.Errorf("expected touch to revive the object, got %q", data)
	}
}

func TestNewS3Client(t *testing.T) {
	client := NewS3Client("eu-west-1", "http://localhost:9000", "key", "secret")
	opts := client.Options()
	if opts.Region != "eu-west-1" || !opts.UsePathStyle {
		t.Errorf("unexpected options region=%q pathStyle=%v", opts.Region, opts.UsePathStyle)
	}
	if !strings.HasPrefix(aws.ToString(opts.BaseEndpoint), "http://localhost") {
		t.Errorf("unexpected endpoint %v", opts.BaseEndpoint)
	}
	creds, err := opts.Credentials.Retrieve(context.Background())
	if err != nil || creds.AccessKeyID != "key" {
		t.Errorf("unexpected credentials %+v %v", creds, err)
	}
}
