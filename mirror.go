package metadump

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// WrapS3 slightly wraps I/O around our S3 store, used to mirror finished
// dump files.
type WrapS3 struct {
	Client        *minio.Client
	DefaultBucket string
}

// WrapS3Options mostly contains pass through options for the minio client.
type WrapS3Options struct {
	AccessKey     string
	SecretKey     string
	DefaultBucket string
	UseSSL        bool
}

func NewWrapS3(endpoint string, opts *WrapS3Options) (*WrapS3, error) {
	client, err := minio.New(endpoint,
		&minio.Options{
			Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
			Secure: opts.UseSSL,
		},
	)
	if err != nil {
		return nil, err
	}
	return &WrapS3{
		Client:        client,
		DefaultBucket: opts.DefaultBucket,
	}, nil
}

// DumpObjectName returns the object path for a publisher dump taken at a
// given time, e.g. dump/pub-1/20260102T150405.json.
func DumpObjectName(publisherID string, t time.Time) string {
	return fmt.Sprintf("dump/%s/%s.json", publisherID, t.UTC().Format("20060102T150405"))
}

// MirrorDump uploads a finished dump file to the bucket and returns the
// object name. The bucket is created if it does not exist yet.
func (wrap *WrapS3) MirrorDump(ctx context.Context, bucket, object, filename string) (string, error) {
	if bucket == "" {
		bucket = wrap.DefaultBucket
	}
	ok, err := wrap.Client.BucketExists(ctx, bucket)
	if err != nil {
		return "", err
	}
	if !ok {
		if err := wrap.Client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return "", err
		}
	}
	_, err = wrap.Client.FPutObject(ctx, bucket, object, filename, minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", err
	}
	return object, nil
}

// GetDump retrieves a previously mirrored dump into a local file.
func (wrap *WrapS3) GetDump(ctx context.Context, bucket, object, filename string) error {
	if bucket == "" {
		bucket = wrap.DefaultBucket
	}
	return wrap.Client.FGetObject(ctx, bucket, object, filename, minio.GetObjectOptions{})
}
