package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"rawdiag/config"
	"rawdiag/forensic"
)

// Uploader puts reports into one bucket.
type Uploader struct {
	mc     *minio.Client
	bucket string
}

func NewUploader(cfg config.S3Config) (*Uploader, error) {
	if !cfg.Enabled() {
		return nil, errors.New("s3 endpoint and bucket must be set")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}
	return &Uploader{mc: mc, bucket: cfg.Bucket}, nil
}

// Bucket is the destination bucket.
func (u *Uploader) Bucket() string { return u.bucket }

// EnsureBucket creates the bucket when it does not exist yet.
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	ok, err := u.mc.BucketExists(ctx, u.bucket)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return u.mc.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{})
}

// ObjectKey is where the JSON rendition of r is stored.
func ObjectKey(r *forensic.Report) string {
	return "reports/" + BaseName(r) + ".json"
}

// UploadReport stores r as JSON and returns the object key.
func (u *Uploader) UploadReport(ctx context.Context, r *forensic.Report) (string, error) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, r); err != nil {
		return "", err
	}
	key := ObjectKey(r)
	_, err := u.mc.PutObject(ctx, u.bucket, key, &buf, int64(buf.Len()), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"report-id": r.ID,
			"device":    r.Device.Path,
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}

// UploadFile stores a local file under key.
func (u *Uploader) UploadFile(ctx context.Context, key, path, contentType string) error {
	_, err := u.mc.FPutObject(ctx, u.bucket, key, path, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}
