package dump

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/fordpass-bridge/pkg/log"
	"github.com/autopeer-io/fordpass-bridge/pkg/options"
)

// dumpTimeout bounds a single upload.
const dumpTimeout = 10 * time.Second

// MinIO uploads payloads to an S3 compatible bucket.
type MinIO struct {
	client     *minio.Client
	bucketName string
	scope      Scope
	clock      clock.PassiveClock
}

// NewMinIO creates a dump sink on the S3 endpoint of opts.
func NewMinIO(opts *options.S3Options, scope Scope) (*MinIO, error) {
	minioOpts := &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	}
	if opts.InsecureSkipVerify {
		minioOpts.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	client, err := minio.New(opts.Endpoint, minioOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinIO{
		client:     client,
		bucketName: opts.BucketName,
		scope:      scope,
		clock:      clock.RealClock{},
	}, nil
}

// CheckBucket creates the bucket when it does not exist yet.
func (p *MinIO) CheckBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		log.Info("Bucket does not exist, creating...", "bucket", p.bucketName)
		if err := p.client.MakeBucket(ctx, p.bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (p *MinIO) Dump(ctx context.Context, kind string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dumpTimeout)
	defer cancel()

	body := indent(payload)
	name := ObjectName(p.scope, kind, p.clock.Now())
	_, err := p.client.PutObject(ctx, p.bucketName, name, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		log.Info("Failed to upload data dump", "bucket", p.bucketName, "object", name, "error", err.Error())
	}
}

var _ Sink = (*MinIO)(nil)
