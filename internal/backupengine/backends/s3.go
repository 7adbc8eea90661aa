package backends

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Backend replicates archives to an S3-compatible bucket. A custom
// Endpoint targets MinIO, Wasabi and friends; when set, path-style
// addressing is used.
type S3Backend struct {
	Endpoint        string
	Bucket          string
	Prefix          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// Type returns the backend identifier.
func (b *S3Backend) Type() string { return "s3" }

// Validate checks if the configuration is valid.
func (b *S3Backend) Validate() error {
	if b.Bucket == "" {
		return errors.New("s3 backend: bucket is required")
	}
	if b.AccessKeyID == "" || b.SecretAccessKey == "" {
		return errors.New("s3 backend: credentials are required")
	}
	return nil
}

// Store archives the backup directory and uploads it to
// s3://<bucket>/<prefix>/<backupID>.tar.gz.
func (b *S3Backend) Store(ctx context.Context, backupID, dir string) (string, error) {
	uploader, err := b.uploader(ctx)
	if err != nil {
		return "", err
	}

	key := backupID + ".tar.gz"
	if b.Prefix != "" {
		key = strings.TrimSuffix(b.Prefix, "/") + "/" + key
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(archiveDir(dir, pw))
	}()

	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(key),
		Body:   pr,
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", b.Bucket, key), nil
}

func (b *S3Backend) uploader(ctx context.Context) (*manager.Uploader, error) {
	region := b.Region
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			b.AccessKeyID,
			b.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if b.Endpoint != "" {
		scheme := "http"
		if b.UseSSL {
			scheme = "https"
		}
		endpoint := strings.TrimPrefix(b.Endpoint, "http://")
		endpoint = strings.TrimPrefix(endpoint, "https://")
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(fmt.Sprintf("%s://%s", scheme, endpoint))
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(cfg, clientOpts...)
	return manager.NewUploader(client), nil
}
