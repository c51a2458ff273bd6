// Package s3 implements the storage port on S3-compatible object storage
// (AWS S3 or a MinIO endpoint).
package s3

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"transcoder/internal/ports"
)

// Options configures the shared S3 client.
type Options struct {
	// Endpoint is host:port or a full URL. Empty uses the AWS default.
	Endpoint  string
	UseSSL    bool
	Region    string
	AccessKey string
	SecretKey string
}

// NewClient builds an S3 client with static credentials. Path-style
// addressing is forced when a custom endpoint is given, as MinIO expects.
func NewClient(o Options) *awss3.Client {
	opts := awss3.Options{
		Region:      o.Region,
		Credentials: credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, ""),
	}
	if ep := endpointURL(o.Endpoint, o.UseSSL); ep != "" {
		opts.BaseEndpoint = aws.String(ep)
		opts.UsePathStyle = true
	}
	return awss3.New(opts)
}

func endpointURL(endpoint string, useSSL bool) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return ""
	}
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// Bucket is one S3 bucket behind ports.StorageProvider.
type Bucket struct {
	client   *awss3.Client
	uploader *manager.Uploader
	bucket   string
}

func New(client *awss3.Client, bucket string) *Bucket {
	return &Bucket{client: client, uploader: manager.NewUploader(client), bucket: bucket}
}

func (b *Bucket) Provider() string { return "s3" }

func (b *Bucket) Bucket() string { return b.bucket }

func (b *Bucket) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, fmt.Errorf("object_key is required")
	}
	input := &awss3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(in.ObjectKey),
		Body:   in.Reader,
	}
	if in.ContentType != "" {
		input.ContentType = aws.String(in.ContentType)
	}
	if _, err := b.uploader.Upload(ctx, input); err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("upload %s to bucket %s: %w", in.ObjectKey, b.bucket, err)
	}
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: in.Size}, nil
}

func (b *Bucket) GetObject(ctx context.Context, objectKey string) (io.ReadCloser, int64, error) {
	out, err := b.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("get %s from bucket %s: %w", objectKey, b.bucket, err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

func (b *Bucket) DeleteObject(ctx context.Context, objectKey string) error {
	_, err := b.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	})
	return err
}

// Ping checks the bucket exists and is reachable with the configured credentials.
func (b *Bucket) Ping(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	return err
}
