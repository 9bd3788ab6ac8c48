package storage

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/roach88/ripple/internal/fault"
)

// S3Config configures an S3-protocol store.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
}

// S3 is a Backend over an S3-protocol object store.
type S3 struct {
	client *s3.S3
	bucket string
	prefix string
}

// NewS3 creates an S3 store. Credentials are static; the endpoint is
// explicit, so path-style addressing is forced (bucket-named virtual hosts
// are not compatible with explicit endpoints).
func NewS3(cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fault.New(fault.Config, "s3 store requires a bucket")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fault.New(fault.Config, "s3 store requires access and secret keys")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsConfig := aws.NewConfig().
		WithRegion(region).
		WithCredentials(credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""))
	if cfg.Endpoint != "" {
		awsConfig = awsConfig.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fault.Wrap(fault.Config, err, "construct s3 session")
	}
	return &S3{client: s3.New(sess), bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// List implements Backend.
func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(prefix)),
	}
	err := s.client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				keys = append(keys, strings.TrimPrefix(aws.StringValue(obj.Key), s.prefix))
			}
			return true
		})
	if err != nil {
		return nil, fault.Wrap(fault.Transport, err, "list %q", prefix)
	}
	return keys, nil
}

// Get implements Backend.
func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchKey, "NotFound":
				return nil, ErrNotFound
			}
		}
		return nil, fault.Wrap(fault.Transport, err, "get %q", key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fault.Wrap(fault.Transport, err, "read %q", key)
	}
	return data, nil
}

// Put implements Backend.
func (s *S3) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fault.Wrap(fault.Transport, err, "put %q", key)
	}
	return nil
}

// Delete implements Backend.
func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		return fault.Wrap(fault.Transport, err, "delete %q", key)
	}
	return nil
}

func (s *S3) key(key string) string {
	return s.prefix + key
}
