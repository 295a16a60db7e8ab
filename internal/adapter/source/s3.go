package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/driftlake/intake/internal/domain"
)

// S3Config carries the object-store connection settings. BaseEndpoint
// and path-style addressing support minio-compatible deployments.
type S3Config struct {
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
}

// S3Factory serves s3://bucket/key URLs. The client is built once, on
// first use.
type S3Factory struct {
	cfg S3Config

	mu     sync.Mutex
	client *s3.Client
}

func NewS3Factory(cfg S3Config) *S3Factory {
	return &S3Factory{cfg: cfg}
}

func (f *S3Factory) Name() string { return "s3" }

func (f *S3Factory) Match(u *url.URL) bool {
	return u.Scheme == "s3"
}

func (f *S3Factory) New(u *url.URL) (domain.Source, error) {
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: s3 URL needs bucket and key: %q", domain.ErrInvalidURL, u.String())
	}
	client, err := f.getClient()
	if err != nil {
		return nil, err
	}
	return &s3Source{client: client, bucket: bucket, key: key}, nil
}

func (f *S3Factory) getClient() (*s3.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client != nil {
		return f.client, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(f.cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			f.cfg.AccessKey,
			f.cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	f.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if f.cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(f.cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	})
	return f.client, nil
}

type s3Source struct {
	client *s3.Client
	bucket string
	key    string
}

func (s *s3Source) Probe(ctx context.Context) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: head s3://%s/%s: %v", domain.ErrTransport, s.bucket, s.key, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (s *s3Source) Open(ctx context.Context, offset int64) (io.ReadCloser, int64, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	}
	if offset > 0 {
		in.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}

	out, err := s.client.GetObject(ctx, in)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: get s3://%s/%s: %v", domain.ErrTransport, s.bucket, s.key, err)
	}
	return out.Body, offset, nil
}
