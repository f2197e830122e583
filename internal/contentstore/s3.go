package contentstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"dvault/internal/dv"
)

// S3Client is the subset of *s3.Client the store uses.
type S3Client interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Options configures an S3Store.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // custom endpoint (MinIO etc.); enables path-style addressing
	AccessKey string
	SecretKey string
	BaseURL   string // prefixes URL results; defaults to s3://<bucket>/<prefix>
	Hash      HashAlgorithm
}

// S3Store is a dv.ContentStore on an S3-compatible bucket.
// Objects are keyed <prefix>/<address>.
type S3Store struct {
	client   S3Client
	uploader *manager.Uploader
	opts     S3Options
	tempDir  string
}

var _ dv.ContentStore = (*S3Store)(nil)

// NewS3Store loads AWS configuration and creates a store for opts.Bucket.
// Static credentials are used when both keys are set; otherwise the default
// credential chain applies.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 content store requires s3_bucket to be set")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3StoreWithClient(client, opts), nil
}

// NewS3StoreWithClient creates a store around an existing client.
func NewS3StoreWithClient(client S3Client, opts S3Options) *S3Store {
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		opts:     opts,
		tempDir:  os.TempDir(),
	}
}

// Put spools r to a temp file while hashing it, then uploads it under its
// address unless an object with that key already exists.
func (s *S3Store) Put(ctx context.Context, r io.Reader, size int64, name string) (string, error) {
	spool, err := os.CreateTemp(s.tempDir, "dvault-s3-*")
	if err != nil {
		return "", fmt.Errorf("failed to create spool file: %w", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	hr := newHashingReader(r, s.opts.Hash)
	if _, err := io.Copy(spool, hr); err != nil {
		return "", fmt.Errorf("failed to spool content: %w", err)
	}
	if err := checkSize(size, hr.n); err != nil {
		return "", err
	}
	cid := hr.address()
	key := s.key(cid)

	exists, err := s.exists(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		return cid, nil
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind spool file: %w", err)
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.opts.Bucket),
		Key:           aws.String(key),
		Body:          spool,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	return cid, nil
}

func (s *S3Store) Resolve(ctx context.Context, cid string) (io.ReadCloser, error) {
	key := s.key(cid)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrContentNotFound, cid)
		}
		return nil, fmt.Errorf("getting %s: %w", key, err)
	}
	return out.Body, nil
}

func (s *S3Store) URL(cid string) string {
	if s.opts.BaseURL != "" {
		return joinURL(s.opts.BaseURL, cid)
	}
	return "s3://" + s.opts.Bucket + "/" + s.key(cid)
}

func (s *S3Store) key(cid string) string {
	if s.opts.Prefix == "" {
		return cid
	}
	return path.Join(s.opts.Prefix, cid)
}

func (s *S3Store) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, fmt.Errorf("checking %s: %w", key, err)
}
