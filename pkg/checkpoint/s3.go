package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/logsift/logsift/pkg/errors"
)

// S3Config configures the s3 checkpoint backend.
type S3Config struct {
	Bucket string
	Prefix string
	Region string

	// Endpoint overrides the default endpoint, for MinIO and LocalStack.
	Endpoint string

	// Static credentials. The default AWS chain applies when empty.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// UsePathStyle forces path-style addressing for S3-compatible stores.
	UsePathStyle bool

	// Timeout bounds each operation.
	Timeout time.Duration
}

// DefaultS3Config returns the defaults for the given bucket.
func DefaultS3Config(bucket string) S3Config {
	return S3Config{
		Bucket:  bucket,
		Prefix:  "checkpoints/",
		Timeout: 30 * time.Second,
	}
}

// S3Backend stores states in an s3 bucket, for runs on hosts with no
// durable local disk.
type S3Backend struct {
	cfg    S3Config
	client *s3.Client
}

// NewS3Backend builds the client from the AWS config chain plus any
// overrides in cfg.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeCheckpoint, "load aws config")
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3Backend{
		cfg:    cfg,
		client: s3.NewFromConfig(awsCfg, s3Opts...),
	}, nil
}

func (b *S3Backend) key(id string) string {
	return b.cfg.Prefix + id + ".json"
}

// Save implements Backend.
func (b *S3Backend) Save(ctx context.Context, st *State) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, errors.CodeCheckpoint, "marshal state")
	}
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.cfg.Bucket),
		Key:         aws.String(b.key(st.ID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeCheckpoint, "save state to s3").
			WithContext("bucket", b.cfg.Bucket).
			WithContext("id", st.ID)
	}
	return nil
}

// Load implements Backend.
func (b *S3Backend) Load(ctx context.Context, id string) (*State, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if stderrors.As(err, &noKey) {
			return nil, os.ErrNotExist
		}
		return nil, errors.Wrap(err, errors.CodeCheckpoint, "load state from s3").
			WithContext("bucket", b.cfg.Bucket).
			WithContext("id", id)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeCheckpoint, "read state body")
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.Wrap(err, errors.CodeCheckpoint, "decode state").
			WithContext("id", id)
	}
	return &st, nil
}

// Delete implements Backend.
func (b *S3Backend) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeCheckpoint, "delete state from s3").
			WithContext("bucket", b.cfg.Bucket).
			WithContext("id", id)
	}
	return nil
}

// Close implements Backend.
func (b *S3Backend) Close() error { return nil }

// Name implements Backend.
func (b *S3Backend) Name() string { return "s3" }
