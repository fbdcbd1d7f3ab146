package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"ledger-backend/internal/shared/storage/object"
	"ledger-backend/internal/shared/util"
)

const digestMetadataKey = "sha256"

// API is the subset of the S3 client the store needs.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store implements ObjectStore using Amazon S3.
type Store struct {
	client   API
	bucket   string
	prefix   string
	kmsKeyID string
	baseURL  string
	newID    func() string
}

// Options configures an S3-backed store.
type Options struct {
	Region          string
	Bucket          string
	Prefix          string
	KMSKeyID        string
	BaseURL         string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// New creates a new S3-backed object store. Static credentials are used when
// both keys are set; otherwise the default AWS credential chain applies.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, opts.Bucket, opts.Prefix, opts.KMSKeyID, opts.BaseURL), nil
}

// NewWithClient builds a store around an existing client.
func NewWithClient(client API, bucket, prefix, kmsKeyID, baseURL string) *Store {
	return &Store{
		client:   client,
		bucket:   bucket,
		prefix:   normalizePrefix(prefix),
		kmsKeyID: strings.TrimSpace(kmsKeyID),
		baseURL:  baseURL,
		newID:    uuid.NewString,
	}
}

// Save buffers the upload to compute its digest, then writes it with
// If-None-Match so an existing key is never replaced.
func (s *Store) Save(ctx context.Context, fileName string, r io.Reader) (object.Object, error) {
	sanitizedName, err := util.SanitizeFileName(fileName)
	if err != nil {
		return object.Object{}, fmt.Errorf("sanitize file name: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return object.Object{}, err
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return object.Object{}, fmt.Errorf("%w: read body: %w", object.ErrIO, err)
	}
	if buf.Len() == 0 {
		return object.Object{}, object.ErrEmptyContent
	}
	content := buf.Bytes()

	sniff := content
	if len(sniff) > 512 {
		sniff = sniff[:512]
	}
	mimeType := http.DetectContentType(sniff)
	digest := util.DigestBytes(content)

	key := fmt.Sprintf("%s_%s", s.newID(), sanitizedName)
	objectKey := applyPrefix(s.prefix, key)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(mimeType),
		IfNoneMatch: aws.String("*"),
		Metadata: map[string]string{
			digestMetadataKey:   digest,
			"original-filename": sanitizedName,
		},
	}
	if s.kmsKeyID != "" {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAwsKms
		input.SSEKMSKeyId = aws.String(s.kmsKeyID)
	} else {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return object.Object{}, fmt.Errorf("%w: s3 put object bucket=%s key=%s: %w", object.ErrIO, s.bucket, objectKey, err)
	}

	return object.Object{
		Key:              key,
		OriginalFileName: sanitizedName,
		Digest:           digest,
		SizeBytes:        int64(len(content)),
		MimeType:         mimeType,
	}, nil
}

// Remove downloads and hashes the object, then deletes it.
func (s *Store) Remove(ctx context.Context, key string) (string, error) {
	if !util.ValidStorageKey(key) {
		return "", object.ErrInvalidKey
	}
	body, err := s.Open(ctx, key)
	if err != nil {
		return "", err
	}
	digest, _, err := util.DigestReader(body)
	_ = body.Close()
	if err != nil {
		return "", fmt.Errorf("%w: %w", object.ErrIO, err)
	}

	objectKey := applyPrefix(s.prefix, key)
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	}); err != nil {
		return "", fmt.Errorf("%w: s3 delete object bucket=%s key=%s: %w", object.ErrIO, s.bucket, objectKey, err)
	}
	return digest, nil
}

// Exists issues a HEAD request for key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if !util.ValidStorageKey(key) {
		return false, object.ErrInvalidKey
	}
	objectKey := applyPrefix(s.prefix, key)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: s3 head object bucket=%s key=%s: %w", object.ErrIO, s.bucket, objectKey, err)
	}
	return true, nil
}

// Open downloads a stored object for reading.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if !util.ValidStorageKey(key) {
		return nil, object.ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	objectKey := applyPrefix(s.prefix, key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, object.ErrNotFound
		}
		return nil, fmt.Errorf("%w: s3 get object bucket=%s key=%s: %w", object.ErrIO, s.bucket, objectKey, err)
	}
	return out.Body, nil
}

// URL returns the public locator of key; bytes are streamed through the API.
func (s *Store) URL(key string) string {
	return object.FileURL(s.baseURL, key)
}

func isNotFound(err error) bool {
	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *s3types.NotFound
	return errors.As(err, &notFound)
}

func normalizePrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), "/")
}

func applyPrefix(prefix, key string) string {
	cleanPrefix := strings.Trim(prefix, "/")
	cleanKey := strings.TrimLeft(key, "/")
	if cleanPrefix == "" {
		return cleanKey
	}
	if cleanKey == "" {
		return cleanPrefix
	}
	return cleanPrefix + "/" + cleanKey
}

var _ object.ObjectStore = (*Store)(nil)
