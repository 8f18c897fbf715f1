package oauth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/joshp123/tado-exporter/internal/config"
)

// maxStateSize bounds what Load reads back; a token state is a few hundred bytes.
const maxStateSize = 64 << 10

var ErrBlobNotFound = errors.New("oauth blob not found")

// BlobStore mirrors the token state outside the local disk, so a rebuilt
// container does not need a new device activation.
type BlobStore interface {
	Load(ctx context.Context, provider string) ([]byte, error)
	Save(ctx context.Context, provider string, data []byte) error
}

// objectAPI is the part of *minio.Client the store uses.
type objectAPI interface {
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (*minio.Object, error)
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3Store keeps one JSON object per provider under <prefix>/<provider>.json.
type S3Store struct {
	api    objectAPI
	bucket string
	prefix string
}

func NewS3Store(cfg config.BlobConfig) (*S3Store, error) {
	if !cfg.Enabled() || strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("blob store needs TADO_TOKEN_BLOB_ENDPOINT and TADO_TOKEN_BLOB_BUCKET")
	}

	accessKey, err := readSecretFile(cfg.AccessKeyFile)
	if err != nil {
		return nil, fmt.Errorf("blob access key: %w", err)
	}
	secretKey, err := readSecretFile(cfg.SecretKeyFile)
	if err != nil {
		return nil, fmt.Errorf("blob secret key: %w", err)
	}

	host, secure, err := parseEndpoint(strings.TrimSpace(cfg.Endpoint))
	if err != nil {
		return nil, err
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return newS3Store(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Store(api objectAPI, bucket, prefix string) *S3Store {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = config.DefaultBlobPrefix
	}
	return &S3Store{api: api, bucket: strings.TrimSpace(bucket), prefix: prefix}
}

// Load returns ErrBlobNotFound when no state was mirrored yet.
func (s *S3Store) Load(ctx context.Context, provider string) ([]byte, error) {
	key := s.key(provider)
	info, err := s.api.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, s.wrapError(key, err)
	}
	if info.Size > maxStateSize {
		return nil, fmt.Errorf("blob %s is %d bytes, larger than %d", key, info.Size, maxStateSize)
	}

	obj, err := s.api.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrapError(key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, maxStateSize))
	if err != nil {
		return nil, s.wrapError(key, err)
	}
	return data, nil
}

func (s *S3Store) Save(ctx context.Context, provider string, data []byte) error {
	key := s.key(provider)
	_, err := s.api.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return s.wrapError(key, err)
	}
	return nil
}

func (s *S3Store) key(provider string) string {
	return path.Join(s.prefix, provider+".json")
}

func (s *S3Store) wrapError(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrBlobNotFound
	}
	return fmt.Errorf("s3 %s/%s: %w", s.bucket, key, err)
}

// parseEndpoint accepts a bare host[:port] (TLS) or an http(s) URL.
func parseEndpoint(raw string) (string, bool, error) {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return raw, true, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid endpoint: %q", raw)
	}
	return u.Host, u.Scheme == "https", nil
}

func readSecretFile(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("no file configured")
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return "", err
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("%s is empty", name)
	}
	return secret, nil
}
