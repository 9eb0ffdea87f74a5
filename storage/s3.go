package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/ruteri/ipfs-orchestrator/config"
	"github.com/ruteri/ipfs-orchestrator/interfaces"
	"github.com/ruteri/ipfs-orchestrator/metrics"
	"go.uber.org/atomic"
)

// cidMetadataHeader is how S3 returns the "cid" object metadata.
const cidMetadataHeader = "x-amz-meta-cid"

var _ interfaces.Mirror = (*S3Mirror)(nil)

// S3Mirror copies content to an S3-compatible bucket under its CID.
//
// The SDK client is created on first use and dropped after a transport
// failure, so the next call starts from a fresh connection pool.
type S3Mirror struct {
	cfg     config.S3Config
	prefix  string
	policy  *RetryPolicy
	metrics *metrics.Metrics
	log     *slog.Logger

	handle atomic.Pointer[s3Handle]
	newAPI func() (s3iface.S3API, error)
}

type s3Handle struct {
	api s3iface.S3API
}

// S3MirrorOption configures an S3Mirror.
type S3MirrorOption func(*S3Mirror)

// WithS3API replaces the SDK client factory.
func WithS3API(factory func() (s3iface.S3API, error)) S3MirrorOption {
	return func(m *S3Mirror) {
		m.newAPI = factory
	}
}

// NewS3Mirror creates a mirror for cfg. No connection is made until the first call.
func NewS3Mirror(cfg config.S3Config, policy *RetryPolicy, m *metrics.Metrics, log *slog.Logger, opts ...S3MirrorOption) (*S3Mirror, error) {
	if cfg.BucketName == "" {
		return nil, &interfaces.ConfigurationError{Field: "s3.bucket_name", Reason: "required when the mirror is enabled"}
	}
	if policy == nil {
		policy = &RetryPolicy{MaxAttempts: 1}
	}
	if log == nil {
		log = slog.Default()
	}

	mirror := &S3Mirror{
		cfg:     cfg,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		policy:  policy,
		metrics: m,
		log:     log.With(slog.String("backend", "s3-"+cfg.BucketName)),
	}
	mirror.newAPI = func() (s3iface.S3API, error) {
		return newS3Client(cfg, mirror.log)
	}
	for _, opt := range opts {
		opt(mirror)
	}
	return mirror, nil
}

func newS3Client(cfg config.S3Config, log *slog.Logger) (s3iface.S3API, error) {
	awsCfg := aws.NewConfig().
		WithRegion(cfg.Region).
		WithS3ForcePathStyle(true).
		WithHTTPClient(cleanhttp.DefaultPooledClient()).
		WithMaxRetries(0)

	if cfg.EndpointURL != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.EndpointURL)
	}

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""))
	} else {
		awsCfg = awsCfg.WithCredentials(credentials.AnonymousCredentials)
		log.Warn("No S3 credentials provided - uploads will fail unless the bucket is public writable")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return s3.New(sess), nil
}

// Put uploads data under the key derived from id. id must be a valid CID.
func (m *S3Mirror) Put(ctx context.Context, id interfaces.ContentID, data []byte) (interfaces.ContentID, error) {
	start := time.Now()

	parsed, err := cid.Decode(id.String())
	if err != nil {
		return "", &interfaces.MirrorUploadError{Op: "put", Key: id.String(), Err: fmt.Errorf("invalid CID: %w", err)}
	}
	key := m.objectKey(id)

	var echoed string
	attempts, err := m.policy.Do(ctx, func() error {
		h, err := m.acquire()
		if err != nil {
			return err
		}
		_, err = h.api.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(m.cfg.BucketName),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			Metadata: map[string]*string{
				"cid":         aws.String(id.String()),
				"cid-version": aws.String(strconv.FormatUint(parsed.Version(), 10)),
			},
		}, request.WithGetResponseHeader(cidMetadataHeader, &echoed))
		if err != nil {
			m.invalidate(h, err)
		}
		return err
	}, m.notify("put", key))
	if err != nil {
		m.log.Error("Failed to upload object to S3",
			slog.String("key", key),
			slog.Int("attempts", attempts),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return "", &interfaces.MirrorUploadError{Op: "put", Key: key, Attempts: attempts, Err: err}
	}

	if echoed != "" && echoed != id.String() {
		m.log.Warn("S3 acknowledged a different CID than the uploaded key",
			slog.String("key", key),
			slog.String("cid", id.String()),
			slog.String("acknowledged_cid", echoed))
	}

	if derived, err := DeriveCID(data); err == nil && derived != id {
		// Chunked or non-raw content hashes differently from its bytes.
		m.log.Debug("Mirrored CID differs from single-block CID",
			slog.String("cid", id.String()),
			slog.String("raw_cid", derived.String()))
	}

	m.log.Debug("Stored content in S3",
		slog.String("key", key),
		slog.Int("size", len(data)),
		slog.Int("attempts", attempts),
		slog.Duration("duration", time.Since(start)))

	return id, nil
}

// PutDerived uploads data under the raw CIDv1 computed from its bytes.
func (m *S3Mirror) PutDerived(ctx context.Context, data []byte) (interfaces.ContentID, error) {
	id, err := DeriveCID(data)
	if err != nil {
		return "", err
	}
	return m.Put(ctx, id, data)
}

// Delete removes the object stored under id.
func (m *S3Mirror) Delete(ctx context.Context, id interfaces.ContentID) error {
	start := time.Now()
	key := m.objectKey(id)

	attempts, err := m.policy.Do(ctx, func() error {
		h, err := m.acquire()
		if err != nil {
			return err
		}
		_, err = h.api.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.BucketName),
			Key:    aws.String(key),
		})
		if err != nil {
			m.invalidate(h, err)
		}
		return err
	}, m.notify("delete", key))
	if err != nil {
		return &interfaces.MirrorUploadError{Op: "delete", Key: key, Attempts: attempts, Err: err}
	}

	m.log.Debug("Deleted content from S3",
		slog.String("key", key),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Available checks if the bucket is reachable by heading it.
func (m *S3Mirror) Available(ctx context.Context) bool {
	h, err := m.acquire()
	if err != nil {
		m.log.Warn("S3 mirror unavailable", "err", err)
		return false
	}

	_, err = h.api.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(m.cfg.BucketName),
	})
	if err != nil {
		m.invalidate(h, err)
		m.log.Warn("S3 mirror unavailable", "err", err)
		return false
	}
	return true
}

// Name returns identifier for logging.
func (m *S3Mirror) Name() string {
	return "s3-" + m.cfg.BucketName
}

func (m *S3Mirror) objectKey(id interfaces.ContentID) string {
	if m.prefix == "" {
		return id.String()
	}
	return path.Join(m.prefix, id.String())
}

func (m *S3Mirror) acquire() (*s3Handle, error) {
	if h := m.handle.Load(); h != nil {
		return h, nil
	}

	api, err := m.newAPI()
	if err != nil {
		return nil, err
	}
	h := &s3Handle{api: api}
	if m.handle.CompareAndSwap(nil, h) {
		return h, nil
	}
	if current := m.handle.Load(); current != nil {
		return current, nil
	}
	return h, nil
}

// invalidate drops h unless err is a request the SDK rejected before sending.
func (m *S3Mirror) invalidate(h *s3Handle, err error) {
	if isValidationError(err) {
		return
	}
	if m.handle.CompareAndSwap(h, nil) {
		m.log.Debug("Reset S3 client", "err", err)
	}
}

func (m *S3Mirror) notify(op, key string) func(error, time.Duration, int) {
	return func(err error, next time.Duration, attempt int) {
		m.metrics.Retried()
		m.log.Warn("Retrying S3 "+op,
			slog.String("key", key),
			slog.Int("attempt", attempt),
			slog.Duration("next", next),
			"err", err)
	}
}

// DeriveCID computes the CIDv1 of data as a single raw block hashed with sha2-256.
func DeriveCID(data []byte) (interfaces.ContentID, error) {
	prefix := cid.Prefix{
		Version:  1,
		Codec:    cid.Raw,
		MhType:   mh.SHA2_256,
		MhLength: -1,
	}
	c, err := prefix.Sum(data)
	if err != nil {
		return "", fmt.Errorf("failed to derive CID: %w", err)
	}
	return interfaces.ContentID(c.String()), nil
}
