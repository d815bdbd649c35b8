package shard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/jcdickinson/implindex/internal/config"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"
)

// ErrNotExist is returned by sources when a shard path has no body.
var ErrNotExist = errors.New("shard does not exist")

// Source serves raw shard bodies by path relative to the docs root.
type Source interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
	// Location names where a path lives, for cache keys and logs.
	Location(path string) string
}

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// decompress inflates zstd frames and passes anything else through.
func decompress(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zstdMagic) {
		return data, nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing shard: %w", err)
	}
	return out, nil
}

// cleanPath normalizes a shard path and refuses to leave the docs root.
func cleanPath(p string) (string, error) {
	if p == "" {
		return "", errors.New("empty shard path")
	}
	clean := path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	if clean == "/" {
		return "", fmt.Errorf("invalid shard path %q", p)
	}
	return strings.TrimPrefix(clean, "/"), nil
}

// DirSource reads shards from a local docs tree such as target/doc.
type DirSource struct {
	Root string
}

func (d *DirSource) Location(p string) string {
	clean, err := cleanPath(p)
	if err != nil {
		return p
	}
	return "file://" + filepath.Join(d.Root, filepath.FromSlash(clean))
}

func (d *DirSource) Fetch(_ context.Context, p string) ([]byte, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(d.Root, filepath.FromSlash(clean)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", clean, ErrNotExist)
		}
		return nil, fmt.Errorf("reading shard %s: %w", clean, err)
	}
	return decompress(data)
}

// HTTPSource fetches shards from a published docs site.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
	Limiter *rate.Limiter
}

// NewHTTPSource returns a source rooted at baseURL. ratePerSecond <= 0
// disables rate limiting.
func NewHTTPSource(baseURL string, ratePerSecond float64) *HTTPSource {
	limit := rate.Inf
	burst := 1
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
		burst = max(1, int(ratePerSecond))
	}
	return &HTTPSource{
		BaseURL: strings.TrimRight(baseURL, "/") + "/",
		Client:  &http.Client{Timeout: 60 * time.Second},
		Limiter: rate.NewLimiter(limit, burst),
	}
}

func (h *HTTPSource) Location(p string) string {
	clean, err := cleanPath(p)
	if err != nil {
		return h.BaseURL + p
	}
	return h.BaseURL + clean
}

func (h *HTTPSource) Fetch(ctx context.Context, p string) ([]byte, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	if err := h.Limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := h.BaseURL + clean
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "implindex/0.1.0")
	req.Header.Set("Accept-Encoding", "zstd, identity")

	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", url, ErrNotExist)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return decompress(data)
}

// ObjectGetter is the slice of the S3 client the source needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads shards from a bucket holding an uploaded docs tree.
type S3Source struct {
	client ObjectGetter
	bucket string
	prefix string
}

func NewS3Source(client ObjectGetter, bucket, prefix string) *S3Source {
	return &S3Source{client: client, bucket: bucket, prefix: prefix}
}

// NewS3Client builds an S3 client from the default AWS credential chain.
// A custom endpoint switches to path-style addressing for MinIO and friends.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func (s *S3Source) key(p string) string {
	return path.Join(s.prefix, p)
}

func (s *S3Source) Location(p string) string {
	clean, err := cleanPath(p)
	if err != nil {
		clean = p
	}
	return "s3://" + s.bucket + "/" + s.key(clean)
}

func (s *S3Source) Fetch(ctx context.Context, p string) ([]byte, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	key := s.key(clean)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, key, ErrNotExist)
		}
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, key, ErrNotExist)
		}
		return nil, fmt.Errorf("getting s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading s3://%s/%s: %w", s.bucket, key, err)
	}
	return decompress(data)
}

// NewSource builds the source selected by source.kind.
func NewSource(ctx context.Context, cfg *config.Config) (Source, error) {
	switch cfg.Source.Kind {
	case "", "dir":
		return &DirSource{Root: cfg.Source.Dir}, nil
	case "http":
		return NewHTTPSource(cfg.Source.BaseURL, cfg.Source.RatePerSecond), nil
	case "s3":
		client, err := NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return NewS3Source(client, cfg.S3.Bucket, cfg.S3.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}
}
