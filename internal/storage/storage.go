package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"forgefuzz/config"
	"forgefuzz/internal/cache"
)

// Client wraps the S3-compatible object store holding fuzz targets and
// campaign results.
type Client struct {
	logger        *zap.Logger
	mc            *minio.Client
	region        string
	targetsBucket string
	resultsBucket string
}

func NewClient(logger *zap.Logger, appConfig *config.AppConfig) (*Client, error) {
	cfg := appConfig.Storage
	if cfg.Endpoint == "" {
		return nil, errors.New("storage endpoint not configured")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("storage credentials not configured")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	return &Client{
		logger:        logger,
		mc:            mc,
		region:        cfg.Region,
		targetsBucket: cfg.TargetsBucket,
		resultsBucket: cfg.ResultsBucket,
	}, nil
}

// EnsureBuckets creates the targets and results buckets if they do not
// exist yet.
func (c *Client) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{c.targetsBucket, c.resultsBucket} {
		exists, err := c.mc.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
		}
		if exists {
			continue
		}
		if err := c.mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.region}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
		c.logger.Info("created bucket", zap.String("bucket", bucket))
	}
	return nil
}

// Fetch streams the target blob for targetID to destPath.
func (c *Client) Fetch(ctx context.Context, targetID, destPath string) error {
	key := fmt.Sprintf("%s/target", targetID)
	if err := c.mc.FGetObject(ctx, c.targetsBucket, key, destPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("failed to download %s/%s: %w", c.targetsBucket, key, err)
	}
	return nil
}

// UploadResults stores a serialized result document for a run and returns
// its object URL. Format must be "json" or "sarif".
func (c *Client) UploadResults(ctx context.Context, runID string, results []byte, format string) (string, error) {
	var contentType string
	switch format {
	case "json":
		contentType = "application/json"
	case "sarif":
		contentType = "application/sarif+json"
	default:
		return "", fmt.Errorf("unsupported results format: %s", format)
	}

	key := fmt.Sprintf("%s/results.%s", runID, format)
	_, err := c.mc.PutObject(ctx, c.resultsBucket, key, bytes.NewReader(results), int64(len(results)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to upload results for run %s: %w", runID, err)
	}

	url := fmt.Sprintf("%s/%s/%s", c.mc.EndpointURL().String(), c.resultsBucket, key)
	c.logger.Info("results uploaded", zap.String("run_id", runID), zap.String("url", url))
	return url, nil
}

var StorageModule = fx.Options(
	fx.Provide(NewClient),
	fx.Provide(func(c *Client) cache.Fetcher { return c }),
	fx.Invoke(func(lc fx.Lifecycle, c *Client) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return c.EnsureBuckets(ctx)
			},
		})
	}),
)
