package handoff

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-discord-recorder/internal/config"
)

// Archive keeps a copy of a recording before the local file is deleted.
type Archive interface {
	Enabled() bool
	Store(ctx context.Context, sessionID, localPath string) (key string, err error)
}

type nopArchive struct{}

func (nopArchive) Enabled() bool { return false }

func (nopArchive) Store(context.Context, string, string) (string, error) { return "", nil }

// MinioArchive uploads recordings to an S3 compatible bucket.
type MinioArchive struct {
	client *minio.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// ArchiveParams holds dependencies for NewArchive.
type ArchiveParams struct {
	fx.In
	LC     fx.Lifecycle
	Cfg    *config.Config
	Logger *zap.Logger
}

// NewArchive returns a MinioArchive when archiving is enabled and a no-op
// archive otherwise.
func NewArchive(params ArchiveParams) (Archive, error) {
	cfg := params.Cfg.Archive
	if !cfg.Enabled {
		return nopArchive{}, nil
	}

	a, err := NewMinioArchive(cfg, params.Logger)
	if err != nil {
		return nil, err
	}

	params.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := a.EnsureBucket(ctx); err != nil {
				// Recording still works without the archive; uploads retry per session.
				a.logger.Warn("Archive bucket is not available", zap.String("bucket", a.bucket), zap.Error(err))
			}

			return nil
		},
	})

	return a, nil
}

func NewMinioArchive(cfg config.ArchiveConfig, logger *zap.Logger) (*MinioArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create archive client: %w", err)
	}

	return &MinioArchive{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger.Named("archive"),
	}, nil
}

func (a *MinioArchive) Enabled() bool { return true }

func (a *MinioArchive) EnsureBucket(ctx context.Context) error {
	err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{})
	if err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}

		return err
	}

	a.logger.Info("Created archive bucket", zap.String("bucket", a.bucket))

	return nil
}

// Key is the object name a session's recording is stored under.
func (a *MinioArchive) Key(sessionID, localPath string) string {
	return path.Join(a.prefix, sessionID+filepath.Ext(localPath))
}

func (a *MinioArchive) Store(ctx context.Context, sessionID, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := a.Key(sessionID, localPath)
	if _, err := a.client.PutObject(ctx, a.bucket, key, f, info.Size(), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"session-id": sessionID},
	}); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	return key, nil
}
