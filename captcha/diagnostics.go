package captcha

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Diagnostics dumps captcha images for post-mortem inspection: always to a
// local scratch directory, optionally to a MinIO archive. Every operation is
// best effort; solving must never fail because a diagnostic write did.
type Diagnostics struct {
	dir     string
	archive *MinioArchive
	logger  *slog.Logger
}

// NewDiagnostics builds a Diagnostics writing under dir. archive may be nil.
func NewDiagnostics(dir string, archive *MinioArchive, logger *slog.Logger) *Diagnostics {
	if logger == nil {
		logger = slog.Default()
	}
	return &Diagnostics{dir: dir, archive: archive, logger: logger}
}

// Save writes the image to the scratch directory and, when configured,
// uploads it to the archive. Returns the local path, or "" when nothing was
// written.
func (d *Diagnostics) Save(image []byte) string {
	if d == nil || d.dir == "" {
		return ""
	}

	name := fmt.Sprintf("captcha_%s.png", uuid.NewString())
	path := filepath.Join(d.dir, name)

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		d.logger.Warn("creating scratch directory failed", "error", err)
		return ""
	}
	if err := os.WriteFile(path, image, 0o644); err != nil {
		d.logger.Warn("writing captcha image failed", "error", err)
		return ""
	}

	if d.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.archive.Put(ctx, name, image); err != nil {
			d.logger.Warn("archiving captcha image failed", "error", err)
		}
	}

	return path
}

// MinioArchive stores captcha images in a MinIO bucket so OCR misses can be
// collected across hosts.
type MinioArchive struct {
	client *minio.Client
	bucket string
}

// NewMinioArchive connects to the MinIO endpoint.
func NewMinioArchive(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioArchive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinioArchive{client: client, bucket: bucket}, nil
}

// Put uploads one captcha image under captchas/<name>.
func (a *MinioArchive) Put(ctx context.Context, name string, image []byte) error {
	_, err := a.client.PutObject(ctx, a.bucket, "captchas/"+name,
		bytes.NewReader(image), int64(len(image)),
		minio.PutObjectOptions{ContentType: "image/png"})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}
	return nil
}
