// Package archive writes immutable completion records to object storage.
// One JSON object per completion, keyed by user and milestone, so completed
// work survives cache eviction and row updates.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/pathway-labs/pathway-go/internal/domain"
)

const putTimeout = 15 * time.Second

// ObjectPutter is the slice of the minio client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Record is the serialized completion document.
type Record struct {
	UserID        string          `json:"user_id"`
	MilestoneID   string          `json:"milestone_id"`
	MilestoneCode string          `json:"milestone_code"`
	QualityScore  *float64        `json:"quality_score,omitempty"`
	Output        domain.Metadata `json:"output,omitempty"`
	CompletedAt   time.Time       `json:"completed_at"`
	SHA256        string          `json:"-"`
}

type Archiver struct {
	store  ObjectPutter
	bucket string
	logger *slog.Logger
}

func New(store ObjectPutter, bucket string, logger *slog.Logger) *Archiver {
	if store == nil || bucket == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{store: store, bucket: bucket, logger: logger}
}

// Store writes the completion record and returns its object key. The key
// embeds the completion instant so retried completions never overwrite an
// earlier record.
func (a *Archiver) Store(ctx context.Context, record Record) (string, error) {
	if a == nil {
		return "", nil
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encode completion record: %w", err)
	}
	sum := sha256.Sum256(payload)
	record.SHA256 = hex.EncodeToString(sum[:])

	key := fmt.Sprintf("completions/%s/%s/%d.json", record.UserID, record.MilestoneCode, record.CompletedAt.UnixNano())
	putCtx, cancel := context.WithTimeout(ctx, putTimeout)
	defer cancel()
	_, err = a.store.PutObject(
		putCtx,
		a.bucket,
		key,
		bytes.NewReader(payload),
		int64(len(payload)),
		minio.PutObjectOptions{
			ContentType:  "application/json",
			UserMetadata: map[string]string{"sha256": record.SHA256},
		},
	)
	if err != nil {
		return "", fmt.Errorf("archive completion %s/%s: %w", record.UserID, record.MilestoneCode, err)
	}
	a.logger.Info("completion archived", "key", key, "sha256", record.SHA256)
	return key, nil
}
