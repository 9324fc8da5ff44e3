package minio

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/ertviz/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ertviz/pkg/errors"
)

// SnapshotPrefix is the key prefix of every archived figure.
const SnapshotPrefix = "snapshots/"

const (
	contentTypeJSON = "application/json"
	contentTypePNG  = "image/png"
)

// Snapshot is one archived figure.  PNG is optional.
type Snapshot struct {
	ID         string
	SessionID  string
	EnsembleID string
	Response   string
	CreatedAt  time.Time
	FigureJSON []byte
	PNG        []byte
}

// SnapshotRef locates the objects written for a Snapshot.
type SnapshotRef struct {
	Bucket    string    `json:"bucket"`
	FigureKey string    `json:"figure_key"`
	PNGKey    string    `json:"png_key,omitempty"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// ObjectInfo is a listed snapshot object.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// SnapshotStore writes and lists figure snapshots.
type SnapshotStore struct {
	client *MinIOClient
	logger logging.Logger
}

func NewSnapshotStore(client *MinIOClient, log logging.Logger) *SnapshotStore {
	return &SnapshotStore{client: client, logger: log}
}

// ObjectBase returns the key of s without extension:
// snapshots/<ensemble>/<response>/<20060102T150405Z>-<id>.
func ObjectBase(s Snapshot) string {
	ts := s.CreatedAt.UTC().Format("20060102T150405Z")
	return SnapshotPrefix + path.Join(
		keySegment(s.EnsembleID),
		keySegment(s.Response),
		fmt.Sprintf("%s-%s", ts, keySegment(s.ID)),
	)
}

// EnsemblePrefix is the key prefix of all snapshots of an ensemble.
func EnsemblePrefix(ensembleID string) string {
	return SnapshotPrefix + keySegment(ensembleID) + "/"
}

func keySegment(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(s)
}

// Save writes the figure JSON and, when present, the PNG.
func (r *SnapshotStore) Save(ctx context.Context, s Snapshot) (*SnapshotRef, error) {
	if r.client.isClosed() {
		return nil, ErrMinIOClientClosed
	}
	if s.ID == "" || len(s.FigureJSON) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "snapshot needs an id and a figure")
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}

	base := ObjectBase(s)
	meta := map[string]string{
		"session-id":  s.SessionID,
		"ensemble-id": s.EnsembleID,
		"response":    s.Response,
	}
	ref := &SnapshotRef{Bucket: r.client.Bucket(), FigureKey: base + ".json", CreatedAt: s.CreatedAt}

	n, err := r.put(ctx, ref.FigureKey, s.FigureJSON, contentTypeJSON, meta)
	if err != nil {
		return nil, err
	}
	ref.Size += n

	if len(s.PNG) > 0 {
		ref.PNGKey = base + ".png"
		n, err := r.put(ctx, ref.PNGKey, s.PNG, contentTypePNG, meta)
		if err != nil {
			return nil, err
		}
		ref.Size += n
	}

	r.logger.Info("snapshot stored",
		logging.String(logging.FieldSessionID, s.SessionID),
		logging.String("key", ref.FigureKey),
		logging.Int64("bytes", ref.Size))
	return ref, nil
}

func (r *SnapshotStore) put(ctx context.Context, key string, data []byte, contentType string, meta map[string]string) (int64, error) {
	info, err := r.client.client.PutObject(ctx, r.client.Bucket(), key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType, UserMetadata: meta})
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeSnapshotFailed, "upload failed").WithDetail(key)
	}
	return info.Size, nil
}

// Exists reports whether key is stored.
func (r *SnapshotStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := r.client.client.StatObject(ctx, r.client.Bucket(), key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, errors.Wrap(err, errors.CodeSnapshotFailed, "stat failed").WithDetail(key)
	}
	return true, nil
}

// List returns the snapshot objects under prefix, oldest key first.
func (r *SnapshotStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj := range r.client.client.ListObjects(ctx, r.client.Bucket(), minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, errors.CodeSnapshotFailed, "list failed").WithDetail(prefix)
		}
		out = append(out, ObjectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
	}
	return out, nil
}

// Delete removes key.  Missing keys are not an error.
func (r *SnapshotStore) Delete(ctx context.Context, key string) error {
	if err := r.client.client.RemoveObject(ctx, r.client.Bucket(), key, minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrap(err, errors.CodeSnapshotFailed, "delete failed").WithDetail(key)
	}
	return nil
}

// PresignedURL returns a time-limited download link for key.
func (r *SnapshotStore) PresignedURL(ctx context.Context, key string) (string, error) {
	u, err := r.client.client.PresignedGetObject(ctx, r.client.Bucket(), key, r.client.config.PresignExpiry, url.Values{})
	if err != nil {
		return "", errors.Wrap(err, errors.CodeSnapshotFailed, "presign failed").WithDetail(key)
	}
	return u.String(), nil
}
