package eventstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/prometheus/client_golang/prometheus"
)

var backupsTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "slotplanner_backups_total",
	Help: "Event file backups written before an overwrite.",
})

func init() { prometheus.MustRegister(backupsTotal) }

// Sink stores backup copies under flat names. Put returns an error matching
// os.ErrExist when name is already taken.
type Sink interface {
	Exists(ctx context.Context, name string) (bool, error)
	Put(ctx context.Context, name string, r io.Reader, size int64) error
}

// maxBackups bounds the name search.
const maxBackups = 100000

// NextBackupName returns the first free name in the series
// events_back.json, events_back1.json, events_back2.json, ... for the file
// name base.
func NextBackupName(ctx context.Context, sink Sink, base string) (string, error) {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for i := 0; i < maxBackups; i++ {
		name := stem + "_back" + ext
		if i > 0 {
			name = fmt.Sprintf("%s_back%d%s", stem, i, ext)
		}
		ok, err := sink.Exists(ctx, name)
		if err != nil {
			return "", err
		}
		if !ok {
			return name, nil
		}
	}
	return "", fmt.Errorf("no free backup name for %s", base)
}

// LocalSink writes backups into a directory.
type LocalSink struct {
	Dir string
}

func (l LocalSink) path(name string) (string, error) {
	base := filepath.Clean(l.Dir)
	clean := filepath.Join(base, name)
	rel, err := filepath.Rel(base, clean)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) || filepath.IsAbs(rel) {
		return "", os.ErrPermission
	}
	return clean, nil
}

func (l LocalSink) Exists(ctx context.Context, name string) (bool, error) {
	p, err := l.path(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Put creates the backup exclusively, so an existing backup is never
// overwritten.
func (l LocalSink) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	p, err := l.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		_ = os.Remove(p)
		return err
	}
	return out.Close()
}

// ObjectClient is the subset of *minio.Client used for backups.
type ObjectClient interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// MinIOSink writes backups to a bucket under Prefix. Puts carry
// If-None-Match: *, so a name another writer took after Exists is refused
// instead of overwritten.
type MinIOSink struct {
	Client ObjectClient
	Bucket string
	Prefix string
}

func (m MinIOSink) Key(name string) string { return m.Prefix + name }

func (m MinIOSink) Exists(ctx context.Context, name string) (bool, error) {
	_, err := m.Client.StatObject(ctx, m.Bucket, m.Key(name), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, err
}

func (m MinIOSink) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	opts := minio.PutObjectOptions{ContentType: "application/x-ndjson"}
	opts.SetMatchETagExcept("*")
	_, err := m.Client.PutObject(ctx, m.Bucket, m.Key(name), r, size, opts)
	if resp := minio.ToErrorResponse(err); resp.Code == "PreconditionFailed" || resp.StatusCode == http.StatusPreconditionFailed {
		return fmt.Errorf("%s: %w", m.Key(name), os.ErrExist)
	}
	return err
}
