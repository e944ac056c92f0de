package eventstore

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
)

// Presigner hands out short-lived download URLs for MinIO backups.
type Presigner struct {
	Client *minio.Client
	Sink   MinIOSink
	// MaxTTL limits the lifetime of generated URLs.
	MaxTTL time.Duration
}

// BackupURL presigns a GET for backup name with a forced attachment
// disposition.
func (p Presigner) BackupURL(ctx context.Context, name string, ttl time.Duration) (string, error) {
	if ttl <= 0 || ttl > p.MaxTTL {
		return "", fmt.Errorf("invalid ttl")
	}
	vals := url.Values{}
	vals.Set("response-content-disposition", "attachment; filename=\""+name+"\"")
	u, err := p.Client.PresignedGetObject(ctx, p.Sink.Bucket, p.Sink.Key(name), ttl, vals)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
