// Package storage uploads answer attachments to a cloud bucket and hands
// back the public descriptor stored in place of the raw file.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"complyline/internal/domain"
)

type Uploader struct {
	client *gcs.Client
	Bucket string
}

// NewUploader creates a bucket client. credentialsFile may be empty to use
// ambient credentials.
func NewUploader(ctx context.Context, bucket, credentialsFile string) (*Uploader, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("storage: credentials file not found: %s", credentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: create client: %w", err)
	}
	return &Uploader{client: client, Bucket: bucket}, nil
}

// Upload stores the file under a random object name keyed by form ID and
// returns its descriptor. The object name keeps the original extension so
// downloads open with a sensible viewer.
func (u *Uploader) Upload(ctx context.Context, formID int64, name, contentType string, data []byte) (domain.FileDescriptor, error) {
	objectName := fmt.Sprintf("forms/%d/%s%s", formID, uuid.NewString(), path.Ext(name))
	obj := u.client.Bucket(u.Bucket).Object(objectName)
	w := obj.NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := bytes.NewReader(data).WriteTo(w); err != nil {
		w.Close()
		return domain.FileDescriptor{}, fmt.Errorf("storage: write %s: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return domain.FileDescriptor{}, fmt.Errorf("storage: close %s: %w", objectName, err)
	}
	return domain.FileDescriptor{
		URL:  fmt.Sprintf("https://storage.googleapis.com/%s/%s", u.Bucket, objectName),
		Name: name,
		Size: int64(len(data)),
		Type: contentType,
	}, nil
}
