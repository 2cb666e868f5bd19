package photostore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	pconfig "github.com/photoid-field/api/internal/platform/config"
	pstorage "github.com/photoid-field/api/internal/platform/storage"
)

const (
	// OriginalObject is the blob name of the customer's uploaded photo.
	OriginalObject = "original.jpg"
	// ValidatedObject is the blob name of the processed, print-ready photo.
	ValidatedObject = "validated.jpg"

	defaultWriteTimeout = 10 * time.Second
	defaultContentType  = "image/jpeg"
)

// Store keeps order photos in a Cloud Storage bucket. Objects live under
// {orderID}/original.jpg and {orderID}/validated.jpg; the validation service
// writes the latter, this store only reads it back via signed URLs.
type Store struct {
	bucket       *storage.BucketHandle
	bucketName   string
	signing      *pstorage.Client
	signedTTL    time.Duration
	writeTimeout time.Duration
}

// StoreOption customises the store.
type StoreOption func(*Store)

// WithWriteTimeout bounds blob writes.
func WithWriteTimeout(timeout time.Duration) StoreOption {
	return func(s *Store) {
		if timeout > 0 {
			s.writeTimeout = timeout
		}
	}
}

// NewStore constructs a photo store over the configured bucket.
func NewStore(client *storage.Client, signing *pstorage.Client, cfg pconfig.StorageConfig, opts ...StoreOption) (*Store, error) {
	if client == nil {
		return nil, errors.New("photo store: storage client is required")
	}
	if signing == nil {
		return nil, errors.New("photo store: signing client is required")
	}
	bucket := strings.TrimSpace(cfg.PhotosBucket)
	if bucket == "" {
		return nil, errors.New("photo store: photos bucket is required")
	}

	store := &Store{
		bucket:       client.Bucket(bucket),
		bucketName:   bucket,
		signing:      signing,
		signedTTL:    cfg.SignedURLTTL,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// ObjectPath returns the blob name for one of an order's photos.
func ObjectPath(orderID, object string) string {
	return orderID + "/" + object
}

// PutOriginal streams the uploaded photo into the order's original slot.
func (s *Store) PutOriginal(ctx context.Context, orderID string, contentType string, photo io.Reader) error {
	if s == nil || s.bucket == nil {
		return errors.New("photo store: not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("photo store: order id is required")
	}
	if photo == nil {
		return errors.New("photo store: photo payload is required")
	}
	if strings.TrimSpace(contentType) == "" {
		contentType = defaultContentType
	}

	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	writer := s.bucket.Object(ObjectPath(orderID, OriginalObject)).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, photo); err != nil {
		_ = writer.Close()
		return fmt.Errorf("photo store: write %s/%s: %w", orderID, OriginalObject, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("photo store: commit %s/%s: %w", orderID, OriginalObject, err)
	}
	return nil
}

// SignedOriginalURL mints a fresh read URL for the uploaded photo.
func (s *Store) SignedOriginalURL(ctx context.Context, orderID string) (string, error) {
	return s.signedURL(ctx, orderID, OriginalObject)
}

// SignedValidatedURL mints a fresh read URL for the processed photo.
func (s *Store) SignedValidatedURL(ctx context.Context, orderID string) (string, error) {
	return s.signedURL(ctx, orderID, ValidatedObject)
}

func (s *Store) signedURL(ctx context.Context, orderID, object string) (string, error) {
	if s == nil || s.signing == nil {
		return "", errors.New("photo store: not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return "", errors.New("photo store: order id is required")
	}

	result, err := s.signing.SignedDownloadURL(ctx, s.bucketName, ObjectPath(orderID, object), pstorage.DownloadOptions{
		ExpiresIn: s.signedTTL,
	})
	if err != nil {
		return "", fmt.Errorf("photo store: sign %s/%s: %w", orderID, object, err)
	}
	return result.URL, nil
}
