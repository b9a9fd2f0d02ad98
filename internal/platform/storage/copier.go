package storage

import (
	"context"
	"errors"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// Copier moves objects between Cloud Storage locations. The receipt flow
// uses it to promote finalised payment receipts from the working bucket
// into the long-term archive bucket.
type Copier struct {
	client *gcs.Client
}

// NewCopier constructs a Copier backed by the provided Cloud Storage client.
func NewCopier(client *gcs.Client) (*Copier, error) {
	if client == nil {
		return nil, errors.New("storage copier: client is required")
	}
	return &Copier{client: client}, nil
}

type objectRef struct {
	bucket string
	object string
}

func (r objectRef) valid() bool {
	return r.bucket != "" && r.object != ""
}

// CopyObject copies a single object from the source bucket/path to the
// destination. Copying an object onto itself is a no-op.
func (c *Copier) CopyObject(ctx context.Context, sourceBucket, sourceObject, destBucket, destObject string) error {
	if c == nil || c.client == nil {
		return errors.New("storage copier: client is not initialised")
	}

	src := objectRef{bucket: strings.TrimSpace(sourceBucket), object: strings.TrimSpace(sourceObject)}
	dst := objectRef{bucket: strings.TrimSpace(destBucket), object: strings.TrimSpace(destObject)}
	if !src.valid() || !dst.valid() {
		return errors.New("storage copier: source and destination must be provided")
	}
	if src == dst {
		return nil
	}

	from := c.client.Bucket(src.bucket).Object(src.object)
	to := c.client.Bucket(dst.bucket).Object(dst.object)
	_, err := to.CopierFrom(from).Run(ctx)
	return err
}
