package blobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"k8s.io/klog/v2"
)

// GCSStore reads model artifacts from a Google Cloud Storage bucket.
type GCSStore struct {
	Bucket string
	Prefix string
}

var _ ArtifactReader = (*GCSStore)(nil)

func (s *GCSStore) Fetch(ctx context.Context, ref string, destPath string) error {
	log := klog.FromContext(ctx)

	objectKey := strings.TrimPrefix(ref, "/")
	if s.Prefix != "" {
		objectKey = s.Prefix + "/" + objectKey
	}
	gcsURL := "gs://" + s.Bucket + "/" + objectKey

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating GCS storage client: %w", err)
	}
	defer client.Close()

	log.Info("downloading model artifact from GCS", "source", gcsURL, "destination", destPath)

	startedAt := time.Now()
	r, err := client.Bucket(s.Bucket).Object(objectKey).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("opening object from GCS %q: %w", gcsURL, err)
	}
	defer r.Close()

	var n int64
	err = writeToFile(ctx, func(f *os.File) error {
		n, err = io.Copy(f, r)
		return err
	}, destPath)
	if err != nil {
		return fmt.Errorf("downloading from GCS: %w", err)
	}

	log.Info("downloaded model artifact from GCS", "source", gcsURL, "bytes", n, "duration", time.Since(startedAt))
	return nil
}
