// Package blobs fetches model artifacts (graph bundles, serialized weights)
// from remote storage to local disk before an executor is built.
package blobs

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"
)

// ArtifactReader downloads one artifact to a local path.
// If no such object exists, Fetch should return an error for which
// errors.Is(err, os.ErrNotExist) is true.
type ArtifactReader interface {
	Fetch(ctx context.Context, ref string, destPath string) error
}

// Fetch resolves a model reference to a local file. gs:// and http(s)://
// references are downloaded into cacheDir; anything else is treated as a
// local path.
func Fetch(ctx context.Context, ref string, cacheDir string) (string, error) {
	log := klog.FromContext(ctx)

	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" {
		return ref, nil
	}

	var reader ArtifactReader
	switch u.Scheme {
	case "gs":
		reader = &GCSStore{Bucket: u.Host, Prefix: ""}
		ref = u.Path
	case "http", "https":
		reader = &HTTPFetcher{}
	default:
		return "", fmt.Errorf("unsupported artifact scheme %q", u.Scheme)
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("creating cache dir: %w", err)
	}
	destPath := filepath.Join(cacheDir, filepath.Base(u.Path))
	if _, err := os.Stat(destPath); err == nil {
		log.Info("using cached model artifact", "path", destPath)
		return destPath, nil
	}

	if err := reader.Fetch(ctx, ref, destPath); err != nil {
		return "", fmt.Errorf("fetching %q: %w", ref, err)
	}
	return destPath, nil
}

// writeToFile streams into a temp file and renames, so a partial download
// never shadows a usable artifact.
func writeToFile(ctx context.Context, write func(f *os.File) error, destPath string) error {
	log := klog.FromContext(ctx)

	dir := filepath.Dir(destPath)
	tempFile, err := os.CreateTemp(dir, "artifact")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	shouldDeleteTempFile := true
	defer func() {
		if shouldDeleteTempFile {
			if err := os.Remove(tempFile.Name()); err != nil {
				log.Error(err, "removing temp file", "path", tempFile.Name())
			}
		}
	}()

	shouldCloseTempFile := true
	defer func() {
		if shouldCloseTempFile {
			if err := tempFile.Close(); err != nil {
				log.Error(err, "closing temp file", "path", tempFile.Name())
			}
		}
	}()

	if err := write(tempFile); err != nil {
		return err
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	shouldCloseTempFile = false

	if err := os.Rename(tempFile.Name(), destPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	shouldDeleteTempFile = false

	return nil
}
