package blobs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"k8s.io/klog/v2"
)

// HTTPFetcher downloads model artifacts over plain HTTP(S), e.g. from an
// internal model server.
type HTTPFetcher struct {
	Client *http.Client
}

var _ ArtifactReader = (*HTTPFetcher)(nil)

func (h *HTTPFetcher) Fetch(ctx context.Context, ref string, destPath string) error {
	log := klog.FromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, "GET", ref, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	client := h.Client
	if client == nil {
		client = &http.Client{}
	}

	startedAt := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		if resp.StatusCode == 404 {
			return fmt.Errorf("artifact not found: %w", os.ErrNotExist)
		}
		return fmt.Errorf("unexpected status downloading artifact: %v", resp.Status)
	}

	var n int64
	err = writeToFile(ctx, func(f *os.File) error {
		n, err = io.Copy(f, resp.Body)
		return err
	}, destPath)
	if err != nil {
		return fmt.Errorf("downloading from %q: %w", ref, err)
	}

	log.Info("downloaded model artifact", "url", ref, "bytes", n, "duration", time.Since(startedAt))
	return nil
}
