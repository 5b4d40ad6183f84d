package models

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/marine-detect/models/model"
)

// NewHTTPClient returns the client used to download model weights.
func NewHTTPClient(timeout time.Duration) *resty.Client {
	return resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
}

// LocalPath returns where the weights of cfg live on disk.
func LocalPath(cfg model.Config, dir string) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return filepath.Join(dir, string(cfg.Name)+".onnx")
}

// Fetch makes sure the weights of cfg exist locally, downloading them from
// cfg.URL when missing.
//
// Arguments:
//   - ctx: Cancels the download.
//   - client: The HTTP client.
//   - cfg: The model to fetch.
//   - dir: The directory weights are cached in when cfg.Path is empty.
//
// Returns:
//   - string: The local path of the weights.
//   - error: An error if the weights are missing and cannot be downloaded.
func Fetch(ctx context.Context, client *resty.Client, cfg model.Config, dir string) (string, error) {
	path := LocalPath(cfg, dir)
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return path, nil
	}
	if cfg.URL == "" {
		return "", errors.Errorf("model %s: %s not found and no download URL configured", cfg.Name, path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrap(err, "create model directory")
	}

	tmp := path + ".part"
	zap.L().Info("downloading model weights",
		zap.String("model", string(cfg.Name)),
		zap.String("url", cfg.URL),
		zap.String("path", path),
	)

	resp, err := client.R().
		SetContext(ctx).
		SetOutput(tmp).
		Get(cfg.URL)
	if err != nil {
		_ = os.Remove(tmp)
		return "", errors.Wrapf(err, "download %s", cfg.URL)
	}
	if resp.IsError() {
		_ = os.Remove(tmp)
		return "", errors.Errorf("download %s: %s", cfg.URL, resp.Status())
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", errors.Wrap(err, "move downloaded weights into place")
	}

	return path, nil
}
