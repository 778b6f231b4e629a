package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"telegram-image-gen/internal/config"
	"telegram-image-gen/internal/domain"
	"telegram-image-gen/internal/domain/ports/adapter"
)

var _ adapter.AssetStager = (*Stager)(nil)

const (
	maxAssets     = 5
	fetchAttempts = 4
	backoffStart  = 1 * time.Second
	backoffCap    = 10 * time.Second
	fetchTimeout  = 30 * time.Second
)

var allowedExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// Stager downloads input images into a local directory and hands back URLs
// under the public base so the vendor can fetch them.
type Stager struct {
	dir           string
	publicBaseURL string
	maxBytes      int64
	client        *http.Client
	log           *zerolog.Logger
}

func NewStager(cfg *config.StagingConfig, publicBaseURL string, log *zerolog.Logger) (*Stager, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	maxMB := cfg.MaxAssetMB
	if maxMB <= 0 {
		maxMB = 20
	}
	return &Stager{
		dir:           cfg.Dir,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		maxBytes:      int64(maxMB) << 20,
		client:        &http.Client{Timeout: fetchTimeout},
		log:           log,
	}, nil
}

// Stage fetches up to 5 source URLs into the staging dir. Each file gets a
// random name with the source extension. Errors are classified so the caller
// can explain the failure to the user.
func (s *Stager) Stage(ctx context.Context, sourceURLs []string) ([]adapter.StagedAsset, error) {
	if len(sourceURLs) > maxAssets {
		sourceURLs = sourceURLs[:maxAssets]
	}

	assets := make([]adapter.StagedAsset, 0, len(sourceURLs))
	for _, src := range sourceURLs {
		asset, err := s.stageOne(ctx, src)
		if err != nil {
			s.Cleanup(assets)
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

func (s *Stager) stageOne(ctx context.Context, src string) (adapter.StagedAsset, error) {
	ext, err := extOf(src)
	if err != nil {
		return adapter.StagedAsset{}, err
	}

	name := uuid.NewString() + ext
	localPath := filepath.Join(s.dir, name)

	delay := backoffStart
	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		err := s.fetch(ctx, src, localPath)
		if err == nil {
			s.log.Debug().Str("name", name).Msg("asset staged")
			return adapter.StagedAsset{
				Name:      name,
				LocalPath: localPath,
				PublicURL: s.publicBaseURL + "/proxy/image/" + name,
			}, nil
		}

		// Size, type and disk errors are permanent; only network failures
		// are worth another attempt.
		if errors.Is(err, domain.ErrAssetTooLarge) ||
			errors.Is(err, domain.ErrUnsupportedAssetType) ||
			errors.Is(err, domain.ErrStorageFull) {
			return adapter.StagedAsset{}, err
		}
		if ctx.Err() != nil {
			return adapter.StagedAsset{}, ctx.Err()
		}

		lastErr = err
		s.log.Warn().Int("attempt", attempt).Str("error", err.Error()).Msg("asset fetch retry")
		if attempt < fetchAttempts {
			select {
			case <-ctx.Done():
				return adapter.StagedAsset{}, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * 1.5)
			if delay > backoffCap {
				delay = backoffCap
			}
		}
	}

	if isTimeout(lastErr) {
		return adapter.StagedAsset{}, fmt.Errorf("%w: %s", domain.ErrAssetFetchTimeout, trim(lastErr.Error(), 100))
	}
	return adapter.StagedAsset{}, fmt.Errorf("fetch asset: %w", lastErr)
}

func (s *Stager) fetch(ctx context.Context, src, localPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch http %d", resp.StatusCode)
	}
	if resp.ContentLength > s.maxBytes {
		return domain.ErrAssetTooLarge
	}

	f, err := os.Create(localPath)
	if err != nil {
		if isNoSpace(err) {
			return domain.ErrStorageFull
		}
		return err
	}

	// ContentLength can be -1, so enforce the cap while copying too.
	n, err := io.Copy(f, io.LimitReader(resp.Body, s.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(localPath)
		if isNoSpace(err) {
			return domain.ErrStorageFull
		}
		return err
	}
	if n > s.maxBytes {
		os.Remove(localPath)
		return domain.ErrAssetTooLarge
	}
	return nil
}

// Cleanup removes staged files. Errors are logged, not returned; a leftover
// file only wastes disk until the next sweep.
func (s *Stager) Cleanup(assets []adapter.StagedAsset) {
	for _, a := range assets {
		if err := os.Remove(a.LocalPath); err != nil && !os.IsNotExist(err) {
			s.log.Warn().Str("name", a.Name).Err(err).Msg("staged asset cleanup failed")
		}
	}
}

// Dir reports the staging directory; the web layer serves it read-only.
func (s *Stager) Dir() string { return s.dir }

func extOf(src string) (string, error) {
	u, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrInvalidArgument, trim(src, 80))
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if !allowedExts[ext] {
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedAssetType, ext)
	}
	return ext, nil
}

func isNoSpace(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func trim(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
