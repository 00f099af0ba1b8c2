// Package catalog keeps a local copy of the nomenclator and reads polling stations from it.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"resultados/internal/fsutil"
	"resultados/internal/logging"
	"resultados/internal/models"
)

// ErrCatalogNotFound is returned by Load when the catalog file has not been downloaded
var ErrCatalogNotFound = errors.New("catalog file not found")

// Source provides the raw nomenclator document
type Source interface {
	GetNomenclator(ctx context.Context) ([]byte, error)
}

// Loader downloads the catalog once and parses it
type Loader struct {
	source Source
	path   string
	logger *zap.Logger
}

// NewLoader creates a loader that caches the catalog at path
func NewLoader(source Source, path string, logger *zap.Logger) *Loader {
	return &Loader{
		source: source,
		path:   path,
		logger: logging.OrNop(logger),
	}
}

// Ensure downloads the catalog when no local copy exists. An existing file is never refreshed.
func (l *Loader) Ensure(ctx context.Context) error {
	if _, err := os.Stat(l.path); err == nil {
		l.logger.Debug("catalog already present", zap.String("path", l.path))
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat catalog: %w", err)
	}

	l.logger.Info("downloading catalog", zap.String("path", l.path))
	body, err := l.source.GetNomenclator(ctx)
	if err != nil {
		return fmt.Errorf("failed to download catalog: %w", err)
	}

	if err := fsutil.WriteFileAtomic(l.path, body, 0644); err != nil {
		return fmt.Errorf("failed to save catalog: %w", err)
	}
	l.logger.Info("catalog saved",
		zap.String("path", l.path),
		zap.String("size", humanize.Bytes(uint64(len(body)))))
	return nil
}

// Load parses the local catalog. It returns ErrCatalogNotFound when Ensure has not run.
func (l *Loader) Load() (*models.Catalog, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrCatalogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var c models.Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", l.path, err)
	}
	l.logger.Debug("catalog loaded",
		zap.Int("elections", len(c.Elections)),
		zap.Int("scope_groups", len(c.Scopes)))
	return &c, nil
}

// EnsureAndLoad is Ensure followed by Load
func (l *Loader) EnsureAndLoad(ctx context.Context) (*models.Catalog, error) {
	if err := l.Ensure(ctx); err != nil {
		return nil, err
	}
	return l.Load()
}
