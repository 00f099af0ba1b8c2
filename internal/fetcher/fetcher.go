// Package fetcher downloads polling station results one by one and stores them as JSON files.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"resultados/internal/api"
	"resultados/internal/fsutil"
	"resultados/internal/logging"
	"resultados/internal/models"
)

// Source provides the raw result document of a polling station
type Source interface {
	GetScopeData(ctx context.Context, code string) ([]byte, error)
}

// Report summarizes a batch
type Report struct {
	Requested int
	Skipped   int
	Saved     int
	Failed    int
}

// Fetcher downloads result documents into resultsDir
type Fetcher struct {
	source     Source
	resultsDir string
	errors     *ErrorLog
	logger     *zap.Logger
}

// New creates a Fetcher
func New(source Source, resultsDir string, errorLog *ErrorLog, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		source:     source,
		resultsDir: resultsDir,
		errors:     errorLog,
		logger:     logging.OrNop(logger),
	}
}

// ResultPath is where the document of station id is stored
func (f *Fetcher) ResultPath(id string) string {
	return filepath.Join(f.resultsDir, id+".json")
}

// FetchAll downloads every station in order. A failing station is logged and recorded in the
// error log; it never stops the batch. Only context cancellation does.
func (f *Fetcher) FetchAll(ctx context.Context, stations []models.Scope) (Report, error) {
	var report Report
	f.logger.Info("stations to download", zap.String("count", humanize.Comma(int64(len(stations)))))

	for _, s := range stations {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if s.Skip() {
			report.Skipped++
			f.logger.Debug("skipping station without data", zap.String("code", s.Code))
			continue
		}

		report.Requested++
		id, err := f.fetchOne(ctx, s.Code)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			f.logger.Error("station failed", zap.String("code", s.Code), zap.Error(err))
			if f.errors != nil {
				if logErr := f.errors.Append(s.Code, err); logErr != nil {
					f.logger.Error("failed to record station error", zap.String("code", s.Code), zap.Error(logErr))
				}
			}
			continue
		}

		report.Saved++
		f.logger.Debug("station saved", zap.String("code", s.Code), zap.String("id", id))
	}

	f.logger.Info("all stations downloaded",
		zap.Int("saved", report.Saved),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped))
	return report, nil
}

// FetchCodes downloads explicit station codes, e.g. the ones in the error log
func (f *Fetcher) FetchCodes(ctx context.Context, codes []string) (Report, error) {
	stations := make([]models.Scope, 0, len(codes))
	for _, code := range codes {
		stations = append(stations, models.Scope{Code: code, Level: models.PollingStationLevel})
	}
	return f.FetchAll(ctx, stations)
}

func (f *Fetcher) fetchOne(ctx context.Context, code string) (string, error) {
	body, err := f.source.GetScopeData(ctx, code)
	if err != nil {
		var statusErr *api.StatusError
		if errors.As(err, &statusErr) {
			return "", NewStageError(StageStatus, code, err)
		}
		return "", NewStageError(StageRequest, code, err)
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", NewStageError(StageDecode, code, err)
	}
	if doc == nil {
		return "", NewStageError(StageDecode, code, errors.New("empty document"))
	}

	id, err := models.StationID(doc)
	if err != nil {
		return "", NewStageError(StageIdentify, code, err)
	}
	if err := validFileName(id); err != nil {
		return "", NewStageError(StageIdentify, code, err)
	}

	out, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return "", NewStageError(StageWrite, code, err)
	}
	if err := fsutil.WriteFileAtomic(f.ResultPath(id), out, 0644); err != nil {
		return "", NewStageError(StageWrite, code, err)
	}
	return id, nil
}

func validFileName(id string) error {
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("station id %q is not a valid file name", id)
	}
	return nil
}
