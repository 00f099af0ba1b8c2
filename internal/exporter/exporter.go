// Package exporter flattens the stored result documents into a single CSV table.
package exporter

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"resultados/internal/fsutil"
	"resultados/internal/logging"
	"resultados/internal/models"
)

const resultExt = ".json"

// Exporter reads resultsDir and writes the combined table to outputPath
type Exporter struct {
	resultsDir string
	outputPath string
	logger     *zap.Logger
}

// New creates an Exporter
func New(resultsDir, outputPath string, logger *zap.Logger) *Exporter {
	return &Exporter{
		resultsDir: resultsDir,
		outputPath: outputPath,
		logger:     logging.OrNop(logger),
	}
}

// Files lists the result documents. os.ReadDir sorts by name, which is the station id.
func (e *Exporter) Files() ([]string, error) {
	entries, err := os.ReadDir(e.resultsDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", e.resultsDir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != resultExt {
			continue
		}
		files = append(files, filepath.Join(e.resultsDir, entry.Name()))
	}
	return files, nil
}

// Rows flattens every stored document, one row per party.
// Any unreadable document aborts the export.
func (e *Exporter) Rows() ([]models.Row, error) {
	files, err := e.Files()
	if err != nil {
		return nil, err
	}

	var rows []models.Row
	for _, path := range files {
		fileRows, err := readRows(path)
		if err != nil {
			return nil, err
		}
		rows = append(rows, fileRows...)
	}
	e.logger.Debug("documents flattened", zap.Int("files", len(files)), zap.Int("rows", len(rows)))
	return rows, nil
}

func readRows(path string) ([]models.Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var p models.Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	rows, err := models.NewRows(&p)
	if err != nil {
		return nil, fmt.Errorf("failed to flatten %s: %w", path, err)
	}
	return rows, nil
}

// Export writes every row to the output CSV and returns the rows written
func (e *Exporter) Export() ([]models.Row, error) {
	rows, err := e.Rows()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows); err != nil {
		return nil, err
	}
	if err := fsutil.WriteFileAtomic(e.outputPath, buf.Bytes(), 0644); err != nil {
		return nil, fmt.Errorf("failed to write export: %w", err)
	}

	e.logger.Info("results exported",
		zap.String("path", e.outputPath),
		zap.String("rows", humanize.Comma(int64(len(rows)))),
		zap.String("size", humanize.Bytes(uint64(buf.Len()))))
	return rows, nil
}

// Header returns the export columns: station id, every ancestor level seen, the party
// columns, then the union of the other station fields in name order
func Header(rows []models.Row) []string {
	seen := make(map[int]bool)
	for _, r := range rows {
		for level := range r.Levels {
			seen[level] = true
		}
	}
	levels := make([]int, 0, len(seen))
	for level := range seen {
		levels = append(levels, level)
	}
	sort.Ints(levels)

	header := []string{models.ColumnStationID}
	for _, level := range levels {
		header = append(header, models.LevelColumn(level))
	}
	header = append(header, models.PartyColumns...)

	taken := make(map[string]bool, len(header))
	for _, col := range header {
		taken[col] = true
	}
	var extra []string
	for _, r := range rows {
		for key := range r.Fields {
			if !taken[key] {
				taken[key] = true
				extra = append(extra, key)
			}
		}
	}
	sort.Strings(extra)
	return append(header, extra...)
}

// WriteCSV writes a header row and one line per row; missing columns are left empty
func WriteCSV(w io.Writer, rows []models.Row) error {
	header := Header(rows)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, len(header))
	for _, r := range rows {
		values := r.Values()
		for i, col := range header {
			record[i] = values[col]
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row for %s: %w", r.StationID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
