package fetcher

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"resultados/internal/fsutil"
)

// ErrorLog records stations that could not be fetched.
// The ids file holds one raw station code per line; the records file holds one JSON object per failure.
type ErrorLog struct {
	idsPath     string
	recordsPath string
	runID       string
	now         func() time.Time
}

// FailureRecord is one line of the structured failure log
type FailureRecord struct {
	RunID  string    `json:"run_id"`
	Code   string    `json:"code"`
	Stage  Stage     `json:"stage"`
	Reason string    `json:"reason"`
	Time   time.Time `json:"time"`
}

// NewErrorLog creates an error log. recordsPath may be empty to keep only the ids file.
func NewErrorLog(idsPath, recordsPath string) *ErrorLog {
	return &ErrorLog{
		idsPath:     idsPath,
		recordsPath: recordsPath,
		runID:       uuid.NewString(),
		now:         time.Now,
	}
}

// RunID identifies the records written by this process
func (l *ErrorLog) RunID() string {
	return l.runID
}

// Append records a failed station
func (l *ErrorLog) Append(code string, cause error) error {
	if err := fsutil.AppendLine(l.idsPath, []byte(code)); err != nil {
		return err
	}
	if l.recordsPath == "" {
		return nil
	}

	rec := FailureRecord{
		RunID: l.runID,
		Code:  code,
		Time:  l.now().UTC(),
	}
	var stageErr *StageError
	if errors.As(cause, &stageErr) {
		rec.Stage = stageErr.Stage
		rec.Reason = stageErr.Err.Error()
	} else if cause != nil {
		rec.Reason = cause.Error()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode failure record: %w", err)
	}
	return fsutil.AppendLine(l.recordsPath, line)
}

// Codes returns the distinct station codes in the ids file, in first-seen order
func (l *ErrorLog) Codes() ([]string, error) {
	f, err := os.Open(l.idsPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", l.idsPath, err)
	}
	defer f.Close()

	var codes []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		code := strings.TrimSpace(scanner.Text())
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", l.idsPath, err)
	}
	return codes, nil
}
