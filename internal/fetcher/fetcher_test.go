package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"resultados/internal/api"
	"resultados/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const scopePrefix = "/backend-difu/scope/data/getScopeData/"

// backend serves canned result documents keyed by station code and counts requests
type backend struct {
	mu        sync.Mutex
	responses map[string]string
	requests  []string
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, scopePrefix), "/1")

	b.mu.Lock()
	b.requests = append(b.requests, code)
	body, ok := b.responses[code]
	b.mu.Unlock()

	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(body))
}

func (b *backend) requested() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests...)
}

type fixture struct {
	backend    *backend
	fetcher    *Fetcher
	resultsDir string
	idsPath    string
	records    string
}

func newFixture(t *testing.T, responses map[string]string) *fixture {
	t.Helper()

	b := &backend{responses: responses}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	fx := &fixture{
		backend:    b,
		resultsDir: filepath.Join(dir, "jsons"),
		idsPath:    filepath.Join(dir, "errors", "ids.txt"),
		records:    filepath.Join(dir, "errors", "failures.jsonl"),
	}
	client := api.NewClient(srv.URL)
	fx.fetcher = New(client, fx.resultsDir, NewErrorLog(fx.idsPath, fx.records), nil)
	return fx
}

func payload(id string, parties int) string {
	doc := map[string]any{
		"id": map[string]any{"idAmbito": map[string]any{"codigo": id, "levelId": 8}},
		"fathers": []any{
			map[string]any{"level": 1, "name": "ARGENTINA"},
			map[string]any{"level": 2, "name": "CORDOBA"},
		},
	}
	var ps []any
	for i := 0; i < parties; i++ {
		ps = append(ps, map[string]any{"code": i, "name": "P", "votos": 10 * i, "perc": 1.5, "percCarg": 0, "cargos": 0, "candidatos": []any{"A", "B"}})
	}
	doc["partidos"] = ps
	out, _ := json.Marshal(doc)
	return string(out)
}

func TestFetchAll_SkipsSentinelCodes(t *testing.T) {
	fx := newFixture(t, map[string]string{"0100100003E": payload("0100100003E", 1)})

	report, err := fx.fetcher.FetchAll(context.Background(), []models.Scope{{Code: "0100100003E", Level: 8}})
	require.NoError(t, err)

	assert.Equal(t, Report{Skipped: 1}, report)
	assert.Empty(t, fx.backend.requested())
	_, err = os.Stat(fx.resultsDir)
	assert.True(t, errors.Is(err, os.ErrNotExist), "no files for skipped stations")
}

func TestFetchAll_SavesPrettyJSONNamedByPayloadID(t *testing.T) {
	// The stored name comes from the payload, not from the requested code
	body := payload("0100100001", 3)
	fx := newFixture(t, map[string]string{"0100100001X": body})

	report, err := fx.fetcher.FetchAll(context.Background(), []models.Scope{{Code: "0100100001X", Level: 8}})
	require.NoError(t, err)
	assert.Equal(t, Report{Requested: 1, Saved: 1}, report)

	data, err := os.ReadFile(fx.fetcher.ResultPath("0100100001"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n    \"fathers\"", "4-space indentation")

	var got, want map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	require.NoError(t, json.Unmarshal([]byte(body), &want))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stored document mismatch (-want +got):\n%s", diff)
	}

	id, err := models.StationID(got)
	require.NoError(t, err)
	assert.Equal(t, "0100100001", id)

	_, err = os.Stat(fx.idsPath)
	assert.True(t, errors.Is(err, os.ErrNotExist), "no error log on success")
}

func TestFetchAll_FailureIsLoggedAndBatchContinues(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"02002": payload("02002", 1),
		"02003": `{"id": {"idAmbito": {}}}`,
		"02004": `<html>maintenance</html>`,
	})

	stations := []models.Scope{
		{Code: "02001", Level: 8},
		{Code: "02002", Level: 8},
		{Code: "02003", Level: 8},
		{Code: "02004", Level: 8},
	}
	report, err := fx.fetcher.FetchAll(context.Background(), stations)
	require.NoError(t, err)
	assert.Equal(t, Report{Requested: 4, Saved: 1, Failed: 3}, report)
	assert.Equal(t, []string{"02001", "02002", "02003", "02004"}, fx.backend.requested())

	ids, err := os.ReadFile(fx.idsPath)
	require.NoError(t, err)
	assert.Equal(t, "02001\n02003\n02004\n", string(ids))

	for _, code := range []string{"02001", "02003", "02004"} {
		_, err := os.Stat(fx.fetcher.ResultPath(code))
		assert.True(t, errors.Is(err, os.ErrNotExist), "no result file for failed %s", code)
	}
	_, err = os.Stat(fx.fetcher.ResultPath("02002"))
	assert.NoError(t, err)
}

func TestFetchAll_StructuredFailureRecords(t *testing.T) {
	fx := newFixture(t, map[string]string{"02003": `{"id": {}}`, "02004": `not json`})

	_, err := fx.fetcher.FetchAll(context.Background(), []models.Scope{{Code: "02001"}, {Code: "02003"}, {Code: "02004"}})
	require.NoError(t, err)

	data, err := os.ReadFile(fx.records)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)

	var stages []Stage
	for _, line := range lines {
		var rec FailureRecord
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		assert.NotEmpty(t, rec.RunID)
		assert.NotEmpty(t, rec.Reason)
		assert.False(t, rec.Time.IsZero())
		stages = append(stages, rec.Stage)
	}
	assert.Equal(t, []Stage{StageStatus, StageIdentify, StageDecode}, stages)
}

func TestFetchAll_RejectsUnsafeIdentifiers(t *testing.T) {
	fx := newFixture(t, map[string]string{"02001": payload("../escape", 1)})

	report, err := fx.fetcher.FetchAll(context.Background(), []models.Scope{{Code: "02001"}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	_, err = os.Stat(filepath.Join(filepath.Dir(fx.resultsDir), "escape.json"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFetchAll_CanceledContextStops(t *testing.T) {
	fx := newFixture(t, map[string]string{"02001": payload("02001", 1)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fx.fetcher.FetchAll(ctx, []models.Scope{{Code: "02001"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fx.backend.requested())
}

func TestFetchCodes_RetriesFromErrorLog(t *testing.T) {
	fx := newFixture(t, map[string]string{})

	_, err := fx.fetcher.FetchAll(context.Background(), []models.Scope{{Code: "02001"}, {Code: "02001"}})
	require.NoError(t, err)

	codes, err := fx.fetcher.errors.Codes()
	require.NoError(t, err)
	assert.Equal(t, []string{"02001"}, codes)

	fx.backend.mu.Lock()
	fx.backend.responses["02001"] = payload("02001", 2)
	fx.backend.mu.Unlock()

	report, err := fx.fetcher.FetchCodes(context.Background(), codes)
	require.NoError(t, err)
	assert.Equal(t, Report{Requested: 1, Saved: 1}, report)
}

func TestStageError(t *testing.T) {
	cause := errors.New("boom")
	err := NewStageError(StageDecode, "02001", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "station 02001 failed at decode stage: boom", err.Error())
}

func TestErrorLog_CodesMissingFile(t *testing.T) {
	l := NewErrorLog(filepath.Join(t.TempDir(), "ids.txt"), "")
	codes, err := l.Codes()
	require.NoError(t, err)
	assert.Empty(t, codes)
	assert.NotEmpty(t, l.RunID())
}
