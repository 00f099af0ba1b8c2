package main

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testCatalog = `{
  "elec": [{"c": "PRESIDENTE", "y": 2023}],
  "amb": [{"ambitos": [
    {"co": "01", "l": 1},
    {"co": "0100100001X", "l": 8},
    {"co": "0100100002X", "l": 8},
    {"co": "0100100003E", "l": 8},
    {"co": "0100100004X", "l": 8}
  ]}]
}`

func resultDoc(id string, parties int) string {
	var ps []string
	for i := 0; i < parties; i++ {
		ps = append(ps, fmt.Sprintf(`{"code": "%d", "name": "P%d", "votos": %d, "perc": 10, "percCarg": 0, "cargos": 0, "candidatos": ["A"]}`, i, i, i*10))
	}
	return fmt.Sprintf(`{"id": {"idAmbito": {"codigo": %q}}, "fathers": [{"level": 1, "name": "ARGENTINA"}], "partidos": [%s]}`,
		id, strings.Join(ps, ","))
}

type fakeSite struct {
	mu       sync.Mutex
	results  map[string]string
	requests map[string]int
}

func (s *fakeSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[r.URL.Path]++

	if r.URL.Path == "/backend-difu/nomenclator/getNomenclator" {
		w.Write([]byte(testCatalog))
		return
	}
	code := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/backend-difu/scope/data/getScopeData/"), "/1")
	body, ok := s.results[code]
	if !ok {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	w.Write([]byte(body))
}

func (s *fakeSite) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

func newSite(t *testing.T) (*fakeSite, string) {
	t.Helper()
	for _, key := range []string{"BASE_URL", "DATA_DIR", "ELECTION_INDEX", "SEED", "TIMEOUT", "USER_AGENT", "POCKETBASE_DIR", "VERBOSE"} {
		t.Setenv("RESULTADOS_"+key, "")
	}

	site := &fakeSite{
		results: map[string]string{
			"0100100001X": resultDoc("0100100001X", 3),
			"0100100002X": resultDoc("0100100002X", 2),
			"0100100003E": resultDoc("0100100003E", 9),
		},
		requests: make(map[string]int),
	}
	srv := httptest.NewServer(site)
	t.Cleanup(srv.Close)
	return site, srv.URL
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a := &app{logger: zap.NewNop()}
	cmd := a.rootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRoot_RequiresFraction(t *testing.T) {
	_, err := execute(t)
	assert.Error(t, err)

	_, err = execute(t, "--data-dir", t.TempDir(), "lots")
	assert.ErrorContains(t, err, "fraction must be a number")

	_, err = execute(t, "--data-dir", t.TempDir(), "2")
	assert.ErrorContains(t, err, "invalid sample fraction")
}

func TestRoot_FullPipeline(t *testing.T) {
	site, url := newSite(t)
	dataDir := t.TempDir()
	common := []string{"--data-dir", dataDir, "--base-url", url, "--election-index", "0", "--seed", "7"}

	_, err := execute(t, append(common, "1")...)
	require.NoError(t, err)

	assert.Equal(t, 1, site.count("/backend-difu/nomenclator/getNomenclator"))
	assert.Equal(t, 0, site.count("/backend-difu/scope/data/getScopeData/0100100003E/1"), "sentinel codes are never requested")

	for _, id := range []string{"0100100001X", "0100100002X"} {
		_, err := os.Stat(filepath.Join(dataDir, "jsons", id+".json"))
		assert.NoError(t, err, id)
	}

	ids, err := os.ReadFile(filepath.Join(dataDir, "errors", "ids.txt"))
	require.NoError(t, err)
	assert.Equal(t, "0100100004X\n", string(ids))

	f, err := os.Open(filepath.Join(dataDir, "data.csv"))
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 1+3+2)

	// a second run reuses the cached catalog
	_, err = execute(t, append(common, "1")...)
	require.NoError(t, err)
	assert.Equal(t, 1, site.count("/backend-difu/nomenclator/getNomenclator"))
}

func TestFetch_FromErrors(t *testing.T) {
	site, url := newSite(t)
	dataDir := t.TempDir()
	common := []string{"--data-dir", dataDir, "--base-url", url}

	_, err := execute(t, append(common, "fetch")...)
	assert.ErrorContains(t, err, "no station codes given")

	out, err := execute(t, append(common, "fetch", "0100100004X")...)
	require.NoError(t, err)
	assert.Contains(t, out, "saved 0, failed 1")

	site.mu.Lock()
	site.results["0100100004X"] = resultDoc("0100100004X", 1)
	site.mu.Unlock()

	out, err = execute(t, append(common, "fetch", "--from-errors")...)
	require.NoError(t, err)
	assert.Contains(t, out, "saved 1, failed 0")

	out, err = execute(t, append(common, "export")...)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dataDir, "data.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "0100100004X,ARGENTINA")
}

func TestElections_MarksConfiguredIndex(t *testing.T) {
	_, url := newSite(t)

	out, err := execute(t, "--data-dir", t.TempDir(), "--base-url", url, "--election-index", "0", "elections")
	require.NoError(t, err)
	assert.Contains(t, out, "*  0")
	assert.Contains(t, out, "PRESIDENTE")
}

func TestConfig_PrintsEffectiveSettings(t *testing.T) {
	_, url := newSite(t)

	out, err := execute(t, "--base-url", url, "--election-index", "3", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "base_url: "+url)
	assert.Contains(t, out, "election_index: 3")

	path := filepath.Join(t.TempDir(), "resultados.yaml")
	_, err = execute(t, "--base-url", url, "config", "--write", path)
	require.NoError(t, err)

	_, err = execute(t, "--config", path, "--election-index", "99", "--data-dir", t.TempDir(), "elections")
	assert.NoError(t, err, "flags override the config file")
}
