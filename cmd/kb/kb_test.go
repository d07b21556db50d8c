package kb

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/scan-io-git/triageio/internal/config"
	knowledge "github.com/scan-io-git/triageio/internal/kb"
	shared "github.com/scan-io-git/triageio/pkg/shared/errors"
)

var fixRecords = []knowledge.Record{
	{
		ID:          "CVE-2021-0001#0",
		Description: "SQL injection through string concatenation in the report query",
		WeaknessID:  "CWE-89",
		Severity:    "high",
		Before:      `db.Query("SELECT * FROM reports WHERE owner=" + owner)`,
		After:       `db.Query("SELECT * FROM reports WHERE owner=?", owner)`,
	},
	{
		ID:          "CVE-2021-0002#0",
		Description: "Path traversal when serving uploaded files",
		WeaknessID:  "CWE-22",
		Severity:    "medium",
		Before:      `os.Open(filepath.Join(root, name))`,
		After:       `os.Open(filepath.Join(root, filepath.Base(name)))`,
	},
	{
		ID:          "CVE-2021-0003#0",
		Description: "Cross-site scripting in the comment preview",
		WeaknessID:  "CWE-79",
		Severity:    "medium",
		Before:      `w.Write([]byte(comment))`,
		After:       `w.Write([]byte(html.EscapeString(comment)))`,
	},
}

func writeRecords(t *testing.T) string {
	t.Helper()
	data, err := json.Marshal(fixRecords)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "records.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLSHFromConfig(t *testing.T) {
	assert.Equal(t, knowledge.DefaultLSHOptions(), lshFromConfig(&config.Config{}))

	cfg := &config.Config{KnowledgeBase: config.KnowledgeBase{LSHTables: 2, Seed: 7}}
	got := lshFromConfig(cfg)
	assert.Equal(t, 2, got.Tables)
	assert.Equal(t, knowledge.DefaultLSHOptions().Bits, got.Bits)
	assert.Equal(t, int64(7), got.Seed)
}

func TestBuildThenQuery(t *testing.T) {
	records, err := knowledge.LoadRecords(writeRecords(t))
	require.NoError(t, err)

	cfg := &config.Config{}
	out := t.TempDir()
	snap, err := buildIndex(context.Background(), cfg, records, out, hclog.NewNullLogger())
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Len())

	index := filepath.Join(out, "kb-index.json.zst")
	_, err = os.Stat(index)
	require.NoError(t, err)

	res, err := runQuery(context.Background(), cfg, &RunOptionsQuery{
		IndexPath: index,
		Text:      "SQL injection in report query",
		Snippet:   `db.Query("SELECT * FROM reports WHERE owner=" + owner)`,
		K:         2,
	}, hclog.NewNullLogger())
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	require.NotEmpty(t, res.Matches)
	assert.LessOrEqual(t, len(res.Matches), 2)
	assert.Equal(t, "CVE-2021-0001#0", res.Matches[0].ID)
	assert.Equal(t, "CWE-89", res.Matches[0].WeaknessID)
	assert.Equal(t, 1, res.Matches[0].Rank)

	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, res))
	assert.NotContains(t, buf.String(), "embedding")
}

func TestQueryUsesConfiguredIndex(t *testing.T) {
	records, err := knowledge.LoadRecords(writeRecords(t))
	require.NoError(t, err)
	index := filepath.Join(t.TempDir(), "fixes.zst")
	_, err = buildIndex(context.Background(), &config.Config{}, records, index, hclog.NewNullLogger())
	require.NoError(t, err)

	cfg := &config.Config{KnowledgeBase: config.KnowledgeBase{IndexPath: index}}
	opts := &RunOptionsQuery{Text: "path traversal uploaded files", K: 1}
	require.NoError(t, validateQueryArgs(opts, cfg))

	res, err := runQuery(context.Background(), cfg, opts, hclog.NewNullLogger())
	require.NoError(t, err)
	assert.Equal(t, index, res.Index)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "CVE-2021-0002#0", res.Matches[0].ID)
}

func TestQueryMissingIndex(t *testing.T) {
	_, err := runQuery(context.Background(), &config.Config{}, &RunOptionsQuery{
		IndexPath: filepath.Join(t.TempDir(), "none.zst"),
		Text:      "x",
		K:         1,
	}, hclog.NewNullLogger())
	require.Error(t, err)
	assert.True(t, shared.IsConfigError(err))
}

func seedDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cvefixes.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		`CREATE TABLE cve (cve_id TEXT, severity TEXT, description TEXT)`,
		`CREATE TABLE fixes (cve_id TEXT, hash TEXT, repo_url TEXT)`,
		`CREATE TABLE repository (repo_url TEXT, repo_language TEXT)`,
		`CREATE TABLE commits (hash TEXT, repo_url TEXT, msg TEXT)`,
		`CREATE TABLE cwe_classification (cve_id TEXT, cwe_id TEXT)`,
		`CREATE TABLE file_change (file_change_id TEXT, hash TEXT)`,
		`CREATE TABLE method_change (file_change_id TEXT, name TEXT, code TEXT, before_change TEXT)`,
		`INSERT INTO cve VALUES ('CVE-2022-0001', 'HIGH', 'SQL injection in search')`,
		`INSERT INTO fixes VALUES ('CVE-2022-0001', '0123456789abcdef', 'https://example.com/app')`,
		`INSERT INTO repository VALUES ('https://example.com/app', 'Go')`,
		`INSERT INTO commits VALUES ('0123456789abcdef', 'https://example.com/app', 'Use query placeholders')`,
		`INSERT INTO cwe_classification VALUES ('CVE-2022-0001', '89')`,
		`INSERT INTO file_change VALUES ('fc1', '0123456789abcdef')`,
		`INSERT INTO method_change VALUES ('fc1', 'search', 'db.Query("SELECT * FROM t WHERE q=" + q)', 'True')`,
		`INSERT INTO method_change VALUES ('fc1', 'search', 'db.Query("SELECT * FROM t WHERE q=?", q)', 'False')`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}
	return path
}

func TestIngestBuildsIndexAndRecords(t *testing.T) {
	out := t.TempDir()
	opts := &RunOptionsIngest{
		Database:   seedDatabase(t),
		OutputPath: filepath.Join(out, "index.zst"),
		RecordsOut: filepath.Join(out, "records.json"),
	}
	require.NoError(t, validateIngestArgs(opts))
	require.NoError(t, runIngest(context.Background(), &config.Config{}, opts, hclog.NewNullLogger()))

	records, err := knowledge.LoadRecords(opts.RecordsOut)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "CWE-89", records[0].WeaknessID)

	snap, err := knowledge.LoadSnapshot(opts.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Len())
}

func TestIngestWithoutMatchesFails(t *testing.T) {
	opts := &RunOptionsIngest{
		Database:   seedDatabase(t),
		OutputPath: filepath.Join(t.TempDir(), "index.zst"),
		Language:   "cobol",
	}
	err := runIngest(context.Background(), &config.Config{}, opts, hclog.NewNullLogger())
	require.Error(t, err)
	assert.True(t, shared.IsConfigError(err))
}

func TestValidation(t *testing.T) {
	records := writeRecords(t)

	assert.NoError(t, validateBuildArgs(&RunOptionsBuild{RecordsFile: records, OutputPath: "out"}))
	assert.Error(t, validateBuildArgs(&RunOptionsBuild{OutputPath: "out"}))
	assert.Error(t, validateBuildArgs(&RunOptionsBuild{RecordsFile: records}))
	assert.Error(t, validateBuildArgs(&RunOptionsBuild{RecordsFile: filepath.Dir(records), OutputPath: "out"}))

	assert.Error(t, validateIngestArgs(&RunOptionsIngest{OutputPath: "out"}))
	assert.Error(t, validateIngestArgs(&RunOptionsIngest{Database: records, OutputPath: "out", Limit: -1}))
	assert.Error(t, validateIngestArgs(&RunOptionsIngest{Database: records, OutputPath: "a.json", RecordsOut: "./a.json"}))

	cfg := &config.Config{}
	assert.Error(t, validateQueryArgs(&RunOptionsQuery{Text: "x", K: 1}, cfg))
	assert.Error(t, validateQueryArgs(&RunOptionsQuery{IndexPath: records, K: 1}, cfg))
	assert.Error(t, validateQueryArgs(&RunOptionsQuery{IndexPath: records, Text: "x"}, cfg))
	assert.NoError(t, validateQueryArgs(&RunOptionsQuery{IndexPath: records, Snippet: "x", K: 3}, cfg))
}

func TestNewKBCmd(t *testing.T) {
	cmd := NewKBCmd()
	names := []string{}
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"build", "ingest", "query"}, names)
}
