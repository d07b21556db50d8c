package kb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cveFixesSchema = `
CREATE TABLE cve (cve_id TEXT, severity TEXT, description TEXT);
CREATE TABLE fixes (cve_id TEXT, hash TEXT, repo_url TEXT);
CREATE TABLE repository (repo_url TEXT, repo_language TEXT);
CREATE TABLE commits (hash TEXT, repo_url TEXT, msg TEXT);
CREATE TABLE cwe_classification (cve_id TEXT, cwe_id TEXT);
CREATE TABLE file_change (file_change_id TEXT, hash TEXT);
CREATE TABLE method_change (file_change_id TEXT, name TEXT, code TEXT, before_change TEXT);
`

func seedCVEfixes(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cvefixes.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(cveFixesSchema)
	require.NoError(t, err)

	stmts := []string{
		`INSERT INTO cve VALUES ('CVE-2020-1111', 'HIGH', 'SQL injection in report export')`,
		`INSERT INTO cve VALUES ('CVE-2020-2222', 'LOW', 'Information leak in debug page')`,
		`INSERT INTO fixes VALUES ('CVE-2020-1111', 'abcdef0123456789', 'https://example.com/app')`,
		`INSERT INTO fixes VALUES ('CVE-2020-1111', 'abcdef0123456789', 'https://example.com/app')`,
		`INSERT INTO fixes VALUES ('CVE-2020-2222', 'fedcba9876543210', 'https://example.com/lib')`,
		`INSERT INTO repository VALUES ('https://example.com/app', 'Go')`,
		`INSERT INTO repository VALUES ('https://example.com/lib', 'C')`,
		`INSERT INTO commits VALUES ('abcdef0123456789', 'https://example.com/app', 'Validate export filter and use placeholders')`,
		`INSERT INTO cwe_classification VALUES ('CVE-2020-1111', '89')`,
		`INSERT INTO cwe_classification VALUES ('CVE-2020-2222', 'NVD-CWE-Other')`,
		`INSERT INTO file_change VALUES ('fc1', 'abcdef0123456789')`,
		`INSERT INTO method_change VALUES ('fc1', 'export', 'db.Query("SELECT * FROM r WHERE f=" + f)', 'True')`,
		`INSERT INTO method_change VALUES ('fc1', 'export', 'db.Query("SELECT * FROM r WHERE f=?", f)', 'False')`,
		`INSERT INTO method_change VALUES ('fc1', 'helper', 'return 1', 'False')`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}
	return path
}

func TestIngestCVEfixes(t *testing.T) {
	path := seedCVEfixes(t)

	records, err := IngestCVEfixes(context.Background(), path, IngestOptions{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	byID := map[string]Record{}
	for _, r := range records {
		byID[r.ID] = r
	}

	sqli, ok := byID["CVE-2020-1111#abcdef012345#0"]
	require.True(t, ok, "records: %v", byID)
	assert.Equal(t, "CWE-89", sqli.WeaknessID)
	assert.Equal(t, "high", sqli.Severity)
	assert.Equal(t, "Go", sqli.Language)
	assert.Equal(t, "CVE-2020-1111", sqli.Source)
	assert.Contains(t, sqli.Before, `"SELECT * FROM r WHERE f=" + f`)
	assert.Contains(t, sqli.After, "f=?")
	assert.Contains(t, sqli.VulnerabilityKeywords, "injection")
	assert.Contains(t, sqli.FixKeywords, "validate")

	leak, ok := byID["CVE-2020-2222#fedcba987654#0"]
	require.True(t, ok)
	assert.Empty(t, leak.WeaknessID)
	assert.Empty(t, leak.Before)
}

func TestIngestCVEfixesFilters(t *testing.T) {
	path := seedCVEfixes(t)

	records, err := IngestCVEfixes(context.Background(), path, IngestOptions{Severity: "high"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "CVE-2020-1111", records[0].Source)

	records, err = IngestCVEfixes(context.Background(), path, IngestOptions{Language: "c"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "CVE-2020-2222", records[0].Source)
}

func TestNormaliseWeakness(t *testing.T) {
	assert.Equal(t, "CWE-79", normaliseWeakness("79"))
	assert.Equal(t, "CWE-79", normaliseWeakness("cwe-79"))
	assert.Equal(t, "", normaliseWeakness("NVD-CWE-noinfo"))
	assert.Equal(t, "", normaliseWeakness(" "))
}
