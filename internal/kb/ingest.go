package kb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	_ "modernc.org/sqlite"
)

// IngestOptions filters a CVEfixes import.
type IngestOptions struct {
	Limit    int
	Severity string
	Language string
	// MethodsPerFix caps the number of records produced from one fix commit.
	MethodsPerFix int
	Logger        hclog.Logger
}

type cveFixRow struct {
	cveID       string
	severity    string
	description string
	cweID       string
	hash        string
	language    string
	message     string
}

const cveFixesQuery = `
SELECT c.cve_id,
       COALESCE(c.severity, ''),
       COALESCE(c.description, ''),
       COALESCE(cc.cwe_id, ''),
       f.hash,
       COALESCE(r.repo_language, ''),
       COALESCE(cm.msg, '')
FROM cve c
JOIN fixes f ON c.cve_id = f.cve_id
LEFT JOIN repository r ON f.repo_url = r.repo_url
LEFT JOIN commits cm ON f.hash = cm.hash AND f.repo_url = cm.repo_url
LEFT JOIN cwe_classification cc ON c.cve_id = cc.cve_id
WHERE (? = '' OR LOWER(c.severity) = LOWER(?))
  AND (? = '' OR LOWER(r.repo_language) = LOWER(?))
LIMIT ?`

const methodChangesQuery = `
SELECT mc.name, COALESCE(mc.code, ''), COALESCE(mc.before_change, 'False')
FROM method_change mc
JOIN file_change fc ON mc.file_change_id = fc.file_change_id
WHERE fc.hash = ?
ORDER BY mc.name`

// IngestCVEfixes reads fix records from a database following the CVEfixes schema
// (cve, fixes, commits, repository, cwe_classification, file_change, method_change).
// Each changed method of a fix becomes one record pairing its vulnerable and fixed code.
func IngestCVEfixes(ctx context.Context, dbPath string, opts IngestOptions) ([]Record, error) {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}
	perFix := opts.MethodsPerFix
	if perFix <= 0 {
		perFix = 3
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CVEfixes database %q: %w", dbPath, err)
	}
	defer db.Close()

	fixes, err := queryFixes(ctx, db, opts.Severity, opts.Language, limit)
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, fix := range fixes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		methods, err := queryMethodPairs(ctx, db, fix.hash)
		if err != nil {
			logger.Warn("skipping fix with unreadable method changes", "cve", fix.cveID, "hash", fix.hash, "error", err)
			continue
		}
		if len(methods) == 0 {
			// no method-level diff, keep the advisory text for lexical matching
			methods = []methodPair{{}}
		}
		for i, m := range methods {
			if i == perFix {
				break
			}
			rec := Record{
				ID:            fmt.Sprintf("%s#%s#%d", fix.cveID, shortHash(fix.hash), i),
				Description:   fix.description,
				WeaknessID:    normaliseWeakness(fix.cweID),
				Severity:      strings.ToLower(fix.severity),
				Language:      fix.language,
				Source:        fix.cveID,
				Before:        m.before,
				After:         m.after,
				CommitMessage: fix.message,
			}
			records = append(records, rec.withKeywords())
		}
	}

	logger.Info("CVEfixes ingest finished", "fixes", len(fixes), "records", len(records))
	return records, nil
}

func queryFixes(ctx context.Context, db *sql.DB, severity, language string, limit int) ([]cveFixRow, error) {
	rows, err := db.QueryContext(ctx, cveFixesQuery, severity, severity, language, language, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query CVE fixes: %w", err)
	}
	defer rows.Close()

	seen := map[string]struct{}{}
	var out []cveFixRow
	for rows.Next() {
		var r cveFixRow
		if err := rows.Scan(&r.cveID, &r.severity, &r.description, &r.cweID, &r.hash, &r.language, &r.message); err != nil {
			return nil, fmt.Errorf("failed to scan CVE fix: %w", err)
		}
		key := r.cveID + "|" + r.hash
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out, rows.Err()
}

type methodPair struct {
	before string
	after  string
}

func queryMethodPairs(ctx context.Context, db *sql.DB, hash string) ([]methodPair, error) {
	rows, err := db.QueryContext(ctx, methodChangesQuery, hash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byName := map[string]*methodPair{}
	var order []string
	for rows.Next() {
		var name, code, beforeFlag string
		if err := rows.Scan(&name, &code, &beforeFlag); err != nil {
			return nil, err
		}
		p, ok := byName[name]
		if !ok {
			p = &methodPair{}
			byName[name] = p
			order = append(order, name)
		}
		if strings.EqualFold(beforeFlag, "true") {
			p.before = code
		} else {
			p.after = code
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]methodPair, 0, len(order))
	for _, name := range order {
		if p := byName[name]; p.before != "" {
			out = append(out, *p)
		}
	}
	return out, nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func normaliseWeakness(cwe string) string {
	cwe = strings.TrimSpace(cwe)
	if cwe == "" || strings.EqualFold(cwe, "NVD-CWE-Other") || strings.EqualFold(cwe, "NVD-CWE-noinfo") {
		return ""
	}
	if !strings.HasPrefix(strings.ToUpper(cwe), "CWE-") {
		return "CWE-" + cwe
	}
	return strings.ToUpper(cwe)
}
