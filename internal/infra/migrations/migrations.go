// Package migrations applies the embedded schema for each storage driver.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/gocql/gocql"
	"github.com/jmoiron/sqlx"
)

//go:embed postgres/*.sql sqlite/*.sql scylla/*.cql
var files embed.FS

// Run executes every up migration for dialect ("postgres" or "sqlite") in name order.
// Statements are idempotent, so Run is safe on every start.
func Run(ctx context.Context, db *sqlx.DB, dialect string) error {
	entries, err := files.ReadDir(dialect)
	if err != nil {
		return fmt.Errorf("migrations: read %s: %w", dialect, err)
	}

	var names []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := files.ReadFile(path.Join(dialect, name))
		if err != nil {
			return fmt.Errorf("migrations: read %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("migrations: apply %s: %w", name, err)
		}
	}
	return nil
}

// RunCQL creates the attempt journal tables. CQL accepts one statement per
// query, so each file is split on semicolons.
func RunCQL(ctx context.Context, session *gocql.Session) error {
	entries, err := files.ReadDir("scylla")
	if err != nil {
		return fmt.Errorf("migrations: read scylla: %w", err)
	}
	for _, entry := range entries {
		body, err := files.ReadFile(path.Join("scylla", entry.Name()))
		if err != nil {
			return fmt.Errorf("migrations: read %s: %w", entry.Name(), err)
		}
		for _, stmt := range splitStatements(string(body)) {
			if err := session.Query(stmt).WithContext(ctx).Exec(); err != nil {
				return fmt.Errorf("migrations: apply %s: %w", entry.Name(), err)
			}
		}
	}
	return nil
}

func splitStatements(body string) []string {
	var out []string
	for _, stmt := range strings.Split(body, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
