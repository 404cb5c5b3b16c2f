package cmd

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kyleking/insight-query/internal/config"
)

const testCatalog = `tables:
  - name: sales
    description: Completed sales
    columns:
      - {name: region, type: STRING}
      - {name: amount, type: DECIMAL}
      - {name: quantity, type: INT}
  - name: customers
    aliases: [clients]
    columns:
      - {name: customer_id, type: INT}
      - {name: segment, type: STRING}
`

var warehouseSeed = []string{
	`CREATE TABLE sales (region VARCHAR, amount DOUBLE, quantity INTEGER)`,
	`INSERT INTO sales VALUES ('east', 10.5, 1), ('west', 5, 2), ('east', 2.25, 3)`,
}

// isolate points the config file and cache at a temp dir so the user's own
// settings never leak into a test
func isolate(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("INSIGHT_QUERY_CONFIG", filepath.Join(dir, "missing.json"))
	t.Setenv("INSIGHT_QUERY_CACHE_DIR", filepath.Join(dir, "cache"))
	t.Setenv("INSIGHT_QUERY_LOG_LEVEL", "error")

	return dir
}

func writeCatalog(t *testing.T, dir string) string {
	t.Helper()

	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0600))

	return path
}

// seedWarehouse writes stmts, or warehouseSeed when none are given, to a new database
func seedWarehouse(t *testing.T, dir string, stmts ...string) string {
	t.Helper()

	if len(stmts) == 0 {
		stmts = warehouseSeed
	}

	path := filepath.Join(dir, "shop.duckdb")

	db, err := sql.Open("duckdb", path)
	require.NoError(t, err)

	for _, stmt := range stmts {
		_, err := db.ExecContext(context.Background(), stmt)
		require.NoError(t, err, stmt)
	}

	require.NoError(t, db.Close())

	return path
}

func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Catalog.File = writeCatalog(t, dir)
	cfg.Cache.Directory = filepath.Join(dir, "cache")
	cfg.Logging.Level = "error"

	return cfg
}

func newTestEnvironment(t *testing.T, cfg *config.Config, needWarehouse bool) *environment {
	t.Helper()

	env, err := newEnvironment(context.Background(), cfg, needWarehouse)
	require.NoError(t, err)
	t.Cleanup(env.Close)

	return env
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	app := NewApp()
	app.Writer = &out

	err := app.Run(context.Background(), append([]string{appName}, args...))

	return out.String(), err
}
