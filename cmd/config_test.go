package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/insight-query/internal/config"
)

func TestRunConfig(t *testing.T) {
	withFile := config.DefaultConfig()
	withFile.Catalog.File = "/etc/insight-query/catalog.yaml"
	withFile.Warehouse.Path = "/data/shop.duckdb"
	withFile.Logging.Output = "file"
	withFile.Logging.File = "/tmp/iq.log"

	tests := []struct {
		name     string
		cfg      *config.Config
		wantErr  bool
		contains []string
	}{
		{
			name: "defaults",
			cfg:  config.DefaultConfig(),
			contains: []string{
				"Active Configuration:",
				"Rate Limit: 60/minute",
				"Allowed Schemas: main, analytics",
				"Confidence: base 0.30, cue +0.10, table +0.20, max 1.00",
				"Threshold: max(1, len/4)",
				"File: (none)",
				"Path: (in-memory)",
				"Query Timeout: 30s",
				"Output: stderr",
			},
		},
		{
			name: "explicit paths",
			cfg:  withFile,
			contains: []string{
				"File: /etc/insight-query/catalog.yaml",
				"Path: /data/shop.duckdb",
				"File: /tmp/iq.log",
			},
		},
		{
			name:    "nil configuration error",
			cfg:     nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer

			err := runConfig(&out, tt.cfg, false)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)

			for _, want := range tt.contains {
				assert.Contains(t, out.String(), want)
			}
		})
	}
}

func TestRunConfigJSON(t *testing.T) {
	var out bytes.Buffer

	require.NoError(t, runConfig(&out, config.DefaultConfig(), true))

	var decoded config.Config
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, 10000, decoded.Security.MaxQueryLength)
	assert.Equal(t, "main", decoded.Catalog.DefaultSchema)
}

func TestConfigCommandAppliesFlags(t *testing.T) {
	dir := isolate(t)
	catalog := writeCatalog(t, dir)

	out, err := runApp(t, "--catalog", catalog, "--log-format", "json", "config", "--json")
	require.NoError(t, err)

	var decoded config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, catalog, decoded.Catalog.File)
	assert.Equal(t, "json", decoded.Logging.Format)
	assert.Equal(t, "error", decoded.Logging.Level, "environment layer applies under flags")
}
