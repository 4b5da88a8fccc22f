package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-analyst/internal/config"
	"duck-analyst/internal/domain"
	"duck-analyst/internal/engine"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	csv := filepath.Join(dir, "orders.csv")
	require.NoError(t, os.WriteFile(csv, []byte("id,region,amount\n1,EU,10.5\n2,US,20\n"), 0o600))

	return &config.Config{
		LogFormat: "text",
		Output:    "table",
		Catalog:   config.CatalogConfig{Concurrency: 2, SampleValues: 2, CountRows: true},
		Agent:     config.AgentConfig{MaxAttempts: 3, DefaultLimit: 100, MaxLimit: 1000, MaxResults: 100},
		Sources: []config.SourceConfig{
			{Name: "files", Type: config.SourceLocal, Paths: []string{filepath.Join(dir, "*.csv")}},
		},
		Checkpoint: config.CheckpointConfig{Path: filepath.Join(dir, "sessions.sqlite")},
	}
}

func TestNew_LocalSource(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), Options{WithStore: true}, nil)
	require.NoError(t, err)
	defer a.Close() //nolint:errcheck

	assert.Nil(t, a.Agent)
	require.NotNil(t, a.Store)

	snap, err := a.Catalog.Get(ctx, false)
	require.NoError(t, err)
	tbl, ok := snap.Lookup("orders")
	require.True(t, ok)
	assert.Len(t, tbl.Columns, 3)
}

func TestNew_AgentRequiresLLM(t *testing.T) {
	_, err := New(context.Background(), testConfig(t), Options{WithAgent: true}, nil)
	assert.ErrorContains(t, err, "no LLM endpoint configured")
}

func TestNew_AgentWired(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM = config.LLMConfig{APIKey: "sk-test", Model: "gpt-4o-mini", Burst: 1}

	a, err := New(context.Background(), cfg, Options{WithAgent: true}, nil)
	require.NoError(t, err)
	defer a.Close() //nolint:errcheck

	assert.NotNil(t, a.Agent)
	assert.NotNil(t, a.Store, "the agent always gets a checkpoint store")
}

func TestOpenSource_UnknownType(t *testing.T) {
	a := &App{}
	_, err := a.openSource(context.Background(), config.SourceConfig{Name: "x", Type: "ftp"}, nil, engine.InspectOptions{}, slog.New(slog.DiscardHandler))
	assert.ErrorContains(t, err, `unknown source type "ftp"`)
}

func TestNew_FailedSourceSetupMakesCatalogUnavailable(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Sources = []config.SourceConfig{{Name: "ftp_drop", Type: "ftp"}}

	a, err := New(ctx, cfg, Options{}, nil)
	require.NoError(t, err)
	defer a.Close() //nolint:errcheck

	for range 2 {
		snap, err := a.Catalog.Refresh(ctx)
		var unavailable *domain.CatalogUnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Contains(t, unavailable.Failures["ftp_drop"], `setup: unknown source type "ftp"`)
		assert.Contains(t, snap.SourceErrors, "ftp_drop")
	}
}

func TestNew_FailedSourceReportedBesideHealthyOne(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Sources = append(cfg.Sources, config.SourceConfig{Name: "ftp_drop", Type: "ftp"})

	a, err := New(ctx, cfg, Options{}, nil)
	require.NoError(t, err)
	defer a.Close() //nolint:errcheck

	snap, err := a.Catalog.Get(ctx, false)
	require.NoError(t, err)
	assert.True(t, snap.Has("orders"))
	assert.Contains(t, snap.SourceErrors["ftp_drop"], "unknown source type")
}

func TestSourceExtension(t *testing.T) {
	assert.Equal(t, "httpfs", sourceExtension(config.SourceS3))
	assert.Equal(t, "httpfs", sourceExtension(config.SourceGCS))
	assert.Equal(t, "azure", sourceExtension(config.SourceAzure))
	assert.Equal(t, "postgres", sourceExtension(config.SourcePostgres))
	assert.Empty(t, sourceExtension(config.SourceLocal))
}

func TestRelease_DropsSecretsAndDetaches(t *testing.T) {
	ctx := context.Background()
	db, err := engine.Open(ctx, engine.Options{}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	_, err = db.ExecContext(ctx, "ATTACH ':memory:' AS crm")
	require.NoError(t, err)
	require.True(t, engine.IsCatalogAttached(ctx, db, "crm"))

	a := &App{DuckDB: db}
	a.trackSecret("lake_secret")
	a.trackAttached("crm")
	a.trackAttached("crm")
	assert.Equal(t, []string{"crm"}, a.attached)

	require.NoError(t, a.release(ctx))
	assert.False(t, engine.IsCatalogAttached(ctx, db, "crm"))
	assert.Empty(t, a.secrets)
	assert.Empty(t, a.attached)
	require.NoError(t, a.release(ctx))
}

func TestStartScheduler_NoSchedule(t *testing.T) {
	a := &App{Config: &config.Config{}}
	assert.NoError(t, a.StartScheduler(nil))
	assert.Nil(t, a.scheduler)
}
