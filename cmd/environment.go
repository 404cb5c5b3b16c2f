package cmd

import (
	"context"

	"github.com/kyleking/insight-query/internal/audit"
	"github.com/kyleking/insight-query/internal/cache"
	"github.com/kyleking/insight-query/internal/config"
	"github.com/kyleking/insight-query/internal/errors"
	"github.com/kyleking/insight-query/internal/logging"
	"github.com/kyleking/insight-query/internal/pipeline"
	"github.com/kyleking/insight-query/internal/schema"
	"github.com/kyleking/insight-query/internal/security"
	"github.com/kyleking/insight-query/internal/warehouse"
)

// environment holds the collaborators one command invocation needs
type environment struct {
	cfg       *config.Config
	registry  *schema.Registry
	pipeline  *pipeline.Pipeline
	warehouse *warehouse.Warehouse
}

// newEnvironment loads the catalog and wires the pipeline. The warehouse is
// opened only when introspection or execution needs it.
func newEnvironment(ctx context.Context, cfg *config.Config, needWarehouse bool) (*environment, error) {
	env := &environment{
		cfg:      cfg,
		registry: schema.NewRegistry(schema.WithDefaultSchema(cfg.Catalog.DefaultSchema)),
	}

	logger := logging.GetLogger()

	opts := append(pipeline.OptionsFromConfig(cfg),
		pipeline.WithAuditSink(audit.NewLoggerSink(logger)),
		pipeline.WithLogger(logger))
	env.pipeline = pipeline.New(env.registry, security.PolicyFromConfig(cfg), opts...)

	if needWarehouse || cfg.Catalog.Introspect {
		wh, err := warehouse.Open(cfg.Warehouse,
			warehouse.WithLogger(logger),
			warehouse.WithQueryCheck(func(query string) error {
				return env.pipeline.ValidateGeneratedQuery(query, nil)
			}))
		if err != nil {
			return nil, err
		}

		env.warehouse = wh
	}

	if err := env.loadCatalog(ctx); err != nil {
		env.Close()
		return nil, err
	}

	return env, nil
}

func (e *environment) Close() {
	if e.warehouse != nil {
		if err := e.warehouse.Close(); err != nil {
			logging.WithError(err).Warn("failed to close warehouse")
		}
	}
}

func (e *environment) loadCatalog(ctx context.Context) error {
	if e.cfg.Catalog.File != "" {
		tables, err := schema.LoadCatalogFile(e.cfg.Catalog.File)
		if err != nil {
			return errors.Wrap(err, errors.ErrTypeConfig, "failed to load catalog").
				WithSuggestion("Check the YAML syntax of the catalog file")
		}

		if err := e.registry.RegisterAll(tables); err != nil {
			return err
		}
	}

	if e.cfg.Catalog.Introspect {
		tables, err := e.introspect(ctx)
		if err != nil {
			return err
		}

		if err := e.registry.RegisterAll(tables); err != nil {
			return err
		}
	}

	if e.registry.Len() == 0 {
		return errors.NewConfigError("no tables registered", "catalog").
			WithSuggestion("Pass --catalog <file.yaml> or --introspect with --warehouse <db>")
	}

	logging.Debugf("registered %d table(s)", e.registry.Len())

	return nil
}

// introspect reads the warehouse catalog, going through the snapshot cache
// when it is enabled
func (e *environment) introspect(ctx context.Context) ([]schema.TableDescriptor, error) {
	schemas := e.cfg.Security.AllowedSchemas

	if !e.cfg.Cache.Enabled {
		return e.warehouse.LoadSchema(ctx, schemas)
	}

	c, err := e.catalogCache()
	if err != nil {
		return nil, err
	}

	key := cache.Key(e.warehouse.Path(), schemas)

	tables, ok, err := c.Get(ctx, key)
	if err != nil {
		logging.WithError(err).Warn("catalog cache read failed")
	}

	if ok {
		logging.Debug("catalog cache hit")
		return tables, nil
	}

	tables, err = e.warehouse.LoadSchema(ctx, schemas)
	if err != nil {
		return nil, err
	}

	if err := c.Put(ctx, key, tables); err != nil {
		logging.WithError(err).Warn("catalog cache write failed")
	}

	return tables, nil
}

func (e *environment) catalogCache() (*cache.CatalogCache, error) {
	c, err := cache.New(e.cfg.Cache.Directory, e.cfg.Cache.TTLDuration())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to open catalog cache")
	}

	return c, nil
}
