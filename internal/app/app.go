// Package app assembles coverage components from configuration. It is shared
// by the service binary and the covctl CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/telhawk-systems/telhawk-coverage/internal/alertstore"
	"github.com/telhawk-systems/telhawk-coverage/internal/chain"
	"github.com/telhawk-systems/telhawk-coverage/internal/config"
	"github.com/telhawk-systems/telhawk-coverage/internal/correlation"
	"github.com/telhawk-systems/telhawk-coverage/internal/logging"
	natsclient "github.com/telhawk-systems/telhawk-coverage/internal/nats"
	"github.com/telhawk-systems/telhawk-coverage/internal/publish"
	"github.com/telhawk-systems/telhawk-coverage/internal/query"
	"github.com/telhawk-systems/telhawk-coverage/internal/rulemap"
)

// Rules returns the configured rule mapping, or the built-in table.
func Rules(cfg *config.Config) (*rulemap.Mapping, error) {
	if cfg.Rules.MappingFile == "" {
		return rulemap.Default(), nil
	}
	rules, err := rulemap.LoadFile(cfg.Rules.MappingFile)
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// Gateway creates the OpenSearch alert store gateway.
func Gateway(cfg *config.Config) (*alertstore.OpenSearchGateway, error) {
	client, err := alertstore.NewOpenSearchClient(cfg.AlertStore())
	if err != nil {
		return nil, err
	}
	builder := query.NewBuilder(cfg.QueryFields(), cfg.Match.MaxAlerts)
	return alertstore.NewOpenSearchGateway(client, builder), nil
}

// Engine creates the correlation engine on top of gateway.
func Engine(cfg *config.Config, gateway alertstore.Gateway, logger *logging.Logger) (*correlation.Engine, error) {
	rules, err := Rules(cfg)
	if err != nil {
		return nil, err
	}
	builder := query.NewBuilder(cfg.QueryFields(), cfg.Match.MaxAlerts)
	return correlation.NewEngine(gateway, builder, rules, cfg.CorrelationSettings(), logger.Logger), nil
}

// Chains returns the configured chain sources, archive first. The returned
// function releases their resources.
func Chains(ctx context.Context, cfg *config.Config, logger *logging.Logger) (chain.Source, *chain.Archive, func(), error) {
	var (
		sources chain.Sources
		archive *chain.Archive
	)
	cleanup := func() {}

	if cfg.DatabaseURL != "" {
		if err := chain.Migrate(cfg.DatabaseURL); err != nil {
			return nil, nil, cleanup, err
		}
		var err error
		archive, err = chain.NewArchive(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, cleanup, fmt.Errorf("connect archive: %w", err)
		}
		sources = append(sources, archive)
		cleanup = archive.Close
		logger.Info("operation archive enabled")
	}
	if cfg.Caldera.URL != "" {
		sources = append(sources, chain.NewCalderaSource(cfg.Caldera.URL, cfg.Caldera.APIKey))
		logger.Info("caldera chain source enabled", slog.String("url", cfg.Caldera.URL))
	}

	if len(sources) == 0 {
		return nil, nil, cleanup, nil
	}
	return sources, archive, cleanup, nil
}

// NATS connects to the message bus when enabled. A connection failure is
// logged and reported as a nil client so the service runs without it.
func NATS(cfg *config.Config, logger *logging.Logger) *natsclient.Client {
	if !cfg.NATS.Enabled {
		logger.Info("NATS messaging disabled")
		return nil
	}
	natsCfg := natsclient.DefaultConfig()
	natsCfg.URL = cfg.NATS.URL
	natsCfg.MaxReconnects = cfg.NATS.MaxReconnects
	natsCfg.ReconnectWait = cfg.NATS.ReconnectWaitDuration()

	client, err := natsclient.NewClient(natsCfg, logger.Logger)
	if err != nil {
		logger.Warn("Failed to connect to NATS (continuing without NATS)",
			slog.String("url", cfg.NATS.URL), logging.Error(err))
		return nil
	}
	logger.Info("Connected to NATS", slog.String("url", cfg.NATS.URL))
	return client
}

// Publishers builds the report sinks. nc may be nil.
func Publishers(cfg *config.Config, nc *natsclient.Client, logger *logging.Logger) *publish.Multi {
	var sinks []publish.Publisher
	if nc != nil {
		sinks = append(sinks, publish.NewNATSPublisher(nc, natsclient.SubjectReportsCompleted))
	}
	if cfg.Kafka.Enabled {
		sinks = append(sinks, publish.NewKafkaPublisher(publish.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: 10 * time.Second,
		}, logger.Logger))
		logger.Info("kafka report publication enabled", slog.String("topic", cfg.Kafka.Topic))
	}
	return publish.NewMulti(logger.Logger, sinks...)
}
