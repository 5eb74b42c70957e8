// Command ddscored is the process that wires ddscore's subsystems together:
// ambient configuration, structured logging, Prometheus metrics, the
// durable-client coordinator, and (when a governance/permissions pair is
// configured) the access-control evaluator.
//
// Configuration is loaded with the following priority (highest to lowest):
//  1. Environment variables (prefix DDSCORE_)
//  2. The file named by DDSCORE_CONFIG, or config.yaml in a handful of
//     standard locations
//  3. Built-in defaults
//
// CYCLONEDDS_URI, read separately from the ambient config above, is the
// schema engine's own entry point: an XML configuration string (or
// "file://path") describing the DDS domain the process participates in.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ddscore/internal/accesscontrol"
	"ddscore/internal/cfgschema"
	"ddscore/internal/config"
	"ddscore/internal/dispatcher"
	"ddscore/internal/durable"
	"ddscore/internal/entityid"
	"ddscore/internal/idalloc"
	"ddscore/internal/obslog"
	"ddscore/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ddscored: failed to load config: %v\n", err)
		os.Exit(1)
	}

	obslog.Init(obslog.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	log := obslog.WithService(cfg.App.Name)

	telemetry.Init("ddscore", strings.ReplaceAll(cfg.App.Name, "-", "_"))
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = startMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, log)
	}

	disp := dispatcher.New(dispatcher.NewTimerQueue())
	disp.Enable()

	domainID, transport, err := loadDomainSchema(log)
	if err != nil {
		log.Warn("domain schema not loaded, continuing with defaults", "error", err)
	}

	ids := idalloc.New(1, 1<<20)
	defer ids.Fini()
	entityNum, ok := ids.Alloc()
	if !ok {
		log.Error("entity id allocator exhausted at startup")
		os.Exit(1)
	}
	var prefix [12]byte
	copy(prefix[:], cfg.App.Name)
	var entityBytes [4]byte
	entityBytes[0] = byte(entityNum >> 24)
	entityBytes[1] = byte(entityNum >> 16)
	entityBytes[2] = byte(entityNum >> 8)
	entityBytes[3] = byte(entityNum)
	clientGUID := entityid.New(prefix, entityBytes)

	evaluator := loadAccessControl(disp, log)

	dcTransport, err := durable.NewRedisTransport(cfg.Durable.RedisAddr)
	var coordinator *durable.Coordinator
	if err != nil {
		log.Warn("durable-client transport unavailable, continuing without it", "error", err)
	} else {
		coordinator, err = durable.Acquire(domainID, func() (*durable.Coordinator, error) {
			return durable.NewCoordinator(clientGUID, dcTransport, disp, noopHistoryCache{}), nil
		})
		if err != nil {
			log.Warn("durable-client coordinator failed to start", "error", err)
		}
	}

	log.Info("ddscored started",
		"name", cfg.App.Name,
		"environment", cfg.App.Environment,
		"domain_id", domainID,
		"transport", transport,
		"client_guid", clientGUID.String(),
		"access_control_enabled", evaluator != nil,
		"durable_client_enabled", coordinator != nil,
	)

	waitForShutdown(log)

	switch {
	case coordinator != nil:
		// Coordinator.Close (invoked once the refcount drops to zero)
		// closes the transport itself.
		durable.Release(domainID)
	case dcTransport != nil:
		if err := dcTransport.Close(); err != nil {
			log.Warn("error closing durable-client transport", "error", err)
		}
	}
	disp.Disable()
	disp.Free()
	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(ctx); err != nil {
			log.Warn("error shutting down metrics server", "error", err)
		}
	}
	log.Info("ddscored stopped")
}

func startMetricsServer(port int, path string, log interface {
	Info(string, ...any)
	Warn(string, ...any)
}) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, telemetry.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped unexpectedly", "error", err)
		}
	}()
	log.Info("metrics server listening", "port", port, "path", path)
	return srv
}

// loadDomainSchema resolves CYCLONEDDS_URI if set, against a minimal
// built-in Domain schema exposing the domain id and the transport triple
// (Selector/CompatTcpEnable/CompatUseIpv6). A richer deployment would
// register the process's full schema tree here; this entry point
// demonstrates the wiring without inventing configuration surface the rest
// of the process doesn't consume.
func loadDomainSchema(log interface {
	Warn(string, ...any)
}) (uint32, string, error) {
	uri := os.Getenv("CYCLONEDDS_URI")
	if uri == "" {
		return cfgschema.DomainIDAny, cfgschema.TransportDefault.String(), nil
	}

	transportNode := &cfgschema.Node{
		Name: "Transport",
		Kind: cfgschema.KindGroup,
		Children: []*cfgschema.Node{
			{Name: "Selector", Kind: cfgschema.KindEnum, Default: "default",
				EnumValues: []string{"default", "udp", "udp6", "tcp", "tcp6", "raweth", "none"}},
			{Name: "CompatTcpEnable", Kind: cfgschema.KindEnum, Default: "default",
				EnumValues: []string{"default", "false", "true"}},
			{Name: "CompatUseIpv6", Kind: cfgschema.KindEnum, Default: "default",
				EnumValues: []string{"default", "false", "true"}},
		},
	}
	root := &cfgschema.Node{
		Name: "CycloneDDS",
		Kind: cfgschema.KindGroup,
		Children: []*cfgschema.Node{
			{
				Name: "Domain",
				Kind: cfgschema.KindGroup,
				Children: []*cfgschema.Node{
					{Name: "Id", Kind: cfgschema.KindString, Default: "any"},
					transportNode,
				},
			},
		},
	}

	input := uri
	if rest, ok := strings.CutPrefix(uri, "file://"); ok {
		data, err := os.ReadFile(rest)
		if err != nil {
			return cfgschema.DomainIDAny, cfgschema.TransportDefault.String(), fmt.Errorf("read CYCLONEDDS_URI file: %w", err)
		}
		input = string(data)
	}

	tree, deprecations, moves, err := cfgschema.LoadStringDetailed(root, input, true)
	if err != nil {
		return cfgschema.DomainIDAny, cfgschema.TransportDefault.String(), fmt.Errorf("parse CYCLONEDDS_URI: %w", err)
	}
	for _, d := range deprecations {
		log.Warn("configuration deprecation", "detail", d)
	}
	for _, m := range moves {
		log.Warn("configuration element moved", "detail", m)
	}

	domainID := cfgschema.DomainIDAny
	idNode := root.Children[0].Children[0]
	if rec, ok := tree.Lookup(idNode); ok && len(rec.Values) > 0 {
		domainID, err = cfgschema.ParseDomainID(rec.Values[0].Str)
		if err != nil {
			return cfgschema.DomainIDAny, cfgschema.TransportDefault.String(), err
		}
	}

	transport := cfgschema.TransportDefault.String()
	if rec, ok := tree.Lookup(transportNode.Children[0]); ok && len(rec.Values) > 0 {
		transport = rec.Values[0].Raw
	}
	return domainID, transport, nil
}

// loadAccessControl builds an Evaluator from DDSCORE_GOVERNANCE_FILE and
// DDSCORE_PERMISSIONS_FILE when both are set, returning nil otherwise (the
// process then runs without access-control enforcement).
func loadAccessControl(disp *dispatcher.Dispatcher, log interface {
	Warn(string, ...any)
}) *accesscontrol.Evaluator {
	govPath := os.Getenv("DDSCORE_GOVERNANCE_FILE")
	permPath := os.Getenv("DDSCORE_PERMISSIONS_FILE")
	if govPath == "" || permPath == "" {
		return nil
	}

	govBytes, err := os.ReadFile(govPath)
	if err != nil {
		log.Warn("failed to read governance file", "path", govPath, "error", err)
		return nil
	}
	permBytes, err := os.ReadFile(permPath)
	if err != nil {
		log.Warn("failed to read permissions file", "path", permPath, "error", err)
		return nil
	}

	gov, err := accesscontrol.ParseGovernance(govBytes)
	if err != nil {
		log.Warn("failed to parse governance document", "error", err)
		return nil
	}
	perms, err := accesscontrol.ParsePermissions(permBytes)
	if err != nil {
		log.Warn("failed to parse permissions document", "error", err)
		return nil
	}

	return accesscontrol.NewEvaluator(gov, perms, disp)
}

func waitForShutdown(log interface{ Info(string, ...any) }) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal", "signal", sig.String())
}

// noopHistoryCache stands in for a real reader history cache: it logs
// delivery rather than storing samples, since ddscored itself owns no
// reader-side storage.
type noopHistoryCache struct{}

func (noopHistoryCache) Inject(readerGUID entityid.GUID, s durable.Sample) error {
	obslog.Category("durable-client").Debug("historical sample delivered",
		"reader", readerGUID.String(), "seqnum", s.SeqNum, "payload_len", len(s.Payload))
	return nil
}
