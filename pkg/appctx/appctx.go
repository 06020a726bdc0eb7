// Package appctx builds the single application context struct
// cmd/gateway constructs once at startup: every cache, repository,
// enclave, and background actor the gateway runs, wired together in
// leaf-to-root dependency order (spec.md §2's "Leaf-to-root dependency
// order" list) and held here instead of as package-level globals
// (spec.md §9, "Global singletons → injected dependencies").
package appctx

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/leadpoet/validator-gateway/pkg/arweave"
	"github.com/leadpoet/validator-gateway/pkg/auth"
	"github.com/leadpoet/validator-gateway/pkg/chain"
	"github.com/leadpoet/validator-gateway/pkg/config"
	"github.com/leadpoet/validator-gateway/pkg/database"
	"github.com/leadpoet/validator-gateway/pkg/epoch"
	"github.com/leadpoet/validator-gateway/pkg/leads"
	"github.com/leadpoet/validator-gateway/pkg/metrics"
	"github.com/leadpoet/validator-gateway/pkg/ratelimit"
	"github.com/leadpoet/validator-gateway/pkg/registry"
	"github.com/leadpoet/validator-gateway/pkg/server"
	"github.com/leadpoet/validator-gateway/pkg/tasks"
	"github.com/leadpoet/validator-gateway/pkg/tee"
	"github.com/leadpoet/validator-gateway/pkg/translog"
	"github.com/leadpoet/validator-gateway/pkg/validation"

	"github.com/prometheus/client_golang/prometheus"
)

// App bundles every component the gateway process runs, constructed once
// by New and never mutated afterward (spec.md §5, "Process cardinality:
// exactly one").
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	DB    *database.Client
	Repos *database.Repositories

	Chain    chain.Client
	Registry *registry.Cache

	Enclave  *tee.Enclave
	Log      *translog.Logger
	Fallback *translog.FileFallback

	Auth         *auth.Authenticator
	RateLimiter  *ratelimit.Counters
	Priority     *ratelimit.PriorityMiddleware
	LeadsCache   *leads.Cache
	Initializer  *leads.Initializer
	Prefetcher   *leads.Prefetcher
	Store        *validation.Store
	Manifest     *validation.Manifest
	EpochMonitor *epoch.Monitor

	Arweave arweave.Client
	Metrics *metrics.Registry

	BlockPoller       *tasks.BlockPoller
	CheckpointBatcher *tasks.CheckpointBatcher
	AnchorTask        *tasks.AnchorTask
	MinerSweep        *tasks.MinerSweep
	Warmer            *tasks.MetagraphWarmer

	Server *server.Server
}

// recomputeAdapter narrows *validation.Store's Recompute (which also
// returns the recomputed *validation.Result for eager per-reveal callers)
// down to the error-only epoch.ConsensusRecomputer shape the block-330
// batch pass needs, per epoch/monitor.go's doc comment on that interface.
type recomputeAdapter struct {
	store *validation.Store
}

func (a recomputeAdapter) Recompute(ctx context.Context, leadID uuid.UUID, epochID int64) error {
	_, err := a.store.Recompute(ctx, leadID, epochID)
	return err
}

// New wires every component described above from cfg, in the dependency
// order spec.md §2 lists: Merkle/canonical/enclave primitives first, then
// the block poller and registry cache, then the epoch lifecycle, lead
// cache, commit-reveal store, consensus aggregator (owned by Store),
// HTTP ingress, background tasks, and checkpoint uploader.
func New(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	if err := failFastOnMultiWorker(); err != nil {
		return nil, err
	}

	db, err := database.NewClient(cfg, database.WithLogger(logger))
	if err != nil {
		if cfg.DatabaseRequired {
			return nil, fmt.Errorf("database connection required but failed: %w", err)
		}
		logger.Warn().Err(err).Msg("database connection failed, continuing without persistence is not supported for this service")
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	app.DB = db

	if err := db.MigrateUp(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("database migration failed")
	}

	app.Repos = database.NewRepositories(db)

	app.Chain = chain.NewHTTPClient(cfg.ChainWSEndpoint, time.Duration(cfg.RegistryFetchTimeoutSeconds)*time.Second)

	app.Registry = registry.NewCache(app.Chain, int64(cfg.BittensorNetuid), registry.FetchStrategy{
		MaxAttempts:       cfg.RegistryFetchMaxAttempts,
		SwitchToSyncAfter: cfg.RegistryFetchSwitchToSyncAfter,
		AttemptTimeout:    time.Duration(cfg.RegistryFetchTimeoutSeconds) * time.Second,
		RetryDelay:        time.Duration(cfg.RegistryFetchRetryDelaySeconds) * time.Second,
		EpochDuration:     time.Duration(cfg.EpochLengthBlocks) * time.Duration(cfg.BlockTimeSeconds) * time.Second,
	}, logger)

	priorTip, err := lastEventHash(app.Repos.Transparency)
	if err != nil {
		return nil, fmt.Errorf("load transparency log tip: %w", err)
	}

	enclave, err := buildEnclave(cfg, priorTip)
	if err != nil {
		return nil, fmt.Errorf("build enclave: %w", err)
	}
	app.Enclave = enclave

	var fallback *translog.FileFallback
	fallbackPath := filepath.Join(cfg.DataDir, "translog_fallback.jsonl")
	if err := os.MkdirAll(cfg.DataDir, 0o700); err == nil {
		fallback, err = translog.OpenFileFallback(fallbackPath)
		if err != nil {
			logger.Warn().Err(err).Str("path", fallbackPath).Msg("could not open local durable-fallback file")
		}
	}
	app.Fallback = fallback
	app.Log = translog.NewLogger(app.Enclave, app.Repos.Transparency, app.Fallback, logger)

	// Every boot, including the very first, opens its chain with an
	// ENCLAVE_RESTART event (spec.md §4.5.2, §3 "a boot restart emits an
	// ENCLAVE_RESTART event carrying the previous chain's tip"). The
	// enclave was already constructed with prevEventHash=priorTip above,
	// so this single LogEvent call produces the correct linkage whether
	// priorTip is a real prior tip or "" on a fresh deployment.
	if err := app.Log.LogEvent(context.Background(), database.EventTypeEnclaveRestart, struct {
		PriorTip string `json:"prior_tip,omitempty"`
	}{PriorTip: priorTip}); err != nil {
		logger.Error().Err(err).Msg("failed to log ENCLAVE_RESTART event on boot")
	}

	reg := prometheus.NewRegistry()
	app.Metrics = metrics.NewRegistry(reg)

	app.Auth = auth.New(app.Registry)
	app.RateLimiter = ratelimit.NewCounters(ratelimit.Limits{
		SubmissionCap:     cfg.RateLimitRequests,
		RejectionCapRatio: ratelimit.DefaultLimits.RejectionCapRatio,
		Window:            time.Duration(cfg.RateLimitWindow) * time.Second,
	})
	app.Priority = ratelimit.NewPriorityMiddleware(cfg.MaxConcurrentMiners, logger)

	app.LeadsCache = leads.NewCache()
	app.Initializer = leads.NewInitializer(app.Repos.Leads, app.Repos.Epochs, app.Registry, app.Log, app.LeadsCache)
	app.Prefetcher = leads.NewPrefetcher(app.Repos.Leads, app.Registry, app.LeadsCache, logger)

	app.Store = validation.NewStore(app.Repos.Leads, app.Repos.Epochs, app.Repos.Evidence, app.Registry, app.Log, app.RateLimiter)
	app.Manifest = validation.NewManifest(app.Repos.Evidence, app.Repos.Epochs, app.Log)

	minerSweep := tasks.NewMinerSweep(app.Repos.Leads, app.Registry, app.Log, logger)
	app.MinerSweep = minerSweep

	app.EpochMonitor = epoch.NewMonitor(
		app.Repos.Epochs,
		app.Initializer,
		app.Prefetcher,
		recomputeAdapter{store: app.Store},
		minerSweep.Run,
		app.Log,
		logger,
	)

	if cfg.ArweaveEnabled {
		app.Arweave = arweave.NewHTTPClient(cfg.ArweaveGatewayURL, 5*time.Minute, logger)
	} else {
		app.Arweave = arweave.NewNoopClient()
	}

	startingCheckpoint := int64(0)
	if latest, err := app.Repos.Checkpoints.Latest(context.Background()); err == nil {
		startingCheckpoint = latest.CheckpointNumber + 1
	} else if err != database.ErrCheckpointNotFound {
		logger.Warn().Err(err).Msg("could not load latest checkpoint number, starting from 0")
	}

	app.CheckpointBatcher = tasks.NewCheckpointBatcher(app.Enclave, app.Repos.Checkpoints, app.Arweave, app.Log, app.Metrics, startingCheckpoint, logger)
	app.AnchorTask = tasks.NewAnchorTask(app.Repos.Checkpoints, app.Log, logger)
	app.Warmer = tasks.NewMetagraphWarmer(app.Chain, app.Registry, logger)
	app.BlockPoller = tasks.NewBlockPoller(app.Chain, app.EpochMonitor, logger)

	app.Server = server.New(server.Deps{
		Auth:         app.Auth,
		Chain:        app.Chain,
		Store:        app.Store,
		Manifest:     app.Manifest,
		LeadsCache:   app.LeadsCache,
		LeadRepo:     app.Repos.Leads,
		Epochs:       app.Repos.Epochs,
		Evidence:     app.Repos.Evidence,
		Transparency: app.Repos.Transparency,
		Enclave:      app.Enclave,
		Metrics:      app.Metrics,
		Priority:     app.Priority,
		Logger:       logger,
	})

	return app, nil
}

// Run starts every background actor on its own goroutine and blocks until
// ctx is cancelled, then closes what needs an explicit close (spec.md §5:
// "Background tasks catch all exceptions, log, and sleep before retry —
// they never terminate" is each actor's own Run loop's responsibility;
// this just launches and joins them).
func (a *App) Run(ctx context.Context) {
	actors := []func(context.Context){
		a.BlockPoller.Run,
		a.CheckpointBatcher.Run,
		a.AnchorTask.Run,
		a.Warmer.Run,
	}
	for _, run := range actors {
		go run(ctx)
	}
	<-ctx.Done()
}

// Close releases resources that need an explicit shutdown step.
func (a *App) Close() {
	if a.Fallback != nil {
		_ = a.Fallback.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}

// failFastOnMultiWorker enforces spec.md §6.6: "WEB_CONCURRENCY > 1 or an
// equivalent multi-worker setting is a fatal startup condition" — the
// hash-chained transparency log has exactly one writer in this process,
// and a second process (or worker) advancing the same chain would fork it
// (spec.md §4.5.2).
func failFastOnMultiWorker() error {
	v := strings.TrimSpace(os.Getenv("WEB_CONCURRENCY"))
	if v == "" || v == "1" {
		return nil
	}
	return fmt.Errorf("WEB_CONCURRENCY=%s is unsupported: the transparency log permits exactly one writer process", v)
}

// buildEnclave loads a persisted Ed25519 signing key if one is configured
// and present, generating and saving a fresh one otherwise, then computes
// the boot's code hash (spec.md §4.5.3's attestation user_data binding).
func buildEnclave(cfg *config.Config, priorTip string) (*tee.Enclave, error) {
	codeHash := cfg.GatewayCodeHash
	if codeHash == "" {
		hash, err := tee.ComputeCodeHash(".")
		if err != nil {
			codeHash = "unknown"
		} else {
			codeHash = hash
		}
	}

	priv, err := loadOrGenerateEnclaveKey(cfg)
	if err != nil {
		return nil, err
	}
	return tee.NewFromKey(priv, codeHash, priorTip)
}

// loadOrGenerateEnclaveKey mirrors the teacher's loadOrGenerateEd25519Key:
// a persisted key survives process restarts so the enclave keeps
// presenting the same enclave_pubkey across boots, which attestation
// verifiers rely on. An empty Ed25519KeyPath generates an ephemeral key
// for local/test runs (a new key per boot, which is fine since priorTip
// still chains the transparency log across restarts regardless of which
// key signs it).
func loadOrGenerateEnclaveKey(cfg *config.Config) (ed25519.PrivateKey, error) {
	if cfg.Ed25519KeyPath == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		return priv, err
	}

	if data, err := os.ReadFile(cfg.Ed25519KeyPath); err == nil {
		keyBytes, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("decode enclave key at %s: %w", cfg.Ed25519KeyPath, err)
		}
		if len(keyBytes) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("enclave key at %s has wrong size: got %d bytes", cfg.Ed25519KeyPath, len(keyBytes))
		}
		return ed25519.PrivateKey(keyBytes), nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Ed25519KeyPath), 0o700); err != nil {
		return nil, fmt.Errorf("create enclave key directory: %w", err)
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate enclave key: %w", err)
	}
	if err := os.WriteFile(cfg.Ed25519KeyPath, []byte(hex.EncodeToString(priv)), 0o600); err != nil {
		return nil, fmt.Errorf("save enclave key to %s: %w", cfg.Ed25519KeyPath, err)
	}
	return priv, nil
}

// lastEventHash returns the hex event_hash of the most recently persisted
// transparency-log row across all boots, or "" on a genuinely fresh
// deployment (spec.md §4.5.2: "the host fetches the last event_hash from
// the persistent log store and presents it to the enclave via an
// ENCLAVE_RESTART event").
func lastEventHash(repo *database.TransparencyRepository) (string, error) {
	tail, err := repo.Tail(context.Background(), nil)
	if err == database.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(tail.EventHash), nil
}
