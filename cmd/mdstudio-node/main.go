// Command mdstudio-node runs one session-kernel process: a thin dispatcher
// wiring config -> router -> database -> components, the role named by
// MDSTUDIO_ROLE deciding which component joins this process's kernel.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nlesc/mdstudio/pkg/apierr"
	"github.com/nlesc/mdstudio/pkg/authsvc"
	"github.com/nlesc/mdstudio/pkg/authz"
	"github.com/nlesc/mdstudio/pkg/config"
	"github.com/nlesc/mdstudio/pkg/dbstore"
	"github.com/nlesc/mdstudio/pkg/kernel"
	"github.com/nlesc/mdstudio/pkg/metrics"
	"github.com/nlesc/mdstudio/pkg/obslog"
	"github.com/nlesc/mdstudio/pkg/router"
	"github.com/nlesc/mdstudio/pkg/schema"
	"github.com/nlesc/mdstudio/pkg/token"
	"github.com/nlesc/mdstudio/pkg/validate"
	"github.com/nlesc/mdstudio/pkg/workflow"
	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"
)

func main() {
	os.Exit(Run())
}

// Run is the entrypoint for testing: it wires and blocks until a shutdown
// signal arrives, then returns the process exit code.
func Run() int {
	cfg := config.Load()
	logger := obslog.WithLevel(cfg.NodeRole, cfg.LogLevel)
	if cfg.ShadowMode {
		logger.Warn("shadow mode enabled: authorization decisions are still fully enforced; this flag changes no other behavior")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("db open failed", "error", err)
		return 1
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		logger.Error("db ping failed", "error", err)
		return 1
	}
	logger.Info("postgres connected")

	transport, closeTransport, err := dialTransport(cfg)
	if err != nil {
		logger.Error("router dial failed", "error", err)
		return 1
	}
	defer closeTransport()

	mp, err := metrics.New(ctx)
	if err != nil {
		logger.Error("metrics init failed", "error", err)
		return 1
	}
	defer mp.Shutdown(context.Background())

	var schemaStore schema.Store = schema.NewPostgresStore(db)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("redis url parse failed", "error", err)
			return 1
		}
		schemaStore = schema.NewCachedStore(schemaStore, redis.NewClient(opts), "mdstudio:schema:")
		logger.Info("schema store caching enabled", "redis", cfg.RedisURL)
	}
	validator := validate.New(schemaStore)

	tokens := token.NewService()

	clients := dbstore.NewCollection[dbstore.OAuthClientRecord](db, dbstore.DriverPostgres, "clients")
	sessions := dbstore.NewCollection[dbstore.OAuthSessionRecord](db, dbstore.DriverPostgres, "oauth_sessions")
	oauthStore := dbstore.NewOAuthStore(clients, sessions)
	registrationStats := dbstore.NewCollection[dbstore.CallStat](db, dbstore.DriverPostgres, "registration_info")
	callStats := dbstore.NewCollection[dbstore.CallStat](db, dbstore.DriverPostgres, "call_stats")
	statsRecorder := dbstore.NewStatsCollection(registrationStats, callStats)

	authorizer := authz.New(oauthStore, statsRecorder)
	authorizer.GrantRing0("auth-role", "mdstudio.auth.endpoint")
	authorizer.GrantRing0("workflow-role", "mdstudio.workflow.endpoint")

	component, err := buildComponent(cfg, db, tokens, authorizer, transport, logger)
	if err != nil {
		logger.Error("component init failed", "error", err)
		return 1
	}

	kcfg := kernel.Config{
		Realm:       cfg.Realm,
		Credentials: cfg.Credentials,
		Metrics:     mp,
	}
	k := kernel.New(kcfg, transport, tokens, validator, authorizer, component)

	logger.Info("kernel starting", "role", cfg.NodeRole, "realm", cfg.Realm)
	if err := k.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("kernel exited", "error", err)
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

func dialTransport(cfg *config.Config) (router.Router, func(), error) {
	if cfg.RouterURL == "inprocess" {
		return router.NewInProcess(), func() {}, nil
	}
	nc, err := router.Dial(cfg.RouterURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", cfg.RouterURL, err)
	}
	return nc, nc.Close, nil
}

// buildComponent selects the kernel.Component this process hosts, keyed
// by MDSTUDIO_ROLE: each role runs in its own node process, joining the
// same realm, the way the source platform split db/auth/orchestrator
// responsibilities across separate WAMP components.
func buildComponent(cfg *config.Config, db *sql.DB, tokens *token.Service, authorizer *authz.Authorizer, transport router.Router, logger *slog.Logger) (kernel.Component, error) {
	switch cfg.NodeRole {
	case "auth":
		store := authsvc.NewStore(db, dbstore.DriverPostgres)
		if err := store.EnsureSchema(context.Background()); err != nil {
			return nil, fmt.Errorf("auth schema: %w", err)
		}
		authCfg := authsvc.Config{
			Realm:         cfg.Realm,
			URIPrefix:     "mdstudio.auth.endpoint",
			DBOnlineTopic: "mdstudio.db.online",
			DBWaitTimeout: 30 * time.Second,
		}
		return authsvc.New(authCfg, store, tokens, authorizer, transport), nil

	case "workflow":
		snapshotter := workflow.NewCollectionSnapshotter(db, dbstore.DriverPostgres)
		if err := snapshotter.EnsureSchema(context.Background()); err != nil {
			return nil, fmt.Errorf("workflow schema: %w", err)
		}
		runners := workflow.RunnerFactory(func() map[string]workflow.TaskRunner {
			return remoteTaskRunners(transport, tokens)
		})
		return workflow.NewComponent(workflow.Config{URIPrefix: "mdstudio.workflow.endpoint"}, snapshotter, runners), nil

	default:
		return nil, fmt.Errorf("unknown MDSTUDIO_ROLE %q (want auth or workflow)", cfg.NodeRole)
	}
}

// remoteTaskRunners builds the task_type -> TaskRunner table a workflow
// node dispatches into: every task type is executed by calling another
// component's registered endpoint over the shared transport.
func remoteTaskRunners(transport router.Router, tokens *token.Service) map[string]workflow.TaskRunner {
	caller := workflowCaller{transport: transport}
	sign := func() (string, error) {
		return tokens.Sign(map[string]any{}, "workflow-role")
	}
	return map[string]workflow.TaskRunner{
		"mdstudio": workflow.NewRemoteRPCRunner(caller, "mdstudio.task.endpoint.run", sign),
	}
}

// workflowCaller adapts router.Router into workflow.Caller, wrapping each
// dispatch's token and body into the same {_token, body} wire envelope
// the session kernel itself decodes.
type workflowCaller struct {
	transport router.Router
}

func (c workflowCaller) Call(ctx context.Context, uri string, tok string, body json.RawMessage) (apierr.Envelope, error) {
	payload, err := json.Marshal(struct {
		Token string          `json:"_token"`
		Body  json.RawMessage `json:"body"`
	}{Token: tok, Body: body})
	if err != nil {
		return apierr.Envelope{}, fmt.Errorf("encoding dispatch envelope: %w", err)
	}
	return c.transport.Call(ctx, uri, payload)
}
