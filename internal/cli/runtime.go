package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"

	"github.com/roach88/crewflow/internal/action"
	"github.com/roach88/crewflow/internal/audit"
	"github.com/roach88/crewflow/internal/config"
	"github.com/roach88/crewflow/internal/engine"
	"github.com/roach88/crewflow/internal/gateway"
	"github.com/roach88/crewflow/internal/guard"
	"github.com/roach88/crewflow/internal/metrics"
	"github.com/roach88/crewflow/internal/registry"
	"github.com/roach88/crewflow/internal/store"
)

// runtime is the fully wired orchestrator shared by serve, evaluate and
// sweep.
type runtime struct {
	cfg      *config.Config
	store    *store.Store
	registry *registry.Registry
	metrics  *metrics.Prometheus
	audit    *audit.AsyncSink
	engine   *engine.Engine
	redis    redis.UniversalClient
}

// openRuntime opens the store and wires handlers, guard, registry,
// audit and engine from configuration.
func openRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open store", err)
	}
	rt := &runtime{cfg: cfg, store: st, metrics: metrics.NewPrometheus()}

	g, err := rt.openGuard(ctx)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "open guard", err)
	}

	doer := gateway.NewDoer(nil, gateway.Options{
		Timeout:         cfg.Gateway.Timeout,
		RatePerSecond:   cfg.Gateway.RatePerSecond,
		Burst:           cfg.Gateway.Burst,
		BreakerFailures: cfg.Gateway.BreakerFailures,
		BreakerCooldown: cfg.Gateway.BreakerCooldown,
		OnStateChange: func(host string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "host", host, "from", from.String(), "to", to.String())
		},
	})

	ids := engine.UUIDv7Generator{}
	handlers, err := action.NewDefaultRegistry(action.Deps{
		Messenger:   gateway.NewMessagingClient(cfg.Gateway.MessagingURL, doer),
		Signer:      gateway.NewSignatureClient(cfg.Gateway.SignatureURL, doer),
		Tasks:       st,
		Fields:      st,
		Commissions: st,
		HTTP:        doer,
		Guard:       g,
		IDs:         ids,
	})
	if err != nil {
		rt.Close(ctx)
		return nil, WrapExitError(ExitCommandError, "wire handlers", err)
	}

	rt.registry = registry.New(st, registry.Options{TTL: cfg.Engine.RegistryTTL})
	rt.audit = audit.NewAsyncSink(audit.NewStoreSink(st), audit.AsyncOptions{
		Capacity: cfg.Audit.QueueSize,
		OnDrop: func(reason audit.DropReason) {
			rt.metrics.AuditDropped(string(reason))
		},
	})
	rt.engine = engine.New(rt.registry, handlers,
		engine.WithAudit(rt.audit),
		engine.WithPending(st),
		engine.WithMetrics(rt.metrics),
		engine.WithIDs(ids),
		engine.WithActionTimeout(cfg.Engine.ActionTimeout),
		engine.WithConcurrency(cfg.Engine.Concurrency),
	)
	return rt, nil
}

func (rt *runtime) openGuard(ctx context.Context) (guard.Guard, error) {
	switch rt.cfg.Guard.Backend {
	case config.GuardRedis:
		client, err := guard.DialRedis(ctx, rt.cfg.Redis.Addrs)
		if err != nil {
			return nil, err
		}
		rt.redis = client
		return guard.NewRedisGuard(client, rt.cfg.Redis.Namespace, rt.cfg.Guard.Lease), nil
	case config.GuardSQLite:
		return guard.NewStoreGuard(rt.store, rt.cfg.Guard.Lease), nil
	default:
		return nil, fmt.Errorf("unknown guard backend %q", rt.cfg.Guard.Backend)
	}
}

// sweeper builds a sweeper over the runtime's engine and store.
func (rt *runtime) sweeper() *engine.Sweeper {
	return engine.NewSweeper(rt.engine, rt.store, engine.SweepOptions{
		Interval:  rt.cfg.Sweep.Interval,
		BatchSize: rt.cfg.Sweep.BatchSize,
		Lease:     rt.cfg.Sweep.Lease,
	})
}

// Close flushes the audit queue and releases connections.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.audit != nil {
		if err := rt.audit.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush audit: %w", err))
		}
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if err := rt.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
