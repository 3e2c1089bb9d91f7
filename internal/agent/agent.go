// Package agent assembles the daemon: it owns the interface registry and
// wires the notification socket, query socket, counter poller, alerting,
// metrics and admin interface around one reactor.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nlagent/nlagent/internal/admin"
	"github.com/nlagent/nlagent/internal/alert"
	"github.com/nlagent/nlagent/internal/config"
	"github.com/nlagent/nlagent/internal/control"
	"github.com/nlagent/nlagent/internal/counters"
	"github.com/nlagent/nlagent/internal/events"
	"github.com/nlagent/nlagent/internal/logging/audit"
	"github.com/nlagent/nlagent/internal/metrics"
	"github.com/nlagent/nlagent/internal/netmon"
	"github.com/nlagent/nlagent/internal/reactor"
	"github.com/nlagent/nlagent/internal/registry"
	"github.com/nlagent/nlagent/internal/tracing"
)

// syncTimeout bounds one full enumeration of kernel state.
const syncTimeout = 10 * time.Second

// resyncHoldoff is the minimum time between overrun resyncs.
const resyncHoldoff = time.Second

// Options supply identity and optional replacements for kernel-facing
// components. Nil components are created from the configuration when the
// agent runs.
type Options struct {
	Version    string
	InstanceID string
	Logger     zerolog.Logger

	Enumerator registry.Enumerator
	Counters   counters.Source
	// Metrics defaults to a fresh set registered on metrics.Registry.
	Metrics *metrics.AgentMetrics
}

// Agent is one running daemon instance.
type Agent struct {
	cfg  *config.Config
	opts Options
	log  zerolog.Logger

	reg       *registry.Registry
	hub       *events.Hub
	metrics   *metrics.AgentMetrics
	collector *metrics.Collector
	interp    *netmon.Interpreter
	eval      *alert.Evaluator
	query     *control.Server
	enum      registry.Enumerator
	poller    *counters.Poller
	trace     *tracing.Recorder
	audit     *audit.Logger
	resyncs   *netmon.Debouncer
	now       func() time.Time
}

// New builds an agent from a validated configuration. Nothing touches the
// kernel or the filesystem until Run.
func New(cfg *config.Config, opts Options) *Agent {
	a := &Agent{
		cfg:  cfg,
		opts: opts,
		log:  opts.Logger,
		hub:  events.NewHub(),
		enum: opts.Enumerator,

		resyncs: netmon.NewDebouncer(resyncHoldoff),
		now:     time.Now,
	}

	a.metrics = opts.Metrics
	if a.metrics == nil {
		a.metrics = metrics.InitMetrics(opts.Version, opts.InstanceID)
	}
	a.collector = metrics.NewCollector(a.metrics)
	if cfg.Log.Audit {
		a.audit = audit.NewLogger(opts.Logger)
	}

	a.reg = registry.New(registry.Options{
		MaxAddresses: cfg.Registry.MaxAddresses,
		OnChange:     a.onChange,
	})

	a.interp = netmon.NewInterpreter(a.reg, a.netmonConfig(), a.component("netmon"))
	a.interp.SetObserver(a.metrics)

	a.eval = alert.NewEvaluator(alert.Config{
		ErrorThreshold: cfg.Alert.ErrorThreshold,
		RxRate:         cfg.Alert.RxRate.BytesPerSecond(),
		TxRate:         cfg.Alert.TxRate.BytesPerSecond(),
	}, a.component("alert"))
	a.eval.SetNotifier(func(al alert.Alert) {
		a.metrics.Alerts.WithLabelValues(al.Kind.String()).Inc()
	})

	a.query = control.NewServer(cfg.Query.SocketPath, a.reg, control.Options{
		MaxRequest:    cfg.Query.MaxRequestBytes,
		MaxInterfaces: cfg.Query.MaxInterfaces,
		Timeout:       cfg.Query.TimeoutDuration(),
		Logger:        a.component("query"),
		OnQuery: func(command string) {
			a.metrics.Queries.WithLabelValues(command).Inc()
		},
		Audit: a.audit,
	})

	if opts.Counters != nil {
		a.poller = counters.NewPoller(a.reg, opts.Counters, a.component("poll"))
	}
	return a
}

func (a *Agent) component(name string) zerolog.Logger {
	return a.log.With().Str("component", name).Logger()
}

func (a *Agent) netmonConfig() netmon.Config {
	return netmon.Config{
		Routes:           a.cfg.Netlink.Routes,
		ReceiveBuffer:    int(a.cfg.Netlink.ReceiveBuffer.Bytes()),
		SocketBuffer:     int(a.cfg.Netlink.SocketBuffer.Bytes()),
		IgnoreInterfaces: a.cfg.Netlink.IgnoreInterfaces,
		Namespace:        a.cfg.Netlink.Namespace,
	}
}

// Registry returns the interface registry.
func (a *Agent) Registry() *registry.Registry {
	return a.reg
}

// Events returns the change event hub.
func (a *Agent) Events() *events.Hub {
	return a.hub
}

// onChange runs on the reactor goroutine for every registry mutation.
func (a *Agent) onChange(ev registry.Event) {
	a.collector.ObserveChange(ev)
	a.hub.Publish(ev)

	e := a.log.Info()
	switch ev.Type {
	case registry.ChangeInterfaceUp, registry.ChangeInterfaceDown:
		if !ev.StatusChanged {
			e = a.log.Debug()
		}
	}
	e = e.Str("event", ev.Type.String()).Int("index", ev.Index).Str("interface", ev.Name)
	if ev.OldName != "" {
		e = e.Str("old_name", ev.OldName)
	}
	if ev.Address != nil {
		e = e.Str("address", ev.Address.String())
	}
	e.Msg("interface change")
}

// Resync rebuilds the registry from the enumerator.
func (a *Agent) Resync(ctx context.Context) error {
	if a.enum == nil {
		return errors.New("no enumerator configured")
	}
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	stats, err := registry.Sync(ctx, a.reg, a.enum, a.component("sync"))
	if err != nil {
		return err
	}
	a.log.Info().
		Int("links", stats.Links).
		Int("removed", stats.Removed).
		Int("addresses", stats.Addresses).
		Int("skipped", stats.Skipped).
		Msg("registry synchronized")
	return nil
}

// HandleNotifications applies one batch of rtnetlink messages.
func (a *Agent) HandleNotifications(batch []byte) {
	a.interp.HandleBatch(batch)
}

// Overrun recovers from lost notifications by resynchronizing. Overruns
// within resyncHoldoff of a resync leave one deferred resync for
// FlushResync.
func (a *Agent) Overrun(ctx context.Context) {
	a.metrics.NetlinkOverruns.Inc()
	a.log.Warn().Msg("netlink notifications lost, resynchronizing")
	if path, err := a.trace.Dump("overrun"); err != nil {
		a.log.Warn().Err(err).Msg("failed to write overrun trace")
		a.audit.LogTraceDump("overrun", "", err)
	} else if path != "" {
		a.log.Info().Str("path", path).Msg("overrun trace written")
		a.audit.LogTraceDump("overrun", path, nil)
	}
	if !a.resyncs.Trigger(a.now()) {
		a.log.Debug().Msg("resync ran recently, deferring")
		return
	}
	a.resync(ctx)
}

// FlushResync runs a deferred resync once the holdoff has passed.
func (a *Agent) FlushResync(ctx context.Context) {
	if a.resyncs.Flush(a.now()) {
		a.resync(ctx)
	}
}

func (a *Agent) resync(ctx context.Context) {
	if err := a.Resync(ctx); err != nil {
		a.log.Error().Err(err).Msg("resync failed")
		a.resyncs.Retry()
		return
	}
	a.metrics.Resyncs.Inc()
}

// Poll reads counters, evaluates alerts and refreshes metrics. It is the
// reactor's interval task.
func (a *Agent) Poll(now time.Time) []alert.Alert {
	start := time.Now()
	defer func() { a.metrics.PollDuration.Observe(time.Since(start).Seconds()) }()

	var rates []counters.Rate
	if a.poller != nil {
		rates = a.poller.Poll(now)
	}
	ifaces := a.reg.Snapshot()
	firing := a.eval.Evaluate(ifaces, rates)
	a.metrics.Firing.Set(float64(len(firing)))
	a.collector.Collect(ifaces, rates)
	return firing
}

// Query answers one query socket command without a connection.
func (a *Agent) Query(command string) string {
	_, resp := a.query.Respond(command)
	return resp
}

// Run opens the kernel and local sockets, populates the registry and
// serves until ctx is cancelled. Every resource opened is released before
// Run returns.
func (a *Agent) Run(ctx context.Context) error {
	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	// Subscribe before enumerating so no change between the dump and the
	// subscription is missed.
	sock, err := netmon.Listen(a.netmonConfig(), a.component("netmon"))
	if err != nil {
		return fmt.Errorf("open netlink socket: %w", err)
	}
	cleanups = append(cleanups, func() { _ = sock.Close() })

	if a.enum == nil {
		e, err := netmon.NewEnumerator(a.netmonConfig())
		if err != nil {
			return fmt.Errorf("open netlink handle: %w", err)
		}
		a.enum = e
		cleanups = append(cleanups, func() { _ = e.Close() })
	}
	if a.poller == nil {
		src, err := a.counterSource()
		if err != nil {
			return err
		}
		a.poller = counters.NewPoller(a.reg, src, a.component("poll"))
	}

	if err := a.Resync(ctx); err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}

	if err := a.query.Start(); err != nil {
		return fmt.Errorf("start query socket: %w", err)
	}
	cleanups = append(cleanups, func() { _ = a.query.Stop() })
	queryFd, err := a.query.Fd()
	if err != nil {
		return fmt.Errorf("query socket descriptor: %w", err)
	}

	if tc := a.cfg.Admin.Trace; tc.Enabled {
		rec, err := tracing.Start(tracing.Config{
			BufferSize: int(tc.BufferSize.Bytes()),
			DumpDir:    tc.DumpDir,
		})
		if err != nil {
			return err
		}
		a.trace = rec
		cleanups = append(cleanups, rec.Stop)
	}

	if a.cfg.Admin.Listen != "" {
		srv := admin.NewAdminServer(a.reg, a.hub, admin.Options{
			InstanceID: a.opts.InstanceID,
			Version:    a.opts.Version,
			Trace:      a.trace,
			Logger:     a.log,
		})
		if err := srv.Start(a.cfg.Admin.Listen); err != nil {
			return fmt.Errorf("start admin server: %w", err)
		}
		cleanups = append(cleanups, func() { _ = srv.Stop() })
	}
	// Runs before the admin server stops so open event streams end first.
	cleanups = append(cleanups, a.hub.Close)

	r, err := reactor.New(reactor.Config{
		Tick:     a.cfg.Poll.TickDuration(),
		Interval: a.cfg.Poll.IntervalDuration(),
	}, a.component("reactor"))
	if err != nil {
		return err
	}
	cleanups = append(cleanups, func() { _ = r.Close() })

	if err := r.Register(sock.Fd(), "netlink", func() {
		_, err := sock.Drain(a.HandleNotifications)
		switch {
		case errors.Is(err, netmon.ErrOverrun):
			a.Overrun(ctx)
		case err != nil:
			a.log.Error().Err(err).Msg("netlink receive failed")
		default:
			a.FlushResync(ctx)
		}
	}); err != nil {
		return err
	}
	if err := r.Register(queryFd, "query", a.query.HandleReadable); err != nil {
		return err
	}
	r.OnInterval(func(now time.Time) {
		a.FlushResync(ctx)
		a.Poll(now)
	})

	a.log.Info().
		Str("socket", a.cfg.Query.SocketPath).
		Int("interfaces", a.reg.Len()).
		Msg("agent running")

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.log.Info().Msg("agent stopped")
	return nil
}

func (a *Agent) counterSource() (counters.Source, error) {
	switch a.cfg.Poll.CounterSource {
	case config.CounterSourceNetlink:
		e, ok := a.enum.(*netmon.Enumerator)
		if !ok || e.Handle() == nil {
			return nil, errors.New("netlink counter source needs the kernel enumerator")
		}
		return counters.NewNetlinkSource(e.Handle()), nil
	default:
		return counters.NewSysfsSource(a.cfg.Poll.SysfsRoot), nil
	}
}
