package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/boringprotocol/boring-bird/internal/config"
	"github.com/boringprotocol/boring-bird/internal/metrics"
	"github.com/boringprotocol/boring-bird/internal/notify"
	"github.com/boringprotocol/boring-bird/internal/poller"
	"github.com/boringprotocol/boring-bird/internal/sink"
	"github.com/boringprotocol/boring-bird/internal/source"
	"github.com/boringprotocol/boring-bird/internal/store"
)

// Version is set at build time via -ldflags "-X main.Version=..."
var Version = "dev"

var logger = loggo.GetLogger("boring-bird")

func main() {
	var (
		cfgPath  = flag.String("config", "config.yml", "path to YAML config (optional)")
		interval = flag.Duration("interval", 0, "poll interval, overrides the config file")
		logLevel = flag.String("log-level", "", "log level (TRACE, DEBUG, INFO, WARNING, ERROR)")
		dryRun   = flag.Bool("dry-run", false, "log detected changes instead of publishing them")
	)
	flag.Parse()

	if err := run(*cfgPath, flagOptions(*interval, *logLevel, *dryRun)...); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

// flagOptions turns command line overrides into config options. Zero values
// leave the loaded config alone.
func flagOptions(interval time.Duration, logLevel string, dryRun bool) []config.Option {
	var opts []config.Option
	if interval != 0 {
		opts = append(opts, func(c *config.Config) { c.Poll.Interval = interval })
	}
	if logLevel != "" {
		opts = append(opts, func(c *config.Config) { c.Log.Level = logLevel })
	}
	if dryRun {
		opts = append(opts, func(c *config.Config) { c.DryRun = true })
	}
	return opts
}

func run(cfgPath string, opts ...config.Option) error {
	if err := setupLogging("INFO"); err != nil {
		return errors.Trace(err)
	}
	logger.Infof("boring-bird %s starting...", Version)

	cfg, err := config.Load(cfgPath, opts...)
	if err != nil {
		return errors.Annotate(err, "load config")
	}
	if err := setupLogging(cfg.Log.Level); err != nil {
		return errors.Trace(err)
	}

	src, err := source.NewFromConfig(cfg.Source)
	if err != nil {
		return errors.Annotate(err, "build source")
	}
	sinks, err := sink.NewFromConfig(cfg)
	if err != nil {
		return errors.Annotate(err, "build sinks")
	}
	defer sink.Close(sinks)
	for _, s := range sinks {
		logger.Infof("configured sink: %s", s.Name())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	n, err := notify.New(sinks, cfg.Poll.MessageTemplate, clock.WallClock, m)
	if err != nil {
		return errors.Trace(err)
	}
	p, err := poller.New(poller.Config{
		Source:   src,
		States:   store.NewStatusMap(),
		Notifier: n,
		Trigger:  cfg.Poll.Trigger,
		Metrics:  m,
		Clock:    clock.WallClock,
	})
	if err != nil {
		return errors.Trace(err)
	}

	var srv *metrics.Server
	if cfg.Metrics.Enable {
		srv = metrics.NewServer(cfg.Metrics, reg)
		go func() {
			logger.Infof("serving /metrics and /healthz on %s", srv.Addr())
			if err := srv.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("metrics server: %v", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched, err := poller.NewScheduler(poller.SchedulerConfig{
		Runner:    p,
		Interval:  cfg.Poll.Interval,
		Clock:     clock.WallClock,
		Metrics:   m,
		OnRunning: func() { markReady(srv) },
	})
	if err != nil {
		return errors.Trace(err)
	}
	logger.Infof("polling %s every %s for entries moving to %q (dry-run=%t)",
		src.Name(), cfg.Poll.Interval, cfg.Poll.Trigger, cfg.DryRun)

	<-ctx.Done()
	logger.Infof("shutting down...")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	sched.Kill()
	err = sched.Wait()

	if srv != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			logger.Warningf("metrics server shutdown: %v", serr)
		}
	}
	return errors.Trace(err)
}

// markReady tells systemd (when running under a notify unit) and /healthz
// that the first fetch succeeded.
func markReady(srv *metrics.Server) {
	if srv != nil {
		srv.SetReady()
	}
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	switch {
	case err != nil:
		logger.Warningf("sd_notify: %v", err)
	case sent:
		logger.Debugf("sent READY=1 to systemd")
	}
}

func setupLogging(level string) error {
	lvl, ok := loggo.ParseLevel(strings.TrimSpace(level))
	if !ok || lvl == loggo.UNSPECIFIED {
		return errors.NotValidf("log level %q", level)
	}
	loggo.ReplaceDefaultWriter(loggo.NewSimpleWriter(os.Stderr, formatLog))
	if err := loggo.ConfigureLoggers("<root>=" + lvl.String()); err != nil {
		return errors.Annotate(err, "configure loggers")
	}
	return nil
}

func formatLog(entry loggo.Entry) string {
	ts := entry.Timestamp.UTC().Format("2006-01-02 15:04:05")
	return fmt.Sprintf("%s %-7s %s %s", ts, entry.Level, entry.Module, entry.Message)
}
