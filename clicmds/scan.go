package clicmds

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"net/http"
	_ "net/http/pprof"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"gitlab.com/pscanner/capture"
	"gitlab.com/pscanner/pscan"
	"gitlab.com/pscanner/scanner"
	"gitlab.com/pscanner/scanner/plugin"
	"gitlab.com/pscanner/store"
)

// RuleFlags are needed to build the rule registry
func RuleFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "TOML config to use",
			Value: "",
		},
		&cli.StringFlag{
			Name:  "wordlist",
			Usage: "debug error message wordlist",
			Value: "resources/debug-error-messages.txt",
		},
		&cli.StringSliceFlag{
			Name:  "script",
			Usage: "JS rule file to load, may be repeated",
		},
		&cli.IntSliceFlag{
			Name:  "disable",
			Usage: "rule id to disable, may be repeated",
		},
	}
}

// ScanFlags for the scan command
func ScanFlags() []cli.Flag {
	return append(RuleFlags(),
		&cli.StringFlag{
			Name:  "datadir",
			Usage: "data directory",
			Value: "pscantmp",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "number of concurrent workers, defaults to the number of CPUs",
		},
		&cli.IntFlag{
			Name:  "queue",
			Usage: "scan queue capacity",
			Value: 1024,
		},
		&cli.BoolFlag{
			Name:  "reject",
			Usage: "reject exchanges when the queue is full instead of waiting",
			Value: false,
		},
		&cli.DurationFlag{
			Name:  "rule-timeout",
			Usage: "max time a rule may spend on one exchange",
			Value: time.Second * 5,
		},
		&cli.DurationFlag{
			Name:  "grace",
			Usage: "how long to wait for in-flight work when stopping",
			Value: time.Second * 30,
		},
		&cli.DurationFlag{
			Name:  "dedup-window",
			Usage: "drop repeated findings inside this window, 0 keeps them until evicted",
			Value: time.Minute * 10,
		},
		&cli.IntFlag{
			Name:  "report-size",
			Usage: "max findings kept in memory for the printed report, 0 prints none",
			Value: 10000,
		},
		&cli.StringSliceFlag{
			Name:  "allow-host",
			Usage: "only scan this host, may be repeated",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-host",
			Usage: "never scan this host, may be repeated",
		},
		&cli.StringFlag{
			Name:  "nats-url",
			Usage: "also publish findings to this NATS server",
			Value: "",
		},
		&cli.StringFlag{
			Name:  "nats-subject",
			Usage: "subject findings are published on",
			Value: "pscan.findings",
		},
		&cli.StringFlag{
			Name:  "metrics",
			Usage: "serve prometheus metrics on this address, e.g. :9090",
			Value: "",
		},
		&cli.BoolFlag{
			Name:  "profile",
			Usage: "enable to profile cpu/mem",
			Value: false,
		},
	)
}

// Scan runs every HAR file given as an argument through the passive scanner
func Scan(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return errors.New("at least one HAR file is required")
	}

	if ctx.Bool("profile") {
		go func() {
			http.ListenAndServe(":6060", nil)
		}()
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	registry, err := plugin.LoadRules(cfg)
	if err != nil {
		return err
	}

	alerts := openAlertStore(cfg)
	if err := alerts.Init(); err != nil {
		log.Error().Err(err).Msg("failed to init alert store")
		return err
	}
	defer alerts.Close()

	pscanner := scanner.New(cfg, registry, alerts)
	if addr := ctx.String("metrics"); addr != "" {
		serveMetrics(addr, pscanner.Diagnostics())
	}

	scanContext, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("datadir", cfg.DataPath).Msg("Starting pscan")
	if err := pscanner.Start(scanContext); err != nil {
		log.Error().Err(err).Msg("failed to start scanner")
		return err
	}

	for _, path := range ctx.Args().Slice() {
		if err := feed(scanContext, pscanner, path); err != nil {
			if scanContext.Err() != nil {
				log.Info().Msg("Ctrl-C Pressed, shutting down")
				break
			}
			log.Error().Err(err).Str("file", path).Msg("failed to read capture")
		}
	}

	stopErr := pscanner.Stop()
	if stopErr != nil {
		log.Error().Err(stopErr).Msg("scanner did not stop cleanly")
	}

	pscanner.Reporter().Print(ctx.App.Writer)
	snap := pscanner.Diagnostics().Snapshot()
	fmt.Fprintf(ctx.App.Writer, "scanned %d exchanges, %d findings (%d duplicates), %d rule timeouts, %d rule errors\n",
		snap.Scanned, pscanner.Reporter().Accepted(), pscanner.Diagnostics().Deduplicated(), snap.RuleTimeouts, snap.RuleErrors+snap.RulePanics)
	return stopErr
}

func openAlertStore(cfg *pscan.Config) pscan.AlertStorer {
	alerts := store.NewAlertStore(filepath.Join(cfg.DataPath, "alerts"))
	if cfg.NATSURL == "" {
		return alerts
	}
	return store.Multi{alerts, store.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject)}
}

func feed(ctx context.Context, s *scanner.PassiveScanner, path string) error {
	exchanges, err := capture.ReadHARFile(path)
	if err != nil {
		return err
	}
	log.Info().Str("file", path).Int("exchanges", len(exchanges)).Msg("feeding capture")

	for _, ex := range exchanges {
		err := s.Enqueue(ctx, ex)
		switch {
		case err == nil:
		case errors.Is(err, pscan.ErrOutOfScope):
			log.Debug().Str("uri", ex.URI()).Msg("out of scope")
		case errors.Is(err, pscan.ErrBackpressure):
			log.Warn().Str("uri", ex.URI()).Msg("scan queue full, exchange not scanned")
		default:
			return err
		}
	}
	return nil
}

func serveMetrics(addr string, diag *scanner.Diagnostics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(diag, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")
}
