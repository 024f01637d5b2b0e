package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/getsentry/sentry-go"
	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"circuitcraft.ai/internal/persistence/indexdb"
	persistlog "circuitcraft.ai/internal/persistence/log"
	"circuitcraft.ai/internal/sim/edit"
	"circuitcraft.ai/internal/sim/grid"
	"circuitcraft.ai/internal/sim/scenario"
	"circuitcraft.ai/internal/sim/tuning"
	"circuitcraft.ai/internal/sim/world"
	"circuitcraft.ai/internal/transport/observer"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address")
		configDir    = flag.String("configs", "./configs", "config directory")
		tuningPath   = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		scenarioPath = flag.String("scenario", "", "scenario to build at startup (optional)")
		radius       = flag.Int("radius", 1, "without -scenario, load a square of areas of this radius around the origin")
		disableDB    = flag.Bool("disable_db", false, "disable the SQLite tick index")
		logFormat    = flag.String("log_format", "text", "log format (text|json)")
		logLevel     = flag.String("log_level", "info", "log level (debug|info|warn|error)")
		sentryDSN    = flag.String("sentry_dsn", "", "Sentry DSN for panic reports (or set CC_SENTRY_DSN)")
		statsAddr    = flag.String("statsview", "", "address for the live runtime charts (empty to disable)")
	)
	flag.Parse()

	logger, err := newLogger(*logFormat, *logLevel, os.Stdout)
	if err != nil {
		logrus.Fatalf("logger: %v", err)
	}
	runID := uuid.NewString()
	log := logger.WithFields(logrus.Fields{"service": "circuitcraft", "run_id": runID})

	dsn := strings.TrimSpace(*sentryDSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("CC_SENTRY_DSN"))
	}
	if dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn, Release: "circuitcraft@" + runID}); err != nil {
			log.WithError(err).Fatal("sentry init")
		}
		defer sentry.Flush(5 * time.Second)
		defer sentry.Recover()
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).Fatal("load tuning")
		}
		log.WithField("path", tp).Warn("tuning not found; using defaults")
		tune = tuning.Defaults()
	}

	w := world.New(world.ConfigFromTuning(tune),
		world.WithLogger(log),
		world.WithPanicReporter(world.SentryReporter{}),
	)
	ed := edit.New(w, nil, log)
	w.AddHook(ed)

	scenarioName := "empty"
	if p := strings.TrimSpace(*scenarioPath); p != "" {
		s, err := scenario.Load(p)
		if err != nil {
			log.WithError(err).Fatal("load scenario")
		}
		if err := s.Build(w, ed); err != nil {
			log.WithError(err).Fatal("build scenario")
		}
		scenarioName = s.Name
	} else {
		for x := -*radius; x <= *radius; x++ {
			for z := -*radius; z <= *radius; z++ {
				if _, err := w.LoadArea(grid.AreaKey{X: x, Z: z}); err != nil {
					log.WithError(err).Fatal("load area")
				}
			}
		}
	}

	tickLog := persistlog.NewTickLogger(*dataDir, runID)
	auditLog := persistlog.NewAuditLogger(*dataDir, runID)
	defer tickLog.Close()
	defer auditLog.Close()
	w.AddSink(tickLog)

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "circuit.sqlite"), runID)
		if err != nil {
			log.WithError(err).Fatal("open index")
		}
		defer idx.Close()
		if err := idx.RecordRun(scenarioName, tune); err != nil {
			log.WithError(err).Warn("index: record run")
		}
		w.AddSink(idx)
		ed.SetAudit(edit.Audits(auditLog, idx))
	} else {
		ed.SetAudit(auditLog)
	}

	hub := observer.NewHub(tune.Observer.MaxClients, tune.Observer.Queue, log)
	w.AddSink(hub)

	if sa := strings.TrimSpace(*statsAddr); sa != "" {
		// Configuration must be set before statsview.New.
		viewer.SetConfiguration(viewer.WithAddr(sa))
		mgr := statsview.New()
		go mgr.Start()
		defer mgr.Stop()
		log.WithField("addr", sa).Info("statsview enabled")
	}

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("world stopped")
		}
	}()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newMux(w, hub, idx, runID, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	log.WithFields(logrus.Fields{
		"addr":     *addr,
		"scenario": scenarioName,
		"areas":    humanize.Comma(int64(w.Stats().Areas)),
		"tick":     time.Duration(tune.TickIntervalMS) * time.Millisecond,
	}).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("ListenAndServe")
	}
}

func newMux(w *world.World, hub *observer.Hub, idx *indexdb.SQLiteIndex, runID string, log logrus.FieldLogger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, w.Stats(), hub, idx)
	})

	obs := observer.NewServer(w, hub, runID, log)
	mux.HandleFunc("/observer/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/observer/ws", obs.WSHandler())
	return mux
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
