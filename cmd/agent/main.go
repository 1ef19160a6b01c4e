package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/example/driver-agent/internal/agent"
	"github.com/example/driver-agent/internal/api"
	"github.com/example/driver-agent/internal/config"
	"github.com/example/driver-agent/internal/hours"
	"github.com/example/driver-agent/internal/httpapi"
	"github.com/example/driver-agent/internal/journal"
	"github.com/example/driver-agent/internal/logging"
	"github.com/example/driver-agent/internal/models"
	"github.com/example/driver-agent/internal/notify"
	"github.com/example/driver-agent/internal/payments"
	"github.com/example/driver-agent/internal/realtime"
	"github.com/example/driver-agent/internal/ride"
	"github.com/example/driver-agent/internal/routing"
	"github.com/example/driver-agent/internal/session"
	"github.com/example/driver-agent/internal/telemetry"
)

func main() {
	var fixFile string
	flag.StringVar(&fixFile, "fix-file", "", "optional lat,lon lines replayed as GPS fixes for local runs")
	flag.Parse()

	cfg, err := config.LoadAgentConfig()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifier := notify.NewRegistry()
	apiClient := api.NewClient(cfg.APIBase, os.Getenv("DRIVER_AUTH_TOKEN"))

	var store session.Store
	if cfg.RedisAddr != "" {
		store = session.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.DriverID)
		log.Info("session store: redis", "addr", cfg.RedisAddr)
	} else {
		fs, err := session.NewFileStore(cfg.SnapshotDir)
		if err != nil {
			log.Error("session store init failed", "error", err)
			os.Exit(1)
		}
		store = fs
		log.Info("session store: file", "dir", cfg.SnapshotDir)
	}

	var trips journal.Journal
	if cfg.PGDSN != "" {
		pg, err := journal.NewPostgresJournal(cfg.PGDSN)
		if err != nil {
			log.Error("trip journal init failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		trips = pg
		log.Info("trip journal: postgres")
	} else {
		trips = journal.NewMemoryJournal()
	}

	var publisher telemetry.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = telemetry.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		log.Info("telemetry: kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	var collector ride.FareCollector
	if os.Getenv("STRIPE_API_KEY") != "" {
		collector = payments.NewStripeClient()
		log.Info("fare capture: stripe")
	}

	adapter := &realtime.Adapter{
		DriverID:    cfg.DriverID,
		DriverName:  cfg.DriverName,
		VehicleType: cfg.VehicleType,
		Notifier:    notifier,
		Log:         logging.Component(log, "realtime"),
	}
	channel := realtime.NewWSChannel(cfg.ChannelURL, adapter, logging.Component(log, "channel"))
	adapter.Bind(channel)

	machine := ride.NewMachine(cfg.DriverID, cfg.DriverName, cfg.VehicleType, ride.Deps{
		Emitter:   channel,
		Routes:    routing.NewOSRMClient(cfg.OSRMEndpoint),
		Store:     store,
		Journal:   trips,
		Collector: collector,
		Notifier:  notifier,
		Logger:    logging.Component(log, "ride"),
	})
	machine.PassengerPollInterval = cfg.PassengerPollInterval

	timer := hours.NewController(cfg.DriverID, apiClient, notifier, logging.Component(log, "hours"))
	timer.PollInterval = cfg.TimerPollInterval

	sess := &agent.Session{
		DriverID:          cfg.DriverID,
		Machine:           machine,
		Hours:             timer,
		Adapter:           adapter,
		Channel:           channel,
		API:               apiClient,
		Store:             store,
		Telemetry:         publisher,
		Notifier:          notifier,
		Log:               logging.Component(log, "session"),
		LocationSendEvery: cfg.LocationSendEvery,
	}
	adapter.Machine = machine
	adapter.Hours = timer
	adapter.Presence = sess

	srv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: httpapi.NewServer(sess, trips, logging.Component(log, "http")),
	}
	go func() {
		log.Info("control api listening", "addr", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("control api stopped", "error", err)
		}
	}()

	if err := sess.Init(ctx); err != nil {
		log.Warn("session init incomplete", "error", err)
	}

	if fixFile != "" {
		go replayFixes(ctx, fixFile, sess, log)
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	sess.Close()
}

// replayFixes feeds lat,lon lines from a file into the session, one per
// second. Stands in for a GPS source on local runs.
func replayFixes(ctx context.Context, path string, sess *agent.Session, log *slog.Logger) {
	f, err := os.Open(path)
	if err != nil {
		log.Warn("fix file open failed", "error", err)
		return
	}
	defer f.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		parts := strings.SplitN(strings.TrimSpace(sc.Text()), ",", 2)
		if len(parts) != 2 {
			continue
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 != nil || err2 != nil {
			continue
		}
		sess.UpdateLocation(ctx, models.Coord{Lat: lat, Lon: lon})
	}
}
