package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/trackheat/internal/api"
	"github.com/banshee-data/trackheat/internal/config"
	"github.com/banshee-data/trackheat/internal/db"
	"github.com/banshee-data/trackheat/internal/forward"
	"github.com/banshee-data/trackheat/internal/gps"
	"github.com/banshee-data/trackheat/internal/timeutil"
	"github.com/banshee-data/trackheat/internal/tracking"
	"github.com/banshee-data/trackheat/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a YAML config file (defaults apply when empty)")
	listen      = flag.String("listen", "", "Listen address, overrides the config")
	dbPath      = flag.String("db", "", "Track database path, overrides the config")
	device      = flag.String("device", "", "GPS serial device, overrides the config")
	replay      = flag.Bool("replay", false, "Replay recorded NMEA instead of opening a device")
	replayFile  = flag.String("replay-file", "", "NMEA file to replay (embedded walk when empty)")
	autostart   = flag.Bool("autostart", false, "Start tracking as soon as the server is up")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

const shutdownTimeout = 5 * time.Second

// overrides holds the command-line values that take precedence over the
// config file. Zero values leave the file's setting alone.
type overrides struct {
	Listen     string
	DBPath     string
	Device     string
	Replay     bool
	ReplayFile string
	Autostart  bool
}

func (o overrides) apply(cfg *config.Config) {
	if o.Listen != "" {
		cfg.Listen = o.Listen
	}
	if o.DBPath != "" {
		cfg.DBPath = o.DBPath
	}
	if o.Device != "" {
		cfg.GPS.Device = o.Device
	}
	if o.Replay {
		cfg.GPS.Replay = true
	}
	if o.ReplayFile != "" {
		cfg.GPS.Replay = true
		cfg.GPS.ReplayFile = o.ReplayFile
	}
	if o.Autostart {
		cfg.Tracking.Autostart = true
	}
}

// loadConfig reads path (or the defaults), layers the overrides on top and
// validates the result.
func loadConfig(path string, o overrides) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	o.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newDevice builds the position source the config asks for.
func newDevice(cfg config.GPSConfig) (*gps.Device, error) {
	port, err := cfg.Port.Normalize()
	if err != nil {
		return nil, err
	}
	opts := []gps.DeviceOption{gps.WithInitCommands(cfg.InitCommands...)}

	path := cfg.Device
	if cfg.Replay {
		lines, err := gps.LoadReplay(cfg.ReplayFile)
		if err != nil {
			return nil, err
		}
		interval := cfg.ReplayInterval
		opts = append(opts, gps.WithOpener(func(string, gps.PortOptions) (gps.SerialPorter, error) {
			return gps.NewReplayPort(lines, interval, timeutil.RealClock{}, true), nil
		}))
		path = "replay"
		if cfg.ReplayFile != "" {
			path = cfg.ReplayFile
		}
	}
	return gps.NewDevice(path, port, opts...), nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath, overrides{
		Listen:     *listen,
		DBPath:     *dbPath,
		Device:     *device,
		Replay:     *replay,
		ReplayFile: *replayFile,
		Autostart:  *autostart,
	})
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], cfg.DBPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	store, err := db.NewDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open track database: %v", err)
	}
	defer store.Close()

	gpsDevice, err := newDevice(cfg.GPS)
	if err != nil {
		log.Fatalf("failed to set up gps: %v", err)
	}
	defer gpsDevice.Close()

	broker := api.NewBroker()
	listeners := tracking.MultiListener{broker}

	var forwarder *forward.Forwarder
	if cfg.Kafka.Enabled() {
		forwarder = forward.New(
			forward.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic),
			forward.WithQueueSize(cfg.Kafka.QueueSize),
		)
		listeners = append(listeners, forwarder)
		log.Printf("forwarding events to %v topic %s", cfg.Kafka.Brokers, cfg.Kafka.Topic)
	}

	loop := tracking.New(gpsDevice, store,
		tracking.WithInterval(cfg.Tracking.Interval),
		tracking.WithRequestTimeout(cfg.Tracking.RequestTimeout),
		tracking.WithAccuracy(cfg.Tracking.AccuracyLevel()),
		tracking.WithListener(listeners),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := api.NewServer(loop, store, broker, api.Options{
		Title:        cfg.Heatmap.Title,
		MaxImageSize: cfg.Heatmap.MaxImageSize,
	}).ServeMux()
	if err := store.AttachAdminRoutes(mux); err != nil {
		log.Fatalf("failed to attach db admin routes: %v", err)
	}
	gpsDevice.AttachAdminRoutes(mux)

	server := &http.Server{
		Addr:     cfg.Listen,
		Handler:  api.LoggingMiddleware(mux),
		ErrorLog: api.ErrorLog(),
	}

	if cfg.Tracking.Autostart {
		if err := loop.Start(ctx); err != nil {
			log.Printf("autostart failed: %v", err)
		}
	}

	var wg sync.WaitGroup

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			log.Printf("listening on %s", cfg.Listen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("HTTP server failed: %v", err)
				stop()
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Event streams never end on their own, so close them before
		// waiting on in-flight requests.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	if err := loop.Stop(); err != nil {
		log.Printf("failed to stop tracking: %v", err)
	}
	if forwarder != nil {
		if err := forwarder.Close(); err != nil {
			log.Printf("failed to close forwarder: %v", err)
		}
	}
	log.Printf("Graceful shutdown complete")
}
