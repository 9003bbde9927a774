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

	"go.uber.org/zap"

	"github.com/banshee-data/hrv.report/internal/api"
	"github.com/banshee-data/hrv.report/internal/capture"
	"github.com/banshee-data/hrv.report/internal/db"
	"github.com/banshee-data/hrv.report/internal/model"
	"github.com/banshee-data/hrv.report/internal/monitoring"
	"github.com/banshee-data/hrv.report/internal/publish"
	"github.com/banshee-data/hrv.report/internal/rpc"
	"github.com/banshee-data/hrv.report/internal/serialmux"
	"github.com/banshee-data/hrv.report/internal/timeutil"
	"github.com/banshee-data/hrv.report/internal/version"
)

var (
	configPath    = flag.String("config", "", "Path to a JSON configuration file")
	listen        = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen    = flag.String("grpc-listen", ":50051", "gRPC listen address (empty disables gRPC)")
	port          = flag.String("port", "/dev/ttyUSB0", "Serial port of the BLE bridge")
	baudRate      = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	sensorModel   = flag.String("model", "PolarH10", "Sensor model: PolarH10, CL800 or SmartBelt")
	enableECG     = flag.Bool("ecg", false, "Request the ECG stream from sensors that support it")
	pacingRate    = flag.Float64("pacing", 0, "Pacing rate in breaths per minute (0 disables the pacer)")
	dbPath        = flag.String("db", "", "Path to the sqlite session database (empty disables recording)")
	capturePath   = flag.String("capture", "", "Write raw notifications to this pcap file")
	replayPath    = flag.String("replay", "", "Replay notifications from a pcap file instead of a sensor")
	replaySpeed   = flag.Float64("replay-speed", 1, "Replay speed multiplier (0 replays as fast as possible)")
	mockSensor    = flag.Bool("mock", false, "Use a synthetic sensor")
	disableSensor = flag.Bool("disable-sensor", false, "Run without a sensor link")
	mqttBroker    = flag.String("mqtt", "", "MQTT broker URL for metric publishing")
	natsURL       = flag.String("nats", "", "NATS server URL for metric publishing")
	redisAddr     = flag.String("redis", "", "Redis address for metric publishing")
	logLevel      = flag.String("log-level", "info", "Log level: debug, info, warn or error")
	logFormat     = flag.String("log-format", "console", "Log format: console or json")
	showVersion   = flag.Bool("version", false, "Print version information and exit")
)

const serviceName = "hrv"

func main() {
	flag.Parse()

	if *showVersion {
		v := version.Get()
		fmt.Printf("hrv %s (%s) built %s with %s\n", v.Version, v.GitSHA, v.BuildTime, v.GoVersion)
		return
	}

	cfg, err := loadConfig(*configPath, setFlags())
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := monitoring.NewZapLogger(cfg.GetLogLevel(), cfg.GetLogFormat(), serviceName)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()
	monitoring.UseZap(logger)
	defer zap.RedirectStdLog(logger)()

	if *mockSensor && *replayPath != "" {
		log.Fatal("--mock and --replay are mutually exclusive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var clock timeutil.Clock = timeutil.RealClock{}
	var replayClock *timeutil.MockClock
	if *replayPath != "" {
		// Samples are stamped with the capture time, so the model runs on
		// a clock that follows the replay.
		replayClock = timeutil.NewMockClock(time.Unix(0, 0))
		clock = replayClock
	}

	m := model.New(model.Options{
		Clock:      clock,
		Profile:    cfg.GetProfile(),
		PacingRate: cfg.GetPacingRate(),
	})

	link, err := newLink(cfg)
	if err != nil {
		log.Fatalf("failed to open sensor link: %v", err)
	}

	var database *db.DB
	if path := cfg.GetDBPath(); path != "" {
		database, err = db.NewDB(path)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer database.Close()
	}

	var wg sync.WaitGroup

	if database != nil {
		session, err := database.StartSession(ctx, db.Session{
			Started:     clock.Now(),
			SensorModel: string(cfg.GetSensorModel()),
			PacingRate:  cfg.GetPacingRate(),
		})
		if err != nil {
			log.Fatalf("failed to start session: %v", err)
		}
		log.Printf("recording session %s to %s", session.ID, cfg.GetDBPath())
		defer func() {
			if err := database.EndSession(context.Background(), session.ID, clock.Now()); err != nil {
				log.Printf("failed to end session: %v", err)
			}
		}()

		recorder := db.NewRecorder(database, session.ID, 0)
		recorder.Attach(m)
		wg.Add(1)
		go func() {
			defer wg.Done()
			runRoutine("recorder", recorder.Run(ctx))
			if n := recorder.Dropped(); n > 0 {
				log.Printf("recorder dropped %d events", n)
			}
		}()
	}

	if path := cfg.GetCapturePath(); path != "" && link != nil {
		f, err := os.Create(path)
		if err != nil {
			log.Fatalf("failed to create capture file: %v", err)
		}
		defer f.Close()
		rec, err := capture.NewRecorder(f, clock)
		if err != nil {
			log.Fatalf("failed to start capture: %v", err)
		}
		id, ch := link.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer link.Unsubscribe(id)
			runRoutine("capture", rec.Pump(ctx, ch))
			log.Printf("captured %d notifications to %s", rec.Count(), path)
		}()
	}

	if link != nil {
		if err := m.Connect(ctx, link); err != nil {
			log.Fatalf("failed to connect sensor: %v", err)
		}
		defer func() {
			if err := m.Disconnect(); err != nil {
				log.Printf("disconnect: %v", err)
			}
		}()
	}

	if replayClock != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runRoutine("replay", replay(ctx, m, replayClock, *replayPath, *replaySpeed))
		}()
	}

	// spectra, coherence and pNN50 on a fixed cadence
	wg.Add(1)
	go func() {
		defer wg.Done()
		runRoutine("spectrum", m.Run(ctx, cfg.GetSpectrumInterval()))
	}()

	publishers := connectPublishers(ctx, cfg)
	if len(publishers) > 0 {
		loop := &publish.Loop{
			Source:     m,
			Publishers: publishers,
			Interval:   cfg.GetSnapshotInterval(),
			Clock:      clock,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			runRoutine("publish", loop.Run(ctx))
			if err := loop.Close(); err != nil {
				log.Printf("failed to close publishers: %v", err)
			}
		}()
	}

	if addr := cfg.GetGRPCListen(); addr != "" {
		srv := rpc.NewServer(m, rpc.DefaultWatchInterval, clock)
		wg.Add(2)
		go func() {
			defer wg.Done()
			runRoutine("health", srv.RunHealth(ctx))
		}()
		go func() {
			defer wg.Done()
			runRoutine("gRPC server", srv.ListenAndServe(ctx, addr))
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(m, link, database).ServeMux()
		if link != nil {
			link.AttachAdminRoutes(mux)
		}
		if database != nil {
			if err := database.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach database admin routes: %v", err)
			}
		}

		server := &http.Server{
			Addr:              cfg.GetHTTPListen(),
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("listening on %s", cfg.GetHTTPListen())

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
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
	log.Printf("Graceful shutdown complete")
}

// runRoutine logs how a long-running routine ended. Cancellation is the
// normal way out and is not reported as an error.
func runRoutine(name string, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("%s routine failed: %v", name, err)
		return
	}
	log.Printf("%s routine terminated", name)
}
