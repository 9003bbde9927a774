package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/hrv.report/internal/capture"
	"github.com/banshee-data/hrv.report/internal/config"
	"github.com/banshee-data/hrv.report/internal/model"
	"github.com/banshee-data/hrv.report/internal/publish"
	"github.com/banshee-data/hrv.report/internal/serialmux"
	"github.com/banshee-data/hrv.report/internal/timeutil"
)

// setFlags returns the names of the flags given on the command line.
func setFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// loadConfig reads the configuration file at path (or starts from an empty
// configuration) and overrides it with every flag in set.
func loadConfig(path string, set map[string]bool) (*config.Config, error) {
	cfg := config.Empty()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	applyFlags(cfg, set)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, set map[string]bool) {
	str := func(name string, dst **string, v string) {
		if set[name] {
			*dst = &v
		}
	}
	str("listen", &cfg.HTTPListen, *listen)
	str("grpc-listen", &cfg.GRPCListen, *grpcListen)
	str("port", &cfg.SerialPort, *port)
	str("model", &cfg.SensorModel, *sensorModel)
	str("db", &cfg.DBPath, *dbPath)
	str("capture", &cfg.CapturePath, *capturePath)
	str("mqtt", &cfg.MQTTBroker, *mqttBroker)
	str("nats", &cfg.NATSURL, *natsURL)
	str("redis", &cfg.RedisAddr, *redisAddr)
	str("log-level", &cfg.LogLevel, *logLevel)
	str("log-format", &cfg.LogFormat, *logFormat)

	if set["baud"] {
		v := *baudRate
		cfg.BaudRate = &v
	}
	if set["ecg"] {
		v := *enableECG
		cfg.EnableECG = &v
	}
	if set["pacing"] {
		v := *pacingRate
		cfg.PacingRate = &v
	}
}

// newLink picks the sensor link: none while replaying, a disabled link, a
// synthetic sensor, or the serial bridge.
func newLink(cfg *config.Config) (serialmux.SerialMuxInterface, error) {
	start := serialmux.WithStartCommands(serialmux.StartCommands(cfg.GetSensorModel(), cfg.GetEnableECG())...)
	switch {
	case *replayPath != "":
		return nil, nil
	case *disableSensor:
		return serialmux.NewDisabledSerialMux(), nil
	case *mockSensor:
		return serialmux.NewMockSerialMux(serialmux.NewSyntheticSensor(), 100*time.Millisecond, start), nil
	}
	link, err := serialmux.NewRealSerialMux(cfg.GetSerialPort(), serialmux.PortOptions{BaudRate: cfg.GetBaudRate()}, start)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.GetSerialPort(), err)
	}
	return link, nil
}

// advanceTo moves clock to t, firing its tickers when t is ahead.
func advanceTo(clock *timeutil.MockClock, t time.Time) {
	if d := t.Sub(clock.Now()); d > 0 {
		clock.Advance(d)
		return
	}
	clock.Set(t)
}

func replay(ctx context.Context, m *model.Model, clock *timeutil.MockClock, path string, speed float64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open replay file: %w", err)
	}
	defer f.Close()

	rp := capture.Replayer{
		Speed:  speed,
		Clock:  timeutil.RealClock{},
		Before: func(t time.Time) { advanceTo(clock, t) },
	}
	st, err := rp.Replay(ctx, f, m.OnNotification)
	log.Printf("replayed %d of %d packets from %s (%d skipped)", st.Delivered, st.Packets, path, st.Skipped)
	if err != nil {
		return err
	}
	m.UpdateSpectra()
	return nil
}

// connectPublishers connects every configured broker. A broker that cannot
// be reached is logged and left out.
func connectPublishers(ctx context.Context, cfg *config.Config) []publish.Publisher {
	var out []publish.Publisher
	clientID := serviceName + "-" + uuid.NewString()[:8]

	if broker := cfg.GetMQTTBroker(); broker != "" {
		p, err := publish.NewMQTTPublisher(broker, clientID, cfg.GetMQTTTopic())
		if err != nil {
			log.Printf("mqtt publisher disabled: %v", err)
		} else {
			out = append(out, p)
		}
	}
	if url := cfg.GetNATSURL(); url != "" {
		p, err := publish.NewNATSPublisher(url, clientID, cfg.GetNATSSubject())
		if err != nil {
			log.Printf("nats publisher disabled: %v", err)
		} else {
			out = append(out, p)
		}
	}
	if addr := cfg.GetRedisAddr(); addr != "" {
		p, err := publish.NewRedisPublisher(ctx, addr, cfg.GetRedisStream())
		if err != nil {
			log.Printf("redis publisher disabled: %v", err)
		} else {
			out = append(out, p)
		}
	}
	for _, p := range out {
		log.Printf("publishing metrics to %s", p.Name())
	}
	return out
}
