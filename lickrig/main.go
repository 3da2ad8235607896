package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itohio/lickrig/pkg/config"
	"github.com/itohio/lickrig/pkg/hw"
	"github.com/itohio/lickrig/pkg/link"
	"github.com/itohio/lickrig/pkg/rig"
	"github.com/itohio/lickrig/pkg/session"
	"github.com/itohio/lickrig/pkg/telemetry"
)

// stdioPort selects stdin/stdout as the command channel.
const stdioPort = "-"

func main() {
	var (
		portFlag      = flag.String("p", "", "Command serial port override (e.g., /dev/ttyGS0, or - for stdin/stdout)")
		configFlag    = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag      = flag.Bool("mock", false, "Use the simulated board instead of GPIO")
		listFlag      = flag.Bool("list", false, "List serial ports and exit")
		logLevelFlag  = flag.String("log-level", "", "Log level override (error, warn, info, debug)")
		writeCfgFlag  = flag.String("write-config", "", "Write the effective configuration to this file and exit")
		sessionDirFlg = flag.String("sessions", "", "Session directory override")
	)
	flag.Parse()

	if *listFlag {
		ports, err := link.Ports()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list serial ports: %v\n", err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *mockFlag {
		cfg.Hardware.Backend = config.BackendMock
		if *portFlag == "" {
			cfg.Serial.Port = stdioPort
		}
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *logLevelFlag != "" {
		cfg.Logging.Level = *logLevelFlag
	}
	if *sessionDirFlg != "" {
		cfg.Session.Dir = *sessionDirFlg
	}

	if *writeCfgFlag != "" {
		if err := cfg.Save(*writeCfgFlag); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return
	}

	log, err := newLogger(cfg.Logging, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("lickrig stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	board, err := newBoard(cfg, log)
	if err != nil {
		return err
	}
	defer board.Close()

	cmd := commandLink(cfg, log)
	if err := cmd.Connect(); err != nil {
		return fmt.Errorf("command link: %w", err)
	}
	defer cmd.Close()

	var secondary link.Link
	if cfg.Serial.SecondaryPort != "" {
		s := link.NewSerial(cfg.Serial.SecondaryPort, cfg.Serial.SecondaryBaudRate, link.DefaultBufferSize, log)
		if err := s.Connect(); err != nil {
			log.Warn("secondary link unavailable, forwarding disabled", "port", cfg.Serial.SecondaryPort, "error", err)
		} else {
			secondary = s
			defer s.Close()
		}
	}

	boot := time.Now()
	tracker := telemetry.NewTracker(boot)
	onEvent := startTelemetry(ctx, cfg, tracker, log)

	r, err := rig.New(rig.Options{
		Config:    cfg,
		Board:     board,
		Command:   cmd,
		Secondary: secondary,
		Storage:   session.NewDirStorage(cfg.Session.Dir),
		Tracker:   tracker,
		OnEvent:   onEvent,
		Log:       log,
	}, boot)
	if err != nil {
		return err
	}

	log.Info("lickrig started",
		"command_port", cfg.Serial.Port,
		"secondary_port", cfg.Serial.SecondaryPort,
		"backend", cfg.Hardware.Backend,
		"tick", cfg.Loop.Tick,
		"sessions", cfg.Session.Dir)

	err = r.Run(ctx)
	log.Info("shutting down")
	return err
}

func newBoard(cfg *config.Config, log *slog.Logger) (hw.Board, error) {
	if cfg.Hardware.Backend == config.BackendMock {
		log.Info("using simulated board", "lick_period", cfg.Mock.LickPeriod, "wheel_rate", cfg.Mock.WheelRate)
		return hw.NewSim(&cfg.Mock), nil
	}
	sensor := hw.NewIIOSensor(cfg.Hardware.TouchLeft, cfg.Hardware.TouchRight)
	b, err := hw.NewGPIO(cfg.Hardware, sensor)
	if err != nil {
		return nil, fmt.Errorf("open gpio board: %w", err)
	}
	return b, nil
}

func commandLink(cfg *config.Config, log *slog.Logger) *link.Conn {
	if cfg.Serial.Port == stdioPort {
		return link.NewStream("stdio", stdio{}, link.DefaultBufferSize, log)
	}
	return link.NewSerial(cfg.Serial.Port, cfg.Serial.BaudRate, link.DefaultBufferSize, log)
}

// startTelemetry starts the configured telemetry sinks and returns the
// event mirror callback, or nil when telemetry is disabled.
func startTelemetry(ctx context.Context, cfg *config.Config, tracker *telemetry.Tracker, log *slog.Logger) func(time.Duration, string) {
	var pub telemetry.Publisher
	if cfg.Telemetry.MQTTBroker != "" {
		p, err := telemetry.NewMQTTPublisher(cfg.Telemetry.MQTTBroker, cfg.Telemetry.MQTTClientID, cfg.Telemetry.MQTTPrefix)
		if err != nil {
			log.Warn("mqtt unavailable", "broker", cfg.Telemetry.MQTTBroker, "error", err)
		} else {
			pub = p
			go func() {
				<-ctx.Done()
				p.Close()
			}()
			log.Info("mqtt connected", "broker", cfg.Telemetry.MQTTBroker, "prefix", cfg.Telemetry.MQTTPrefix)
		}
	}

	var hub *telemetry.Hub
	if cfg.Telemetry.HTTPAddr != "" {
		hub = telemetry.NewHub(log, 0, 0)
		go hub.Run(ctx)

		srv := telemetry.NewServer(cfg.Telemetry.HTTPAddr, tracker, hub, log)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		log.Info("http status server listening", "addr", cfg.Telemetry.HTTPAddr)
	}

	if pub == nil && hub == nil {
		return nil
	}
	m := telemetry.NewMirror(log, tracker, pub, hub, 0)
	go m.Run(ctx)
	return m.Event
}

// stdio joins stdin and stdout into one command stream.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdio) Close() error                { return os.Stdin.Close() }
