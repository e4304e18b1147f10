package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dbehnke/kiss-nexus/pkg/config"
	"github.com/dbehnke/kiss-nexus/pkg/database"
	"github.com/dbehnke/kiss-nexus/pkg/logger"
	"github.com/dbehnke/kiss-nexus/pkg/metrics"
	"github.com/dbehnke/kiss-nexus/pkg/mqtt"
	"github.com/dbehnke/kiss-nexus/pkg/radio"
	"github.com/dbehnke/kiss-nexus/pkg/tnc"
	"github.com/dbehnke/kiss-nexus/pkg/web"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

const pruneInterval = time.Hour

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validate := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("KISS-Nexus %s (%s, built %s)\n", version, commit, buildTime)
		return 0
	}

	// Console logger until the configured one is available
	log := logger.New(logger.Config{Level: "info", Format: "text"})

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Error("Failed to load configuration", logger.Error(err))
		return 1
	}

	if *validate {
		log.Info("Configuration is valid")
		return 0
	}

	log = logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	log.Info("Starting KISS-Nexus",
		logger.String("version", version),
		logger.String("build_time", buildTime),
		logger.String("config_file", *configFile))
	web.SetVersionInfo(version, commit, buildTime)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	metricsCollector := metrics.NewCollector()

	if cfg.Metrics.Enabled && cfg.Metrics.Prometheus.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metricsServer := metrics.NewPrometheusServer(
				metrics.PrometheusConfig{
					Enabled: cfg.Metrics.Prometheus.Enabled,
					Port:    cfg.Metrics.Prometheus.Port,
					Path:    cfg.Metrics.Prometheus.Path,
				},
				metricsCollector,
				log.WithComponent("metrics"),
			)
			if err := metricsServer.Start(ctx); err != nil && err != context.Canceled {
				log.Error("Prometheus metrics server error", logger.Error(err))
			}
		}()
		log.Info("Prometheus metrics server started",
			logger.Int("port", cfg.Metrics.Prometheus.Port),
			logger.String("path", cfg.Metrics.Prometheus.Path))
	}

	link, err := openRadio(cfg.Radio, log.WithComponent("radio"))
	if err != nil {
		log.Error("Failed to open radio link", logger.Error(err))
		return 1
	}
	defer func() { _ = link.Close() }()

	tncServer := tnc.NewServer(tnc.Config{
		Host:            cfg.TNC.Host,
		Port:            cfg.TNC.Port,
		QueueSize:       cfg.TNC.QueueSize,
		ReadBufferSize:  cfg.TNC.ReadBufferSize,
		MaxFrameBytes:   cfg.TNC.MaxFrameBytes,
		MaxPacketSize:   cfg.TNC.MaxPacketSize,
		TagSingle:       cfg.TNC.TagSingle,
		UnescapeInbound: cfg.TNC.UnescapeInbound,
	}, link, log).WithMetrics(metricsCollector)

	var webServer *web.Server
	if cfg.Web.Enabled {
		webServer = web.NewServer(cfg.Web, log.WithComponent("web")).WithStatus(tncServer)
		tncServer.AddObserver(webServer.GetHub())
	}

	if cfg.Database.Enabled {
		db, err := database.NewDB(database.Config{Path: cfg.Database.Path}, log.WithComponent("database"))
		if err != nil {
			log.Error("Failed to open database", logger.Error(err))
			return 1
		}
		defer func() { _ = db.Close() }()

		recorder := database.NewRecorder(db, log)
		tncServer.AddObserver(recorder)
		wg.Add(2)
		go func() {
			defer wg.Done()
			recorder.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			retention := time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour
			recorder.Prune(ctx, retention, pruneInterval)
		}()

		if webServer != nil {
			webServer.
				WithPackets(database.NewPacketRepository(db.GetDB())).
				WithStations(database.NewStationRepository(db.GetDB()))
		}
	}

	var mqttPublisher *mqtt.Publisher
	if cfg.MQTT.Enabled {
		mqttPublisher = mqtt.New(
			mqtt.Config{
				Enabled:     cfg.MQTT.Enabled,
				Broker:      cfg.MQTT.Broker,
				TopicPrefix: cfg.MQTT.TopicPrefix,
				ClientID:    cfg.MQTT.ClientID,
				Username:    cfg.MQTT.Username,
				Password:    cfg.MQTT.Password,
				QoS:         cfg.MQTT.QoS,
				Retained:    cfg.MQTT.Retained,
			},
			log,
		)
		if err := mqttPublisher.Start(ctx); err != nil {
			log.Error("MQTT publisher error", logger.Error(err))
		}
		tncServer.AddObserver(mqttPublisher)
		log.Info("MQTT publisher started",
			logger.String("broker", cfg.MQTT.Broker),
			logger.String("topic_prefix", cfg.MQTT.TopicPrefix))
	}

	if webServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := webServer.Start(ctx); err != nil && err != context.Canceled {
				log.Error("Web server error", logger.Error(err))
			}
		}()
		log.Info("Web server started",
			logger.String("host", cfg.Web.Host),
			logger.Int("port", cfg.Web.Port))
	}

	tncErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		tncErr <- tncServer.Start(ctx)
	}()

	log.Info("KISS-Nexus initialized",
		logger.String("server_name", cfg.Server.Name),
		logger.String("radio", cfg.Radio.Type))

	exitCode := 0
	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal",
			logger.String("signal", sig.String()))
	case err := <-tncErr:
		if err != nil && err != context.Canceled {
			log.Error("KISS server stopped", logger.Error(err))
			exitCode = 1
		}
	}

	cancel()
	if mqttPublisher != nil {
		mqttPublisher.Stop()
	}
	wg.Wait()

	log.Info("KISS-Nexus stopped")
	return exitCode
}

// openRadio opens the link selected by radio.type
func openRadio(cfg config.RadioConfig, log *logger.Logger) (radio.Link, error) {
	switch strings.ToUpper(cfg.Type) {
	case "SERIAL":
		link, err := radio.OpenSerial(radio.SerialConfig{Device: cfg.Device, BaudRate: cfg.BaudRate}, log)
		if err != nil {
			return nil, err
		}
		return link, nil
	case "LOOPBACK", "":
		log.Warn("Using loopback radio, nothing will be transmitted over the air",
			logger.Bool("echo", cfg.Echo))
		return radio.NewLoopback(64, cfg.Echo), nil
	default:
		return nil, fmt.Errorf("unknown radio type %q", cfg.Type)
	}
}
