// Package main is the entry point for the orchestrator binary: it loads
// configuration, connects to the MQTT broker and AAS server, wires the
// PackML controller and its observability surfaces, and runs until a
// termination signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aausmartlab/btorchestrator/internal/aas"
	"github.com/aausmartlab/btorchestrator/internal/bt"
	"github.com/aausmartlab/btorchestrator/internal/bt/core"
	"github.com/aausmartlab/btorchestrator/internal/common/config"
	"github.com/aausmartlab/btorchestrator/internal/common/logger"
	"github.com/aausmartlab/btorchestrator/internal/httpapi"
	"github.com/aausmartlab/btorchestrator/internal/interfacecache"
	"github.com/aausmartlab/btorchestrator/internal/monitor"
	"github.com/aausmartlab/btorchestrator/internal/packml"
	"github.com/aausmartlab/btorchestrator/internal/transport"
)

func main() {
	generateModels := flag.Bool("g", false, "write the registered node-type model XML to behavior_tree.description_path and exit")
	configPath := flag.String("config", "", "directory to search for config.yaml, in addition to the defaults")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	if *generateModels {
		registry := core.NewRegistry()
		bt.RegisterNodeTypes(registry, bt.Deps{})
		if err := bt.GenerateXML(registry, cfg.BehaviorTree.DescriptionPath); err != nil {
			log.Fatal("failed to generate node model XML", zap.Error(err))
		}
		log.Info("wrote node model XML", zap.String("path", cfg.BehaviorTree.DescriptionPath))
		return
	}

	log.Info("starting orchestrator", zap.String("client_id", cfg.MQTT.ClientID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mqttClient, err := transport.Connect(ctx, transport.Options{
		BrokerURI: cfg.MQTT.BrokerURI,
		ClientID:  cfg.MQTT.ClientID,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to MQTT broker", zap.Error(err), zap.String("broker_uri", cfg.MQTT.BrokerURI))
	}
	defer mqttClient.Close(5 * time.Second)

	aasClient := aas.New(cfg.AAS.RegistryURL, cfg.AAS.ServerURL)
	cache := interfacecache.New(aasClient, log)

	controller := packml.New(cfg.MQTT.ClientID, cfg.MQTT.UNSTopic, mqttClient, aasClient, cache, log)
	if err := controller.Arm(ctx); err != nil {
		log.Fatal("failed to arm controller", zap.Error(err))
	}

	monitorHub := monitor.NewHub(log)
	go monitorHub.Run(ctx)

	monitorServer := newMonitorServer(fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.Groot2.Port), monitorHub, log)
	go func() {
		if err := monitorServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("groot2 monitor server stopped with error", zap.Error(err))
		}
	}()

	statusServer := httpapi.New(
		fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		controller,
		log,
		cfg.Logging.Level == "debug",
	)
	go func() {
		if err := statusServer.Run(ctx); err != nil {
			log.Error("httpapi server stopped with error", zap.Error(err))
		}
	}()

	runDone := make(chan error, 1)
	go func() { runDone <- controller.Run(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("shutdown requested by signal")
		controller.RequestSigint()
	case err := <-runDone:
		if err != nil {
			log.Error("controller run loop stopped with error", zap.Error(err))
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := monitorServer.Shutdown(shutdownCtx); err != nil {
		log.Error("groot2 monitor server shutdown error", zap.Error(err))
	}

	log.Info("orchestrator stopped")
	if controller.SigintReceived() {
		os.Exit(130)
	}
}

// loadConfig loads configuration from the default search paths, or from
// configDir first when non-empty.
func loadConfig(configDir string) (*config.Config, error) {
	if configDir == "" {
		return config.Load()
	}
	return config.LoadWithPath(configDir)
}

// newMonitorServer builds the Groot2-style live tree-status websocket
// feed as its own http.Server, separate from the read-only status API,
// mirroring the teacher's practice of giving the monitoring gateway its
// own listener.
func newMonitorServer(addr string, hub *monitor.Hub, log *logger.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	monitor.NewHandler(hub, log).RegisterRoutes(router, "/ws/monitor")

	return &http.Server{
		Addr:    addr,
		Handler: router,
	}
}
