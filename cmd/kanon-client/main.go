// Command kanon-client runs the k-anonymity sign/join client.
//
// The client accepts message hashes over HTTP, stores them, and signs and
// joins them either immediately or from a periodic background run.
//
// # Configuration File
//
// Create a YAML file with client settings:
//
//	profile_path: "/var/lib/kanon/profile"
//	act_engine: "mock"
//	protocol:
//	  messages_per_batch: 32
//	  max_concurrent_batches: 4
//	  immediate_join_percentage: 10
//	  background_interval: 1h
//	  server_params_url: "http://localhost:9090/v1/serverParams"
//	  register_client_url: "http://localhost:9090/v1/registerClient"
//	  get_tokens_url: "http://localhost:9090/v1/getTokens"
//	  join_url: "http://localhost:9090/v1/join"
//	  key_config_url: "http://localhost:9090/v1/ohttp-keys"
//	http:
//	  listen_addr: ":8083"
//	  metrics_addr: ":9093"
//	postgres:             # omit to keep everything in memory
//	  host: "localhost"
//	  port: 5432
//	  user: "kanon"
//	  database: "kanon"
//	attestation:
//	  use_tdx: false
//	log:
//	  format: "json"
//	  level: "info"
//
// # ACT Engine
//
// The only engine built in is act.MockEngine. Its tokens verify against
// kanon-devserver and other servers running the mock scheme, not against a
// production sign server. act_engine rejects any other name until an
// act.Engine over the real ACT library is linked in.
//
// # Usage
//
//	go run ./cmd/kanon-client --config=client.yaml
//	go run ./cmd/kanon-client --server=http://localhost:9090 --addr=:8083
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/flashbots/kanon/api/httpserver"
	"github.com/flashbots/kanon/client"
	"github.com/flashbots/kanon/cmd/common"
	kcommon "github.com/flashbots/kanon/common"
	"github.com/flashbots/kanon/metrics"
	"github.com/flashbots/kanon/services"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Path to YAML config file")
		addr         = flag.String("addr", "", "HTTP listen address")
		metricsAddr  = flag.String("metrics-addr", "", "Metrics listen address")
		serverURL    = flag.String("server", "", "Base URL of a development server, sets every endpoint URL")
		keyConfigHex = flag.String("key-config", "", "OHTTP key configuration (hex), fetched from key_config_url if empty")
		profilePath  = flag.String("profile", "", "Path of the profile id file")
		useTDX       = flag.Bool("tdx", false, "Use real TDX attestation")
		remoteTDXURL = flag.String("tdx-url", "", "Remote TDX attestation service URL")
		logFormat    = flag.String("log-format", "", "Log format: text or json")
		debug        = flag.Bool("debug", false, "Debug logging")
	)
	flag.Parse()

	var cfg *common.Config
	var err error

	if *configPath != "" {
		cfg, err = common.LoadConfig(*configPath)
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = common.DefaultConfig()
	}

	// Command-line flags override config file
	if *addr != "" {
		cfg.HTTP.ListenAddr = *addr
	}
	if *metricsAddr != "" {
		cfg.HTTP.MetricsAddr = *metricsAddr
	}
	if *serverURL != "" {
		cfg.Protocol.SetBaseURL(*serverURL)
	}
	if *keyConfigHex != "" {
		cfg.Protocol.KeyConfigHex = *keyConfigHex
	}
	if *profilePath != "" {
		cfg.ProfilePath = *profilePath
	}
	if *useTDX {
		cfg.Attestation.UseTDX = true
	}
	if *remoteTDXURL != "" {
		cfg.Attestation.TDXRemoteURL = *remoteTDXURL
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *debug {
		cfg.Log.Debug = true
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Configuration error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *common.Config) error {
	log, err := common.NewLogger(cfg.Log, os.Stdout)
	if err != nil {
		return err
	}
	log = log.With("service", kcommon.PackageName, "version", kcommon.Version)

	clk := clock.New()

	metricsSrv, err := metrics.New(kcommon.PackageName, cfg.HTTP.MetricsAddr)
	if err != nil {
		return fmt.Errorf("creating metrics server: %w", err)
	}

	store, closer, err := common.NewStore(cfg.Postgres, clk)
	if err != nil {
		return err
	}
	defer closer.Close()

	keys, err := common.NewKeyConfigSource(cfg.Protocol, clk)
	if err != nil {
		return err
	}

	transport := services.NewHTTPTransport(cfg.Protocol, log)

	engine, err := common.NewACTEngine(cfg.ACTEngine)
	if err != nil {
		return err
	}

	caller, err := client.NewCaller(cfg.Protocol, client.Dependencies{
		Engine:      engine,
		Messages:    store,
		Parameters:  store,
		Sign:        transport,
		Join:        transport,
		Oblivious:   services.NewObliviousEncryptor(keys, log),
		Profile:     services.NewFileProfileIDSource(cfg.ProfilePath),
		Attestation: common.NewAttestationProvider(cfg.Attestation.UseTDX, cfg.Attestation.TDXRemoteURL),
		Clock:       clk,
		Metrics:     metricsSrv.Collectors,
		Log:         log,
	})
	if err != nil {
		return fmt.Errorf("creating caller: %w", err)
	}

	manager := client.NewManager(cfg.Protocol, caller, store, clk, log)
	worker := client.NewWorker(cfg.Protocol, manager, clk, metricsSrv.Collectors, log)

	cfg.HTTP.Log = log
	cfg.HTTP.Metrics = metricsSrv
	srv, err := httpserver.New(cfg.HTTP, client.NewHandler(manager, worker, store, log))
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	srv.RunInBackground()
	worker.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	log.Info("Shutting down client")
	srv.Shutdown()
	worker.StopWork()
	worker.Wait()
	manager.Wait()
	return nil
}
