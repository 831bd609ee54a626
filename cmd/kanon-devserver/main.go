package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/flashbots/kanon/api/httpserver"
	"github.com/flashbots/kanon/cmd/common"
	"github.com/flashbots/kanon/services"
	"github.com/flashbots/kanon/testutil"
)

func main() {
	var (
		addr             = flag.String("addr", ":9090", "HTTP listen address")
		metricsAddr      = flag.String("metrics-addr", "", "Metrics listen address")
		keyID            = flag.Uint("key-id", 1, "OHTTP key id")
		signValidity     = flag.Duration("sign-validity", 24*time.Hour, "Validity of server parameters")
		clientValidity   = flag.Duration("client-validity", 7*24*time.Hour, "Validity of registered client parameters")
		rejectSubstring  = flag.String("reject", "", "Answer 404 to joins whose hash set contains this substring")
		skipVerification = flag.Bool("skip-verification", false, "Skip attestation verification")
		useTDX           = flag.Bool("tdx", false, "Verify real TDX attestations")
		measurementsURL  = flag.String("measurements-url", "", "URL for allowed client measurements")
		demoMeasurements = flag.Bool("demo-measurements", false, "Require the measurements of dummy attestations")
		logFormat        = flag.String("log-format", "text", "Log format: text or json")
		debug            = flag.Bool("debug", false, "Debug logging")
	)
	flag.Parse()

	log, err := common.NewLogger(common.LogConfig{Format: *logFormat, Debug: *debug}, os.Stdout)
	if err != nil {
		fmt.Printf("Logger error: %v\n", err)
		os.Exit(1)
	}

	if *keyID > 255 {
		fmt.Println("Error: key-id must fit in one byte")
		os.Exit(1)
	}

	opts := []testutil.SignServerOption{
		testutil.WithSignValidity(*signValidity),
		testutil.WithClientValidity(*clientValidity),
	}
	measurements := common.NewMeasurementSource(*measurementsURL)
	if measurements == nil && *demoMeasurements {
		measurements = services.DemoMeasurementSource()
	}
	if v := common.NewAttestationVerifier(*useTDX, *skipVerification, measurements); v != nil {
		opts = append(opts, testutil.WithAttestationVerifier(v))
	}
	signer := testutil.NewSignServer(clock.New(), opts...)

	joiner, err := testutil.NewJoinGateway(uint8(*keyID))
	if err != nil {
		fmt.Printf("Gateway key error: %v\n", err)
		os.Exit(1)
	}
	if *rejectSubstring != "" {
		joiner.SetStatusFor(func(hashSet string) int {
			if strings.Contains(hashSet, *rejectSubstring) {
				return http.StatusNotFound
			}
			return http.StatusOK
		})
	}

	devServer := NewDevServer(signer, joiner)

	cfg := httpserver.DefaultHTTPServerConfig()
	cfg.ListenAddr = *addr
	cfg.MetricsAddr = *metricsAddr
	cfg.AllowedOrigins = []string{"*"}
	cfg.DrainDuration = 0
	cfg.Log = log

	srv, err := httpserver.New(cfg, signer, joiner, devServer)
	if err != nil {
		fmt.Printf("Server error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		cancel()
	}()

	srv.RunInBackground()
	fmt.Printf("Development server listening on %s\n", *addr)
	fmt.Printf("Key config: %s\n", devServer.KeyConfigHex())

	<-ctx.Done()
	srv.Shutdown()
	fmt.Println("Development server shutdown complete")
}
