// Command chittyrouterd runs the intake HTTP gateway: normalize, recognize,
// classify, triage, route, persist, forward, per spec.md.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/acme/autocert"

	"github.com/rs/zerolog"

	"github.com/chittyos/chittyrouter-sub005/gwconfig"
	"github.com/chittyos/chittyrouter-sub005/internal/gateway"
	"github.com/chittyos/chittyrouter-sub005/util/devcert"
)

var version = "unknown" // filled in by "-ldflags=-X main.version=<val>"

func main() {
	log.SetFlags(0)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf(".env: %v", err)
	}
	hostname, err := os.Hostname()
	if err != nil {
		log.Printf("cannot read hostname: %v, using localhost", err)
		hostname = "localhost"
	}

	flagDev := flag.Bool("dev", false, "development server: local CA TLS cert, allow_anonymous forced on")
	flagConfig := flag.String("config", "", "path to gateway YAML config; recognized options only, per spec.md §6")
	flagAddr := flag.String("addr", ":8080", "HTTP listen address, overrides the config file's http.addr")
	flagTLSAddr := flag.String("tls_addr", "", "HTTPS listen address; empty disables TLS")
	flagHostname := flag.String("hostname", hostname, "hostname used for autocert's HostPolicy when not -dev")
	flag.Parse()

	log.Printf("chittyrouterd, version %s, starting at %s", version, time.Now())

	cfg := gwconfig.Defaults()
	if *flagConfig != "" {
		cfg, err = gwconfig.Load(*flagConfig)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
	}
	if *flagAddr != "" {
		cfg.HTTP.Addr = *flagAddr
	}
	if *flagDev {
		log.Printf("***DEVELOPMENT MODE***")
		cfg.AllowAnonymous = true
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("service", "chittyrouterd").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw, err := gateway.Build(ctx, cfg, logger)
	if err != nil {
		// Dependency-unavailable failures at startup map to exit code 69
		// ("service unavailable"), per spec.md §6's process exit codes.
		log.Fatalf("gateway build failed (exit 69): %v", err)
	}

	var tlsConfig *tls.Config
	if *flagTLSAddr != "" {
		if *flagDev {
			tlsConfig, err = devcert.Config()
			if err != nil {
				log.Fatal(err)
			}
		} else {
			certManager := &autocert.Manager{
				Prompt:     autocert.AcceptTOS,
				HostPolicy: autocert.HostWhitelist(*flagHostname),
				Cache:      autocert.DirCache(filepath.Join(os.TempDir(), "chittyrouterd-tls-certs")),
			}
			tlsConfig = &tls.Config{GetCertificate: certManager.GetCertificate}
		}
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: gw.Server.Handler(),
	}

	go func() {
		ln, err := net.Listen("tcp", cfg.HTTP.Addr)
		if err != nil {
			logger.Fatal().Err(err).Msg("listen")
		}
		logger.Info().Str("addr", ln.Addr().String()).Msg("http intake listening")
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http serve")
		}
	}()

	var tlsServer *http.Server
	if tlsConfig != nil && *flagTLSAddr != "" {
		tlsServer = &http.Server{
			Addr:      *flagTLSAddr,
			Handler:   gw.Server.Handler(),
			TLSConfig: tlsConfig,
		}
		go func() {
			logger.Info().Str("addr", *flagTLSAddr).Msg("https intake listening")
			if err := tlsServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("https serve")
			}
		}()
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	<-interrupt
	logger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = httpServer.Shutdown(shutdownCtx)
		if tlsServer != nil {
			_ = tlsServer.Shutdown(shutdownCtx)
		}
	}()
	wg.Wait()

	if err := gw.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("gateway close")
	}
}
