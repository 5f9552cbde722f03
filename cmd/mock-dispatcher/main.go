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
	"syscall"
	"time"

	"operator/internal/logging"
	"operator/internal/registry"
)

func main() {
	var (
		httpAddr = flag.String("http", ":9000", "Dispatcher HTTP listen address")
		staleAge = flag.Duration("stale", 10*time.Minute, "Drop workers not seen for this long")
		logLevel = flag.String("log-level", "info", "Log level")
	)
	flag.Parse()

	logging.Init(*logLevel, "text")
	logger := logging.WithComponent("mock-dispatcher")

	svc := registry.NewService(registry.New(), logger)
	srv := &http.Server{Addr: *httpAddr, Handler: svc.Handler(), ReadHeaderTimeout: 10 * time.Second}

	stop := make(chan struct{})
	go svc.RunCleanup(time.Minute, *staleAge, stop)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start mock dispatcher: %v", err)
		}
	}()
	logger.Infof("Mock dispatcher listening addr=%s", *httpAddr)

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	<-sigCh
	fmt.Println("\nShutting down mock dispatcher...")
	close(stop)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
