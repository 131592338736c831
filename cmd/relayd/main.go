package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/httpapi"
)

func main() {
	cfg := config.Load()

	srv := &http.Server{
		Addr:    cfg.RelayAddr,
		Handler: httpapi.NewRouter(cfg),
	}

	go func() {
		log.Printf("[relayd] listening on %s, upstream %s", cfg.RelayAddr, cfg.OllamaBaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[relayd] listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Printf("[relayd] shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[relayd] shutdown: %v", err)
	}
}
