// Command agentsim runs a simulated local signing agent that speaks the same
// WebSocket protocol as the desktop signing application. It is meant for
// development and demos; it never produces a real signature.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signdesk/signdesk/internal/agent"
	"github.com/signdesk/signdesk/pkg/logger"
	"github.com/spf13/viper"
)

func main() {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("AGENTSIM_ADDR", "127.0.0.1:9774")
	v.SetDefault("AGENTSIM_LATENCY_MS", 1000)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	logger.Init(v.GetString("LOG_LEVEL"))
	logger.SetFormat(v.GetString("LOG_FORMAT"))
	defer logger.Sync()

	latency := time.Duration(v.GetInt("AGENTSIM_LATENCY_MS")) * time.Millisecond
	addr := v.GetString("AGENTSIM_ADDR")

	srv := &http.Server{
		Addr:              addr,
		Handler:           agent.NewServer(agent.SimulatedProvider(latency), "agentsim"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		logger.Infof("simulated signing agent listening on ws://%s (latency %s)", addr, latency)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("agentsim: %v", err)
		}
	}()
	<-ctx.Done()

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
}
