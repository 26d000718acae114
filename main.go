// Package main provides the entry point for the Discord recording bot.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"

	"github.com/Raikerian/go-discord-recorder/internal/app"
	"github.com/Raikerian/go-discord-recorder/internal/bot"
	"github.com/Raikerian/go-discord-recorder/internal/commands"
	"github.com/Raikerian/go-discord-recorder/internal/config"
	"github.com/Raikerian/go-discord-recorder/internal/discord"
	"github.com/Raikerian/go-discord-recorder/internal/handoff"
	"github.com/Raikerian/go-discord-recorder/internal/infrastructure"
	"github.com/Raikerian/go-discord-recorder/internal/observe"
	"github.com/Raikerian/go-discord-recorder/internal/openai"
	"github.com/Raikerian/go-discord-recorder/internal/voice"
	pkginfra "github.com/Raikerian/go-discord-recorder/pkg/infrastructure"
)

// shutdownTimeout bounds stopping: active recordings are finalized and
// their handoffs given the remainder.
const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	application := app.New(
		// Core modules
		config.Module,
		infrastructure.LoggerModule,
		observe.Module,

		// External service modules
		discord.Module,
		openai.Module,

		// Application modules
		voice.Module,
		handoff.Module,
		commands.Module,
		bot.Module,

		fx.Supply(*configPath),
		fx.WithLogger(pkginfra.NewFxLoggerAdapter),
	)
	if err := application.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build application: %v\n", err)
		os.Exit(1)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	err := application.Start(startCtx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Printf("Received signal: %s, initiating shutdown.\n", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	err = application.Stop(shutdownCtx)
	cancel()

	if err != nil {
		fmt.Printf("Error during shutdown: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Application has shut down gracefully.")
}
