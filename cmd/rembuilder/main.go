package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/roman-kulish/rem-builder/cmd/rembuilder/app"
	"github.com/roman-kulish/rem-builder/internal/vehicle/serialconsole"
)

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

	var configPath string
	var listPorts, dryRun bool
	flag.StringVar(&configPath, "c", "", "Path to the configuration file")
	flag.BoolVar(&listPorts, "list-ports", false, "List serial ports and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "Run the scan cycles without flying")
	flag.Parse()

	if listPorts {
		ports, err := serialconsole.Ports()
		if err != nil {
			logger.Error(err.Error())
			os.Exit(1)
		}
		for _, port := range ports {
			fmt.Println(port)
		}
		return
	}

	if configPath == "" {
		logger.Error("no configuration file provided")
		os.Exit(1)
	}

	config, err := app.LoadConfig(configPath)
	if err != nil {
		logger.Error(fmt.Sprintf("failed to load configuration file: %s", err.Error()), slog.String("path", configPath))
		os.Exit(1)
	}

	logLevel.Set(config.Settings.LogLevel)
	if dryRun {
		config.Mission.DryRun = true
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err = app.Run(ctx, config, logger); err != nil {
		logger.Error(err.Error())

		cancel()
		os.Exit(1)
	}
}
