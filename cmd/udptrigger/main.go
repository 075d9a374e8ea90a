package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/config"
)

func main() {
	args, err := config.ParseArgs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Setup logging
	logFile, err := config.SetupLogging(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logging: %v\n", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	slog.Debug("Starting udptrigger",
		"host", args.Host,
		"port", args.Port,
		"mode", args.Mode(),
		"burst", args.Burst,
	)

	trigger := newApp(args)

	// Set up signal handling for Ctrl+C
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Run in a goroutine so we can handle signals
	done := make(chan error)
	go func() {
		done <- trigger.Run()
	}()

	select {
	case err = <-done:
	case <-sigChan:
		slog.Debug("Received interrupt signal, stopping...")
		trigger.Stop()
		err = <-done
	}
	if err != nil {
		// os.Exit skips deferred calls
		if logFile != nil {
			logFile.Close()
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	slog.Debug("udptrigger finished")
}
