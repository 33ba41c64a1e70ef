package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/adwski/whiteboard/backend/client"
	"github.com/adwski/whiteboard/backend/config"
	"github.com/adwski/whiteboard/backend/console"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	fs := pflag.NewFlagSet("join", pflag.ContinueOnError)
	fs.Usage = func() {
		_, _ = fmt.Fprintln(os.Stderr, "usage: join [flags] <serverAddress> <serverPort> <username>")
		fs.PrintDefaults()
	}
	var (
		logLevel   = fs.StringP("log-level", "l", cfg.LogLevel, "log level")
		attempts   = fs.IntP("connect-attempts", "n", cfg.ConnectAttempts, "connection attempts before giving up")
		retryDelay = fs.DurationP("connect-retry-delay", "d", cfg.ConnectRetryDelay, "pause between connection attempts")
	)
	if err = fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}
	if fs.NArg() != 3 {
		fs.Usage()
		os.Exit(2)
	}
	address, port, username := fs.Arg(0), fs.Arg(1), fs.Arg(2)

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := client.Dial(ctx, client.Config{
		Address:    net.JoinHostPort(address, port),
		Username:   username,
		Attempts:   *attempts,
		RetryDelay: *retryDelay,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("could not connect to whiteboard")
	}

	board := client.NewBoard(console.NewView(os.Stdout, username, nil))

	fmt.Println("Waiting for the manager to approve your request...")
	if err = c.Join(ctx, board); err != nil {
		var denied *client.DeniedError
		if errors.As(err, &denied) {
			fmt.Printf("Join request denied: %s\n", denied.Reason)
			os.Exit(1)
		}
		logger.Fatal().Err(err).Msg("join failed")
	}
	fmt.Println("Joined. Type /help for commands.")

	con := console.New(&console.Config{
		Out:       os.Stdout,
		Submitter: c,
		Replica:   board,
		Username:  username,
		Logger:    &logger,
	})

	quit := make(chan error, 1)
	go func() {
		quit <- con.Run(ctx, os.Stdin)
	}()

	select {
	case <-c.Done():
		if reason, ok := board.Ended(); ok {
			logger.Debug().Str("reason", reason).Msg("session ended")
		} else {
			logger.Error().Err(c.Err()).Msg("connection to whiteboard lost")
		}
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
		_ = c.Leave()
	case <-quit:
		_ = c.Leave()
	}
}
