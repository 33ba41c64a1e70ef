package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/adwski/whiteboard/backend/client"
	"github.com/adwski/whiteboard/backend/config"
	"github.com/adwski/whiteboard/backend/console"
	"github.com/adwski/whiteboard/backend/model"
	httpServer "github.com/adwski/whiteboard/backend/server/http"
	websocketServer "github.com/adwski/whiteboard/backend/server/websocket"
	"github.com/adwski/whiteboard/backend/service"
	"github.com/adwski/whiteboard/backend/storage/file"
	"github.com/adwski/whiteboard/backend/storage/journal"
	sw "github.com/adwski/whiteboard/backend/switch"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	fs := pflag.NewFlagSet("host", pflag.ContinueOnError)
	fs.Usage = func() {
		_, _ = fmt.Fprintln(os.Stderr, "usage: host [flags] <port> <username>")
		fs.PrintDefaults()
	}
	var (
		logLevel        = fs.StringP("log-level", "l", cfg.LogLevel, "log level")
		apiListenAddr   = fs.StringP("api-listen-addr", "a", cfg.APIListenAddr, "read-only api listen address, disabled if empty")
		journalDir      = fs.StringP("journal-dir", "j", cfg.JournalDir, "history journal directory, disabled if empty")
		approvalTimeout = fs.DurationP("approval-timeout", "t", cfg.ApprovalTimeout, "how long a join request waits for a decision")
		openPath        = fs.StringP("open", "o", "", "whiteboard file to start from")
	)
	if err = fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}
	if fs.NArg() != 2 {
		fs.Usage()
		os.Exit(2)
	}
	port, username := fs.Arg(0), fs.Arg(1)

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	var history []model.Drawable
	jrnl, err := journal.Open(*journalDir, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open journal")
	}
	defer func() {
		if cErr := jrnl.Close(); cErr != nil {
			logger.Error().Err(cErr).Msg("failed to close journal")
		}
	}()
	if *openPath != "" {
		if history, err = file.Load(*openPath); err != nil {
			logger.Fatal().Err(err).Msg("failed to open whiteboard file")
		}
	} else if history, err = jrnl.Load(); err != nil {
		logger.Fatal().Err(err).Msg("failed to restore history from journal")
	}

	view := console.NewView(os.Stdout, username, nil)
	board := client.NewBoard(view)
	approver := console.NewApprover(os.Stdout)

	session, err := service.NewSession(service.Config{
		Manager:         username,
		ManagerCallback: client.NewLocal(board, &logger),
		Approver:        approver,
		Switch: sw.NewSwitch(sw.Config{
			Logger:          &logger,
			DeliveryTimeout: cfg.DeliveryTimeout,
			QueueSize:       cfg.QueueSize,
		}),
		Journal:         jrnl,
		History:         history,
		ApprovalTimeout: *approvalTimeout,
		Logger:          &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start session")
	}
	// Journal keys follow history positions, so realign them with what
	// the session accepted.
	if err = jrnl.Replace(session.History()); err != nil {
		logger.Error().Err(err).Msg("failed to reset journal")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:         &logger,
		SessionService: session,
		ListenAddr:     net.JoinHostPort("", port),
		TXQueueSize:    cfg.QueueSize,
	})
	wg.Add(1)
	go wsSrv.Run(ctx, wg, errc)

	if *apiListenAddr != "" {
		httpSrv := httpServer.NewServer(httpServer.Config{
			Logger:         &logger,
			SessionService: session,
			ListenAddr:     *apiListenAddr,
		})
		wg.Add(1)
		go httpSrv.Run(ctx, wg, errc)
	}

	con := console.New(&console.Config{
		Out:       os.Stdout,
		Submitter: console.ManagerSubmitter{Session: session, Username: username},
		Replica:   board,
		Username:  username,
		Manager:   username,
		Logger:    &logger,
	})
	con.RegisterHost(session, approver)

	fmt.Printf("Hosting whiteboard on port %s as %s. Type /help for commands.\n", port, username)

	quit := make(chan error, 1)
	go func() {
		quit <- con.Run(ctx, os.Stdin)
	}()

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	case <-quit:
		logger.Info().Msg("manager quit")
	}
	session.Leave(username)
	cancel()
	wg.Wait()
}
