// Command btchat is a two-party terminal chat over a Bluetooth L2CAP
// sequenced-packet connection. One side listens with -l, the other dials it
// with -c <bdaddr>.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/xid"
	"github.com/smjoseph/btchat/config"
	"github.com/smjoseph/btchat/l2cap"
	"github.com/smjoseph/btchat/logger"
	"github.com/smjoseph/btchat/session"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin *os.File, stdout, stderr io.Writer) int {
	cfg, err := parseArgs(args, stdout, stderr)
	if err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "btchat: %v\n", err)
		}
		return 1
	}

	log, err := newLogger(cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "btchat: %v\n", err)
		return 1
	}
	defer log.Close()

	log = log.With(logger.F("session", xid.New().String()), logger.F("role", cfg.Role.String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tr := &l2cap.Transport{
		Logger:         log.With(logger.F("component", "l2cap")),
		PollInterval:   cfg.PollInterval,
		ConnectRetries: cfg.ConnectRetries,
		RetryDelay:     cfg.RetryDelay,
		OnState:        statusPrinter(stdout),
	}

	var conn *l2cap.Conn
	switch cfg.Role {
	case config.RoleInitiator:
		conn, err = tr.Connect(ctx, cfg.Remote, cfg.PSM)
	case config.RoleResponder:
		conn, err = tr.Listen(ctx, cfg.PSM)
	}

	if err != nil {
		if ctx.Err() != nil {
			return 0
		}

		fmt.Fprintf(stderr, "btchat: %v\n", err)
		return 1
	}

	loop := &session.Loop{
		Conn:         conn,
		Input:        stdin,
		Output:       stdout,
		Prompt:       cfg.Prompt(),
		BufferSize:   cfg.BufferSize,
		PollInterval: cfg.PollInterval,
		Logger:       log.With(logger.F("component", "session")),
	}

	if err := loop.Run(ctx); err != nil {
		fmt.Fprintf(stderr, "btchat: %v\n", err)
		return 1
	}

	return 0
}

func newLogger(cfg config.Config, stderr io.Writer) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	if cfg.LogFile != "" {
		return logger.NewFile(cfg.LogFile, level)
	}

	return logger.New(stderr, level), nil
}

// statusPrinter writes the connection status lines a user sees on stdout.
func statusPrinter(w io.Writer) l2cap.StateHandler {
	return func(ev l2cap.StateEvent) {
		switch ev.State {
		case l2cap.StateConnecting:
			fmt.Fprintf(w, "connecting to: %s, 0x%04x\n", ev.Remote, ev.PSM)
		case l2cap.StateListening:
			fmt.Fprintf(w, "listening on: %s, 0x%04x\n", ev.Local, ev.PSM)
		case l2cap.StateConnected:
			if ev.Accepted {
				fmt.Fprintf(w, "accepted connection from: %s\n", ev.Remote)
			} else {
				fmt.Fprintln(w, "connected")
			}
		}
	}
}
