// cmd/peerquiz/peer.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/peerquiz/peerquiz/internal/invite"
	"github.com/peerquiz/peerquiz/internal/match"
	"github.com/peerquiz/peerquiz/internal/oracle"
	"github.com/peerquiz/peerquiz/internal/protocol"
	"github.com/peerquiz/peerquiz/internal/session"
	"github.com/peerquiz/peerquiz/internal/transport"
)

type mode int

const (
	modeHost mode = iota
	modeJoin
	modeWatch
	modeResume
)

// oracleLoadTimeout bounds how long a host waits for the question bank
// before giving up on starting.
const oracleLoadTimeout = 30 * time.Second

// runPeer wires one peer process: store, oracle, transport, room, then the
// interactive command loop until interrupted.
func runPeer(ctx context.Context, cfg *Config, m mode, roomCode string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg.verbose)

	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	bank := loadBank(ctx, cfg, logger)

	room := match.NewRoom(match.Config{
		Transport: transport.NewWS(transport.WSConfig{
			Bind:       cfg.bind,
			GatewayURL: cfg.gatewayURL,
			Logger:     logger,
		}),
		Sessions: store,
		Oracle:   bank,
		Logger:   logger,
		SelfName: cfg.name,
	})

	rooms := match.NewRoomStore()
	defer func() {
		for _, r := range rooms.All() {
			r.Leave(context.Background())
		}
	}()

	switch m {
	case modeHost:
		waitCtx, cancel := context.WithTimeout(ctx, oracleLoadTimeout)
		err := bank.WaitUntilReady(waitCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("question bank not ready: %w", err)
		}
		code, err := room.CreateRoom(ctx, cfg.passcode)
		if err != nil {
			return err
		}
		rooms.Add(code, room)
		printInvite(cfg, logger, code)

	case modeJoin:
		if err := room.Join(ctx, roomCode, cfg.passcode); err != nil {
			return err
		}
		rooms.Add(roomCode, room)

	case modeWatch:
		if err := room.Watch(ctx, roomCode, cfg.passcode); err != nil {
			return err
		}
		rooms.Add(roomCode, room)

	case modeResume:
		ok, err := room.Resume(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no session to resume")
		}
		snap := room.Snapshot()
		rooms.Add(snap.RoomCode, room)
		logger.WithField("room", snap.RoomCode).Info("session resumed")
	}

	go commandLoop(ctx, room, logger)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func newLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

func newStore(ctx context.Context, cfg *Config, logger *logrus.Logger) (session.Store, func(), error) {
	if cfg.redisAddr == "" {
		logger.Debug("using in-memory session store")
		return session.NewMemoryStore(), func() {}, nil
	}
	rs, err := session.ConnectRedis(ctx, cfg.redisAddr, cfg.redisDB)
	if err != nil {
		return nil, nil, err
	}
	logger.WithField("addr", cfg.redisAddr).Info("using redis session store")
	return rs, func() { rs.Close() }, nil
}

// loadBank starts the question bank load in the background and returns the
// bank immediately; peers only need it ready when they host.
func loadBank(ctx context.Context, cfg *Config, logger *logrus.Logger) *oracle.Bank {
	bank := oracle.NewBank()
	go func() {
		if cfg.databaseURL != "" {
			repo, err := oracle.NewRepository(ctx, cfg.databaseURL)
			if err != nil {
				bank.Fail(err)
				return
			}
			defer repo.Close()
			questions, err := repo.Questions(ctx)
			if err != nil {
				bank.Fail(err)
				return
			}
			logger.WithField("count", len(questions)).Info("question bank loaded from postgres")
			bank.Load(questions)
			return
		}

		questions, err := oracle.LoadFile(cfg.questions)
		if err != nil {
			bank.Fail(err)
			return
		}
		logger.WithFields(logrus.Fields{"count": len(questions), "file": cfg.questions}).
			Info("question bank loaded")
		bank.Load(questions)
	}()
	return bank
}

func printInvite(cfg *Config, logger *logrus.Logger, code string) {
	url := invite.JoinURL(cfg.gatewayURL, code)
	fmt.Printf("room code: %s\njoin link: %s\n", code, url)

	if cfg.qrFile == "" {
		return
	}
	png, err := invite.QRPNG(url, 256)
	if err != nil {
		logger.WithError(err).Warn("render invite qr")
		return
	}
	if err := os.WriteFile(cfg.qrFile, png, 0o644); err != nil {
		logger.WithError(err).Warn("write invite qr")
		return
	}
	fmt.Printf("invite qr: %s\n", cfg.qrFile)
}

// commandLoop reads interactive commands from stdin until ctx ends.
func commandLoop(ctx context.Context, room *match.Room, logger *logrus.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		var err error
		switch fields[0] {
		case "start":
			err = room.StartMatch()
		case "guess":
			if len(fields) < 2 {
				fmt.Println("usage: guess <question-id>")
				continue
			}
			err = room.SubmitGuess(fields[1])
		case "forfeit":
			err = room.Forfeit()
		case "restart":
			err = room.Restart()
		case "state":
			printState(room.Snapshot())
		case "quit":
			room.Leave(context.Background())
			return
		default:
			fmt.Println("commands: start, guess <id>, forfeit, restart, state, quit")
			continue
		}
		if err != nil {
			logger.WithError(err).Warn("command rejected")
		}
	}
}

func printState(snap protocol.RoomSnapshot) {
	fmt.Printf("[%s] room %s round %d\n", snap.State, snap.RoomCode, snap.RoundNumber)
	for _, p := range snap.Players {
		status := "online"
		if !p.Connected {
			status = "offline"
		}
		fmt.Printf("  %-20s %5d pts (%s)\n", p.Name, p.Score, status)
	}
	if snap.CurrentRound != nil && !snap.CurrentRound.Resolved() {
		fmt.Printf("  time remaining: %ds hint level: %d\n",
			snap.CurrentRound.TimeRemaining, snap.CurrentRound.HintLevel)
	}
}
