// cmd/peerquiz/config.go
package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config carries every peer option; flags and PEERQUIZ_* environment
// variables populate it.
type Config struct {
	bind        string
	gatewayURL  string
	name        string
	passcode    string
	redisAddr   string
	redisDB     int
	databaseURL string
	questions   string
	qrFile      string
	verbose     bool
}

func (c *Config) validate() error {
	if c.gatewayURL == "" {
		return errors.New("--gateway-url must not be empty")
	}
	if c.bind == "" {
		return errors.New("--bind must not be empty")
	}
	if c.redisDB < 0 {
		return fmt.Errorf("invalid redis db: %d", c.redisDB)
	}
	return nil
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("PEERQUIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "peerquiz",
		Short:         "Peer-to-peer realtime quiz matches: host, join or spectate a room.",
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       releaseVersion,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return cfg.validate()
		},
	}

	fs := cmd.PersistentFlags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", ":43210", "address to listen on when hosting (env: PEERQUIZ_BIND)")
	fs.StringVarP(&cfg.gatewayURL, "gateway-url", "g", "ws://127.0.0.1:43210", "base URL peers dial to reach a host (env: PEERQUIZ_GATEWAY_URL)")
	fs.StringVarP(&cfg.name, "name", "n", "", "display name, random if empty (env: PEERQUIZ_NAME)")
	fs.StringVar(&cfg.passcode, "passcode", "", "room passcode (env: PEERQUIZ_PASSCODE)")
	fs.StringVar(&cfg.redisAddr, "redis", "", "redis address for session persistence, in-memory if empty (env: PEERQUIZ_REDIS)")
	fs.IntVar(&cfg.redisDB, "redis-db", 0, "redis database number (env: PEERQUIZ_REDIS_DB)")
	fs.StringVar(&cfg.databaseURL, "database-url", "", "postgres URL for the question bank (env: PEERQUIZ_DATABASE_URL)")
	fs.StringVar(&cfg.questions, "questions", "questions.json", "question bank file, used when no database is configured (env: PEERQUIZ_QUESTIONS)")
	fs.StringVar(&cfg.qrFile, "qr-file", "", "write the invite QR code PNG to this path when hosting (env: PEERQUIZ_QR_FILE)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: PEERQUIZ_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.AddCommand(
		&cobra.Command{
			Use:   "host",
			Short: "Create a room and host a match",
			Args:  cobra.ExactArgs(0),
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runPeer(cmd.Context(), cfg, modeHost, "")
			},
		},
		&cobra.Command{
			Use:   "join <room-code>",
			Short: "Join an existing room as a player",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runPeer(cmd.Context(), cfg, modeJoin, strings.ToUpper(args[0]))
			},
		},
		&cobra.Command{
			Use:   "watch <room-code>",
			Short: "Spectate an existing room",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runPeer(cmd.Context(), cfg, modeWatch, strings.ToUpper(args[0]))
			},
		},
		&cobra.Command{
			Use:   "resume",
			Short: "Resume the previous session after a restart",
			Args:  cobra.ExactArgs(0),
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runPeer(cmd.Context(), cfg, modeResume, "")
			},
		},
	)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("peerquiz v{{.Version}}\n")

	return cmd
}
