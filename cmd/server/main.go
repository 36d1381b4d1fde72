package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/chatgate/internal/app"
	"github.com/vovakirdan/chatgate/internal/auth"
	"github.com/vovakirdan/chatgate/internal/config"
	"github.com/vovakirdan/chatgate/internal/log"
	"github.com/vovakirdan/chatgate/internal/store/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cliState is shared by all subcommands.
type cliState struct {
	configPath string
	overrides  config.Config
	cfg        config.Config
	logger     *zerolog.Logger
}

func newRootCmd() *cobra.Command {
	state := &cliState{}

	root := &cobra.Command{
		Use:           "chatgate",
		Short:         "Real-time chat gateway",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return state.load()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), state)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&state.configPath, "config", "", "path to config file (default ./config.yaml)")
	flags.StringVar(&state.overrides.Addr, "addr", "", "HTTP listen address")
	flags.DurationVar(&state.overrides.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	flags.DurationVar(&state.overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	flags.StringVar(&state.overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&state.overrides.DatabasePath, "db", "", "SQLite database path")
	flags.StringVar(&state.overrides.TokenHeader, "token-header", "", "handshake header carrying the bearer token")
	flags.BoolVar(&state.overrides.RequireChatMembership, "require-chat-membership", false, "only let chat members join chat rooms")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the gateway",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context(), state)
			},
		},
		newMigrateCmd(state),
		newUserCmd(state),
		newTokenCmd(state),
	)

	return root
}

func (s *cliState) load() error {
	bootstrap := log.New("info", "console")
	cfg, path, err := config.Load(bootstrap, s.configPath)
	if err != nil {
		return err
	}
	cfg.UpdateFrom(s.overrides)
	s.cfg = cfg
	s.logger = log.New(cfg.LogLevel, cfg.LogFormat)
	s.logger.Debug().Str("config", path).Msg("configuration loaded")
	return nil
}

func runServe(parent context.Context, state *cliState) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(&state.cfg, state.logger)
	if err != nil {
		state.logger.Error().Err(err).Msg("failed to initialize application")
		return err
	}

	state.logger.Info().Str("addr", state.cfg.Addr).Msg("starting chatgate server")
	if err := application.Run(ctx); err != nil {
		state.logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	state.logger.Info().Msg("server stopped")
	return nil
}

func newMigrateCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Opening the store applies the schema.
			st, err := sqlite.New(state.cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer st.Close()
			state.logger.Info().Str("db_path", state.cfg.DatabasePath).Msg("schema applied")
			return nil
		},
	}
}

func newUserCmd(state *cliState) *cobra.Command {
	var name, email, password, avatar string

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := sqlite.New(state.cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer st.Close()

			svc := auth.NewService(st, app.JWTConfig(&state.cfg))
			if state.cfg.JWTSecret == "" {
				// No secret means no token; just store the account.
				user, err := svc.CreateAccount(cmd.Context(), name, email, password, avatar)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "id: %s\n", user.ID)
				return nil
			}

			user, token, err := svc.Register(cmd.Context(), name, email, password, avatar)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "id: %s\ntoken: %s\n", user.ID, token)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&email, "email", "", "email address")
	create.Flags().StringVar(&password, "password", "", "password")
	create.Flags().StringVar(&avatar, "avatar", "", "avatar URL")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("password")

	user := &cobra.Command{Use: "user", Short: "Manage users"}
	user.AddCommand(create)
	return user
}

func newTokenCmd(state *cliState) *cobra.Command {
	var userID, email, password string

	issue := &cobra.Command{
		Use:   "issue",
		Short: "Mint a bearer token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if state.cfg.JWTSecret == "" {
				return errors.New("jwt_secret is not configured")
			}

			st, err := sqlite.New(state.cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer st.Close()

			svc := auth.NewService(st, app.JWTConfig(&state.cfg))
			var token string
			switch {
			case userID != "":
				token, err = svc.IssueToken(cmd.Context(), userID)
			case email != "":
				_, token, err = svc.Login(cmd.Context(), email, password)
			default:
				return errors.New("either --user-id or --email is required")
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issue.Flags().StringVar(&userID, "user-id", "", "user to mint a token for")
	issue.Flags().StringVar(&email, "email", "", "log in with email instead of user id")
	issue.Flags().StringVar(&password, "password", "", "password for --email")

	token := &cobra.Command{Use: "token", Short: "Manage bearer tokens"}
	token.AddCommand(issue)
	return token
}
