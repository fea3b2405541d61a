package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-api/api"
	"library-api/config"
	"library-api/library"
)

type app struct {
	configPath string
	cfg        *config.Config
	logger     *logrus.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "library-api",
		Short:         "Library management REST backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = cfg.NewLogger()
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(a.serveCmd(), a.migrateCmd(), a.createSuperuserCmd())
	return root
}

func (a *app) open(ctx context.Context) (*library.LibraryManager, error) {
	manager, err := library.NewLibraryManager(ctx, a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return manager, nil
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			manager, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer manager.Close()

			if admin := a.cfg.Admin; admin.Username != "" {
				if _, err := manager.CreateSuperuser(ctx, admin.Username, admin.Password); err != nil {
					return fmt.Errorf("bootstrap admin: %w", err)
				}
				a.logger.WithField("username", admin.Username).Info("admin user ready")
			}

			var opts []api.Option
			if a.cfg.Metrics.Enabled {
				opts = append(opts, api.WithMetrics(api.NewMetrics()))
			}
			srv := &http.Server{
				Addr:              a.cfg.Addr,
				Handler:           api.NewServer(manager, a.logger, opts...),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.WithFields(logrus.Fields{
					"addr":   a.cfg.Addr,
					"driver": a.cfg.Database.Driver,
				}).Info("listening")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer manager.Close()
			a.logger.WithField("driver", a.cfg.Database.Driver).Info("schema up to date")
			return nil
		},
	}
}

func (a *app) createSuperuserCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "createsuperuser",
		Short: "Create an administrator or reset its password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				pw, err := readPassword(fmt.Sprintf("Password for %s: ", username))
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = pw
			}

			manager, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer manager.Close()

			user, err := manager.CreateSuperuser(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			a.logger.WithFields(logrus.Fields{"id": user.ID, "username": user.Username}).Info("superuser saved")
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "login name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

// readPassword securely reads a password with masking
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(os.Stderr)
	return strings.TrimSpace(string(bytePassword)), nil
}
