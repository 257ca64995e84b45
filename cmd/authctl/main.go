package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"auth-service/internal/app"
	"auth-service/internal/auth"
	"auth-service/internal/config"
	"auth-service/internal/db"
	"auth-service/internal/maintenance"
	"auth-service/internal/observability"
)

var (
	configPath string
	cfg        *config.Config
	database   *sql.DB
	dialect    db.Dialect
)

var rootCmd = &cobra.Command{
	Use:           "authctl",
	Short:         "Auth service administration tool",
	Long:          "Administrative tool for the auth service database: migrations, accounts and lockouts",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runMigrate,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Clear failure counters of accounts whose lock window has ended",
	RunE:  runCleanup,
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new user",
	RunE:  createUser,
}

var userUnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Reset the failed login counter of a user",
	RunE:  unlockUser,
}

var userStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the lockout state of a user",
	RunE:  userStatus,
}

var (
	username string
	password string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (defaults to AUTH_CONFIG_FILE)")

	userCreateCmd.Flags().StringVarP(&username, "username", "u", "", "Username (required)")
	userCreateCmd.Flags().StringVarP(&password, "password", "p", "", "Password (required)")
	_ = userCreateCmd.MarkFlagRequired("username")
	_ = userCreateCmd.MarkFlagRequired("password")

	for _, cmd := range []*cobra.Command{userUnlockCmd, userStatusCmd} {
		cmd.Flags().StringVarP(&username, "username", "u", "", "Username (required)")
		_ = cmd.MarkFlagRequired("username")
	}

	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userUnlockCmd)
	userCmd.AddCommand(userStatusCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(userCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initDB(ctx context.Context) error {
	var err error
	cfg, err = config.Load(config.LoadOptions{LoadDotEnv: true, File: configPath})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, dialect, err = app.OpenDatabase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := initDB(ctx); err != nil {
		return err
	}
	defer database.Close()

	applied, err := db.RunMigrations(ctx, database, dialect)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if len(applied) == 0 {
		fmt.Println("Schema is up to date")
		return nil
	}
	for _, version := range applied {
		fmt.Printf("Applied %s\n", version)
	}
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := initDB(ctx); err != nil {
		return err
	}
	defer database.Close()

	cleanup := maintenance.NewCleanupHandler(
		auth.NewRepository(database, dialect),
		observability.NewLogger(),
		cfg.Maintenance.CronSecret,
		cfg.Auth.LoginMaxAttempts,
		cfg.Auth.LoginLockWindow,
		cfg.Maintenance.BatchSize,
	)

	result, err := cleanup.Run(ctx)
	if err != nil {
		return fmt.Errorf("failed to clean up lockouts: %w", err)
	}

	fmt.Printf("Cleared %d expired lockouts\n", result.ClearedLockouts)
	return nil
}

func createUser(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := initDB(ctx); err != nil {
		return err
	}
	defer database.Close()

	service, err := app.NewAuthService(cfg, auth.NewRepository(database, dialect))
	if err != nil {
		return err
	}

	user, err := service.Register(ctx, username, password)
	if err != nil {
		var weak auth.WeakPasswordError
		if errors.As(err, &weak) {
			for _, rule := range weak.Violations {
				fmt.Fprintf(os.Stderr, "  password needs %s\n", rule)
			}
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("Created user %s (id %d)\n", user.Username, user.ID)
	return nil
}

func unlockUser(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := initDB(ctx); err != nil {
		return err
	}
	defer database.Close()

	service, err := app.NewAuthService(cfg, auth.NewRepository(database, dialect))
	if err != nil {
		return err
	}

	if err := service.UnlockUser(ctx, username); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return fmt.Errorf("user %q not found", username)
		}
		return fmt.Errorf("failed to unlock user: %w", err)
	}

	fmt.Printf("Unlocked user %s\n", username)
	return nil
}

func userStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := initDB(ctx); err != nil {
		return err
	}
	defer database.Close()

	repo := auth.NewRepository(database, dialect)
	service, err := app.NewAuthService(cfg, repo)
	if err != nil {
		return err
	}

	user, err := repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return fmt.Errorf("user %q not found", username)
		}
		return err
	}

	policy := service.Lockout()
	now := time.Now().UTC()
	state := policy.State(user, now)

	fmt.Printf("User:            %s (id %d)\n", user.Username, user.ID)
	fmt.Printf("Failed attempts: %d\n", user.FailedAttempts)
	fmt.Printf("Lock state:      %s\n", state)
	if state == auth.LockLocked {
		fmt.Printf("Locked until:    %s\n", policy.LockedUntil(user).Format(time.RFC3339))
	}
	return nil
}
