package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/meridianworks/meridian/backend/internal/client"
	"github.com/meridianworks/meridian/backend/internal/config"
	"github.com/meridianworks/meridian/backend/internal/database"
	"github.com/meridianworks/meridian/backend/internal/logging"
	"github.com/meridianworks/meridian/backend/internal/model"
	"github.com/meridianworks/meridian/backend/internal/queue"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "meridian-agent",
		Short: "Meridian device sync agent",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("server-url", "", "Base URL of the sync backend")
	cmd.PersistentFlags().String("access-token", "", "Bearer token issued for this device")
	cmd.PersistentFlags().String("workspace-id", "", "Workspace to sync")
	cmd.PersistentFlags().String("device-id", "", "Stable device identifier")
	cmd.PersistentFlags().String("queue-path", defaults.GetString("agent.queue_path"), "SQLite path for the local queue and cursors")
	cmd.PersistentFlags().Duration("drain-interval", defaults.GetDuration("agent.drain_interval"), "Idle wait between sync cycles")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "agent.server_url", "server-url")
	bindFlag(cmd, "agent.access_token", "access-token")
	bindFlag(cmd, "agent.workspace_id", "workspace-id")
	bindFlag(cmd, "agent.device_id", "device-id")
	bindFlag(cmd, "agent.queue_path", "queue-path")
	bindFlag(cmd, "agent.drain_interval", "drain-interval")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runAgent(ctx context.Context) error {
	agentConfig, err := config.LoadAgent(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(agentConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	workspaceID, err := model.NewWorkspaceID(agentConfig.WorkspaceID)
	if err != nil {
		return err
	}

	db, err := database.OpenAgentSQLite(agentConfig.QueuePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	mutationQueue, err := queue.New(queue.Config{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	sender, err := client.NewSender(client.SenderConfig{
		Queue:       mutationQueue,
		BaseURL:     agentConfig.ServerURL,
		AccessToken: agentConfig.AccessToken,
		WorkspaceID: workspaceID,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	cursors, err := client.NewCursorStore(db)
	if err != nil {
		return err
	}

	puller, err := client.NewPuller(client.PullerConfig{
		BaseURL:     agentConfig.ServerURL,
		AccessToken: agentConfig.AccessToken,
		WorkspaceID: workspaceID,
		Cursors:     cursors,
		Applier: client.ItemApplierFunc(func(ctx context.Context, kind model.EntityKind, data json.RawMessage) error {
			// The agent is headless: pulled records are logged rather than
			// projected into an application store.
			logger.Debug("pulled record",
				zap.String("entity_kind", string(kind)),
				zap.Int("bytes", len(data)))
			return nil
		}),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("agent starting",
		zap.String("server_url", agentConfig.ServerURL),
		zap.String("workspace_id", workspaceID.String()))

	go puller.Run(signalCtx, agentConfig.DrainInterval)
	sender.Run(signalCtx)
	return nil
}
