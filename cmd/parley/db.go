package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parley-io/parley/internal/config"
	"github.com/parley-io/parley/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBResetCmd())
	return cmd
}

func dbParams(cfg *config.Config) db.Params {
	return db.Params{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Name,
		Charset:  cfg.Database.Charset,
	}
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the Parley database",
		Long:  "Creates the MySQL database and migrates all session tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml", "path to Parley config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	params := dbParams(cfg)

	adminDB, err := db.ConnectAdmin(params)
	if err != nil {
		return fmt.Errorf("connect to MySQL at %s:%d: %w", params.Host, params.Port, err)
	}
	if err := db.CreateDatabase(adminDB, params.Database); err != nil {
		return err
	}
	fmt.Fprintf(out, "Database %s ready\n", params.Database)

	gormDB, err := db.Connect(params)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", params.Database, err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	return nil
}

func newDBResetCmd() *cobra.Command {
	var configPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and recreate the Parley database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBReset(cmd, configPath, force)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml", "path to Parley config file")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip the confirmation prompt")
	return cmd
}

func runDBReset(cmd *cobra.Command, configPath string, force bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	params := dbParams(cfg)

	if !force {
		fmt.Fprintf(out, "This drops database %q and all session history. Type yes to continue: ", params.Database)
		reader := bufio.NewReader(cmd.InOrStdin())
		line, _ := reader.ReadString('\n')
		if strings.TrimSpace(line) != "yes" {
			fmt.Fprintln(out, "Aborted")
			return nil
		}
	}

	adminDB, err := db.ConnectAdmin(params)
	if err != nil {
		return fmt.Errorf("connect to MySQL at %s:%d: %w", params.Host, params.Port, err)
	}
	if err := db.DropDatabase(adminDB, params.Database); err != nil {
		return err
	}
	fmt.Fprintf(out, "Dropped %s\n", params.Database)

	return runDBInit(cmd, configPath)
}
