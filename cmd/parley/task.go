package main

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/parley-io/parley/internal/config"
	"github.com/parley-io/parley/internal/db"
	"github.com/parley-io/parley/internal/models"
	"github.com/parley-io/parley/internal/queue"
	"github.com/parley-io/parley/internal/session"
	"github.com/parley-io/parley/internal/task"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Task queue commands",
	}

	cmd.AddCommand(newTaskEnqueueCmd())
	cmd.AddCommand(newTaskNextCmd())
	cmd.AddCommand(newTaskCompleteCmd())
	cmd.AddCommand(newTaskPendingCmd())
	cmd.AddCommand(newTaskDepthsCmd())
	return cmd
}

func buildDispatcher(cfg *config.Config) (*task.Dispatcher, error) {
	gormDB, err := db.Connect(dbParams(cfg))
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	sessions := session.NewManager(gormDB, session.Options{})
	return task.NewDispatcher(gormDB, queue.NewRedis(rdb), sessions, task.Options{
		MaxInactive: time.Duration(cfg.Session.MaxInactiveMinutes) * time.Minute,
	}), nil
}

func newTaskEnqueueCmd() *cobra.Command {
	var configPath string
	var req struct {
		accountID   string
		shopName    string
		taskType    string
		externalID  string
		sendContent string
		level       string
	}

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Create and enqueue a send task",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			d, err := buildDispatcher(cfg)
			if err != nil {
				return err
			}
			taskType, err := models.ParseTaskType(req.taskType)
			if err != nil {
				return err
			}

			res, err := d.CreateSessionTask(cmd.Context(), task.CreateRequest{
				AccountID:        req.accountID,
				ShopName:         req.shopName,
				TaskType:         taskType,
				ExternalTaskType: string(taskType),
				ExternalTaskID:   req.externalID,
				SendContent:      req.sendContent,
				Level:            req.level,
			})
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("task rejected: %s (%s)", res.ErrorMessage, res.ErrorCode)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %d queued at %s (session %s)\n", res.TaskID, res.Level, res.SessionID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml", "path to Parley config file")
	cmd.Flags().StringVar(&req.accountID, "account", "", "seller account id")
	cmd.Flags().StringVar(&req.shopName, "shop", "", "shop name")
	cmd.Flags().StringVar(&req.taskType, "type", string(models.TaskAutoBargain), "task type")
	cmd.Flags().StringVar(&req.externalID, "external-id", "", "upstream task id")
	cmd.Flags().StringVar(&req.sendContent, "content", "", "content to send")
	cmd.Flags().StringVar(&req.level, "level", "", "queue level override (level1..level5)")
	cmd.MarkFlagRequired("account")
	cmd.MarkFlagRequired("external-id")
	return cmd
}

func newTaskNextCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "next",
		Short: "Pop the next task from the level queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			d, err := buildDispatcher(cfg)
			if err != nil {
				return err
			}
			row, err := d.DequeueNext(cmd.Context())
			if err != nil {
				return err
			}
			if row == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending tasks")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %d (%s %s) session %s\n",
				row.ID, row.ExternalTaskType, row.ExternalTaskID, row.SessionID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml", "path to Parley config file")
	return cmd
}

func newTaskCompleteCmd() *cobra.Command {
	var configPath string
	var sessionID string
	var skipped bool
	var errMessage string

	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Mark a session's task delivered or skipped",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			d, err := buildDispatcher(cfg)
			if err != nil {
				return err
			}
			found, err := d.CompleteSessionTask(sessionID, !skipped, errMessage)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no task for session %s", sessionID)
			}
			if skipped {
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s task skipped\n", sessionID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s task done\n", sessionID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml", "path to Parley config file")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id the task belongs to")
	cmd.Flags().BoolVar(&skipped, "skipped", false, "mark the task skipped instead of delivered")
	cmd.Flags().StringVar(&errMessage, "error", "", "skip reason recorded on the session")
	cmd.MarkFlagRequired("session")
	return cmd
}

func newTaskPendingCmd() *cobra.Command {
	var configPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List unstarted tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			d, err := buildDispatcher(cfg)
			if err != nil {
				return err
			}
			rows, err := d.PendingTasks(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No pending tasks")
				return nil
			}
			for _, row := range rows {
				fmt.Fprintf(out, "%d\t%s\t%s\t%s\t%s\n",
					row.ID, row.ExternalTaskType, row.ExternalTaskID,
					row.SessionID, row.TaskCreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml", "path to Parley config file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum tasks to list")
	return cmd
}

func newTaskDepthsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "depths",
		Short: "Show queued task counts per level",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			d, err := buildDispatcher(cfg)
			if err != nil {
				return err
			}
			depths, err := d.QueueDepths(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, level := range queue.Levels {
				fmt.Fprintf(out, "%s\t%d\n", level, depths[level])
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml", "path to Parley config file")
	return cmd
}
