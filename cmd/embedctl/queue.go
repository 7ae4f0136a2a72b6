package main

import (
	"fmt"

	"resumecast-search/internal/bootstrap"
	"resumecast-search/pkg/tasks"

	"github.com/spf13/cobra"
)

var (
	enqueueType      string
	enqueueRequester string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <resumeId>",
	Short: "Enqueue an embedding job for one résumé",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnqueue,
}

var statusCmd = &cobra.Command{
	Use:   "status <jobId>",
	Short: "Show the state of one job",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts per state",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var purgeFailedCmd = &cobra.Command{
	Use:   "purge-failed",
	Short: "Delete every failed job",
	Args:  cobra.NoArgs,
	RunE:  runPurgeFailed,
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueType, "type", string(tasks.JobTypeManual), "Job type: create, update or manual")
	enqueueCmd.Flags().StringVar(&enqueueRequester, "requester", "", "User id recorded as the requester")

	rootCmd.AddCommand(enqueueCmd, statusCmd, statsCmd, purgeFailedCmd)
}

// withQueue 只连接 Redis 与 Kafka，运维命令不需要数据库。
func withQueue(cmd *cobra.Command, fn func(app *bootstrap.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := bootstrap.NewQueueClient(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	jobType, err := tasks.ParseJobType(enqueueType)
	if err != nil {
		return err
	}
	return withQueue(cmd, func(app *bootstrap.App) error {
		jobID, err := app.QueueService.Enqueue(cmd.Context(), args[0], jobType, enqueueRequester)
		if err != nil {
			return err
		}
		return printJSON(map[string]string{"jobId": jobID, "resumeId": args[0], "type": string(jobType)})
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withQueue(cmd, func(app *bootstrap.App) error {
		job, err := app.QueueService.GetStatus(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("job %s: %w", args[0], err)
		}
		return printJSON(job)
	})
}

func runStats(cmd *cobra.Command, _ []string) error {
	return withQueue(cmd, func(app *bootstrap.App) error {
		stats, err := app.QueueService.GetStats(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(stats)
	})
}

func runPurgeFailed(cmd *cobra.Command, _ []string) error {
	return withQueue(cmd, func(app *bootstrap.App) error {
		n, err := app.QueueService.PurgeFailed(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(map[string]int{"cleared": n})
	})
}
