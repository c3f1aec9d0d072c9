package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/t77yq/groupsummary/internal/config"
)

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	var (
		opts     config.LoadOptions
		taskName string
	)

	root := &cobra.Command{
		Use:   appName,
		Short: "Schedule daily WhatsApp group summaries",
		Long: "Keeps per-group summary settings and registers the matching job with the\n" +
			"host scheduler (Task Scheduler, cron or launchd). Scheduled jobs call back\n" +
			"with --task_name=<prefix>_<group_id>.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.FallbackDir = executableDir()
			cfg, err := config.Load(opts)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
		// Native jobs invoke the binary with only --task_name
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskName == "" {
				return cmd.Help()
			}
			return runTask(cmd, a, taskName)
		},
	}

	root.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "YAML config file (default ./config/config.yaml)")
	root.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "dotenv file (default .env)")
	root.Flags().StringVar(&taskName, "task_name", "", "run the scheduled task <prefix>_<group_id>")

	root.AddCommand(
		newScheduleCmd(a),
		newUnscheduleCmd(a),
		newScheduledCmd(a),
		newPreviewCmd(a),
		newTasksCmd(a),
		newGroupsCmd(a),
		newReconcileCmd(a),
		newHistoryCmd(a),
		newRunCmd(a),
		newServeCmd(a),
		newInfoCmd(a),
	)
	return root
}
