package cli

import (
	"github.com/spf13/cobra"

	"rccrawler/internal/tasks"
)

func newTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks [name] [args...]",
		Short: "run a development task; without a name the tasks are listed",
		// args after the task name belong to the task, e.g. git commit flags
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "get_tasks"
			if len(args) > 0 {
				name, args = args[0], args[1:]
			}
			if name == "-h" || name == "--help" {
				return cmd.Help()
			}
			reg := tasks.Default(tasks.WithOutput(cmd.OutOrStdout(), cmd.ErrOrStderr()))
			return reg.Run(cmd.Context(), name, args)
		},
	}
}
