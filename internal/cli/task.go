package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewTaskCmd 创建 task 命令组
func NewTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect export tasks",
	}

	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskShowCmd())

	return cmd
}

func newTaskListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list <session-id>",
		Short: "List export tasks of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := GetCLIContext(cmd).GetStorage()
			if err != nil {
				return err
			}

			tasks, err := db.ListTasks(args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				data, err := json.MarshalIndent(tasks, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			if len(tasks) == 0 {
				fmt.Println("No export tasks for this session.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tFORMATS\tMESSAGES\tMEDIA\tCREATED")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d/%d\t%s\n",
					t.ID, t.Status, strings.Join(t.Formats, ","),
					t.Messages, t.ResourcesOK, t.ResourcesTotal,
					t.CreatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func newTaskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show export task details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := GetCLIContext(cmd).GetStorage()
			if err != nil {
				return err
			}

			task, err := db.GetTask(args[0])
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(task, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}
