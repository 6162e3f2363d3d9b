package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/blogflow/internal/artifact"
)

// unsafeFileChars are replaced in exported file names.
var unsafeFileChars = strings.NewReplacer(
	"/", "_", `\`, "_", ":", "_", "*", "_", "?", "_", `"`, "_", "<", "_", ">", "_", "|", "_",
)

// exportMarkdown writes the draft to dir as <title>_<timestamp>.md and
// returns the file's path.
func exportMarkdown(dir string, d artifact.Draft, now time.Time) (string, error) {
	title := strings.TrimSpace(unsafeFileChars.Replace(d.Title))
	if title == "" {
		title = "draft"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.md", title, now.Format("20060102_150405")))
	if err := os.WriteFile(path, []byte(d.Body), 0644); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	return path, nil
}

func (c *cli) exportCommand() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "export <task-id>",
		Short: "Write a task's draft to a markdown file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if _, err := a.repo.GetTask(ctx, args[0]); err != nil {
				return err
			}
			art, found, err := a.repo.GetArtifact(ctx, args[0], artifact.KindDraft)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("task %s has no draft yet", args[0])
			}

			path, err := exportMarkdown(dir, art.(artifact.Draft), time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green("Exported"), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "directory to write the file to")
	return cmd
}

func (c *cli) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task with its artifacts and invocation history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.orch.DeleteTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", yellow("Deleted"), args[0])
			return nil
		},
	}
}
