package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aristath/blogflow/internal/artifact"
	"github.com/aristath/blogflow/internal/config"
	"github.com/aristath/blogflow/internal/pipeline"
	"github.com/aristath/blogflow/internal/server"
	"github.com/aristath/blogflow/internal/tui"
)

// shutdownTimeout bounds how long runs get to record their final state.
const shutdownTimeout = 10 * time.Second

// cli carries the root flags and the wiring options into subcommands.
type cli struct {
	opts       appOptions
	configPath string
}

// newRootCommand builds the command tree.
func newRootCommand(opts appOptions) *cobra.Command {
	c := &cli{opts: opts}

	root := &cobra.Command{
		Use:           "blogflow",
		Short:         "Research, draft and review technical blog posts with AI agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "project config file (default .blogflow/config.json)")

	root.AddCommand(
		c.runCommand(),
		c.serveCommand(),
		c.statusCommand(),
		c.showCommand(),
		c.exportCommand(),
		c.deleteCommand(),
		c.tasksCommand(),
	)
	return root
}

func (c *cli) loadConfig() (*config.Config, error) {
	if c.configPath == "" {
		return config.LoadDefault()
	}
	global, err := config.GlobalPath()
	if err != nil {
		return nil, err
	}
	return config.Load(global, c.configPath)
}

// open loads the config and wires the app.
func (c *cli) open(ctx context.Context) (*app, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, c.opts)
}

func (c *cli) runCommand() *cobra.Command {
	var (
		spec    pipeline.TaskSpec
		plain   bool
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "run <topic>",
		Short: "Create a task and run it through the pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec.Topic = strings.Join(args, " ")
			if err := spec.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			id, err := a.repo.CreateTask(ctx, spec)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Task %s: %s\n", bold(id), spec.Topic)

			if plain {
				return runPlain(ctx, a, id, printer{w: out, verbose: verbose})
			}
			return runDashboard(ctx, a, id, spec.Topic)
		},
	}

	f := cmd.Flags()
	f.StringVar(&spec.ReferenceContent, "content", "", "reference text handed to the researcher")
	f.StringSliceVarP(&spec.ReferenceURLs, "ref", "r", nil, "reference URL or local file (repeatable)")
	f.IntVarP(&spec.TargetWordCount, "words", "w", pipeline.DefaultTargetWordCount, "target word count")
	f.StringVar(&spec.Style, "style", pipeline.DefaultStyle, "writing style")
	f.StringVar(&spec.TargetAudience, "audience", pipeline.DefaultAudience, "target audience")
	f.BoolVar(&plain, "plain", false, "print events instead of starting the dashboard")
	f.BoolVarP(&verbose, "verbose", "v", false, "with --plain, also print raw agent output")
	return cmd
}

// runPlain streams the run's events to p and reports a failed run as an error.
func runPlain(ctx context.Context, a *app, id string, p printer) error {
	ch, err := a.orch.StartWorkflow(ctx, id)
	if err != nil {
		return err
	}
	for e := range ch {
		p.print(e)
	}

	state, err := a.orch.GetWorkflowState(context.Background(), id)
	if err != nil {
		return err
	}
	if !state.IsPublished {
		return fmt.Errorf("task %s finished as %s", id, state.StatusName)
	}
	return nil
}

// runDashboard runs the task under the TUI. Logs go to a file so they do not
// tear the alternate screen. The dashboard stays up after the run finishes
// until the user quits; quitting early cancels the run.
func runDashboard(ctx context.Context, a *app, id, label string) error {
	logPath := filepath.Join(config.DirName, "blogflow.log")
	if err := os.MkdirAll(config.DirName, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", config.DirName, err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()
	log.SetOutput(logFile)
	defer log.SetOutput(os.Stderr)

	model := tui.New(a.bus, a.cfg, map[string]string{id: label})
	p := tea.NewProgram(model, tea.WithAltScreen())

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	type outcome struct {
		res pipeline.Result
		err error
	}
	runDone := make(chan outcome, 1)
	go func() {
		res, err := a.orch.Run(runCtx, id)
		runDone <- outcome{res, err}
	}()

	errChan := make(chan error, 1)
	go func() {
		_, err := p.Run()
		errChan <- err
	}()

	var tuiErr error
	select {
	case tuiErr = <-errChan:
		// User quit
	case <-ctx.Done():
		log.Println("Shutdown signal received, cleaning up...")
		p.Quit()
		select {
		case tuiErr = <-errChan:
		case <-time.After(shutdownTimeout):
			log.Println("Shutdown timeout exceeded, forcing exit")
		}
	}

	cancelRun()
	var out outcome
	select {
	case out = <-runDone:
	case <-time.After(shutdownTimeout):
		return errors.New("run did not stop within the shutdown timeout")
	}
	if tuiErr != nil {
		return fmt.Errorf("dashboard: %w", tuiErr)
	}

	fmt.Printf("%s %s\n", bold(strings.ToUpper(out.res.Status.String())), out.res.Message)
	if out.err != nil {
		return out.err
	}
	if out.res.Status != pipeline.StatusPublished {
		return fmt.Errorf("task %s finished as %s", id, out.res.Status)
	}
	return nil
}

func (c *cli) serveCommand() *cobra.Command {
	var (
		addr  string
		debug bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv, err := server.New(server.Config{
				Addr:           addr,
				AllowedOrigins: a.cfg.Server.AllowedOrigins,
				Debug:          debug,
			}, server.Deps{
				Orchestrator: a.orch,
				Repo:         a.repo,
				Bus:          a.bus,
				Gatherer:     a.gatherer,
			})
			if err != nil {
				return err
			}

			errChan := make(chan error, 1)
			go func() { errChan <- srv.Start() }()

			select {
			case err := <-errChan:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			log.Println("Shutdown complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&debug, "debug", false, "gin debug mode")
	return cmd
}

func (c *cli) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show a task's persisted state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			id := args[0]
			task, err := a.repo.GetTask(ctx, id)
			if err != nil {
				return err
			}
			state, err := a.orch.GetWorkflowState(ctx, id)
			if err != nil {
				return err
			}
			invocations, err := a.repo.ListInvocations(ctx, id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", bold("Task"), task.ID)
			fmt.Fprintf(out, "  topic:       %s\n", task.Topic)
			fmt.Fprintf(out, "  status:      %s\n", statusColor(state.Status))
			fmt.Fprintf(out, "  stage:       %s\n", state.Stage)
			fmt.Fprintf(out, "  rewrites:    %d\n", state.RewriteCount)
			fmt.Fprintf(out, "  artifacts:   research=%t draft=%t review=%t\n", state.HasResearch, state.HasDraft, state.HasReview)
			fmt.Fprintf(out, "  invocations: %d\n", len(invocations))

			if art, found, err := a.repo.GetArtifact(ctx, id, artifact.KindReview); err == nil && found {
				r := art.(artifact.Review)
				fmt.Fprintf(out, "  score:       %s (%s)\n", yellow(r.OverallScore), r.Recommendation)
			}
			if snap, ok := a.orch.GetProgress(id); ok {
				fmt.Fprintf(out, "  progress:    %s\n", snap.Message)
			}
			return nil
		},
	}
}

func statusColor(s pipeline.Status) string {
	switch s {
	case pipeline.StatusPublished:
		return green(s.String())
	case pipeline.StatusFailed:
		return red(s.String())
	default:
		return yellow(s.String())
	}
}

func (c *cli) showCommand() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Render a task's current draft",
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
			draft := art.(artifact.Draft)

			out := cmd.OutOrStdout()
			if raw {
				fmt.Fprintln(out, draft.Body)
				return nil
			}
			rendered, err := renderMarkdown(draft.Body)
			if err != nil {
				return err
			}
			fmt.Fprint(out, rendered)
			fmt.Fprintln(out, gray(fmt.Sprintf("%d words", draft.WordCount)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the markdown source")
	return cmd
}

// renderMarkdown styles body for the terminal. Without a color terminal it
// uses glamour's plain style.
func renderMarkdown(body string) (string, error) {
	style := glamour.WithStandardStyle("dark")
	if color.NoColor {
		style = glamour.WithStandardStyle("notty")
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(100))
	if err != nil {
		return "", fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return r.Render(body)
}

func (c *cli) tasksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			tasks, err := a.repo.ListTasks(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No tasks.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tREWRITES\tCREATED\tTOPIC")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					t.ID, t.Status, t.RewriteCount, t.CreatedAt.Format(time.DateTime), t.Topic)
			}
			return w.Flush()
		},
	}
}
