package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/aristath/blogflow/internal/events"
)

var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// printer writes run events as colored lines for --plain mode.
type printer struct {
	w       io.Writer
	verbose bool // also echo raw capability output
}

func (p printer) print(e events.Event) {
	switch e := e.(type) {
	case events.StageStartedEvent:
		label := e.Stage
		if e.Rewrite > 0 {
			label = fmt.Sprintf("%s #%d", label, e.Rewrite)
		}
		fmt.Fprintf(p.w, "%s %s\n", blue("▶"), bold(label))

	case events.StageOutputEvent:
		if p.verbose {
			fmt.Fprint(p.w, gray(e.Chunk))
		}

	case events.StageCompletedEvent:
		line := fmt.Sprintf("%s %s %s", green("✓"), e.Stage, gray(e.Duration.Round(time.Millisecond)))
		if e.Summary != "" {
			line += "  " + e.Summary
		}
		fmt.Fprintln(p.w, line)

	case events.StageFailedEvent:
		fmt.Fprintf(p.w, "%s %s: %s\n", red("✗"), e.Stage, e.Error)

	case events.WorkflowFinishedEvent:
		status := strings.ToUpper(e.Status)
		if e.Status == "published" {
			status = green(status)
		} else {
			status = red(status)
		}
		fmt.Fprintf(p.w, "\n%s %s\n", bold(status), e.Message)
		if e.Score > 0 || e.Rewrites > 0 {
			fmt.Fprintf(p.w, "  score %s, rewrites %d\n", yellow(e.Score), e.Rewrites)
		}
	}
}
