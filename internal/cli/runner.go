// Package cli implements the kitchenctl command surface over the daemon's
// HTTP API.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/prepline/kitchend/internal/api"
	"github.com/prepline/kitchend/internal/client"
)

const defaultBaseURL = "http://127.0.0.1:7420"

type Runner struct {
	client *client.Client
	out    io.Writer
	errOut io.Writer
}

func NewRunner(baseURL string, out, errOut io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Runner{
		client: client.New(baseURL),
		out:    out,
		errOut: errOut,
	}
}

func (r *Runner) Run(ctx context.Context, args []string) int {
	baseURL, venueID, rest, err := parseGlobalArgs(args)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if baseURL != "" {
		r.client = client.New(baseURL)
	}
	if len(rest) == 0 {
		r.printUsage()
		return 2
	}
	switch rest[0] {
	case "health":
		return r.runHealth(ctx)
	case "list":
		return r.runList(ctx, venueID, rest[1:])
	case "watch":
		return r.runWatch(ctx, venueID, rest[1:])
	case "start":
		return r.runStart(ctx, venueID, rest[1:])
	case "pause":
		return r.runSimpleAction(ctx, venueID, rest[1:], "pause", r.client.PauseTimer)
	case "resume":
		return r.runSimpleAction(ctx, venueID, rest[1:], "resume", r.client.ResumeTimer)
	case "dismiss":
		return r.runSimpleAction(ctx, venueID, rest[1:], "dismiss", r.client.DismissTimer)
	case "add-time":
		return r.runAddTime(ctx, venueID, rest[1:])
	case "snooze":
		return r.runSnooze(ctx, venueID, rest[1:])
	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown command: %s\n", rest[0])
		r.printUsage()
		return 2
	}
}

func parseGlobalArgs(args []string) (string, string, []string, error) {
	baseURL := ""
	venueID := os.Getenv("KITCHEND_VENUE")
	if venueID == "" {
		venueID = "default"
	}
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--addr":
			if i+1 >= len(args) {
				return "", "", nil, fmt.Errorf("--addr requires value")
			}
			baseURL = args[i+1]
			i++
		case "--venue":
			if i+1 >= len(args) {
				return "", "", nil, fmt.Errorf("--venue requires value")
			}
			venueID = args[i+1]
			i++
		default:
			rest = append(rest, args[i])
		}
	}
	return baseURL, venueID, rest, nil
}

func (r *Runner) runHealth(ctx context.Context) int {
	resp, err := r.client.Health(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintln(r.out, resp.Status)
	return 0
}

func (r *Runner) runList(ctx context.Context, venueID string, args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	env, err := r.client.ListTimers(ctx, venueID)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		return r.printJSON(env)
	}
	for _, t := range env.Timers {
		_, _ = fmt.Fprintf(r.out, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.TimerID, t.Label, t.Status, formatRemaining(t), t.Urgency, t.Station)
	}
	return 0
}

func (r *Runner) runWatch(ctx context.Context, venueID string, args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cursor := fs.String("cursor", "", "resume cursor")
	once := fs.Bool("once", false, "fetch one batch and exit")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	err := r.client.WatchLoop(ctx, venueID, client.WatchLoopOptions{
		Cursor: *cursor,
		Once:   *once,
	}, func(line api.FeedLine) error {
		payload, err := json.Marshal(line)
		if err != nil {
			return err
		}
		_, _ = r.out.Write(payload)
		_, _ = fmt.Fprintln(r.out)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return r.handleErr(err)
	}
	return 0
}

func (r *Runner) runStart(ctx context.Context, venueID string, args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	label := fs.String("label", "", "timer label (required)")
	duration := fs.Int64("duration", 0, "duration in seconds (countdown)")
	timerType := fs.String("type", "countdown", "countdown or count_up")
	alertType := fs.String("alert", "chime", "chime, bell, buzzer, or silent")
	critical := fs.Bool("critical", false, "escalate urgency")
	station := fs.String("station", "", "station label")
	notes := fs.String("notes", "", "notes")
	icon := fs.String("icon", "", "icon name")
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if strings.TrimSpace(*label) == "" {
		_, _ = fmt.Fprintln(r.errOut, "usage: kitchenctl start --label <label> [--duration <seconds>]")
		return 2
	}
	env, err := r.client.StartTimer(ctx, venueID, api.StartTimerRequest{
		Label:           *label,
		TimerType:       *timerType,
		DurationSeconds: *duration,
		AlertType:       *alertType,
		Critical:        *critical,
		Station:         *station,
		Notes:           *notes,
		Icon:            *icon,
	})
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		return r.printJSON(env)
	}
	_, _ = fmt.Fprintf(r.out, "started %s (%s)\n", env.Timer.Label, env.Timer.TimerID)
	return 0
}

func (r *Runner) runSimpleAction(ctx context.Context, venueID string, args []string, name string, call func(context.Context, string, string) error) int {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		_, _ = fmt.Fprintf(r.errOut, "usage: kitchenctl %s <timer-id>\n", name)
		return 2
	}
	if err := call(ctx, venueID, args[0]); err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintf(r.out, "%s %s\n", name, args[0])
	return 0
}

func (r *Runner) runAddTime(ctx context.Context, venueID string, args []string) int {
	if len(args) != 2 {
		_, _ = fmt.Fprintln(r.errOut, "usage: kitchenctl add-time <timer-id> <seconds>")
		return 2
	}
	seconds, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		_, _ = fmt.Fprintln(r.errOut, "usage: kitchenctl add-time <timer-id> <seconds>")
		return 2
	}
	if err := r.client.AddTime(ctx, venueID, args[0], seconds); err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintf(r.out, "add-time %s %+d\n", args[0], seconds)
	return 0
}

func (r *Runner) runSnooze(ctx context.Context, venueID string, args []string) int {
	fs := flag.NewFlagSet("snooze", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	interval := fs.Int64("interval", 0, "snooze interval in seconds (0 uses the daemon default)")
	rest := args
	id := ""
	if len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
		id = rest[0]
		rest = rest[1:]
	}
	if err := fs.Parse(rest); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if id == "" && fs.NArg() > 0 {
		id = fs.Arg(0)
	}
	if strings.TrimSpace(id) == "" {
		_, _ = fmt.Fprintln(r.errOut, "usage: kitchenctl snooze <timer-id> [--interval <seconds>]")
		return 2
	}
	if err := r.client.SnoozeTimer(ctx, venueID, id, *interval); err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintf(r.out, "snooze %s\n", id)
	return 0
}

func (r *Runner) printJSON(v any) int {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return r.handleErr(err)
	}
	_, _ = r.out.Write(payload)
	_, _ = fmt.Fprintln(r.out)
	return 0
}

func (r *Runner) handleErr(err error) int {
	_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
	return 1
}

func (r *Runner) printUsage() {
	_, _ = fmt.Fprintln(r.errOut, `usage: kitchenctl [--addr <url>] [--venue <id>] <command>

commands:
  health                          check the daemon
  list [--json]                   list the venue's timers
  watch [--cursor <c>] [--once]   stream change feed lines as ndjson
  start --label <label> [flags]   start a timer
  pause <timer-id>
  resume <timer-id>
  add-time <timer-id> <seconds>
  snooze <timer-id> [--interval <seconds>]
  dismiss <timer-id>`)
}

func formatRemaining(t api.TimerItem) string {
	if t.RemainingSeconds == nil {
		return "-"
	}
	remaining := *t.RemainingSeconds
	sign := ""
	if remaining < 0 {
		sign = "-"
		remaining = -remaining
	}
	return fmt.Sprintf("%s%d:%02d", sign, remaining/60, remaining%60)
}
