package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"enginehost/internal/ipc"
	"enginehost/internal/preflight"
)

// statusSnapshot is what `enginehost status` reports. Daemon is nil when
// the socket does not answer.
type statusSnapshot struct {
	Socket    string              `json:"socket"`
	Daemon    *ipc.StatusResponse `json:"daemon,omitempty"`
	DaemonErr string              `json:"daemon_error,omitempty"`
	Preflight []preflight.Result  `json:"preflight"`
}

func buildStatusSnapshot(ctx context.Context, cmdCtx *commandContext) statusSnapshot {
	snapshot := statusSnapshot{Socket: cmdCtx.socketPath()}
	if cfg := cmdCtx.configValue(); cfg != nil {
		snapshot.Preflight = preflight.RunAll(ctx, cfg)
	}
	client, err := cmdCtx.dialClient()
	if err != nil {
		snapshot.DaemonErr = err.Error()
		return snapshot
	}
	defer client.Close()
	status, err := client.Status()
	if err != nil {
		snapshot.DaemonErr = err.Error()
		return snapshot
	}
	snapshot.Daemon = status
	return snapshot
}

func renderStatus(out io.Writer, snapshot statusSnapshot, colorize bool) {
	d := snapshot.Daemon
	runID := ""
	if d != nil {
		runID = d.RunID
	}
	printLines(out, renderSectionHeader("Daemon", runID, colorize))
	fmt.Fprintln(out, daemonLine(d, snapshot.DaemonErr).render(colorize))
	fmt.Fprintln(out, statusLine{"Socket", healthNote, snapshot.Socket}.render(colorize))
	if d != nil {
		fmt.Fprintln(out, statusLine{"Journal", healthNote, d.JournalPath}.render(colorize))
		if d.APIAddress != "" {
			fmt.Fprintln(out, statusLine{"Metrics", healthNote, "http://" + d.APIAddress + "/metrics"}.render(colorize))
		}
	}
	fmt.Fprintln(out)

	if d != nil {
		subject := ""
		if d.Host.Worker != nil {
			subject = d.Host.Worker.Key.String()
		}
		printLines(out, renderSectionHeader("Worker", subject, colorize))
		fmt.Fprintln(out, bindingLine(d.Host).render(colorize))
		fmt.Fprintln(out, grantLine(d.Host).render(colorize))
		fmt.Fprint(out, renderTable([]string{"Field", "Value"}, workerRows(d), []columnAlignment{alignLeft, alignLeft}))
		fmt.Fprintln(out)
	}

	printLines(out, renderSectionHeader("Preflight", "", colorize))
	if len(snapshot.Preflight) == 0 {
		fmt.Fprintln(out, statusLine{"Checks", healthNote, "configuration unavailable"}.render(colorize))
	}
	for _, result := range snapshot.Preflight {
		fmt.Fprintln(out, preflightLine(result).render(colorize))
	}
}

func printLines(out io.Writer, lines []string) {
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
}

func workerRows(d *ipc.StatusResponse) [][]string {
	host := d.Host
	rows := [][]string{
		{"Started", yesNo(host.Started)},
		{"Start policy", stateLabel(host.Policy)},
		{"Restarts", strconv.Itoa(host.Restarts)},
	}
	if w := host.Worker; w != nil {
		rows = append(rows, []string{"Starts", strconv.Itoa(w.StartCount)})
	}
	if n := host.Descriptor; n != nil {
		rows = append(rows, []string{"Notification", fmt.Sprintf("%s: %s", n.Title, n.Body)})
	}
	channels := make([]string, 0, len(host.Channels))
	for _, ch := range host.Channels {
		channels = append(channels, ch.ID)
	}
	if len(channels) > 0 {
		rows = append(rows, []string{"Channels", strings.Join(channels, ", ")})
	}
	return rows
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
