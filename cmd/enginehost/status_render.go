package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"enginehost/internal/ipc"
	"enginehost/internal/platform"
	"enginehost/internal/preflight"
)

// health grades one line of `enginehost status`.
type health int

const (
	healthNote health = iota
	healthUp
	healthDegraded
	healthDown
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const statusLabelWidth = 18

var titleCaser = cases.Title(language.English)

type statusLine struct {
	label  string
	health health
	detail string
}

func (l statusLine) render(colorize bool) string {
	text := fmt.Sprintf("  %-*s [%s]", statusLabelWidth, l.label+":", healthLabel(l.health))
	if l.detail != "" {
		text += " " + l.detail
	}
	if colorize {
		return healthColor(l.health) + text + ansiReset
	}
	return text
}

func healthLabel(h health) string {
	switch h {
	case healthUp:
		return "UP"
	case healthDegraded:
		return "DEGRADED"
	case healthDown:
		return "DOWN"
	default:
		return "--"
	}
}

func healthColor(h health) string {
	switch h {
	case healthUp:
		return ansiGreen
	case healthDegraded:
		return ansiYellow
	case healthDown:
		return ansiRed
	default:
		return ansiBlue
	}
}

// daemonLine grades the daemon from its status reply. reason is the dial or
// RPC error when d is nil.
func daemonLine(d *ipc.StatusResponse, reason string) statusLine {
	switch {
	case d == nil:
		detail := "not running"
		if reason != "" {
			detail += ": " + reason
		}
		return statusLine{"Daemon", healthDown, detail}
	case !d.Running:
		return statusLine{"Daemon", healthDegraded, fmt.Sprintf("shutting down (pid %d)", d.PID)}
	default:
		return statusLine{"Daemon", healthUp, fmt.Sprintf("pid %d", d.PID)}
	}
}

// bindingLine grades controller connections. Pending binds with nothing bound
// mean the worker has not yet delivered.
func bindingLine(host platform.Status) statusLine {
	switch {
	case !host.Started && host.Bound == 0 && host.Pending == 0:
		return statusLine{"Bindings", healthNote, "worker not started"}
	case host.Bound > 0:
		detail := fmt.Sprintf("%d bound", host.Bound)
		if host.Pending > 0 {
			detail += fmt.Sprintf(", %d pending", host.Pending)
		}
		return statusLine{"Bindings", healthUp, detail}
	case host.Pending > 0:
		return statusLine{"Bindings", healthDegraded, fmt.Sprintf("%d pending, none delivered", host.Pending)}
	default:
		return statusLine{"Bindings", healthNote, "no controllers"}
	}
}

// grantLine grades the execution grant. A foreground request without an
// active grant is a denial or a promotion still in flight.
func grantLine(host platform.Status) statusLine {
	active := host.Worker != nil && host.Worker.GrantActive
	switch {
	case host.Worker == nil:
		return statusLine{"Grant", healthNote, "no worker"}
	case active && host.Descriptor != nil:
		return statusLine{"Grant", healthUp, fmt.Sprintf("foreground, notification #%d", host.Descriptor.ID)}
	case active:
		return statusLine{"Grant", healthUp, "foreground"}
	case host.Foreground:
		return statusLine{"Grant", healthDegraded, "foreground requested, not granted"}
	default:
		return statusLine{"Grant", healthNote, "background"}
	}
}

func preflightLine(result preflight.Result) statusLine {
	h := healthUp
	if !result.Passed {
		h = healthDown
	}
	return statusLine{result.Name, h, result.Detail}
}

// stateLabel renders identifiers like "not_sticky" or "grant_promoted" as
// "Not Sticky" and "Grant Promoted".
func stateLabel(value string) string {
	value = strings.TrimSpace(strings.ReplaceAll(value, "_", " "))
	if value == "" {
		return "-"
	}
	return titleCaser.String(value)
}

// renderSectionHeader titles a status section. subject names what the
// section is about (a run id or worker key) and is omitted when empty.
func renderSectionHeader(title, subject string, colorize bool) []string {
	line := "== " + title
	if subject != "" {
		line += " " + subject
	}
	line += " =="
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
