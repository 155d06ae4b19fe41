package main

import (
	"strings"
	"testing"

	"enginehost/internal/platform"
	"enginehost/internal/worker"
)

func TestBuildIntent(t *testing.T) {
	intent, err := buildIntent(" play ", "file:///a", []string{"gain=3", "mode=loop=1"})
	if err != nil {
		t.Fatalf("buildIntent: %v", err)
	}
	if intent.Action != "play" || intent.URI != "file:///a" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if intent.Extras["gain"] != "3" || intent.Extras["mode"] != "loop=1" {
		t.Fatalf("unexpected extras %+v", intent.Extras)
	}
	if _, err := buildIntent("play", "", []string{"novalue"}); err == nil {
		t.Fatal("expected error for extra without '='")
	}
	if intent, _ := buildIntent("main", "", nil); intent.Extras != nil {
		t.Fatalf("expected nil extras, got %+v", intent.Extras)
	}
}

func TestParseOnOff(t *testing.T) {
	cases := map[string]bool{"on": true, "ON": true, "yes": true, "off": false, "0": false}
	for in, want := range cases {
		got, err := parseOnOff(in)
		if err != nil || got != want {
			t.Fatalf("parseOnOff(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := parseOnOff("maybe"); err == nil {
		t.Fatal("expected error")
	}
}

func TestStateLabel(t *testing.T) {
	cases := map[string]string{
		"not_sticky":     "Not Sticky",
		"grant_promoted": "Grant Promoted",
		"bound":          "Bound",
		"":               "-",
	}
	for in, want := range cases {
		if got := stateLabel(in); got != want {
			t.Fatalf("stateLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderStatusLine(t *testing.T) {
	plain := statusLine{"Daemon", healthUp, "pid 42"}.render(false)
	if !strings.Contains(plain, "[UP] pid 42") || strings.Contains(plain, ansiReset) {
		t.Fatalf("unexpected plain line %q", plain)
	}
	colored := statusLine{"Daemon", healthDown, ""}.render(true)
	if !strings.HasPrefix(colored, ansiRed) || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("expected red line, got %q", colored)
	}
	if got := daemonLine(nil, "dial unix: no such file").render(false); !strings.Contains(got, "[DOWN] not running: dial unix") {
		t.Fatalf("unexpected daemon line %q", got)
	}
}

func TestBindingAndGrantLines(t *testing.T) {
	cases := []struct {
		name    string
		host    platform.Status
		binding health
		grant   health
	}{
		{"unstarted", platform.Status{}, healthNote, healthNote},
		{"pending only", platform.Status{Started: true, Pending: 1, Worker: &worker.Status{}}, healthDegraded, healthNote},
		{"bound background", platform.Status{Started: true, Bound: 2, Worker: &worker.Status{}}, healthUp, healthNote},
		{"denied", platform.Status{Started: true, Bound: 1, Foreground: true, Worker: &worker.Status{}}, healthUp, healthDegraded},
		{"promoted", platform.Status{Started: true, Bound: 1, Foreground: true, Worker: &worker.Status{GrantActive: true}}, healthUp, healthUp},
	}
	for _, tc := range cases {
		if got := bindingLine(tc.host).health; got != tc.binding {
			t.Fatalf("%s: binding health = %s, want %s", tc.name, healthLabel(got), healthLabel(tc.binding))
		}
		if got := grantLine(tc.host).health; got != tc.grant {
			t.Fatalf("%s: grant health = %s, want %s", tc.name, healthLabel(got), healthLabel(tc.grant))
		}
	}
}

func TestRenderSectionHeaderSubject(t *testing.T) {
	lines := renderSectionHeader("Worker", "w-1", false)
	if lines[0] != "== Worker w-1 ==" || len(lines[1]) != len(lines[0]) {
		t.Fatalf("unexpected header %q", lines)
	}
	if got := renderSectionHeader("Preflight", "", false)[0]; got != "== Preflight ==" {
		t.Fatalf("unexpected header %q", got)
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"only"}}, []columnAlignment{alignLeft, alignRight})
	if !strings.Contains(out, "only") || !strings.Contains(out, "A") {
		t.Fatalf("unexpected table:\n%s", out)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("expected empty output without headers")
	}
}
