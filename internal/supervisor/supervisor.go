// Package supervisor implements the launcher (C10): it generates one
// session id, spawns the Polar, HKH, and Mirror roles as subprocesses of
// the same binary, aggregates their heartbeats, and drives a coordinated
// soft-stop-then-kill shutdown. Grounded on
// original_source/src/bridges/bridge_hub_launcher.py's run_acquisition.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

const pollInterval = 50 * time.Millisecond

// roleSpec describes one child's launch arguments, in start order.
type roleSpec struct {
	name string
	args []string
}

// Supervisor owns the session lifecycle across every child process.
type Supervisor struct {
	cfg     *Config
	session string
	dir     string

	children []*Child
	statuses map[string]map[string]any

	lastSummary time.Time
	startedAt   map[string]time.Time
	readyTimed  map[string]bool
}

// New generates a session id, creates its directory tree, and constructs
// (but does not start) the Polar, HKH, and Mirror children.
func New(cfg *Config) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	session := GenSession(cfg.Clock.Now())
	dir := filepath.Join(cfg.DataDir, session)

	s := &Supervisor{
		cfg:        cfg,
		session:    session,
		dir:        dir,
		statuses:   make(map[string]map[string]any),
		startedAt:  make(map[string]time.Time),
		readyTimed: make(map[string]bool),
	}

	hb := cfg.HeartbeatEvery.Seconds()
	specs := []roleSpec{
		{name: "Polar", args: []string{cfg.BinaryPath, "polar", "--session-dir", dir, "--under-hub", "--hb-interval", fmt.Sprintf("%g", hb)}},
		{name: "HKH", args: []string{cfg.BinaryPath, "hkh", "--session-dir", dir, "--under-hub", "--hb-interval", fmt.Sprintf("%g", hb)}},
		{name: "Mirror", args: []string{cfg.BinaryPath, "mirror", "--session-dir", dir, "--under-hub", "--hb-interval", fmt.Sprintf("%g", hb)}},
	}
	for _, spec := range specs {
		s.children = append(s.children, NewChild(spec.name, dir, spec.args))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return s, nil
}

// manifest is the human-editable session summary written alongside the
// JSON session files the workers themselves produce.
type manifest struct {
	Session   string   `yaml:"session"`
	StartedAt string   `yaml:"started_at"`
	EndedAt   string   `yaml:"ended_at,omitempty"`
	Roles     []string `yaml:"roles"`
}

func (s *Supervisor) writeManifest(endedAt string) {
	path := filepath.Join(s.dir, "session.yaml")
	startedAt := s.cfg.Clock.Now().Format(time.RFC3339)
	var prev manifest
	if prevBody, err := os.ReadFile(path); err == nil && yaml.Unmarshal(prevBody, &prev) == nil && prev.StartedAt != "" {
		startedAt = prev.StartedAt
	}
	m := manifest{
		Session:   s.session,
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Roles:     []string{"Polar", "HKH", "Mirror"},
	}
	body, err := yaml.Marshal(m)
	if err != nil {
		return
	}
	_ = os.WriteFile(path, body, 0o644)
}

// SessionDir returns the directory all children share for discovery and
// output files.
func (s *Supervisor) SessionDir() string { return s.dir }

// Run starts every child in order, then blocks monitoring their heartbeats
// and liveness until ctx is cancelled or a child exits unexpectedly,
// finishing with a coordinated shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	fmt.Fprintln(s.cfg.Stdout, strings.Repeat("=", 78))
	fmt.Fprintln(s.cfg.Stdout, "Physio Recording Suite")
	fmt.Fprintf(s.cfg.Stdout, "- session: %s\n", s.session)
	fmt.Fprintf(s.cfg.Stdout, "- local address for the wireless device's UDP target: %s:%d\n", LocalIP(), udpIngressPort)
	fmt.Fprintln(s.cfg.Stdout, strings.Repeat("=", 78))
	s.writeManifest("")

	for _, c := range s.children {
		if err := c.Start(); err != nil {
			return fmt.Errorf("start %s: %w", c.Name, err)
		}
		s.startedAt[c.Name] = s.cfg.Clock.Now()
		s.cfg.Logger.Info("started child", "name", c.Name)
	}

	announcedReady := false
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		default:
		}

		s.drainChildren()
		s.recordReadyLatencies()

		if !announcedReady && s.allReady() {
			fmt.Fprintln(s.cfg.Stdout, "[suite] all roles ready")
			announcedReady = true
		}

		if s.cfg.Clock.Now().Sub(s.lastSummary) >= s.cfg.HeartbeatEvery {
			s.printSummary()
			s.lastSummary = s.cfg.Clock.Now()
		}

		if dead := s.firstDeadChild(); dead != nil {
			childRestartsTotal.WithLabelValues(dead.Name).Inc()
			s.cfg.Logger.Warn("child exited unexpectedly, stopping suite", "name", dead.Name, "error", dead.ExitErr())
			s.shutdown()
			return fmt.Errorf("child %s exited unexpectedly: %w", dead.Name, dead.ExitErr())
		}

		time.Sleep(pollInterval)
	}
}

func (s *Supervisor) recordReadyLatencies() {
	for _, c := range s.children {
		if s.readyTimed[c.Name] || !c.Ready() {
			continue
		}
		s.readyTimed[c.Name] = true
		childReadySeconds.WithLabelValues(c.Name).Set(s.cfg.Clock.Now().Sub(s.startedAt[c.Name]).Seconds())
	}
}

func (s *Supervisor) allReady() bool {
	for _, c := range s.children {
		if !c.Ready() {
			return false
		}
	}
	return true
}

func (s *Supervisor) firstDeadChild() *Child {
	for _, c := range s.children {
		if !c.Alive() {
			return c
		}
	}
	return nil
}

func (s *Supervisor) drainChildren() {
	for _, c := range s.children {
		for _, line := range c.DrainLines() {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "{") {
				var obj map[string]any
				if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
					if hb, ok := obj["hb"].(string); ok && (hb == "polar" || hb == "hkh" || hb == "mirror") {
						s.statuses[c.Name] = obj
						continue
					}
				}
			}
			fmt.Fprintf(s.cfg.Stdout, "[%s] %s\n", c.Name, line)
		}
	}
}

func (s *Supervisor) printSummary() {
	table := tablewriter.NewWriter(s.cfg.Stdout)
	table.SetHeader([]string{"Role", "Status", "Detail"})
	table.SetAutoFormatHeaders(false)

	for _, c := range s.children {
		status := "running"
		if !c.Alive() {
			status = "exited"
		} else if !c.Ready() {
			status = "starting"
		}
		table.Append([]string{c.Name, status, summarize(c.Name, s.statuses[c.Name])})
	}
	table.Render()
}

func summarize(name string, obj map[string]any) string {
	if obj == nil {
		return "no heartbeat yet"
	}
	switch name {
	case "Polar":
		return fmt.Sprintf("udp=%v handled=%v unknown=%v", obj["udp_pkts"], obj["handled"], obj["unknown"])
	case "HKH":
		return fmt.Sprintf("elapsed_s=%v recent=%v last=%v", obj["elapsed_s"], obj["recent_samples"], obj["last_value"])
	case "Mirror":
		return fmt.Sprintf("streams=%v rows=%v max_idle_s=%v", obj["streams"], obj["rows"], obj["max_idle_s"])
	default:
		return ""
	}
}

// shutdown soft-terminates every child, waits up to the configured window,
// then force-kills any stragglers.
func (s *Supervisor) shutdown() {
	fmt.Fprintln(s.cfg.Stdout, "[suite] stopping, sending soft-stop to all roles")
	for _, c := range s.children {
		c.SoftTerm()
	}

	deadline := time.Now().Add(s.cfg.ShutdownWindow)
	for _, c := range s.children {
		c.WaitExit(deadline)
	}

	for _, c := range s.children {
		if c.Alive() {
			fmt.Fprintf(s.cfg.Stdout, "[suite] %s did not stop in time, killing\n", c.Name)
			c.Kill()
		}
	}

	s.writeManifest(time.Now().Format(time.RFC3339))

	fmt.Fprintln(s.cfg.Stdout, strings.Repeat("=", 78))
	fmt.Fprintln(s.cfg.Stdout, "Recording stopped.")
	fmt.Fprintf(s.cfg.Stdout, "Session data: %s\n", s.dir)
	fmt.Fprintln(s.cfg.Stdout, strings.Repeat("=", 78))
}

// udpIngressPort mirrors internal/ingress/udp's fixed bind port, surfaced
// here only for the operator-facing banner.
const udpIngressPort = 9001
