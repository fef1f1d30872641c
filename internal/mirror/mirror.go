// Package mirror implements the Mirror Recorder (C9): discovers every
// outlet exposed by the producing workers over the cross-process
// transport, and persists each as a flushed, columnar Parquet file.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/lijian-bjfu/physiobridge/internal/outlet/transport"
)

type streamState struct {
	desc     transport.Descriptor
	puller   *transport.Puller
	writer   *columnWriter
	file     string
	lastSeen time.Time
}

type indexEntry struct {
	File          string            `json:"file"`
	SourceID      string            `json:"source_id"`
	Name          string            `json:"name"`
	Kind          string            `json:"kind"`
	Device        string            `json:"device"`
	ChannelCount  int               `json:"channel_count"`
	NominalRate   float64           `json:"nominal_rate"`
	ChannelFormat string            `json:"channel_format"`
	Units         string            `json:"units"`
	Meta          map[string]string `json:"meta,omitempty"`
}

type sessionIndex struct {
	Session   string       `json:"session"`
	StartedAt string       `json:"started_at"`
	Streams   []indexEntry `json:"streams"`
}

// Mirror owns discovery, pulling, and persistence for one recording session.
type Mirror struct {
	cfg *Config
	pool pond.Pool

	mu          sync.Mutex
	streams     map[string]*streamState
	index       sessionIndex
	stopMarkers *os.File

	lastDiscover  time.Time
	lastHeartbeat time.Time
}

// New validates cfg, creates the session directory structure, and opens
// session_index.json and stop_markers.jsonl.
func New(cfg *Config) (*Mirror, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.SessionDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	m := &Mirror{
		cfg:     cfg,
		pool:    pond.NewPool(runtime.GOMAXPROCS(0)),
		streams: make(map[string]*streamState),
		index: sessionIndex{
			Session:   filepath.Base(cfg.SessionDir),
			StartedAt: cfg.Clock.Now().Format("2006-01-02 15:04:05"),
		},
	}

	markers, err := os.OpenFile(filepath.Join(cfg.SessionDir, "stop_markers.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open stop_markers.jsonl: %w", err)
	}
	m.stopMarkers = markers

	if err := m.writeIndex(); err != nil {
		return nil, err
	}
	return m, nil
}

// Run blocks until ctx is canceled, discovering and pulling outlets in a
// loop and writing session_end.json on exit.
func (m *Mirror) Run(ctx context.Context) error {
	fmt.Fprintln(m.cfg.Stdout, "READY")
	m.cfg.Logger.Info("mirror started", "session_dir", m.cfg.SessionDir)

	defer m.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		now := m.cfg.Clock.Now()
		if now.Sub(m.lastDiscover) >= m.cfg.DiscoverEvery {
			m.discoverOnce()
			m.lastDiscover = now
		}

		m.pullOnce()
		m.maybeHeartbeat()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.cfg.PullSleep):
		}
	}
}

func (m *Mirror) discoverOnce() {
	descs, err := transport.ListDescriptors(m.cfg.SessionDir)
	if err != nil {
		m.cfg.Logger.Warn("discovery list failed", "error", err)
		return
	}

	for _, d := range descs {
		m.mu.Lock()
		_, known := m.streams[d.SourceID]
		m.mu.Unlock()
		if known {
			continue
		}

		puller, err := transport.Dial(context.Background(), d.Addr)
		if err != nil {
			m.cfg.Logger.Debug("dial exposure server failed, will retry", "source_id", d.SourceID, "addr", d.Addr, "error", err)
			continue
		}

		numeric := d.ChannelFormat != "string"
		base := strings.ReplaceAll(d.Name, "/", "_")
		sid8 := d.SourceID
		if len(sid8) > 8 {
			sid8 = sid8[:8]
		}
		ext := "parquet"
		fname := fmt.Sprintf("%s__%s.%s", base, sid8, ext)

		writer, err := newColumnWriter(m.cfg.Clock, filepath.Join(m.cfg.SessionDir, fname), numeric, d.ChannelCount)
		if err != nil {
			m.cfg.Logger.Warn("open stream writer failed", "source_id", d.SourceID, "error", err)
			_ = puller.Close()
			continue
		}

		m.mu.Lock()
		m.streams[d.SourceID] = &streamState{desc: d, puller: puller, writer: writer, file: fname}
		m.index.Streams = append(m.index.Streams, indexEntry{
			File: fname, SourceID: d.SourceID, Name: d.Name, Kind: d.Kind, Device: d.Device,
			ChannelCount: d.ChannelCount, NominalRate: d.NominalRate, ChannelFormat: d.ChannelFormat,
			Units: d.Units, Meta: d.Meta,
		})
		m.mu.Unlock()

		if err := m.writeIndex(); err != nil {
			m.cfg.Logger.Warn("write session index failed", "error", err)
		}
		streamsDiscoveredTotal.Inc()
		m.cfg.Logger.Info("discovered outlet", "name", d.Name, "kind", d.Kind, "channels", d.ChannelCount, "file", fname)
	}

	m.mu.Lock()
	streamsActive.Set(float64(len(m.streams)))
	m.mu.Unlock()
}

func (m *Mirror) pullOnce() {
	m.mu.Lock()
	states := make([]*streamState, 0, len(m.streams))
	for _, s := range m.streams {
		states = append(states, s)
	}
	m.mu.Unlock()

	group := m.pool.NewGroup()
	for _, s := range states {
		s := s
		group.Submit(func() { m.pullStream(s) })
	}
	group.Wait()
}

func (m *Mirror) pullStream(s *streamState) {
	records, err := s.puller.PullAvailable()
	if err != nil {
		m.cfg.Logger.Debug("pull failed", "source_id", s.desc.SourceID, "error", err)
		return
	}
	if len(records) == 0 {
		return
	}

	now := m.cfg.Clock.Now()
	m.mu.Lock()
	s.lastSeen = now
	m.mu.Unlock()

	for _, rec := range records {
		if rec.IsText {
			s.writer.addText(rec.HostTS, rec.Text)
			if looksLikeStop(rec.Text) {
				m.writeStopMarker(rec.HostTS, rec.Text, s.desc.Name)
			}
			continue
		}
		s.writer.addNumeric(rec.HostTS, rec.Values)
	}
	rowsWrittenTotal.WithLabelValues(s.desc.Name).Add(float64(len(records)))
}

// looksLikeStop mirrors the Python mirror's stop-marker detection: a JSON
// payload whose "label" or "cmd" field is "stop" (case-insensitive), or
// plain text containing "stop" as a substring.
func looksLikeStop(text string) bool {
	var obj map[string]any
	if json.Unmarshal([]byte(text), &obj) == nil {
		if label, ok := obj["label"].(string); ok && strings.EqualFold(label, "stop") {
			return true
		}
		if cmd, ok := obj["cmd"].(string); ok && strings.EqualFold(cmd, "stop") {
			return true
		}
		return false
	}
	return strings.Contains(strings.ToLower(text), "stop")
}

func (m *Mirror) writeStopMarker(ts float64, text, streamName string) {
	rec := map[string]any{"time": ts, "label": text, "stream": streamName}
	body, err := json.Marshal(rec)
	if err != nil {
		return
	}
	body = append(body, '\n')
	_, _ = m.stopMarkers.Write(body)
}

func (m *Mirror) writeIndex() error {
	m.mu.Lock()
	body, err := json.MarshalIndent(m.index, "", "  ")
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal session index: %w", err)
	}
	return os.WriteFile(filepath.Join(m.cfg.SessionDir, "session_index.json"), body, 0o644)
}

func (m *Mirror) maybeHeartbeat() {
	now := m.cfg.Clock.Now()
	if !m.lastHeartbeat.IsZero() && now.Sub(m.lastHeartbeat) < m.cfg.HeartbeatEvery {
		return
	}
	m.lastHeartbeat = now

	m.mu.Lock()
	var rows int
	var maxIdle float64
	for _, s := range m.streams {
		rows += s.writer.totalRows
		idle := now.Sub(s.lastSeen).Seconds()
		if s.lastSeen.IsZero() {
			idle = 0
		}
		if idle > maxIdle {
			maxIdle = idle
		}
	}
	streamCount := len(m.streams)
	m.mu.Unlock()

	hb := map[string]any{"hb": "mirror", "streams": streamCount, "rows": rows, "max_idle_s": maxIdle}
	line, err := json.Marshal(hb)
	if err == nil {
		fmt.Fprintln(m.cfg.Stdout, string(line))
	}
	if !m.cfg.UnderHub {
		m.cfg.Logger.Info("mirror heartbeat", "streams", streamCount, "rows", rows, "max_idle_s", maxIdle)
	}
}

func (m *Mirror) shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.streams {
		if err := s.writer.close(); err != nil {
			m.cfg.Logger.Warn("close writer failed", "source_id", s.desc.SourceID, "error", err)
		}
		_ = s.puller.Close()
	}
	_ = m.stopMarkers.Close()
	m.pool.StopAndWait()

	end := map[string]any{
		"ended_at": m.cfg.Clock.Now().Format("2006-01-02 15:04:05"),
		"streams":  len(m.index.Streams),
	}
	body, err := json.MarshalIndent(end, "", "  ")
	if err == nil {
		_ = os.WriteFile(filepath.Join(m.cfg.SessionDir, "session_end.json"), body, 0o644)
	}
	m.cfg.Logger.Info("mirror stopped", "session_dir", m.cfg.SessionDir)
}
