// Package outlet implements the Outlet Registry: lazy creation and reuse
// of typed numeric (or text) streams keyed by (signal-kind, device), and
// the Outlet type samples are pushed onto.
package outlet

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ChannelFormat is the wire/storage representation of an outlet's channels.
type ChannelFormat string

const (
	// Float32 outlets carry channel_count float32 values per sample.
	Float32 ChannelFormat = "float32"
	// String outlets carry a single string value per sample, rate 0.
	String ChannelFormat = "string"
)

// Descriptor is the immutable shape of an outlet, established on first
// Ensure call and never mutated afterward.
type Descriptor struct {
	SourceID      string
	Name          string
	Kind          string
	Device        string
	ChannelCount  int
	NominalRate   float64
	ChannelFormat ChannelFormat
	Units         string
	Meta          map[string]string
}

// Sample is one pushed record: either a numeric row (Values) or a text
// payload (Text), carrying an explicit host timestamp.
type Sample struct {
	HostTS float64
	Values []float64
	Text   string
}

// Publisher receives samples pushed onto an outlet and makes them
// available to whatever mechanism exposes outlets to a recorder. The
// in-process registry is agnostic to how publishing happens; cross-process
// exposure is layered on via internal/outlet/transport.
type Publisher interface {
	Publish(Sample)
	Close() error
}

// noopPublisher discards samples; used when an outlet is created without
// being wired to a transport (e.g. in unit tests of translators).
type noopPublisher struct{}

func (noopPublisher) Publish(Sample) {}
func (noopPublisher) Close() error   { return nil }

// Outlet is a single named, typed, append-only stream.
type Outlet struct {
	Descriptor Descriptor

	mu  sync.Mutex
	pub Publisher
}

// SetPublisher wires the outlet to a Publisher. Called once by whatever
// exposes the outlet across process boundaries (internal/outlet/transport).
func (o *Outlet) SetPublisher(pub Publisher) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pub = pub
}

// PushSample pushes a single timestamped sample. For numeric outlets len(values)
// must equal the descriptor's ChannelCount; for string outlets use PushText.
func (o *Outlet) PushSample(hostTS float64, values []float64) error {
	if o.Descriptor.ChannelFormat != Float32 {
		return fmt.Errorf("outlet %s: PushSample called on a %s outlet", o.Descriptor.Name, o.Descriptor.ChannelFormat)
	}
	if len(values) != o.Descriptor.ChannelCount {
		return fmt.Errorf("outlet %s: expected %d channels, got %d", o.Descriptor.Name, o.Descriptor.ChannelCount, len(values))
	}
	o.publish(Sample{HostTS: hostTS, Values: values})
	return nil
}

// PushText pushes a single timestamped string sample onto a string outlet.
func (o *Outlet) PushText(hostTS float64, text string) error {
	if o.Descriptor.ChannelFormat != String {
		return fmt.Errorf("outlet %s: PushText called on a %s outlet", o.Descriptor.Name, o.Descriptor.ChannelFormat)
	}
	o.publish(Sample{HostTS: hostTS, Text: text})
	return nil
}

// PushChunk pushes a sequence of rows that carry no per-sample timestamps
// of their own. It assigns each row a host time from the outlet's nominal
// rate and the chunk's arrival time, and publishes the rows as
// individually timestamped samples. chunkArrivalTS is the host time the
// whole chunk was received.
func (o *Outlet) PushChunk(chunkArrivalTS float64, rows [][]float64) error {
	if o.Descriptor.ChannelFormat != Float32 {
		return fmt.Errorf("outlet %s: PushChunk called on a %s outlet", o.Descriptor.Name, o.Descriptor.ChannelFormat)
	}
	if len(rows) == 0 {
		return nil
	}
	n := len(rows)
	fs := o.Descriptor.NominalRate
	for i, row := range rows {
		if len(row) != o.Descriptor.ChannelCount {
			return fmt.Errorf("outlet %s: chunk row %d has %d channels, want %d", o.Descriptor.Name, i, len(row), o.Descriptor.ChannelCount)
		}
		// Right-aligned reconstruction: the last row lands at chunkArrivalTS,
		// earlier rows step backward by 1/fs, per spec.md §4.6's recommendation.
		ts := chunkArrivalTS
		if fs > 0 {
			ts = chunkArrivalTS - float64(n-1-i)/fs
		}
		o.publish(Sample{HostTS: ts, Values: row})
	}
	return nil
}

func (o *Outlet) publish(s Sample) {
	o.mu.Lock()
	pub := o.pub
	o.mu.Unlock()
	if pub == nil {
		return
	}
	pub.Publish(s)
}

// Close releases the outlet's publisher, if any.
func (o *Outlet) Close() error {
	o.mu.Lock()
	pub := o.pub
	o.mu.Unlock()
	if pub == nil {
		return nil
	}
	return pub.Close()
}

// Registry lazily creates and caches outlets keyed by (kind, device).
type Registry struct {
	log          *slog.Logger
	sessionLabel string

	mu       sync.Mutex
	outlets  map[string]*Outlet
	sourceSq int
}

// New creates a Registry. sessionLabel, if non-empty, is appended to
// outlet names as spec.md's name scheme allows.
func New(log *slog.Logger, sessionLabel string) *Registry {
	return &Registry{
		log:          log,
		sessionLabel: sessionLabel,
		outlets:      make(map[string]*Outlet),
	}
}

func key(kind, device string) string {
	return strings.ToUpper(kind) + "::" + device
}

// Ensure returns the outlet for (kind, device), creating it on first call.
// On repeat calls, channels/rate/units must match the first call; a
// mismatch is a contract violation and returns a non-nil error that the
// caller must treat as fatal, per spec.md §7's "Outlet shape mismatch on
// ensure" policy.
func (r *Registry) Ensure(kind, device string, channels int, rate float64, format ChannelFormat, units string, meta map[string]string) (*Outlet, error) {
	k := key(kind, device)

	r.mu.Lock()
	defer r.mu.Unlock()

	if o, ok := r.outlets[k]; ok {
		d := o.Descriptor
		if d.ChannelCount != channels || d.NominalRate != rate || d.Units != units || d.ChannelFormat != format {
			return nil, fmt.Errorf("outlet %s: shape mismatch on ensure: have (ch=%d,rate=%g,fmt=%s,units=%q), want (ch=%d,rate=%g,fmt=%s,units=%q)",
				d.Name, d.ChannelCount, d.NominalRate, d.ChannelFormat, d.Units, channels, rate, format, units)
		}
		return o, nil
	}

	r.sourceSq++
	parts := make([]string, 0, 3)
	parts = append(parts, strings.ToUpper(kind))
	if device != "" {
		parts = append(parts, device)
	}
	if r.sessionLabel != "" {
		parts = append(parts, r.sessionLabel)
	}
	name := "PB_" + strings.Join(parts, "_")

	idParts := make([]string, 0, 3)
	idParts = append(idParts, strings.ToLower(kind))
	if device != "" {
		idParts = append(idParts, device)
	}
	if r.sessionLabel != "" {
		idParts = append(idParts, r.sessionLabel)
	}
	sourceID := fmt.Sprintf("pb_%s_%d", strings.Join(idParts, "_"), r.sourceSq)

	o := &Outlet{
		Descriptor: Descriptor{
			SourceID:      sourceID,
			Name:          name,
			Kind:          strings.ToUpper(kind),
			Device:        device,
			ChannelCount:  channels,
			NominalRate:   rate,
			ChannelFormat: format,
			Units:         units,
			Meta:          meta,
		},
		pub: noopPublisher{},
	}
	r.outlets[k] = o
	r.log.Info("created outlet", "name", name, "kind", o.Descriptor.Kind, "channels", channels, "rate", rate, "units", units)
	return o, nil
}

// EnsureNamed returns the outlet for an explicit name, creating it on first
// call. Unlike Ensure, the caller supplies the external name, source_id, and
// type tag directly instead of having them derived from the PB_ naming
// convention — for streams whose external identity is mandated by spec
// rather than derived from (kind, device), such as the HKH-11C respiration
// belt's HB_Respiration_HKH stream (see
// original_source/HKH-11C/hkh_bridge_batch.py's StreamInfo). On repeat
// calls the same shape-mismatch policy as Ensure applies.
func (r *Registry) EnsureNamed(name, sourceID, kind string, channels int, rate float64, format ChannelFormat, units string, meta map[string]string) (*Outlet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o, ok := r.outlets[name]; ok {
		d := o.Descriptor
		if d.ChannelCount != channels || d.NominalRate != rate || d.Units != units || d.ChannelFormat != format {
			return nil, fmt.Errorf("outlet %s: shape mismatch on ensure: have (ch=%d,rate=%g,fmt=%s,units=%q), want (ch=%d,rate=%g,fmt=%s,units=%q)",
				d.Name, d.ChannelCount, d.NominalRate, d.ChannelFormat, d.Units, channels, rate, format, units)
		}
		return o, nil
	}

	o := &Outlet{
		Descriptor: Descriptor{
			SourceID:      sourceID,
			Name:          name,
			Kind:          kind,
			ChannelCount:  channels,
			NominalRate:   rate,
			ChannelFormat: format,
			Units:         units,
			Meta:          meta,
		},
		pub: noopPublisher{},
	}
	r.outlets[name] = o
	r.log.Info("created outlet", "name", name, "kind", kind, "channels", channels, "rate", rate, "units", units)
	return o, nil
}

// All returns a snapshot of every outlet created so far.
func (r *Registry) All() []*Outlet {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Outlet, 0, len(r.outlets))
	for _, o := range r.outlets {
		out = append(out, o)
	}
	return out
}
