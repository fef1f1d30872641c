package transport

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lijian-bjfu/physiobridge/internal/outlet"
)

// Descriptor is the on-disk discovery record a producing worker writes for
// each outlet it exposes, so a separate-process mirror recorder can find
// it without any in-process registry access.
type Descriptor struct {
	SourceID      string            `json:"source_id"`
	Name          string            `json:"name"`
	Kind          string            `json:"kind"`
	Device        string            `json:"device"`
	ChannelCount  int               `json:"channel_count"`
	NominalRate   float64           `json:"nominal_rate"`
	ChannelFormat string            `json:"channel_format"`
	Units         string            `json:"units"`
	Meta          map[string]string `json:"meta,omitempty"`
	Addr          string            `json:"addr"`
}

// outletsDir returns <sessionDir>/outlets, creating it if necessary.
func outletsDir(sessionDir string) (string, error) {
	dir := filepath.Join(sessionDir, "outlets")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create outlets dir: %w", err)
	}
	return dir, nil
}

// WriteDescriptor writes or overwrites the discovery descriptor for o
// under sessionDir/outlets/<source_id>.json, advertising addr as the
// exposure server's dial address.
func WriteDescriptor(sessionDir string, o *outlet.Outlet, addr string) error {
	dir, err := outletsDir(sessionDir)
	if err != nil {
		return err
	}

	d := o.Descriptor
	desc := Descriptor{
		SourceID:      d.SourceID,
		Name:          d.Name,
		Kind:          d.Kind,
		Device:        d.Device,
		ChannelCount:  d.ChannelCount,
		NominalRate:   d.NominalRate,
		ChannelFormat: string(d.ChannelFormat),
		Units:         d.Units,
		Meta:          d.Meta,
		Addr:          addr,
	}

	body, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}

	path := filepath.Join(dir, d.SourceID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	return os.Rename(tmp, path)
}

// ListDescriptors returns every discovery descriptor currently present
// under sessionDir/outlets. A partially-written or unreadable file is
// skipped for this tick and retried on the next discovery pass, per
// spec.md §7's "Descriptor file unreadable/partial" policy.
func ListDescriptors(sessionDir string) ([]Descriptor, error) {
	dir := filepath.Join(sessionDir, "outlets")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read outlets dir: %w", err)
	}

	var out []Descriptor
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		body, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var d Descriptor
		if err := json.Unmarshal(body, &d); err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
