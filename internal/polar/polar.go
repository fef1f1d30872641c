// Package polar translates the Polar iOS bridge's tagged JSON packets
// (hr, rr, ppi, ecg, acc, ppg) into outlet samples. Event streams (hr, rr,
// ppi) are timestamped through clock synchronization; fixed-rate streams
// (ecg, acc, ppg) are pushed as a chunk and timestamped right-aligned at
// push time, per spec.md §4.6.
package polar

import (
	"math"

	"github.com/lijian-bjfu/physiobridge/internal/clocksync"
	"github.com/lijian-bjfu/physiobridge/internal/jsonguard"
	"github.com/lijian-bjfu/physiobridge/internal/outlet"
)

// Handle dispatches one decoded Polar JSON object to the matching outlet.
// hostTS is the host arrival time (seconds). It returns false when obj is
// not a recognized, well-formed Polar packet, in which case the caller
// should fall through to its raw-log path without treating it as an error.
func Handle(obj map[string]any, hostTS float64, registry *outlet.Registry, clock *clocksync.Sync) bool {
	typ, ok := obj["type"].(string)
	if !ok {
		return false
	}

	device := "Unknown"
	if d, ok := obj["device"].(string); ok && d != "" {
		device = d
	}
	tDevice := jsonguard.Float(obj["t_device"])
	te := jsonguard.Float(obj["te"])

	switch typ {
	case "ppi":
		return handlePPI(obj, device, tDevice, te, hostTS, registry, clock)
	case "hr":
		return handleHR(obj, device, tDevice, hostTS, registry, clock)
	case "rr":
		return handleRR(obj, device, tDevice, te, hostTS, registry, clock)
	case "ecg":
		return handleECG(obj, device, hostTS, registry)
	case "acc":
		return handleACC(obj, device, hostTS, registry)
	case "ppg":
		return handlePPG(obj, device, hostTS, registry)
	default:
		return false
	}
}

func handlePPI(obj map[string]any, device string, tDevice, te *float64, hostTS float64, registry *outlet.Registry, clock *clocksync.Sync) bool {
	ms := jsonguard.Float(obj["ms"])
	if ms == nil {
		return false
	}
	quality := math.NaN()
	if q := jsonguard.Float(obj["quality"]); q != nil {
		quality = *q
	}
	blocker := flagOneIfSet(obj["blocker"])
	skinContact := flagOneIfSet(obj["skinContact"])
	skinSupported := flagOneIfSet(obj["skinSupported"])

	ts := clock.MapEventTS(device, tDevice, te, &hostTS)

	out, err := registry.Ensure("ppi", device, 6, 0.0, outlet.Float32, "ms,quality,blocker,skinContact,skinSupported,te", nil)
	if err != nil {
		return false
	}
	teVal := math.NaN()
	if te != nil {
		teVal = *te
	}
	return out.PushSample(ts, []float64{*ms, quality, blocker, skinContact, skinSupported, teVal}) == nil
}

func handleHR(obj map[string]any, device string, tDevice *float64, hostTS float64, registry *outlet.Registry, clock *clocksync.Sync) bool {
	bpm := jsonguard.Float(obj["bpm"])
	if bpm == nil {
		return false
	}
	ts := clock.MapEventTS(device, tDevice, nil, &hostTS)
	out, err := registry.Ensure("hr", device, 1, 0.0, outlet.Float32, "bpm", nil)
	if err != nil {
		return false
	}
	return out.PushSample(ts, []float64{*bpm}) == nil
}

func handleRR(obj map[string]any, device string, tDevice, te *float64, hostTS float64, registry *outlet.Registry, clock *clocksync.Sync) bool {
	ms := jsonguard.Float(obj["ms"])
	if ms == nil {
		return false
	}
	ts := clock.MapEventTS(device, tDevice, te, &hostTS)
	out, err := registry.Ensure("rr", device, 2, 0.0, outlet.Float32, "ms,te", nil)
	if err != nil {
		return false
	}
	teVal := math.NaN()
	if te != nil {
		teVal = *te
	}
	return out.PushSample(ts, []float64{*ms, teVal}) == nil
}

func handleECG(obj map[string]any, device string, hostTS float64, registry *outlet.Registry) bool {
	fs := jsonguard.Float(obj["fs"])
	if fs == nil {
		return false
	}
	rows := jsonguard.RowsAsFloat(wrapScalarRows(obj["uV"]), 1)
	if len(rows) == 0 {
		return false
	}
	out, err := registry.Ensure("ecg", device, 1, *fs, outlet.Float32, "uV", nil)
	if err != nil {
		return false
	}
	return out.PushChunk(hostTS, rows) == nil
}

func handleACC(obj map[string]any, device string, hostTS float64, registry *outlet.Registry) bool {
	fs := jsonguard.Float(obj["fs"])
	if fs == nil {
		return false
	}
	rows := jsonguard.RowsAsFloat(obj["mG"], 3)
	if len(rows) == 0 {
		return false
	}
	out, err := registry.Ensure("acc", device, 3, *fs, outlet.Float32, "mG", nil)
	if err != nil {
		return false
	}
	return out.PushChunk(hostTS, rows) == nil
}

func handlePPG(obj map[string]any, device string, hostTS float64, registry *outlet.Registry) bool {
	fs := jsonguard.Float(obj["fs"])
	ch := jsonguard.Int(obj["ch"])
	if fs == nil || ch == nil || *ch <= 0 {
		return false
	}
	rows := jsonguard.RowsAsFloat(obj["mU"], *ch)
	if len(rows) == 0 {
		return false
	}
	out, err := registry.Ensure("ppg", device, *ch, *fs, outlet.Float32, "a.u.", nil)
	if err != nil {
		return false
	}
	return out.PushChunk(hostTS, rows) == nil
}

// flagOneIfSet mirrors the Python bridge's "in (1, True)" truthiness test
// for iOS boolean-or-1/0 flag fields.
func flagOneIfSet(v any) float64 {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case float64:
		if x == 1 {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// wrapScalarRows turns a flat JSON array of numbers (ECG's "uV": [..]) into
// a matrix shape RowsAsFloat can validate uniformly with the multi-channel
// streams, each row holding one sample's single channel value.
func wrapScalarRows(v any) any {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	rows := make([]any, 0, len(arr))
	for _, x := range arr {
		rows = append(rows, []any{x})
	}
	return rows
}
