// Package udp implements the Polar worker (C7): a UDP receive loop that
// demuxes markers, control messages, and translator-bound data packets,
// drives stream metrics, clock sync, and the ping-pong prober, and logs
// every inbound datagram verbatim.
package udp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/lijian-bjfu/physiobridge/internal/jsonguard"
	"github.com/lijian-bjfu/physiobridge/internal/outlet"
	"github.com/lijian-bjfu/physiobridge/internal/pingpong"
	"github.com/lijian-bjfu/physiobridge/internal/polar"
	"github.com/lijian-bjfu/physiobridge/internal/streammetrics"
)

var controlTypes = map[string]bool{"ping": true, "pong": true, "hub_status": true}

// Worker runs the Polar worker's main loop.
type Worker struct {
	cfg *Config

	pbUDP     *outlet.Outlet
	pbMarkers *outlet.Outlet

	udpPkts, handled, unknown, errCount int
	lastHeartbeat                       time.Time
	readyPrinted                        bool
}

// New validates cfg and creates the two base outlets (PB_UDP, PB_MARKERS).
func New(cfg *Config) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pbUDP, err := cfg.Registry.Ensure("udp", "", 0, 0, outlet.String, "", nil)
	if err != nil {
		return nil, fmt.Errorf("ensure PB_UDP: %w", err)
	}
	pbMarkers, err := cfg.Registry.Ensure("markers", "", 0, 0, outlet.String, "", nil)
	if err != nil {
		return nil, fmt.Errorf("ensure PB_MARKERS: %w", err)
	}
	return &Worker{cfg: cfg, pbUDP: pbUDP, pbMarkers: pbMarkers}, nil
}

// Run blocks until ctx is canceled or a fatal socket error occurs.
func (w *Worker) Run(ctx context.Context) error {
	w.cfg.Logger.Info("polar worker starting", "addr", w.cfg.Conn.LocalAddr().String())

	go func() {
		<-ctx.Done()
		_ = w.cfg.Conn.Close()
	}()

	fmt.Fprintln(w.cfg.Stdout, "READY")
	w.readyPrinted = true

	buf := make([]byte, w.cfg.ReadBufSize)
	for {
		if err := w.cfg.Conn.SetReadDeadline(w.cfg.Clock.Now().Add(w.cfg.ReadTimeout)); err != nil {
			if ctx.Err() != nil || isClosedNetErr(err) {
				return nil
			}
			return fmt.Errorf("set read deadline: %w", err)
		}

		n, remote, err := w.cfg.Conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isClosedNetErr(err) {
				w.cfg.Logger.Debug("udp socket closed, exiting")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				readErrsTotal.WithLabelValues("timeout").Inc()
				w.maybeHeartbeat()
				continue
			}
			readErrsTotal.WithLabelValues("other").Inc()
			w.cfg.Logger.Warn("udp read error", "error", err)
			continue
		}

		w.handleDatagram(buf[:n], remote)
		w.maybeHeartbeat()
	}
}

func (w *Worker) handleDatagram(data []byte, remote *net.UDPAddr) {
	w.udpPkts++
	packetsTotal.Inc()

	hostTS := nowSeconds(w.cfg.Clock.Now())
	// Lossy UTF-8 decode: each run of invalid bytes becomes U+FFFD.
	raw := strings.ToValidUTF8(string(data), "�")

	w.writeRawLogLine(hostTS, remote, raw)

	var obj map[string]any
	parsed := json.Unmarshal(data, &obj) == nil && obj != nil

	routedAsMarker := false
	if parsed {
		if typ, _ := obj["type"].(string); typ == "marker" {
			label := "unknown"
			if l, ok := obj["label"].(string); ok && l != "" {
				label = l
			}
			if err := w.pbMarkers.PushText(hostTS, label); err != nil {
				w.cfg.Logger.Debug("marker push failed", "error", err)
				w.errCount++
				errorsTotal.Inc()
			}
			routedAsMarker = true
		}
	}

	if err := w.pbUDP.PushText(hostTS, raw); err != nil {
		w.cfg.Logger.Debug("PB_UDP push failed", "error", err)
		w.errCount++
		errorsTotal.Inc()
	}

	if !parsed {
		return
	}

	device, _ := obj["device"].(string)
	if device == "" {
		device, _ = obj["deviceLabel"].(string)
	}
	if device != "" {
		w.cfg.PingPong.UpdateEndpoint(device, remote)
	}

	typ, _ := obj["type"].(string)
	if controlTypes[typ] {
		if typ == "pong" {
			w.cfg.PingPong.OnPong(obj, hostTS, device)
		}
		w.handled++
		handledTotal.Inc()
		return
	}

	if routedAsMarker {
		w.handled++
		handledTotal.Inc()
		return
	}

	tMono := nowSeconds(w.cfg.Clock.Now())
	seq := jsonguard.Int(obj["seq"])
	fs := jsonguard.Float(obj["fs"])
	var n *int
	if rows, ok := countableRows(obj); ok {
		n = &rows
	}
	w.cfg.Metrics.Observe(streammetrics.Packet{Type: typ, Device: device, Seq: seq, FS: fs, N: n}, tMono)

	if polar.Handle(obj, hostTS, w.cfg.Registry, w.cfg.ClockSync) {
		w.handled++
		handledTotal.Inc()
		return
	}

	w.unknown++
	unknownTotal.Inc()
}

// countableRows reports the sample count of a fixed-rate chunk payload
// (ecg/acc/ppg), used only for stream-metrics throughput accounting.
func countableRows(obj map[string]any) (int, bool) {
	for _, key := range []string{"uV", "mG", "mU"} {
		if arr, ok := obj[key].([]any); ok {
			return len(arr), true
		}
	}
	return 0, false
}

func (w *Worker) writeRawLogLine(hostTS float64, remote *net.UDPAddr, raw string) {
	line, err := json.Marshal(map[string]any{
		"ts_host": hostTS,
		"remote":  remote.String(),
		"raw":     raw,
	})
	if err != nil {
		return
	}
	line = append(line, '\n')
	if _, err := w.cfg.RawLog.Write(line); err != nil {
		w.cfg.Logger.Debug("raw log write failed", "error", err)
	}
}

func (w *Worker) maybeHeartbeat() {
	now := w.cfg.Clock.Now()
	if !w.lastHeartbeat.IsZero() && now.Sub(w.lastHeartbeat) < w.cfg.HeartbeatEvery {
		return
	}
	w.lastHeartbeat = now

	w.cfg.PingPong.MaybeSendPings()

	snap := w.cfg.Metrics.Snapshot()
	timesync := w.cfg.PingPong.Snapshot()
	latAvg := averageRTTMS(timesync)

	metricsLine, err := json.Marshal(map[string]any{
		"ts":       nowSeconds(now),
		"snapshot": snap,
		"timesync": timesync,
	})
	if err == nil {
		metricsLine = append(metricsLine, '\n')
		if _, err := w.cfg.MetricsLog.Write(metricsLine); err != nil {
			w.cfg.Logger.Debug("metrics journal write failed", "error", err)
		}
	}

	hb := map[string]any{
		"hb":         "polar",
		"udp_pkts":   w.udpPkts,
		"handled":    w.handled,
		"unknown":    w.unknown,
		"errors":     w.errCount,
		"udp_loss":   snap,
		"lat_avg_ms": latAvg,
	}
	line, err := json.Marshal(hb)
	if err == nil {
		fmt.Fprintln(w.cfg.Stdout, string(line))
	}

	if !w.cfg.UnderHub {
		w.cfg.Logger.Info("polar heartbeat", "udp_pkts", w.udpPkts, "handled", w.handled, "unknown", w.unknown, "streams", len(snap))
	}
}

func averageRTTMS(snapshot map[string]pingpong.Measurement) float64 {
	if len(snapshot) == 0 {
		return 0
	}
	var sum float64
	for _, m := range snapshot {
		sum += m.RTTMS
	}
	return sum / float64(len(snapshot))
}

func nowSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func isClosedNetErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "bad file descriptor")
}
