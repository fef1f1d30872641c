package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/lijian-bjfu/physiobridge/internal/outlet"
)

const defaultAutoExposePeriod = 250 * time.Millisecond

// AutoExpose polls reg for outlets created since the last tick — the
// registry creates them lazily as the translator encounters new
// device/kind combinations — and wires each newly-seen one onto srv plus
// a discovery descriptor under sessionDir, so the mirror recorder can find
// it without the producing worker knowing about the mirror at all. Blocks
// until ctx is cancelled.
func AutoExpose(ctx context.Context, log *slog.Logger, srv *Server, reg *outlet.Registry, sessionDir string) {
	seen := make(map[string]bool)
	ticker := time.NewTicker(defaultAutoExposePeriod)
	defer ticker.Stop()

	expose := func() {
		for _, o := range reg.All() {
			id := o.Descriptor.SourceID
			if seen[id] {
				continue
			}
			srv.Expose(o)
			if err := WriteDescriptor(sessionDir, o, srv.Addr().String()); err != nil {
				log.Warn("write outlet descriptor failed", "source_id", id, "error", err)
				continue
			}
			seen[id] = true
			log.Info("exposed outlet", "source_id", id, "name", o.Descriptor.Name)
		}
	}

	expose()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expose()
		}
	}
}
