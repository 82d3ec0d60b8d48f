package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide frame/traffic counter.
var Stats = &stats{}

type stats struct {
	FramesSent     atomic.Int64 // frames handed to the datagram transport
	FramesRecv     atomic.Int64 // well-formed frames read from the transport
	Retransmits    atomic.Int64 // send-and-wait attempts after the first
	Dropped        atomic.Int64 // datagrams discarded (malformed, noise, injected loss)
	BytesDelivered atomic.Int64 // payload bytes handed to the responder sink
}

func (s *stats) AddSent()           { s.FramesSent.Add(1) }
func (s *stats) AddRecv()           { s.FramesRecv.Add(1) }
func (s *stats) AddRetransmit()     { s.Retransmits.Add(1) }
func (s *stats) AddDropped()        { s.Dropped.Add(1) }
func (s *stats) AddDelivered(n int) { s.BytesDelivered.Add(int64(n)) }

// Summary renders the cumulative counters on one line.
func (s *stats) Summary() string {
	return fmt.Sprintf("sent %d | recv %d | retx %d | dropped %d | delivered %s",
		s.FramesSent.Load(),
		s.FramesRecv.Load(),
		s.Retransmits.Load(),
		s.Dropped.Load(),
		formatBytes(float64(s.BytesDelivered.Load())),
	)
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs frame statistics every
// interval while there is activity. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prevSent, prevRecv, prevRetx int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.FramesSent.Load()
				recv := Stats.FramesRecv.Load()
				retx := Stats.Retransmits.Load()

				if sent != prevSent || recv != prevRecv {
					pterm.DefaultLogger.Info(formatRates(sent-prevSent, recv-prevRecv, retx-prevRetx, interval))
				}

				prevSent = sent
				prevRecv = recv
				prevRetx = retx

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed-width (8 chars) string,
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatRates renders per-interval frame counts as per-second rates.
func formatRates(sent, recv, retx int64, interval time.Duration) string {
	secs := interval.Seconds()
	return fmt.Sprintf("Out: %5.1f frames/s | In: %5.1f frames/s | Retx: %3d",
		float64(sent)/secs,
		float64(recv)/secs,
		retx,
	)
}
