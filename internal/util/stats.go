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

// Stats is the process-wide signaling/session counter.
var Stats = &stats{}

type stats struct {
	Sessions  atomic.Int64 // cumulative count of signaling sessions since process start
	Closed    atomic.Int64 // cumulative count of ended sessions since process start
	MsgsSent  atomic.Int64 // signaling frames written
	MsgsRecv  atomic.Int64 // signaling frames read
	BytesSent atomic.Int64 // signaling payload bytes written
	BytesRecv atomic.Int64 // signaling payload bytes read
}

func (s *stats) AddSession()    { s.Sessions.Add(1) }
func (s *stats) RemoveSession() { s.Closed.Add(1) }

func (s *stats) AddSent(n int) {
	s.MsgsSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.MsgsRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs signaling statistics
// every interval, skipping quiet intervals. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := takeSnapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(cur.sub(prev), interval))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

type snapshot struct {
	sessions, closed     int64
	msgsSent, msgsRecv   int64
	bytesSent, bytesRecv int64
}

func takeSnapshot() snapshot {
	return snapshot{
		sessions:  Stats.Sessions.Load(),
		closed:    Stats.Closed.Load(),
		msgsSent:  Stats.MsgsSent.Load(),
		msgsRecv:  Stats.MsgsRecv.Load(),
		bytesSent: Stats.BytesSent.Load(),
		bytesRecv: Stats.BytesRecv.Load(),
	}
}

func (s snapshot) sub(o snapshot) snapshot {
	return snapshot{
		sessions:  s.sessions - o.sessions,
		closed:    s.closed - o.closed,
		msgsSent:  s.msgsSent - o.msgsSent,
		msgsRecv:  s.msgsRecv - o.msgsRecv,
		bytesSent: s.bytesSent - o.bytesSent,
		bytesRecv: s.bytesRecv - o.bytesRecv,
	}
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders one interval's delta for the logger.
func formatStats(d snapshot, interval time.Duration) string {
	secs := interval.Seconds()
	return fmt.Sprintf("Signaling out: %3d msg %s/s | in: %3d msg %s/s | Sessions: %2d↑ %2d↓",
		d.msgsSent,
		formatBytes(float64(d.bytesSent)/secs),
		d.msgsRecv,
		formatBytes(float64(d.bytesRecv)/secs),
		d.sessions,
		d.closed,
	)
}
