package export

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/sbinet/npyio"

	"github.com/glo-fi/Streamtap/tap"
	"github.com/glo-fi/Streamtap/types"
)

// Absent marks a metric column whose value was not present for the packet.
// Real values never reach it: all inputs are 32-bit wire fields.
const Absent = int64(math.MinInt64)

// NpyColumns is the fixed column layout of one row in the flushed buffers.
const NpyColumns = 8

// BufferLimit is the number of rows held before a flush is forced.
const BufferLimit = 5000

// MetricsBuffer accumulates per-packet metric rows and flushes them as flat
// int64 .npy arrays (row-major, NpyColumns wide) into a folder, one file
// per flush. Columns: index, bytes in flight, max sendable, bytes since
// PUSH, inter-packet delta (ns), ACK size, IP ID increment, packets before
// ACK.
type MetricsBuffer struct {
	dir   string
	rows  []int64
	count int
	flush int
}

func NewMetricsBuffer(dir string) (*MetricsBuffer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create npy output folder: %w", err)
	}
	return &MetricsBuffer{dir: dir}, nil
}

func (b *MetricsBuffer) Append(rec *types.SegmentRecord, m *tap.PacketMetrics) error {
	row := [NpyColumns]int64{
		rec.Index,
		m.BytesInFlight,
		m.MaxSendable,
		m.BytesSincePush,
		Absent, Absent, Absent, Absent,
	}
	if m.HasInterPacketDelta {
		row[4] = m.InterPacketDelta.Nanoseconds()
	}
	if m.HasAckSize {
		row[5] = m.AckSize
	}
	if m.HasIPIDIncrement {
		row[6] = m.IPIDIncrement
	}
	if m.HasPacketsBeforeAck {
		row[7] = m.PacketsBeforeAck
	}

	b.rows = append(b.rows, row[:]...)
	b.count++
	if b.count >= BufferLimit {
		return b.Flush()
	}
	return nil
}

// Flush writes the buffered rows to the next metrics_N.npy file and empties
// the buffer. A no-op when nothing is buffered.
func (b *MetricsBuffer) Flush() error {
	if b.count == 0 {
		return nil
	}
	path := filepath.Join(b.dir, fmt.Sprintf("metrics_%04d.npy", b.flush))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := npyio.Write(f, b.rows); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	b.rows = b.rows[:0]
	b.count = 0
	b.flush++
	return nil
}
