package audit

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/vietddude/sentinel/internal/metrics"
)

// Telemetry is the heartbeat state of one scan. It is owned by the
// scan call and threaded through explicitly, never shared package
// state.
type Telemetry struct {
	MerchantID string
	StartedAt  time.Time

	Processed int // records pulled from the source
	Ghosts    int // ghost targets upserted
	Skipped   int // per-record recoverable failures

	PeakAllocBytes     uint64
	LastEncryptLatency time.Duration

	upsertTotal time.Duration
	upsertCount int
}

func newTelemetry(merchantID string) *Telemetry {
	return &Telemetry{
		MerchantID: merchantID,
		StartedAt:  time.Now(),
	}
}

func (t *Telemetry) recordEncrypt(d time.Duration) {
	t.LastEncryptLatency = d
	metrics.EncryptLatency.Observe(d.Seconds())
}

func (t *Telemetry) recordUpsert(d time.Duration) {
	t.upsertTotal += d
	t.upsertCount++
	metrics.UpsertLatency.Observe(d.Seconds())
}

// AvgUpsertLatency is the mean ghost upsert time so far.
func (t *Telemetry) AvgUpsertLatency() time.Duration {
	if t.upsertCount == 0 {
		return 0
	}
	return t.upsertTotal / time.Duration(t.upsertCount)
}

// sampleMemory refreshes the peak allocation watermark.
func (t *Telemetry) sampleMemory() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.Alloc > t.PeakAllocBytes {
		t.PeakAllocBytes = ms.Alloc
	}
}

// heartbeat logs a progress sample and refreshes gauges.
func (t *Telemetry) heartbeat(log *slog.Logger) {
	t.sampleMemory()
	metrics.ScanHeartbeatProcessed.WithLabelValues(t.MerchantID).Set(float64(t.Processed))
	log.Info("scan heartbeat",
		"merchant", t.MerchantID,
		"processed", t.Processed,
		"ghosts", t.Ghosts,
		"skipped", t.Skipped,
		"peak_alloc_mb", t.PeakAllocBytes/(1024*1024),
		"last_encrypt", t.LastEncryptLatency,
		"avg_upsert", t.AvgUpsertLatency(),
	)
}

// Summary renders the one-line completion record for the system log.
func (t *Telemetry) Summary() string {
	return fmt.Sprintf(
		"scanned=%d ghosts=%d skipped=%d elapsed=%s peak_alloc_mb=%d avg_upsert=%s",
		t.Processed, t.Ghosts, t.Skipped,
		time.Since(t.StartedAt).Round(time.Millisecond),
		t.PeakAllocBytes/(1024*1024),
		t.AvgUpsertLatency().Round(time.Microsecond),
	)
}
