package agent

import (
	"fmt"
	"sync/atomic"
	"time"
)

type HealthStatus struct {
	cyclesOK      atomic.Int64
	cyclesFailed  atomic.Int64
	samplesSent   atomic.Int64
	lastSuccessAt atomic.Int64
	lastResult    atomic.Value
}

func NewHealthStatus() *HealthStatus {
	h := &HealthStatus{}
	h.lastResult.Store("none")
	return h
}

func (h *HealthStatus) MarkCycle(sent int, result string, at time.Time) {
	h.samplesSent.Add(int64(sent))
	h.lastResult.Store(result)
	if result == "ok" {
		h.cyclesOK.Add(1)
		h.lastSuccessAt.Store(at.UnixNano())
		return
	}
	h.cyclesFailed.Add(1)
}

func (h *HealthStatus) CyclesOK() int64     { return h.cyclesOK.Load() }
func (h *HealthStatus) CyclesFailed() int64 { return h.cyclesFailed.Load() }
func (h *HealthStatus) SamplesSent() int64  { return h.samplesSent.Load() }

func (h *HealthStatus) LastResult() string {
	return h.lastResult.Load().(string)
}

// StatusLine renders the status served on the health endpoint. The agent is
// "ok" until a cycle fails and again after the next successful one.
func (h *HealthStatus) StatusLine() string {
	status := "ok"
	last := h.LastResult()
	if last != "ok" && last != "none" {
		status = "degraded"
	}
	return fmt.Sprintf("trapper-agent:%s cycles_ok=%d cycles_failed=%d samples_sent=%d last_result=%s\n",
		status, h.CyclesOK(), h.CyclesFailed(), h.SamplesSent(), last)
}

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{
		"cycles_ok":     h.cyclesOK.Load(),
		"cycles_failed": h.cyclesFailed.Load(),
		"samples_sent":  h.samplesSent.Load(),
		"last_result":   h.LastResult(),
	}
	if v := h.lastSuccessAt.Load(); v > 0 {
		out["last_success_at"] = time.Unix(0, v).UTC()
	}
	return out
}
