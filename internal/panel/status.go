package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	statusPath      = "/server/status"
	statusBodyLimit = 1 << 20
)

// Metrics is the optional server load snapshot reported by the panel
type Metrics struct {
	CPUPercent    float64
	MemoryPercent float64
	MemoryUsed    uint64
	MemoryTotal   uint64
	Uptime        time.Duration
}

type statusMemory struct {
	Current *uint64 `json:"current"`
	Total   *uint64 `json:"total"`
}

type statusBody struct {
	CPU    *float64      `json:"cpu"`
	Mem    *statusMemory `json:"mem"`
	Uptime *float64      `json:"uptime"`
}

type statusEnvelope struct {
	Success *bool           `json:"success"`
	Obj     json.RawMessage `json:"obj"`
}

// FetchStatus asks the panel for its load metrics
func FetchStatus(ctx context.Context, session *Session, timeout time.Duration) (*Metrics, error) {
	status, body, err := session.PostForm(ctx, statusPath, nil, timeout, statusBodyLimit)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned HTTP %d", status)
	}
	return ParseStatus(body)
}

// ParseStatus reads metrics from either an {"obj": {...}} envelope or a bare object
func ParseStatus(body []byte) (*Metrics, error) {
	body = bytes.TrimSpace(body)

	if inner, ok := unwrapEnvelope(body); ok {
		return parseStatusBody(inner)
	}
	return parseStatusBody(body)
}

func unwrapEnvelope(body []byte) ([]byte, bool) {
	var env statusEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, false
	}
	if len(env.Obj) == 0 || bytes.Equal(env.Obj, []byte("null")) {
		return nil, false
	}
	return env.Obj, true
}

func parseStatusBody(body []byte) (*Metrics, error) {
	var parsed statusBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unrecognized status response: %w", err)
	}
	if parsed.CPU == nil && parsed.Mem == nil && parsed.Uptime == nil {
		return nil, fmt.Errorf("status response carries no metrics")
	}

	metrics := &Metrics{}
	if parsed.CPU != nil {
		metrics.CPUPercent = *parsed.CPU
	}
	if parsed.Mem != nil && parsed.Mem.Current != nil && parsed.Mem.Total != nil {
		metrics.MemoryUsed = *parsed.Mem.Current
		metrics.MemoryTotal = *parsed.Mem.Total
		if metrics.MemoryTotal > 0 {
			metrics.MemoryPercent = float64(metrics.MemoryUsed) / float64(metrics.MemoryTotal) * 100
		}
	}
	if parsed.Uptime != nil {
		metrics.Uptime = time.Duration(*parsed.Uptime * float64(time.Second))
	}
	return metrics, nil
}
