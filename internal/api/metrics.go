package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	LiveFeed      LinkMetrics    `json:"live_feed"`
	MQTT          *LinkMetrics   `json:"mqtt,omitempty"`
	History       *LinkMetrics   `json:"history,omitempty"`
	Devices       DeviceMetrics  `json:"devices"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// LinkMetrics reports one external connection.
type LinkMetrics struct {
	Connected bool `json:"connected"`
}

// DeviceMetrics counts devices and their parameters.
type DeviceMetrics struct {
	Total      int `json:"total"`
	Parameters int `json:"parameters"`
}

const bytesPerMB = 1024 * 1024

// handleMetrics returns runtime and connection statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / bytesPerMB,
			MemoryTotalMB: float64(memStats.TotalAlloc) / bytesPerMB,
			NumGC:         memStats.NumGC,
		},
		LiveFeed: LinkMetrics{Connected: s.controller.IsConnected()},
	}
	if s.hub != nil {
		metrics.WebSocket.ConnectedClients = s.hub.ClientCount()
	}
	if s.mqtt != nil {
		metrics.MQTT = &LinkMetrics{Connected: s.mqtt.IsConnected()}
	}
	if s.history != nil {
		metrics.History = &LinkMetrics{Connected: s.history.IsConnected()}
	}

	for _, d := range s.controller.Devices().Devices() {
		metrics.Devices.Total++
		metrics.Devices.Parameters += len(d.Parameters())
	}

	writeJSON(w, http.StatusOK, metrics)
}
