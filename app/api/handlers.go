package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/itambient/feedpost/app/ledger"
	"github.com/itambient/feedpost/app/tasks"
)

// LedgerStats exposes the ledger counters the status endpoints report.
type LedgerStats interface {
	GetStats() (ledger.Stats, error)
}

// LoopStatus exposes the scheduler's view of the polling loop.
type LoopStatus interface {
	GetStatus() tasks.Status
}

type Handler struct {
	ledger    LedgerStats
	scheduler LoopStatus
	version   string
}

func NewHandler(led LedgerStats, scheduler LoopStatus, version string) *Handler {
	return &Handler{
		ledger:    led,
		scheduler: scheduler,
		version:   version,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   h.version,
	}

	if _, err := h.ledger.GetStats(); err != nil {
		slog.Error("Ledger unavailable", "error", err)
		health["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}

	health["status"] = "ok"
	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.ledger.GetStats()
	if err != nil {
		slog.Error("Database error", "operation", "get_stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	status := h.scheduler.GetStatus()

	out := map[string]interface{}{
		"ledger_entries": stats.TotalEntries,
		"sent_last_24h":  stats.SentLast24h,
		"cycles_run":     status.CyclesRun,
	}
	if status.LastRunAt != nil {
		out["last_cycle_at"] = status.LastRunAt.Format(time.RFC3339)
		out["last_cycle_duration"] = status.LastDuration.String()
	}
	if status.LastError != "" {
		out["last_cycle_error"] = status.LastError
	}

	c.JSON(http.StatusOK, out)
}
