package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// ReportService defines the archiver methods the report handler requires.
type ReportService interface {
	Archive(ctx context.Context) (string, error)
}

// ReportHandler serves the report archival endpoint.
type ReportHandler struct {
	reports ReportService
	logger  *slog.Logger
}

// NewReportHandler creates a ReportHandler with the given service and logger.
// A nil service disables archival.
func NewReportHandler(reports ReportService, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{
		reports: reports,
		logger:  logger,
	}
}

// ArchiveReport builds a snapshot and uploads it to blob storage.
// POST /api/reports/archive
func (h *ReportHandler) ArchiveReport(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusServiceUnavailable, "report archival is not configured")
		return
	}

	path, err := h.reports.Archive(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: archive failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "archive failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}
