package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/aoikurokawa/zone/internal/domain"
)

const archiveRoot = "archive/"

// ArchiveHandler lists archived objects.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logger.With(slog.String("handler", "archive"))}
}

// ListArchive returns objects under archive/<prefix>.
// GET /api/archive?prefix=predictions/2025-01
func (h *ArchiveHandler) ListArchive(w http.ResponseWriter, r *http.Request) {
	prefix := strings.TrimPrefix(r.URL.Query().Get("prefix"), "/")
	if strings.Contains(prefix, "..") {
		writeError(w, http.StatusBadRequest, "invalid prefix")
		return
	}
	objects, err := h.blobs.List(r.Context(), archiveRoot+strings.TrimPrefix(prefix, archiveRoot))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if objects == nil {
		objects = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": objects})
}
