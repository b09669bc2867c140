package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/intakevault/internal/common"
	"github.com/dmitrijs2005/intakevault/internal/models"
)

type statusResponse struct {
	SubmissionID string            `json:"submissionId"`
	ScanStatus   models.ScanStatus `json:"scanStatus"`
	Quarantined  bool              `json:"quarantined"`
	ExpiresAt    time.Time         `json:"tokenExpiresAt"`
}

// Status reports the scan status of the submission named by the token.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	grant, err := h.tokens.Parse(r.URL.Query().Get("token"))
	switch {
	case errors.Is(err, common.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "TokenExpired")
		return
	case err != nil:
		writeError(w, http.StatusUnauthorized, "InvalidToken")
		return
	}

	res, err := h.tracker.Check(r.Context(), grant.Location)
	if errors.Is(err, common.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NotFound")
		return
	}
	if err != nil {
		h.logger.Error(r.Context(), "status check failed", "submission_id", grant.SubmissionID, "error", err)
		writeError(w, http.StatusInternalServerError, "StatusUnavailable")
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		SubmissionID: grant.SubmissionID,
		ScanStatus:   res.Status,
		Quarantined:  res.Quarantined,
		ExpiresAt:    grant.ExpiresAt.UTC(),
	})
}
