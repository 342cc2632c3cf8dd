package handler

import (
	"log/slog"
	"net/http"

	"github.com/mintair/mintair-cloud/internal/service"
)

// ReferralHandler serves the referral programme summary.
type ReferralHandler struct {
	referrals *service.ReferralService
	logger    *slog.Logger
}

func NewReferralHandler(referrals *service.ReferralService, logger *slog.Logger) *ReferralHandler {
	return &ReferralHandler{referrals: referrals, logger: logger}
}

// HandleSummary returns the user's referral code, earnings, and referrals.
//
// GET /api/referrals
func (h *ReferralHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	summary, err := h.referrals.Summary(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
