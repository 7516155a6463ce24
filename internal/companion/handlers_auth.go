package companion

import (
	"encoding/json"
	"net/http"

	"github.com/ultragitlab/ultragitlab/internal/applog"
	"github.com/ultragitlab/ultragitlab/internal/companionauth"
)

type verifyPINRequest struct {
	PIN        string `json:"pin"`
	DeviceName string `json:"deviceName"`
}

type verifyPINResponse struct {
	Token string `json:"token"`
}

// handleVerifyPIN checks the submitted PIN, rate-limited per source IP: a
// blocked IP gets 429 before the PIN is even compared, so hammering with
// the correct PIN doesn't bypass the limiter.
func (s *Server) handleVerifyPIN(w http.ResponseWriter, r *http.Request) {
	ip := sourceIP(r)
	if s.auth.RateLimited(ip) {
		writeJSON(w, http.StatusTooManyRequests, errorBody{
			Code:    "UNAUTHORIZED",
			Message: "too many failed attempts, try again later",
		})
		return
	}

	var req verifyPINRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidInput(w, "malformed request body")
		return
	}

	result, err := s.auth.VerifyPIN(r.Context(), ip, req.PIN, req.DeviceName)
	if err != nil {
		applog.Info("companion: failed PIN attempt from %s", ip)
		writeUnauthorized(w, "invalid PIN")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     companionauth.CookieName,
		Value:    result.Token,
		Path:     "/",
		MaxAge:   int(companionauth.SessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, verifyPINResponse{Token: result.Token})
}

// handleQR renders the pairing QR code: an SVG encoding the companion URL
// with the PIN pre-filled, scanned from the phone that wants access.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	cfg := s.settings.Settings().CompanionServer
	if cfg.PIN == "" {
		writeJSON(w, http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: "companion access is not configured"})
		return
	}

	url := companionauth.PairingURL(companionauth.LANIP(), s.port, cfg.PIN)
	svg, err := companionauth.QRSVG(url)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(svg)
}
