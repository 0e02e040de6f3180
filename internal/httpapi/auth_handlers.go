package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"docvault.org/internal/obs"
	"docvault.org/internal/token"
)

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

type stepUpResponse struct {
	StepUpToken string    `json:"step_up_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// handleRefresh rotates a refresh token: the presented token is
// verified, revoked for its remaining lifetime, and replaced together
// with a fresh access token. The session id survives rotation so a
// replayed predecessor stays attributable to the session.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	raw := strings.TrimSpace(req.RefreshToken)
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	claims, err := a.cfg.Codec.Verify(raw, token.KindRefresh)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}
	revoked, err := a.cfg.Revocations.IsRevoked(r.Context(), raw)
	if err != nil {
		obs.Logger().WithError(err).Error("revocation check failed")
		writeError(w, r, http.StatusInternalServerError, "authorization check failed")
		return
	}
	if revoked {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}

	// Retire the old token before handing out its successor.
	if err := a.cfg.Revocations.Revoke(r.Context(), raw, a.cfg.RefreshTTL); err != nil {
		obs.Logger().WithError(err).Error("refresh token revocation failed")
		writeError(w, r, http.StatusInternalServerError, "authorization check failed")
		return
	}

	carried := token.Claims{
		Role:         claims.Role,
		Department:   claims.Department,
		Organization: claims.Organization,
		SessionID:    claims.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: claims.Subject,
		},
	}

	access, accessExp, err := a.cfg.Codec.Issue(token.KindAccess, carried, a.cfg.AccessTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token issue failed")
		return
	}
	refresh, _, err := a.cfg.Codec.Issue(token.KindRefresh, carried, a.cfg.RefreshTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token issue failed")
		return
	}

	obs.Logger().WithFields(map[string]any{
		"subject": claims.Subject,
		"sid":     claims.SessionID,
	}).Info("refresh token rotated")

	writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    accessExp,
	})
}

// handleLogout revokes the presented access token and, when supplied,
// the session's refresh token. Each digest is held for the maximum
// lifetime of its kind, after which the token has expired on its own.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw, ok := bearerToken(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	claims, err := a.cfg.Codec.Verify(raw, token.KindAccess)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}

	var req logoutRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := a.cfg.Revocations.Revoke(r.Context(), raw, a.cfg.AccessTTL); err != nil {
		obs.Logger().WithError(err).Error("access token revocation failed")
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}
	if refresh := strings.TrimSpace(req.RefreshToken); refresh != "" {
		// Best effort on kind: a malformed companion token is simply
		// ignored, the access revocation above already ends the session.
		if _, err := a.cfg.Codec.Verify(refresh, token.KindRefresh); err == nil {
			if err := a.cfg.Revocations.Revoke(r.Context(), refresh, a.cfg.RefreshTTL); err != nil {
				obs.Logger().WithError(err).Error("refresh token revocation failed")
				writeError(w, r, http.StatusInternalServerError, "logout failed")
				return
			}
		}
	}

	obs.Logger().WithField("subject", claims.Subject).Info("session logged out")
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

// handleStepUp exchanges a valid access token for a short-lived
// step-up token gating destructive operations.
func (a *API) handleStepUp(w http.ResponseWriter, r *http.Request) {
	raw, ok := bearerToken(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	claims, err := a.cfg.Codec.Verify(raw, token.KindAccess)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}
	revoked, err := a.cfg.Revocations.IsRevoked(r.Context(), raw)
	if err != nil {
		obs.Logger().WithError(err).Error("revocation check failed")
		writeError(w, r, http.StatusInternalServerError, "authorization check failed")
		return
	}
	if revoked {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}

	stepUp, exp, err := a.cfg.Codec.Issue(token.KindStepUp, token.Claims{
		Role:         claims.Role,
		Department:   claims.Department,
		Organization: claims.Organization,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: claims.Subject,
		},
	}, a.cfg.StepUpTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token issue failed")
		return
	}

	obs.Logger().WithField("subject", claims.Subject).Info("step-up token issued")
	writeJSON(w, http.StatusOK, stepUpResponse{
		StepUpToken: stepUp,
		ExpiresAt:   exp,
	})
}

// stepUpHeader carries the elevated credential alongside the normal
// bearer on destructive routes.
const stepUpHeader = "X-Step-Up-Token"

// RequireStepUp gates a route behind a step-up token for the same
// subject as the bearer that already passed authorization.
func (a *API) RequireStepUp(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(stepUpHeader))
		if raw == "" {
			writeError(w, r, http.StatusForbidden, "step-up required")
			return
		}
		claims, err := a.cfg.Codec.Verify(raw, token.KindStepUp)
		if err != nil {
			writeError(w, r, http.StatusForbidden, "step-up required")
			return
		}
		bearer, ok := bearerToken(r)
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		bearerClaims, err := a.cfg.Codec.Verify(bearer, token.KindAccess)
		if err != nil || bearerClaims.Subject != claims.Subject {
			writeError(w, r, http.StatusForbidden, "step-up required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
