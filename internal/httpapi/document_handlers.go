package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"docvault.org/internal/authz"
	"docvault.org/internal/obs"
)

// DocumentStore is the slice of document storage the HTTP layer needs
// beyond attribute resolution. *authz.PGResourceStore satisfies it.
type DocumentStore interface {
	authz.ResourceStore
	ListByOrganization(ctx context.Context, organization string, limit int) ([]authz.Resource, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

type documentView struct {
	ID           int64  `json:"id"`
	OwnerID      int64  `json:"owner_id"`
	Organization string `json:"organization"`
	Department   string `json:"department,omitempty"`
	Sensitivity  int    `json:"sensitivity"`
}

func viewOf(r authz.Resource) documentView {
	return documentView{
		ID:           r.ID,
		OwnerID:      r.OwnerID,
		Organization: r.Organization,
		Department:   r.Department,
		Sensitivity:  r.Sensitivity,
	}
}

func (a *API) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "document id must be a positive integer")
		return
	}
	doc, err := a.cfg.Resources.Find(r.Context(), id)
	if err != nil {
		obs.Logger().WithError(err).Error("document lookup failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if doc == nil {
		writeError(w, r, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(*doc))
}

type searchResponse struct {
	Organization string         `json:"organization"`
	Items        []documentView `json:"items"`
}

// handleSearchDocuments lists documents within the caller's tenant.
// Tenant scoping comes from the resolved principal, never from the
// request.
func (a *API) handleSearchDocuments(w http.ResponseWriter, r *http.Request) {
	principal := authz.PrincipalFromContext(r.Context())
	if principal == nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	docs, err := a.cfg.Documents.ListByOrganization(r.Context(), principal.Organization, limit)
	if err != nil {
		obs.Logger().WithError(err).Error("document search failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	items := make([]documentView, 0, len(docs))
	for _, d := range docs {
		items = append(items, viewOf(d))
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Organization: principal.Organization,
		Items:        items,
	})
}

func (a *API) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "document id must be a positive integer")
		return
	}
	deleted, err := a.cfg.Documents.Delete(r.Context(), id)
	if err != nil {
		obs.Logger().WithError(err).Error("document delete failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if !deleted {
		writeError(w, r, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": id})
}
