package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-lunch/internal/common"
)

// Handler exposes public catalog endpoints.
type Handler struct {
	catalog *Catalog
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Catalog *Catalog
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{catalog: cfg.Catalog}
}

// Routes mounts the catalog endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/categories", h.Categories)
	r.Get("/categories/{id}", h.Category)
	r.Get("/categories/{id}/items", h.CategoryItems)
	r.Get("/items", h.Items)
	r.Get("/items/{id}", h.Item)
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h.catalog == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog not configured", nil)
		return false
	}
	return true
}

// Categories handles GET /api/v1/categories.
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	common.Data(w, http.StatusOK, h.catalog.Categories())
}

// Category handles GET /api/v1/categories/{id}.
func (h *Handler) Category(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	cat, ok := h.catalog.CategoryByID(chi.URLParam(r, "id"))
	if !ok {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "category not found", nil)
		return
	}
	common.Data(w, http.StatusOK, cat)
}

// CategoryItems handles GET /api/v1/categories/{id}/items. Unknown categories
// return an empty list.
func (h *Handler) CategoryItems(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	common.Data(w, http.StatusOK, h.catalog.ItemsByCategory(chi.URLParam(r, "id")))
}

// Items handles GET /api/v1/items, optionally filtered by ?category=.
func (h *Handler) Items(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	if category := r.URL.Query().Get("category"); category != "" {
		common.Data(w, http.StatusOK, h.catalog.ItemsByCategory(category))
		return
	}
	common.Data(w, http.StatusOK, h.catalog.Items())
}

// Item handles GET /api/v1/items/{id}.
func (h *Handler) Item(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	item, ok := h.catalog.ItemByID(chi.URLParam(r, "id"))
	if !ok {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "item not found", nil)
		return
	}
	common.Data(w, http.StatusOK, item)
}
