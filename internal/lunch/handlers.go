package lunch

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-lunch/internal/common"
	"github.com/noah-isme/backend-lunch/internal/notify"
	"github.com/noah-isme/backend-lunch/internal/obs"
)

// Handler exposes lunch trips over HTTP.
type Handler struct {
	svc      *Service
	notifier notify.Notifier
	log      zerolog.Logger
}

// NewHandler constructs a Handler. Validation failures are reported to
// notifier as error notifications scoped to "lunch".
func NewHandler(svc *Service, notifier notify.Notifier, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, notifier: notify.OrNop(notifier), log: log}
}

// Routes mounts the lunch endpoints under /lunch.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/lunch/locations", func(r chi.Router) {
		r.Get("/", h.ListLocations)
		r.Post("/", h.CreateLocation)
		r.Get("/{id}/orders", h.ListOrders)
		r.Post("/{id}/orders", h.PlaceOrder)
	})
}

type locationView struct {
	Location
	Orders []Order `json:"orders"`
}

// ListLocations returns today's locations together with their orders.
func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	locs, err := h.svc.Locations(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]locationView, 0, len(locs))
	for _, loc := range locs {
		orders, err := h.svc.Orders(r.Context(), loc.ID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		out = append(out, locationView{Location: loc, Orders: orders})
	}
	common.Data(w, http.StatusOK, out)
}

// CreateLocation announces a pickup location.
func (h *Handler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var in NewLocation
	if err := common.DecodeJSON(r, &in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	in.CreatedBy = r.Header.Get(obs.UserHeader)
	loc, err := h.svc.CreateLocation(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusCreated, loc)
}

// ListOrders returns the orders of one location.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.Orders(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, orders)
}

// PlaceOrder adds the caller's order to a location.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var in NewOrder
	if err := common.DecodeJSON(r, &in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	in.UserName = r.Header.Get(obs.UserHeader)
	o, err := h.svc.PlaceOrder(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusCreated, o)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		note := notify.Error(verr.Message, "")
		note.Scope = "lunch"
		h.notifier.Notify(r.Context(), note)
		common.WriteAppError(w, common.ValidationFailed(verr.Message, map[string]string{"field": verr.Field}))
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "lunch location not found", nil)
	default:
		h.log.Error().Err(err).Msg("lunch: unexpected error")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
