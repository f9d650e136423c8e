package cart

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-lunch/internal/catalog"
	"github.com/noah-isme/backend-lunch/internal/common"
	"github.com/noah-isme/backend-lunch/internal/notify"
	"github.com/noah-isme/backend-lunch/internal/order"
)

// Handler wires carts to HTTP.
type Handler struct {
	carts    *Manager
	catalog  *catalog.Catalog
	notifier notify.Notifier
	validate *validator.Validate
	log      zerolog.Logger
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Carts    *Manager
	Catalog  *catalog.Catalog
	Notifier notify.Notifier
	Log      zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		carts:    cfg.Carts,
		catalog:  cfg.Catalog,
		notifier: notify.OrNop(cfg.Notifier),
		validate: newValidator(),
		log:      cfg.Log,
	}
}

// Routes mounts the cart endpoints under /carts/{cartKey}. Checkout is
// mounted separately through checkout so callers can wrap it with extra
// middleware such as idempotency.
func (h *Handler) Routes(r chi.Router, checkout ...func(http.Handler) http.Handler) {
	r.Route("/carts/{cartKey}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Clear)
		r.Post("/items", h.AddItem)
		r.Patch("/items/{itemId}", h.UpdateItem)
		r.Delete("/items/{itemId}", h.RemoveItem)
		r.With(checkout...).Post("/checkout", h.Checkout)
	})
}

type addItemRequest struct {
	MenuItemID      string           `json:"menuItemId" validate:"required"`
	Quantity        int              `json:"quantity" validate:"gte=1,lte=99"`
	SelectedOptions []SelectedOption `json:"selectedOptions"`
}

type updateItemRequest struct {
	Quantity *int `json:"quantity" validate:"required,lte=99"`
}

func (h *Handler) store(w http.ResponseWriter, r *http.Request) (*Store, bool) {
	if h.carts == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return nil, false
	}
	s, err := h.carts.Get(r.Context(), chi.URLParam(r, "cartKey"))
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return s, true
}

// Get returns the cart contents with subtotal and count.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	common.Data(w, http.StatusOK, s.View())
}

// AddItem validates the selection against the menu, prices it and adds it.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	if h.catalog == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog not configured", nil)
		return
	}
	payload := addItemRequest{Quantity: 1}
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		h.rejectInput(w, r, s, "Ongeldige bestelling", validationDetails(err))
		return
	}
	item, found := h.catalog.ItemByID(payload.MenuItemID)
	if !found {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "menu item not found", nil)
		return
	}
	if err := catalog.ValidateSelection(item, payload.SelectedOptions); err != nil {
		h.rejectInput(w, r, s, fmt.Sprintf("Controleer je keuzes voor %s", item.Name), err)
		return
	}
	resolved, err := h.catalog.Resolve(item.ID, payload.SelectedOptions)
	if err != nil {
		h.writeError(w, err)
		return
	}
	line := s.Add(r.Context(), LineItem{
		MenuItemID:      item.ID,
		Name:            item.Name,
		Price:           resolved.UnitPrice,
		Quantity:        payload.Quantity,
		SelectedOptions: resolved.Selections,
	})
	common.Data(w, http.StatusCreated, map[string]any{"item": line, "cart": s.View()})
}

// UpdateItem sets the quantity of a line; zero removes it.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	var payload updateItemRequest
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		h.rejectInput(w, r, s, "Ongeldig aantal", validationDetails(err))
		return
	}
	if !s.SetQuantity(r.Context(), chi.URLParam(r, "itemId"), *payload.Quantity) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "cart item not found", nil)
		return
	}
	common.Data(w, http.StatusOK, s.View())
}

// RemoveItem deletes a line. Removing an unknown line is not an error.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	s.Remove(r.Context(), chi.URLParam(r, "itemId"))
	common.Data(w, http.StatusOK, s.View())
}

// Clear empties the cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	s.Clear(r.Context())
	common.Data(w, http.StatusOK, s.View())
}

const msgEmptyCart = "Je bestelling is leeg. Voeg items toe om te bestellen."

// Checkout submits the cart and returns the order snapshot. Ordering an empty
// cart is refused here, at the HTTP boundary; the store itself accepts it.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	if s.Len() == 0 {
		note := notify.Error(msgEmptyCart, "")
		note.Scope = s.cfg.Scope
		h.notifier.Notify(r.Context(), note)
		common.JSONError(w, http.StatusBadRequest, "EMPTY_CART", "cart is empty", nil)
		return
	}
	snap, err := s.Checkout(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, snap)
}

// rejectInput reports a validation failure to the user and the client. Such
// input never reaches the store.
func (h *Handler) rejectInput(w http.ResponseWriter, r *http.Request, s *Store, message string, details any) {
	note := notify.Error(message, describe(details))
	note.Scope = s.cfg.Scope
	h.notifier.Notify(r.Context(), note)
	common.WriteAppError(w, common.ValidationFailed(message, details))
}

func describe(details any) string {
	switch d := details.(type) {
	case *catalog.SelectionError:
		parts := make([]string, 0, len(d.Problems))
		for _, p := range d.Problems {
			name := p.Name
			if name == "" {
				name = p.OptionID
			}
			switch p.Reason {
			case catalog.ReasonRequired:
				parts = append(parts, name+" is verplicht")
			case catalog.ReasonTooMany:
				parts = append(parts, fmt.Sprintf("maximaal %d keuzes voor %s", p.Max, name))
			default:
				parts = append(parts, "onbekende keuze voor "+name)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]string:
		parts := make([]string, 0, len(d))
		for field, tag := range d {
			parts = append(parts, field+": "+tag)
		}
		sort.Strings(parts)
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationDetails(err error) map[string]string {
	out := map[string]string{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			out[fe.Field()] = fe.Tag()
		}
	}
	return out
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if err == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
		return
	}
	if common.WriteAppError(w, err) {
		return
	}
	switch {
	case errors.Is(err, ErrInvalidCartKey):
		common.JSONError(w, http.StatusBadRequest, "INVALID_CART_KEY", err.Error(), nil)
	case errors.Is(err, catalog.ErrItemNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, ErrCheckoutInProgress):
		common.JSONError(w, http.StatusConflict, "CHECKOUT_IN_PROGRESS", err.Error(), nil)
	case errors.Is(err, order.ErrPermanent):
		common.JSONError(w, http.StatusUnprocessableEntity, "ORDER_REJECTED", err.Error(), nil)
	case errors.Is(err, order.ErrTransient):
		w.Header().Set("Retry-After", "5")
		common.JSONError(w, http.StatusServiceUnavailable, "ORDER_UNAVAILABLE", err.Error(), map[string]any{"retryable": true})
	default:
		h.log.Error().Err(err).Msg("cart: unexpected error")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
