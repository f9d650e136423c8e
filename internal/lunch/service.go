package lunch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-lunch/internal/events"
	"github.com/noah-isme/backend-lunch/internal/obs"
)

var fieldMessages = map[string]string{
	"Name":      "Geef een naam op voor de locatie",
	"MyOrder":   "Geef aan wat je gaat bestellen",
	"MenuURL":   "Voer een geldige URL in of laat leeg",
	"OrderText": "Geef je bestelling op",
}

// Config wires the Service dependencies. Store defaults to a MemoryStore and
// Location (the calendar used for "today") to time.Local.
type Config struct {
	Store    Store
	Events   *events.Bus
	Location *time.Location
	Now      func() time.Time
	NewID    func() string
	Log      zerolog.Logger
}

// Service implements lunch trip operations.
type Service struct {
	store    Store
	events   *events.Bus
	loc      *time.Location
	now      func() time.Time
	newID    func() string
	validate *validator.Validate
	log      zerolog.Logger
}

// NewService constructs a Service.
func NewService(cfg Config) *Service {
	s := &Service{
		store:    cfg.Store,
		events:   cfg.Events,
		loc:      cfg.Location,
		now:      cfg.Now,
		newID:    cfg.NewID,
		validate: validator.New(),
		log:      cfg.Log,
	}
	if s.store == nil {
		s.store = NewMemoryStore()
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// CreateLocation announces a new pickup location for today.
func (s *Service) CreateLocation(ctx context.Context, in NewLocation) (Location, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.MenuURL = strings.TrimSpace(in.MenuURL)
	in.MyOrder = strings.TrimSpace(in.MyOrder)
	if err := s.check(in); err != nil {
		return Location{}, err
	}
	loc := Location{
		ID:        s.newID(),
		Name:      in.Name,
		MenuURL:   in.MenuURL,
		CreatedBy: userOrDefault(in.CreatedBy),
		CreatedAt: s.now(),
		MyOrder:   in.MyOrder,
	}
	if err := s.store.AddLocation(ctx, loc); err != nil {
		return Location{}, fmt.Errorf("lunch: add location: %w", err)
	}
	obs.CountLunchActivity("location_created")
	s.emit(ctx, events.TopicLunchLocationCreated, loc.ID, map[string]any{
		"locationId": loc.ID,
		"name":       loc.Name,
		"createdBy":  loc.CreatedBy,
	})
	return loc, nil
}

// Locations returns the locations announced today, oldest first.
func (s *Service) Locations(ctx context.Context) ([]Location, error) {
	all, err := s.store.ListLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("lunch: list locations: %w", err)
	}
	y, m, d := s.now().In(s.loc).Date()
	today := make([]Location, 0, len(all))
	for _, loc := range all {
		ly, lm, ld := loc.CreatedAt.In(s.loc).Date()
		if ly == y && lm == m && ld == d {
			today = append(today, loc)
		}
	}
	return today, nil
}

// PlaceOrder adds an order to an existing location.
func (s *Service) PlaceOrder(ctx context.Context, locationID string, in NewOrder) (Order, error) {
	in.OrderText = strings.TrimSpace(in.OrderText)
	if err := s.check(in); err != nil {
		return Order{}, err
	}
	if _, err := s.location(ctx, locationID); err != nil {
		return Order{}, err
	}
	o := Order{
		ID:         s.newID(),
		LocationID: locationID,
		UserName:   userOrDefault(in.UserName),
		OrderText:  in.OrderText,
		CreatedAt:  s.now(),
	}
	if err := s.store.AddOrder(ctx, o); err != nil {
		return Order{}, fmt.Errorf("lunch: add order: %w", err)
	}
	obs.CountLunchActivity("order_placed")
	s.emit(ctx, events.TopicLunchOrderPlaced, locationID, map[string]any{
		"locationId": locationID,
		"orderId":    o.ID,
		"userName":   o.UserName,
		"orderText":  o.OrderText,
	})
	return o, nil
}

// Orders lists the orders placed against a location.
func (s *Service) Orders(ctx context.Context, locationID string) ([]Order, error) {
	if _, err := s.location(ctx, locationID); err != nil {
		return nil, err
	}
	orders, err := s.store.ListOrders(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("lunch: list orders: %w", err)
	}
	return orders, nil
}

func (s *Service) location(ctx context.Context, id string) (Location, error) {
	loc, ok, err := s.store.Location(ctx, strings.TrimSpace(id))
	if err != nil {
		return Location{}, fmt.Errorf("lunch: get location: %w", err)
	}
	if !ok {
		return Location{}, ErrNotFound
	}
	return loc, nil
}

func (s *Service) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	field := verrs[0].StructField()
	msg, ok := fieldMessages[field]
	if !ok {
		msg = "Ongeldige invoer"
	}
	return &ValidationError{Field: field, Message: msg}
}

func (s *Service) emit(ctx context.Context, topic, aggregateID string, payload map[string]any) {
	if s.events == nil {
		return
	}
	if _, err := s.events.Emit(context.WithoutCancel(ctx), topic, aggregateID, payload); err != nil {
		s.log.Warn().Err(err).Str("topic", topic).Msg("lunch: emit event")
	}
}

func userOrDefault(name string) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return DefaultUserName
}
