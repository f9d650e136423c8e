package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/noah-isme/backend-lunch/internal/events"
)

// EventNotifier turns domain events into user notifications.
type EventNotifier struct {
	Target       Notifier
	TopicToggles map[string]bool
}

// TopicToggles enables exactly the listed topics out of events.DefaultTopics.
// An empty list leaves every topic enabled.
func TopicToggles(enabled []string) map[string]bool {
	if len(enabled) == 0 {
		return nil
	}
	toggles := make(map[string]bool, len(events.DefaultTopics()))
	for _, topic := range events.DefaultTopics() {
		toggles[topic] = false
	}
	for _, topic := range enabled {
		toggles[strings.TrimSpace(topic)] = true
	}
	return toggles
}

// Notify implements the events.Notifier interface.
func (n EventNotifier) Notify(ctx context.Context, event events.Event) error {
	if n.Target == nil {
		return nil
	}
	if n.TopicToggles != nil {
		if enabled, ok := n.TopicToggles[event.Topic]; ok && !enabled {
			return nil
		}
	}
	payload := map[string]any{}
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("event notify: decode payload: %w", err)
		}
	}
	note, ok := notificationFor(event.Topic, payload)
	if !ok {
		return nil
	}
	n.Target.Notify(ctx, note)
	return nil
}

func notificationFor(topic string, payload map[string]any) (Notification, bool) {
	switch topic {
	case events.TopicOrderConfirmed:
		note := Success("Bestelling geplaatst!", "")
		if ref := stringField(payload, "reference"); ref != "" {
			note.Description = "Referentie " + ref
		}
		note.Scope = stringField(payload, "cartKey")
		return note, true
	case events.TopicLunchLocationCreated:
		name := stringField(payload, "name")
		note := Success(fmt.Sprintf("Lunch locatie %s toegevoegd", name), "Je collega's kunnen nu hun bestelling plaatsen.")
		note.Scope = "lunch"
		return note, true
	case events.TopicLunchOrderPlaced:
		note := Success("Bestelling geplaatst!", stringField(payload, "orderText"))
		note.Scope = "lunch"
		return note, true
	default:
		return Notification{}, false
	}
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
