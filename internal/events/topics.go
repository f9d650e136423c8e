package events

// Topic constants for domain events emitted by the lunch service.
const (
	TopicOrderConfirmed       = "order.confirmed"
	TopicOrderFailed          = "order.failed"
	TopicLunchLocationCreated = "lunch.location_created"
	TopicLunchOrderPlaced     = "lunch.order_placed"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicOrderConfirmed,
		TopicOrderFailed,
		TopicLunchLocationCreated,
		TopicLunchOrderPlaced,
	}
}
