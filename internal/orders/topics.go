package orders

const (
	TopicOrderCreated    = "order.created"
	TopicOrderConfirmed  = "order.confirmed"
	TopicOrderCancelled  = "order.cancelled"
	TopicOrderOverridden = "order.overridden"
)

var topicByEvent = map[string]string{
	EventOrderCreated:          TopicOrderCreated,
	EventOrderConfirmed:        TopicOrderConfirmed,
	EventOrderCancelled:        TopicOrderCancelled,
	EventOrderStatusOverridden: TopicOrderOverridden,
}

func TopicFor(eventType string) string { return topicByEvent[eventType] }

// Partition key = order_id, so every event of one order stays in order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
