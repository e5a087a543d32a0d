package outbox

// Event is the domain event envelope written to the outbox table.
// The topic (Kafka) or queue (AMQP) name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
