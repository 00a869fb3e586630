package rifa

const (
	TopicReservationCreated  = "rifa.reservation.created"
	TopicEntryConfirmed      = "rifa.entry.confirmed"
	TopicReservationRejected = "rifa.reservation.rejected"
	TopicRaffleLifecycle     = "rifa.raffle.lifecycle"
)

// TopicFor maps an event type to the topic it is published on.
func TopicFor(eventType string) string {
	switch eventType {
	case EventReservationCreated:
		return TopicReservationCreated
	case EventEntryConfirmed:
		return TopicEntryConfirmed
	case EventReservationRejected:
		return TopicReservationRejected
	default:
		return TopicRaffleLifecycle
	}
}

// Partition key = raffle_id, so every event of one raffle keeps its order.
func PartitionKey(raffleID string) []byte { return []byte(raffleID) }
