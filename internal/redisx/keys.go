package redisx

import "time"

const (
	// Availability snapshot: avail:{raffle_id}:{version} -> JSON array of free numbers
	KeyAvailability = "avail:%s:%d"
	// Availability version counter: avail:ver:{raffle_id}
	KeyAvailabilityVersion = "avail:ver:%s"

	// Reservation status cache: reservation_status:{external_reference} -> JSON
	KeyReservationStatus = "reservation_status:%s"

	// Event dedup: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLAvailability = 30 * time.Second
	// outlives any snapshot so an expired counter cannot resurrect one
	TTLAvailabilityVersion = 24 * time.Hour

	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
