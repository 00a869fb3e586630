package rifa

type RaffleStatus string

const (
	RaffleOpen      RaffleStatus = "OPEN"
	RaffleClosed    RaffleStatus = "CLOSED"
	RaffleCompleted RaffleStatus = "COMPLETED"
)

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationProcessed ReservationStatus = "PROCESSED"
	ReservationRejected  ReservationStatus = "REJECTED"
)

var raffleNext = map[RaffleStatus]map[RaffleStatus]bool{
	RaffleOpen:      {RaffleClosed: true},
	RaffleClosed:    {RaffleCompleted: true},
	RaffleCompleted: {},
}

var reservationNext = map[ReservationStatus]map[ReservationStatus]bool{
	ReservationPending:   {ReservationProcessed: true, ReservationRejected: true},
	ReservationProcessed: {},
	ReservationRejected:  {},
}

func CanTransitionRaffle(from, to RaffleStatus) bool {
	return raffleNext[from][to]
}

func CanTransitionReservation(from, to ReservationStatus) bool {
	return reservationNext[from][to]
}

func (s ReservationStatus) Terminal() bool {
	return s == ReservationProcessed || s == ReservationRejected
}

func (s RaffleStatus) Valid() bool {
	_, ok := raffleNext[s]
	return ok
}

func (s ReservationStatus) Valid() bool {
	_, ok := reservationNext[s]
	return ok
}
