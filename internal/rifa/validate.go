package rifa

import (
	"math"
	"strings"
)

// MaxRaffleSize bounds the number range so availability snapshots stay small
// and Size never overflows.
const MaxRaffleSize = 100_000

// maxAmountCents is the largest amount the INT amount columns hold.
const maxAmountCents = math.MaxInt32

// ValidateSelection checks a ticket choice against the raffle range.
// The order of numbers is preserved by callers; only membership is checked.
func ValidateSelection(r Raffle, numbers []int) error {
	if len(numbers) == 0 {
		return invalid("numbers", "at least one number is required")
	}
	if len(numbers) > r.Size() {
		return invalid("numbers", "%d numbers requested but raffle only has %d", len(numbers), r.Size())
	}
	seen := make(map[int]struct{}, len(numbers))
	for _, n := range numbers {
		if !r.Contains(n) {
			return invalid("numbers", "%d is outside [%d, %d]", n, r.MinNumber, r.MaxNumber)
		}
		if _, dup := seen[n]; dup {
			return invalid("numbers", "%d is repeated", n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

func ValidateContact(c Contact) error {
	if strings.TrimSpace(c.Name) == "" {
		return invalid("contact.name", "required")
	}
	if strings.TrimSpace(c.Phone) == "" {
		return invalid("contact.phone", "required")
	}
	return nil
}

// ValidateRaffle is applied to admin input and to every row read back from storage.
func ValidateRaffle(r Raffle) error {
	if strings.TrimSpace(r.Title) == "" {
		return invalid("title", "required")
	}
	if r.MinNumber < 0 {
		return invalid("min_number", "must be >= 0")
	}
	if r.MaxNumber < r.MinNumber {
		return invalid("max_number", "must be >= min_number")
	}
	if r.MaxNumber-r.MinNumber >= MaxRaffleSize {
		return invalid("max_number", "range may hold at most %d numbers", MaxRaffleSize)
	}
	if r.TicketPriceCents <= 0 {
		return invalid("ticket_price_cents", "must be positive")
	}
	// buying the whole range must still fit an amount column
	if r.TicketPriceCents > maxAmountCents/r.Size() {
		return invalid("ticket_price_cents", "price times range size exceeds %d", maxAmountCents)
	}
	if r.Status != "" && !r.Status.Valid() {
		return invalid("status", "unknown status %q", r.Status)
	}
	return nil
}

// Overlap returns the numbers of want that are already in taken.
func Overlap(taken map[int]struct{}, want []int) []int {
	var out []int
	for _, n := range want {
		if _, ok := taken[n]; ok {
			out = append(out, n)
		}
	}
	return out
}
