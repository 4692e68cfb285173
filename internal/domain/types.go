package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type TicketState string

const (
	TicketReserved TicketState = "reserved"
	TicketPaid     TicketState = "paid"
	TicketVerified TicketState = "verified"
	TicketCanceled TicketState = "canceled"
)

type RaffleStatus string

const (
	RaffleOpen   RaffleStatus = "open"
	RaffleClosed RaffleStatus = "closed"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentVerified PaymentStatus = "verified"
	PaymentRejected PaymentStatus = "rejected"
)

type Raffle struct {
	ID          int64
	Name        string
	TotalSlots  int // numbering space is [0, TotalSlots)
	NumberWidth int // zero-padded digit count
	PriceCents  int
	Status      RaffleStatus
	CreatedAt   time.Time
}

// FormatNumber renders n at the raffle's digit width ("7" -> "0007" at width 4).
func (r Raffle) FormatNumber(n int) string {
	return fmt.Sprintf("%0*d", r.NumberWidth, n)
}

// Holder is the buyer identity snapshot frozen onto tickets at allocation time.
type Holder struct {
	Name       string
	NationalID string
	Phone      string
	Email      string
}

type Ticket struct {
	ID            uuid.UUID
	RaffleID      int64
	Number        string // fixed-width numeric string, unique per raffle
	Holder        Holder
	State         TicketState
	ReservationID uuid.UUID
	ExpiresAt     *time.Time // nil once paid, and for direct-issued tickets
	PaymentID     *uuid.UUID
	CreatedAt     time.Time
}

type Payment struct {
	ID            uuid.UUID
	ReservationID *uuid.UUID // nil for admin direct-issue payments
	AmountCents   int
	Method        string
	Status        PaymentStatus
	CreatedAt     time.Time
}

type RaffleCounts struct {
	Total            int64   `json:"total"`
	Occupied         int64   `json:"occupied"`
	Available        int64   `json:"available"`
	PercentAvailable float64 `json:"percent_available"`
}

// ReservationStatus is the read-side view a countdown UI polls.
type ReservationStatus struct {
	ReservationID uuid.UUID  `json:"reservation_id"`
	Live          bool       `json:"live"`
	TicketCount   int64      `json:"ticket_count"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}
