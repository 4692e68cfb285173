package httpgin

import "time"

type HolderInput struct {
	Name       string `json:"name" binding:"required"`
	NationalID string `json:"national_id" binding:"required"`
	Phone      string `json:"phone"`
	Email      string `json:"email" binding:"omitempty,email"`
}

type CreateReservationRequest struct {
	// Client-generated, globally unique. Retrying the request with the same id
	// replays the first response instead of allocating again.
	ReservationID string      `json:"reservation_id" binding:"required,uuid"`
	Count         int         `json:"count" binding:"required,gt=0"`
	Holder        HolderInput `json:"holder" binding:"required"`
}

type CreateReservationResponse struct {
	ReservationID string    `json:"reservation_id"`
	TicketIDs     []string  `json:"ticket_ids"`
	Numbers       []string  `json:"numbers"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type CancelReservationRequest struct {
	RaffleID  int64    `json:"raffle_id" binding:"required"`
	TicketIDs []string `json:"ticket_ids" binding:"required,min=1,dive,uuid"`
}

type CancelReservationResponse struct {
	Deleted int64 `json:"deleted"`
}

type FinalizeRequest struct {
	AmountCents int    `json:"amount_cents" binding:"required,gt=0"`
	Method      string `json:"method" binding:"required"`
}

type FinalizeResponse struct {
	PaymentID string   `json:"payment_id"`
	Numbers   []string `json:"numbers"`
	Count     int      `json:"count"`
}

type DirectIssueRequest struct {
	Count       int         `json:"count" binding:"required,gt=0"`
	Holder      HolderInput `json:"holder" binding:"required"`
	AmountCents int         `json:"amount_cents" binding:"required,gt=0"`
	Method      string      `json:"method" binding:"required"`
}

type CreateRaffleRequest struct {
	Name        string `json:"name" binding:"required"`
	TotalSlots  int    `json:"total_slots" binding:"required,gt=0"`
	NumberWidth int    `json:"number_width" binding:"required,gt=0"`
	PriceCents  int    `json:"price_cents" binding:"required,gt=0"`
}

type CreateRaffleResponse struct {
	RaffleID int64 `json:"raffle_id"`
}

type SweepResponse struct {
	Reclaimed int64 `json:"reclaimed"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
