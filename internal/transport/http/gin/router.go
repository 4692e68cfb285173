package httpgin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ferbecerra/rifago/internal/domain"
	"github.com/ferbecerra/rifago/internal/repository"
	redisrepo "github.com/ferbecerra/rifago/internal/repository/redis"
	"github.com/ferbecerra/rifago/internal/service"
	"github.com/ferbecerra/rifago/internal/service/admin"
	"github.com/ferbecerra/rifago/internal/service/allocation"
	"github.com/ferbecerra/rifago/internal/service/availability"
	"github.com/ferbecerra/rifago/internal/service/purchase"
	"github.com/ferbecerra/rifago/internal/service/reservation"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type RouterConfig struct {
	// MaxPerPurchase bounds count on reservation and direct-issue requests.
	// The allocator itself enforces no business cap; this boundary does.
	MaxPerPurchase int
}

func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	logger *slog.Logger,
	cfg RouterConfig,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	if cfg.MaxPerPurchase <= 0 {
		cfg.MaxPerPurchase = 250
	}

	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public API
	r.GET("/raffles/:id", handleGetRaffle(svcs))
	r.GET("/raffles/:id/availability", handleGetAvailability(svcs))
	r.GET("/raffles/:id/numbers", handleListAvailableNumbers(svcs))

	r.POST("/raffles/:id/reservations", handleCreateReservation(svcs, idem, cfg))
	r.POST("/reservations/cancel", handleCancelReservation(svcs))
	r.GET("/reservations/:id", handleReservationStatus(svcs))
	r.POST("/reservations/:id/finalize", handleFinalize(svcs))

	// Admin-API
	// TODO: add admin middleware
	adm := r.Group("/admin")
	{
		adm.GET("/raffles", handleListRaffles(svcs))
		adm.POST("/raffles", handleCreateRaffle(svcs))
		adm.POST("/raffles/:id/close", handleCloseRaffle(svcs))
		adm.POST("/raffles/:id/tickets", handleDirectIssue(svcs, cfg))
		adm.POST("/reaper/run", handleRunReaper(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Get raffle
// @Param    id  path  int  true  "Raffle ID"
// @Success  200  {object}  domain.Raffle
// @Failure  404  {object}  ErrorResponse
// @Router   /raffles/{id} [get]
func handleGetRaffle(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		raffleID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		raf, err := svcs.Availability.Raffle(c.Request.Context(), raffleID)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 60s
		writeJSONWithCache(c, http.StatusOK, raf, "public, max-age=60", true)
	}
}

// @Summary  Availability counters for the live buyer page
// @Param    id  path  int  true  "Raffle ID"
// @Success  200  {object}  domain.RaffleCounts
// @Router   /raffles/{id}/availability [get]
func handleGetAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		raffleID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		cnt, err := svcs.Availability.Stats(c.Request.Context(), raffleID)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 5s: these counters move constantly
		writeJSONWithCache(c, http.StatusOK, cnt, "public, max-age=5", true)
	}
}

// @Summary  List available numbers
// @Param    id     path   int  true  "Raffle ID"
// @Param    limit  query  int  false "page size"
// @Param    offset query  int  false "offset"
// @Success  200  {array}  string
// @Router   /raffles/{id}/numbers [get]
func handleListAvailableNumbers(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		raffleID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		limit := parseIntDefault(c.Query("limit"), 1000)
		offset := parseIntDefault(c.Query("offset"), 0)

		numbers, err := svcs.Availability.AvailableNumbers(c.Request.Context(), raffleID)
		if err != nil {
			respondErr(c, err)
			return
		}

		if offset > len(numbers) {
			offset = len(numbers)
		}
		end := min(offset+limit, len(numbers))

		writeJSONWithCache(c, http.StatusOK, numbers[offset:end], "public, max-age=5", true)
	}
}

// @Summary  Create reservation (idempotent by reservation id)
// @Param    id  path  int  true  "Raffle ID"
// @Param    req body  CreateReservationRequest true "payload"
// @Success  201 {object} CreateReservationResponse
// @Failure  400 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "not enough numbers / contention / in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /raffles/{id}/reservations [post]
func handleCreateReservation(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	cfg RouterConfig,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		raffleID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req CreateReservationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if req.Count > cfg.MaxPerPurchase {
			badRequest(c, "count exceeds maximum per purchase")
			return
		}

		reservationID, err := uuid.Parse(req.ReservationID)
		if err != nil || reservationID == uuid.Nil {
			badRequest(c, "invalid reservation_id")
			return
		}

		var idemStorageKey string
		if idem != nil {
			idemStorageKey = redisrepo.KeyIdemReservation(raffleID, reservationID)

			if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
				c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
				return
			}

			locked, err := idem.AcquireLock(c.Request.Context(), idemStorageKey, 60*time.Second)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
					c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "reservation id in progress"})
				return
			}
		}

		rlKey := "ip:" + c.ClientIP()

		result, err := svcs.Reservation.Create(
			c.Request.Context(),
			raffleID,
			req.Count,
			reservationID,
			domain.Holder{
				Name:       req.Holder.Name,
				NationalID: req.Holder.NationalID,
				Phone:      req.Holder.Phone,
				Email:      req.Holder.Email,
			},
			rlKey,
		)
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			if isRateLimitedErr(err) {
				c.Header("Retry-After", "60")
				c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: err.Error()})
				return
			}
			respondErr(c, err)
			return
		}

		resp := CreateReservationResponse{
			ReservationID: reservationID.String(),
			ExpiresAt:     result.ExpiresAt,
		}
		for _, t := range result.Tickets {
			resp.TicketIDs = append(resp.TicketIDs, t.ID.String())
			resp.Numbers = append(resp.Numbers, t.Number)
		}

		if idemStorageKey != "" && idem != nil {
			b, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary  Cancel reservation tickets (idempotent)
// @Param    req body  CancelReservationRequest true "payload"
// @Success  200 {object} CancelReservationResponse
// @Router   /reservations/cancel [post]
func handleCancelReservation(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CancelReservationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		ids := make([]uuid.UUID, 0, len(req.TicketIDs))
		for _, s := range req.TicketIDs {
			id, err := uuid.Parse(s)
			if err != nil {
				badRequest(c, "invalid ticket id: "+s)
				return
			}
			ids = append(ids, id)
		}

		deleted, err := svcs.Reservation.Cancel(c.Request.Context(), req.RaffleID, ids)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, CancelReservationResponse{Deleted: deleted})
	}
}

// @Summary  Reservation status for countdown UIs
// @Param    id  path  string  true  "Reservation ID (uuid)"
// @Success  200 {object} domain.ReservationStatus
// @Failure  404 {object} ErrorResponse
// @Router   /reservations/{id} [get]
func handleReservationStatus(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		reservationID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			badRequest(c, "invalid reservation id")
			return
		}

		status, err := svcs.Reservation.Status(c.Request.Context(), reservationID)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, status)
	}
}

// @Summary  Finalize a live reservation with a payment
// @Param    id  path  string  true  "Reservation ID (uuid)"
// @Param    req body  FinalizeRequest true "payload"
// @Success  201 {object} FinalizeResponse
// @Failure  409 {object} ErrorResponse "expired / already finalized"
// @Router   /reservations/{id}/finalize [post]
func handleFinalize(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		reservationID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			badRequest(c, "invalid reservation id")
			return
		}

		var req FinalizeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		result, err := svcs.Purchase.Finalize(c.Request.Context(), reservationID, req.AmountCents, req.Method)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, finalizeResponse(result))
	}
}

// @Summary  List raffles
// @Param    limit  query  int  false "page size"
// @Param    offset query  int  false "offset"
// @Success  200 {array} domain.Raffle
// @Router   /admin/raffles [get]
func handleListRaffles(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := parseIntDefault(c.Query("limit"), 100)
		offset := parseIntDefault(c.Query("offset"), 0)

		raffles, err := svcs.Admin.ListRaffles(c.Request.Context(), limit, offset)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, raffles)
	}
}

// @Summary  Create raffle
// @Param    req body  CreateRaffleRequest true "payload"
// @Success  201 {object} CreateRaffleResponse
// @Router   /admin/raffles [post]
func handleCreateRaffle(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRaffleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		id, err := svcs.Admin.CreateRaffle(
			c.Request.Context(),
			req.Name,
			req.TotalSlots,
			req.NumberWidth,
			req.PriceCents,
		)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, CreateRaffleResponse{RaffleID: id})
	}
}

// @Summary  Close raffle
// @Param    id  path  int  true  "Raffle ID"
// @Success  204
// @Router   /admin/raffles/{id}/close [post]
func handleCloseRaffle(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		raffleID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		if err := svcs.Admin.CloseRaffle(c.Request.Context(), raffleID); err != nil {
			respondErr(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// @Summary  Direct-issue tickets (admin mint, paid immediately)
// @Param    id  path  int  true  "Raffle ID"
// @Param    req body  DirectIssueRequest true "payload"
// @Success  201 {object} FinalizeResponse
// @Router   /admin/raffles/{id}/tickets [post]
func handleDirectIssue(svcs *service.Services, cfg RouterConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		raffleID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		var req DirectIssueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if req.Count > cfg.MaxPerPurchase {
			badRequest(c, "count exceeds maximum per purchase")
			return
		}

		result, err := svcs.Purchase.DirectIssue(
			c.Request.Context(),
			raffleID,
			req.Count,
			domain.Holder{
				Name:       req.Holder.Name,
				NationalID: req.Holder.NationalID,
				Phone:      req.Holder.Phone,
				Email:      req.Holder.Email,
			},
			req.AmountCents,
			req.Method,
		)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, finalizeResponse(result))
	}
}

// @Summary  Run the expiration reaper now
// @Success  200 {object} SweepResponse
// @Router   /admin/reaper/run [post]
func handleRunReaper(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		reclaimed, err := svcs.Reaper.Sweep(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, SweepResponse{Reclaimed: reclaimed})
	}
}

// --- Helpers ---

func finalizeResponse(result *purchase.FinalizeResult) FinalizeResponse {
	resp := FinalizeResponse{
		PaymentID: result.PaymentID.String(),
		Count:     len(result.Tickets),
	}
	for _, t := range result.Tickets {
		resp.Numbers = append(resp.Numbers, t.Number)
	}
	return resp
}

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func isRateLimitedErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "rate limited")
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	switch {
	// availability service
	case errors.Is(err, availability.ErrRaffleNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "raffle not found"})
		return
	// allocation
	case errors.Is(err, allocation.ErrInsufficientAvailability):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "not enough available numbers"})
		return
	case errors.Is(err, allocation.ErrAllocationIncomplete):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusConflict, ErrorResponse{Error: "allocation contention, retry"})
		return
	// reservation service
	case errors.Is(err, reservation.ErrRaffleNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "raffle not found"})
		return
	case errors.Is(err, reservation.ErrRaffleClosed):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "raffle is closed"})
		return
	case errors.Is(err, reservation.ErrReservationNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "reservation not found"})
		return
	case errors.Is(err, reservation.ErrReservationInUse):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "reservation id already in use"})
		return
	// purchase service
	case errors.Is(err, purchase.ErrReservationNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "reservation not found"})
		return
	case errors.Is(err, purchase.ErrReservationExpired):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "reservation expired"})
		return
	case errors.Is(err, purchase.ErrReservationAlreadyFinalized):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "reservation already finalized"})
		return
	case errors.Is(err, purchase.ErrRaffleNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "raffle not found"})
		return
	case errors.Is(err, purchase.ErrRaffleClosed):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "raffle is closed"})
		return
	// admin service
	case errors.Is(err, admin.ErrRaffleConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "raffle conflict"})
		return
	case errors.Is(err, admin.ErrRaffleNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "raffle not found"})
		return
	case errors.Is(err, admin.ErrInvalidNumbering):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "numbering width too small for slot count"})
		return
	// storage
	case errors.Is(err, repository.ErrStorageUnavailable):
		c.Header("Retry-After", "2")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "storage unavailable"})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
