package service

import (
	redisx "github.com/ferbecerra/rifago/internal/redis"
	postgres "github.com/ferbecerra/rifago/internal/repository/postgres"
	redis "github.com/ferbecerra/rifago/internal/repository/redis"
	"github.com/ferbecerra/rifago/internal/service/admin"
	"github.com/ferbecerra/rifago/internal/service/allocation"
	"github.com/ferbecerra/rifago/internal/service/availability"
	"github.com/ferbecerra/rifago/internal/service/purchase"
	"github.com/ferbecerra/rifago/internal/service/reaper"
	"github.com/ferbecerra/rifago/internal/service/reservation"
)

type Services struct {
	Availability *availability.Service
	Reservation  *reservation.Service
	Purchase     *purchase.Service
	Reaper       *reaper.Service
	Admin        *admin.Service
}

type Config struct {
	Availability availability.Config
	Allocation   allocation.Config
	Reservation  reservation.Config
	Purchase     purchase.Config
	Reaper       reaper.Config
}

func NewServices(
	store *postgres.Store,
	cache *redis.Cache,
	pubsub *redisx.RafflesPubSub,
	limiter *redis.SlidingWindowLimiter,
	cfg Config,
) *Services {
	allocator := allocation.New(store, cfg.Allocation)

	return &Services{
		Availability: availability.New(store, cache, cfg.Availability),
		Reservation:  reservation.New(store, allocator, cache, pubsub, limiter, cfg.Reservation),
		Purchase:     purchase.New(store, allocator, cache, pubsub, cfg.Purchase),
		Reaper:       reaper.New(store, cfg.Reaper),
		Admin:        admin.New(store, cache, pubsub),
	}
}
