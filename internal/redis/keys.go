package redisx

import "fmt"

const ns = "rifago:v1"

func KeyRaffleSummary(raffleID int64) string {
	return fmt.Sprintf("%s:raffle:%d:summary", ns, raffleID)
}

func KeyRaffleStats(raffleID int64) string {
	return fmt.Sprintf("%s:raffle:%d:stats", ns, raffleID)
}

func KeyRaffleNumbers(raffleID int64) string {
	return fmt.Sprintf("%s:raffle:%d:numbers", ns, raffleID)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func ChannelRafflesChanged() string {
	return ns + ":raffles:changed"
}
