package utils

import (
	"time"

	"kis-trader/internal/config"
	"kis-trader/internal/models"
)

// KoreaLocation is the timezone for the Korean exchange.
var KoreaLocation *time.Location

func init() {
	var err error
	KoreaLocation, err = time.LoadLocation("Asia/Seoul")
	if err != nil {
		// Fallback to UTC+9
		KoreaLocation = time.FixedZone("KST", 9*60*60)
	}
}

// MarketClock answers session questions for a configured trading window.
type MarketClock struct {
	open       config.Clock
	close      config.Clock
	forceClose config.Clock
}

// NewMarketClock builds a clock from the market-hours configuration.
// The configuration must already be validated.
func NewMarketClock(cfg config.MarketConfig) *MarketClock {
	open, _ := config.ParseClock(cfg.OpenTime)
	cls, _ := config.ParseClock(cfg.CloseTime)
	force, _ := config.ParseClock(cfg.ForceCloseTime)
	return &MarketClock{open: open, close: cls, forceClose: force}
}

// Status returns the market status at the given instant.
func (mc *MarketClock) Status(now time.Time) models.MarketStatus {
	now = now.In(KoreaLocation)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return models.MarketClosed
	}

	minutes := now.Hour()*60 + now.Minute()
	if minutes < mc.open.Minutes() || minutes > mc.close.Minutes() {
		return models.MarketClosed
	}
	if minutes >= mc.forceClose.Minutes() {
		return models.MarketCloseImminent
	}
	return models.MarketOpen
}

// IsOpen reports whether orders may be placed at the given instant.
func (mc *MarketClock) IsOpen(now time.Time) bool {
	s := mc.Status(now)
	return s == models.MarketOpen || s == models.MarketCloseImminent
}

// IsForcedCloseWindow reports whether the end-of-day liquidation boundary
// has been reached.
func (mc *MarketClock) IsForcedCloseWindow(now time.Time) bool {
	return mc.Status(now) == models.MarketCloseImminent
}

// NextOpen returns the next market opening time after now.
func (mc *MarketClock) NextOpen(now time.Time) time.Time {
	now = now.In(KoreaLocation)
	next := time.Date(now.Year(), now.Month(), now.Day(),
		mc.open.Minutes()/60, mc.open.Minutes()%60, 0, 0, KoreaLocation)
	if !now.Before(next) {
		next = next.AddDate(0, 0, 1)
	}
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// SameTradingDay reports whether two instants fall on the same calendar day
// in exchange-local time. Used for the daily P&L rollover.
func SameTradingDay(a, b time.Time) bool {
	a, b = a.In(KoreaLocation), b.In(KoreaLocation)
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
