// Package signals scores and selects buy candidates from market data.
package signals

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"kis-trader/internal/broker"
	"kis-trader/internal/config"
	"kis-trader/internal/indicators"
	"kis-trader/internal/models"
)

// Signal names, as recorded on each candidate.
const (
	SignalVolumeSurge   = "volume_surge"
	SignalAboveMediumMA = "above_medium_ma"
	SignalGoldenCross   = "golden_cross"
	SignalBreakout      = "volatility_breakout"
	SignalMACDBullish   = "macd_bullish"
	SignalStochasticBuy = "stochastic_buy"
	SignalOBVRising     = "obv_rising"
	SignalNearMASupport = "near_ma_support"
)

// historyDays is how much daily history the scorer needs: enough for the
// slow MACD leg plus its signal line.
const historyDays = 60

// Selector scans the most actively traded stocks and scores each against
// a fixed set of technical signals. Scoring is additive; a candidate
// qualifies when its total reaches the configured minimum.
type Selector struct {
	broker broker.Broker
	cfg    config.SelectorConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewSelector creates a selector over the given market data source.
func NewSelector(b broker.Broker, cfg config.SelectorConfig, logger zerolog.Logger) *Selector {
	return &Selector{broker: b, cfg: cfg, logger: logger, now: time.Now}
}

// Select returns qualifying candidates sorted by score, highest first.
// Candidates whose history cannot be fetched are skipped, not fatal: one
// bad symbol must not abort the scan.
func (s *Selector) Select(ctx context.Context) ([]models.Candidate, error) {
	quotes, err := s.broker.GetTopVolume(ctx, s.cfg.TopVolumeCount)
	if err != nil {
		return nil, err
	}

	candidates := make([]models.Candidate, 0, len(quotes))
	for _, q := range quotes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candles, err := s.broker.GetHistorical(ctx, q.Code, historyDays)
		if err != nil {
			s.logger.Warn().Str("code", q.Code).Err(err).Msg("skipping candidate, history unavailable")
			continue
		}

		score, hits := s.Score(q, candles)
		if score < s.cfg.MinScore {
			continue
		}

		candidates = append(candidates, models.Candidate{
			Code:       q.Code,
			Name:       q.Name,
			Price:      q.Price,
			Volume:     q.Volume,
			Amount:     q.Price * float64(q.Volume),
			ChangePct:  q.ChangePercent,
			Score:      score,
			Signals:    hits,
			SelectedAt: s.now(),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	s.logger.Info().
		Int("scanned", len(quotes)).
		Int("selected", len(candidates)).
		Msg("selection scan complete")
	return candidates, nil
}

// Score evaluates one stock against all signals and returns the total
// plus the per-signal hit map. The quote supplies today's live price and
// volume; the candle series supplies history, most-recent last.
func (s *Selector) Score(q models.Quote, candles []models.Candle) (int, map[string]bool) {
	hits := make(map[string]bool)
	if len(candles) < s.cfg.MediumMAPeriod+1 {
		return 0, hits
	}

	closes := indicators.Closes(candles)
	volumes := indicators.Volumes(candles)
	score := 0

	// Volume surge against the recent average (excluding today's partial bar).
	if avgVol := meanTail(volumes, s.cfg.MediumMAPeriod); avgVol > 0 &&
		float64(q.Volume) >= avgVol*s.cfg.VolumeSurgeThreshold {
		hits[SignalVolumeSurge] = true
		score += 3
	}

	mediumMA, err := indicators.SMA(closes, s.cfg.MediumMAPeriod)
	if err != nil {
		return score, hits
	}
	lastMA := mediumMA[len(mediumMA)-1]

	if q.Price > lastMA {
		hits[SignalAboveMediumMA] = true
		score += 2
	}

	if shortMA, err := indicators.SMA(closes, s.cfg.ShortMAPeriod); err == nil {
		if indicators.CrossedAbove(shortMA, mediumMA) {
			hits[SignalGoldenCross] = true
			score += 3
		}
	}

	prev := candles[len(candles)-1]
	if target := indicators.BreakoutTarget(prev, q.Open, s.cfg.KValue); q.Open > 0 && q.Price > target {
		hits[SignalBreakout] = true
		score += 2
	}

	if macd, err := indicators.MACD(closes, 12, 26, 9); err == nil {
		if indicators.CrossedAbove(macd.MACD, macd.Signal) {
			hits[SignalMACDBullish] = true
			score += 2
		}
	}

	if stoch, err := indicators.Stochastic(candles, 14, 3); err == nil {
		if stochasticBuy(stoch) {
			hits[SignalStochasticBuy] = true
			score += 2
		}
	}

	obv := indicators.OBV(candles)
	if indicators.Rising(obv, 5) {
		hits[SignalOBVRising] = true
		score++
	}

	// Price sitting within 1% above the medium MA reads as support.
	if lastMA > 0 && q.Price >= lastMA && (q.Price-lastMA)/lastMA <= 0.01 {
		hits[SignalNearMASupport] = true
		score++
	}

	return score, hits
}

// stochasticBuy fires on a %K/%D bullish cross in oversold territory, or
// on %K climbing out of oversold.
func stochasticBuy(res *indicators.StochasticResult) bool {
	n := len(res.K)
	if n < 2 {
		return false
	}
	oversold := res.K[n-2] < 20 || res.D[n-2] < 20
	if oversold && indicators.CrossedAbove(res.K, res.D) {
		return true
	}
	return res.K[n-2] < 20 && res.K[n-1] >= 20
}

func meanTail(values []float64, n int) float64 {
	if len(values) < n || n <= 0 {
		return 0
	}
	var sum float64
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n)
}
