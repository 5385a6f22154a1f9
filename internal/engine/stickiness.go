package engine

import (
	"time"

	"go.uber.org/zap"

	"fundarb/internal/models"
	"fundarb/pkg/utils"
)

// StickinessVerdict - решение по существующей связке
type StickinessVerdict string

const (
	VerdictKeep    StickinessVerdict = "keep"
	VerdictClose   StickinessVerdict = "close"
	VerdictReplace StickinessVerdict = "replace"
)

// StickinessConfig - пороги удержания позиций
type StickinessConfig struct {
	// CloseThresholdAPY - годовая доходность, ниже которой связка
	// кандидат на закрытие
	CloseThresholdAPY float64
	// MinHoldPeriods - минимальное удержание в периодах финансирования
	MinHoldPeriods int
	// ChurnCostMultiple - во сколько раз выигрыш альтернативы должен
	// превышать издержки перекладки
	ChurnCostMultiple float64
}

// StickinessInput - всё, что нужно для решения по одной связке
type StickinessInput struct {
	Pair *models.PositionPair
	// CurrentSpread - текущий спред ставок связки за период;
	// SpreadKnown=false при недоступности любой из ставок
	CurrentSpread float64
	SpreadKnown   bool
	// Alternative - лучшая альтернатива, претендующая на этот капитал
	Alternative *models.Opportunity
	// ChurnCost - оценка разовых издержек закрыть-и-переоткрыть, USD
	ChurnCost float64
}

// Stickiness решает держать-закрыть-заменить для связок, которые
// новый раунд аллокации хочет вытеснить. Позиции дорого открывать,
// поэтому сомнения трактуются в пользу удержания.
type Stickiness struct {
	cfg StickinessConfig
	log *utils.Logger
}

// NewStickiness создаёт оценщик
func NewStickiness(cfg StickinessConfig, log *utils.Logger) *Stickiness {
	if cfg.ChurnCostMultiple <= 0 {
		cfg.ChurnCostMultiple = 2
	}
	return &Stickiness{cfg: cfg, log: log.WithComponent("stickiness")}
}

// Evaluate выносит вердикт по одной связке
func (s *Stickiness) Evaluate(in StickinessInput) StickinessVerdict {
	// Нет данных - нет действий
	if !in.SpreadKnown {
		s.log.Debug("спред связки неизвестен, держим",
			zap.String("key", in.Pair.Key()))
		return VerdictKeep
	}

	currentAPY := models.AnnualizeSpread(in.CurrentSpread)

	// Стоп-лосс: спред развернулся сильнее двойного порога
	if currentAPY <= -2*s.cfg.CloseThresholdAPY {
		s.log.Info("стоп-лосс связки",
			zap.String("key", in.Pair.Key()),
			zap.Float64("current_apy", currentAPY))
		return VerdictClose
	}

	minHold := time.Duration(float64(s.cfg.MinHoldPeriods)*24/models.FundingPeriodsPerDay) * time.Hour
	held := time.Since(in.Pair.OpenedAt())
	if held < minHold {
		if currentAPY < s.cfg.CloseThresholdAPY {
			return VerdictClose
		}
		return VerdictKeep
	}

	// Ровно на пороге после минимального удержания - закрытие
	if currentAPY > s.cfg.CloseThresholdAPY {
		if s.alternativeJustifiesChurn(in, currentAPY) {
			s.log.Info("альтернатива окупает перекладку",
				zap.String("key", in.Pair.Key()),
				zap.String("alternative", in.Alternative.Key()),
				zap.Float64("current_apy", currentAPY),
				zap.Float64("alternative_apy", in.Alternative.ExpectedAPY))
			return VerdictReplace
		}
		return VerdictKeep
	}

	// Доходность ниже порога после минимального удержания
	return VerdictClose
}

// alternativeJustifiesChurn проверяет, превышает ли выигрыш
// альтернативы издержки перекладки с запасом
func (s *Stickiness) alternativeJustifiesChurn(in StickinessInput, currentAPY float64) bool {
	if in.Alternative == nil {
		return false
	}
	if in.ChurnCost <= 0 {
		return in.Alternative.ExpectedAPY > currentAPY
	}

	notional := in.Pair.Notional()
	if notional <= 0 {
		return false
	}

	// Выигрыш за год в долларах против разовых издержек перекладки
	gain := (in.Alternative.ExpectedAPY - currentAPY) * notional
	return gain > s.cfg.ChurnCostMultiple*in.ChurnCost
}
