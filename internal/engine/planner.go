package engine

import (
	"math"
	"time"

	"go.uber.org/zap"

	"fundarb/internal/models"
	"fundarb/internal/venue"
	"fundarb/pkg/utils"
)

// PlannerConfig - параметры построения планов
type PlannerConfig struct {
	Leverage         float64 // плечо обеих ног
	BalanceUsage     float64 // используемая доля меньшего баланса
	MaxOIShare       float64 // доля меньшего OI, доступная позиции
	MinOpenInterest  float64 // абсолютный порог ликвидности, USD
	MinOrderNotional float64 // минимальный жизнеспособный размер, USD
	PriceImprovement float64 // сдвиг лимитной цены внутрь спреда, доли

	// MaxAmortizationHours - горизонт амортизации разовых издержек.
	// Издержки размазываются на min(точка безубыточности, этот горизонт);
	// это эвристика оценки прибыльности, а не правило учёта.
	MaxAmortizationHours float64
}

// PlanRequest - вход построения плана для одной возможности
type PlanRequest struct {
	Opportunity *models.Opportunity
	Balances    map[string]float64 // биржа -> доступный баланс USD
	NotionalCap float64            // внешний потолок размера, 0 = без потолка

	// Лучшие цены стакана по ногам; нули означают отсутствие данных,
	// тогда используется маркет-цена ± оценка спреда
	LongBid, LongAsk   float64
	ShortBid, ShortAsk float64
}

// Planner строит парные планы исполнения.
//
// Любое нарушение жёсткого ограничения возвращает nil план,
// не ошибку: пропуск возможности - нормальный исход цикла.
type Planner struct {
	cfg  PlannerConfig
	fees *venue.FeeSchedule
	log  *utils.Logger
}

// NewPlanner создаёт построитель планов
func NewPlanner(cfg PlannerConfig, fees *venue.FeeSchedule, log *utils.Logger) *Planner {
	return &Planner{cfg: cfg, fees: fees, log: log.WithComponent("planner")}
}

// fallbackQuotes достраивает лучшие цены из маркет-цены,
// когда стакан недоступен
func fallbackQuotes(mark float64) (bid, ask float64) {
	half := mark * fallbackSpreadFraction / 2
	return mark - half, mark + half
}

// Build строит план или возвращает nil, если возможность
// не проходит жёсткие ограничения
func (p *Planner) Build(req PlanRequest) *models.ExecutionPlan {
	opp := req.Opportunity
	log := p.log.WithSymbol(opp.Symbol)

	longBal, longOk := req.Balances[opp.LongVenue]
	shortBal, shortOk := req.Balances[opp.ShortVenue]
	if !longOk || !shortOk {
		log.Debug("план отклонён: нет баланса одной из бирж",
			zap.String("long_venue", opp.LongVenue),
			zap.String("short_venue", opp.ShortVenue))
		return nil
	}

	// Открытый интерес обязателен на обеих ногах: без прокси
	// ликвидности импакт не оценить
	if opp.LongOpenInterest <= 0 || opp.ShortOpenInterest <= 0 {
		log.Debug("план отклонён: открытый интерес неизвестен")
		return nil
	}
	minOI := math.Min(opp.LongOpenInterest, opp.ShortOpenInterest)
	if minOI < p.cfg.MinOpenInterest {
		log.Debug("план отклонён: открытый интерес ниже порога",
			zap.Float64("min_oi", minOI))
		return nil
	}

	// Размер от капитала: меньший баланс, доля использования, плечо
	notional := math.Min(longBal, shortBal) * p.cfg.BalanceUsage * p.cfg.Leverage
	if req.NotionalCap > 0 {
		notional = math.Min(notional, req.NotionalCap)
	}
	if notional < p.cfg.MinOrderNotional {
		log.Debug("план отклонён: размер ниже минимума",
			zap.Float64("notional", notional))
		return nil
	}

	// Ограничение импакта: не больше доли меньшего OI
	oiCap := minOI * p.cfg.MaxOIShare
	if notional > oiCap {
		notional = oiCap
	}
	if notional < p.cfg.MinOrderNotional {
		log.Debug("план отклонён: размер после усадки по OI ниже минимума",
			zap.Float64("notional", notional))
		return nil
	}

	longBid, longAsk := req.LongBid, req.LongAsk
	if longBid <= 0 || longAsk <= longBid {
		longBid, longAsk = fallbackQuotes(opp.LongMarkPrice)
	}
	shortBid, shortAsk := req.ShortBid, req.ShortAsk
	if shortBid <= 0 || shortAsk <= shortBid {
		shortBid, shortAsk = fallbackQuotes(opp.ShortMarkPrice)
	}

	// Издержки входа: мейкер-комиссии обеих ног плюс проскальзывание
	// отдыхающих лимитных ордеров при фактическом размере
	entryFees := notional*p.fees.MakerFee(opp.LongVenue) + notional*p.fees.MakerFee(opp.ShortVenue)
	slippage := SlippageCost(notional, longBid, longAsk, opp.LongOpenInterest, false) +
		SlippageCost(notional, shortBid, shortAsk, opp.ShortOpenInterest, false)
	oneTimeCost := entryFees + slippage

	// Доход за период с учётом собственного влияния на ставки
	returnPerPeriod := AdjustedSpread(opp, notional) * notional
	if returnPerPeriod <= 0 {
		log.Debug("план отклонён: спред после self-impact не положителен")
		return nil
	}

	netPerPeriod := p.amortizedNet(returnPerPeriod, oneTimeCost)
	if netPerPeriod <= 0 {
		log.Debug("план отклонён: чистый доход за период не положителен",
			zap.Float64("return_per_period", returnPerPeriod),
			zap.Float64("one_time_cost", oneTimeCost))
		return nil
	}

	// Размер в базовых единицах одинаков на обеих ногах
	midPrice := (opp.LongMarkPrice + opp.ShortMarkPrice) / 2
	if midPrice <= 0 {
		return nil
	}
	baseSize := notional / midPrice

	// Отдыхающие лимитные ордера чуть внутри спреда: добавляем
	// ликвидность, не пересекая стакан
	longPrice := longBid * (1 + p.cfg.PriceImprovement)
	if longPrice >= longAsk {
		longPrice = longBid
	}
	shortPrice := shortAsk * (1 - p.cfg.PriceImprovement)
	if shortPrice <= shortBid {
		shortPrice = shortAsk
	}

	return &models.ExecutionPlan{
		Opportunity: opp,
		LongOrder: models.OrderIntent{
			Venue:       opp.LongVenue,
			Symbol:      opp.Symbol,
			Side:        venue.SideBuy,
			Price:       longPrice,
			Size:        baseSize,
			TimeInForce: models.TIFGoodTillCancelled,
		},
		ShortOrder: models.OrderIntent{
			Venue:       opp.ShortVenue,
			Symbol:      opp.Symbol,
			Side:        venue.SideSell,
			Price:       shortPrice,
			Size:        baseSize,
			TimeInForce: models.TIFGoodTillCancelled,
		},
		BaseSize: baseSize,
		Notional: notional,
		Costs: models.CostBreakdown{
			EntryFees: entryFees,
			Slippage:  slippage,
			Total:     oneTimeCost,
		},
		NetReturnPerPeriod: netPerPeriod,
		CreatedAt:          time.Now(),
	}
}

// amortizedNet размазывает разовые издержки на горизонт
// min(точка безубыточности, MaxAmortizationHours) и возвращает
// чистый доход за один период финансирования
func (p *Planner) amortizedNet(returnPerPeriod, oneTimeCost float64) float64 {
	periodHours := 24.0 / models.FundingPeriodsPerDay

	breakEvenHours := utils.BreakEvenPeriods(oneTimeCost, returnPerPeriod) * periodHours
	amortHours := math.Min(p.cfg.MaxAmortizationHours, math.Ceil(breakEvenHours))
	if amortHours <= 0 {
		amortHours = periodHours
	}

	amortPeriods := amortHours / periodHours
	return returnPerPeriod - oneTimeCost/amortPeriods
}
