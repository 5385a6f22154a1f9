package engine

import (
	"math"

	"go.uber.org/zap"

	"fundarb/internal/models"
	"fundarb/internal/venue"
	"fundarb/pkg/utils"
)

// StatsProvider - историческая статистика спредов, используется
// только для сайзинга, никогда для корректности
type StatsProvider interface {
	// WeightedSpread возвращает взвешенный исторический спред пары
	// и признак наличия истории
	WeightedSpread(longVenue, shortVenue, symbol string) (float64, bool, error)

	// StabilityScore возвращает устойчивость спреда в [0, 1]
	StabilityScore(longVenue, shortVenue, symbol string) (float64, error)

	// SampleCount возвращает число наблюдений за окно выборки
	SampleCount(longVenue, shortVenue, symbol string) (int, error)
}

// OptimizerConfig - параметры оптимизатора размера
type OptimizerConfig struct {
	SizeSearchStep       float64 // точность поиска размера, USD
	AllocSearchStep      float64 // точность поиска аллокации, USD
	SearchIterationLimit int     // потолок итераций поиска
	MinNotional          float64 // нижняя граница поиска, USD
	MaxNotional          float64 // верхняя граница поиска, USD
	MinAllocationFloor   float64 // пол аллокации после haircut, USD
	MaxStabilityHaircut  float64 // потолок суммарного урезания
	MaxOIShare           float64 // доля меньшего OI, доступная позиции

	// HoldHorizonHours - предполагаемый срок удержания позиции,
	// по которому амортизируются разовые издержки входа-выхода.
	// Слишком долгая окупаемость наказывается отдельно, через haircut
	HoldHorizonHours float64

	// Целевое окно исторической выборки: 7 дней 8-часовых периодов
	TargetSampleCount int
}

// Optimizer подбирает максимальный размер позиции, при котором
// чистая годовая доходность ещё достигает цели.
//
// Издержки нелинейны по размеру (проскальзывание, self-impact),
// поэтому на каждом кандидате они пересчитываются, не интерполируются.
type Optimizer struct {
	cfg   OptimizerConfig
	stats StatsProvider
	fees  *venue.FeeSchedule
	log   *utils.Logger
}

// NewOptimizer создаёт оптимизатор
func NewOptimizer(cfg OptimizerConfig, stats StatsProvider, fees *venue.FeeSchedule, log *utils.Logger) *Optimizer {
	if cfg.TargetSampleCount <= 0 {
		cfg.TargetSampleCount = 21
	}
	if cfg.HoldHorizonHours <= 0 {
		cfg.HoldHorizonHours = 7 * 24
	}
	return &Optimizer{cfg: cfg, stats: stats, fees: fees, log: log.WithComponent("optimizer")}
}

// ============================================================
// Чистые функции поиска
// ============================================================

// searchMaxFeasible находит наибольший x в [lo, hi], для которого
// feasible(x) == true, бинарным поиском с явными границами.
//
// Предполагается монотонность: если feasible(x) ложно, то ложно и
// для всех больших x. Возвращает 0 если даже lo не проходит.
// Поиск останавливается при сужении интервала до step или
// исчерпании maxIter итераций.
func searchMaxFeasible(lo, hi, step float64, maxIter int, feasible func(float64) bool) float64 {
	if hi < lo || maxIter <= 0 {
		return 0
	}
	if !feasible(lo) {
		return 0
	}
	if feasible(hi) {
		return hi
	}

	best := lo
	for i := 0; i < maxIter && hi-lo > step; i++ {
		mid := (lo + hi) / 2
		if feasible(mid) {
			best = mid
			lo = mid
		} else {
			hi = mid
		}
	}
	return best
}

// ============================================================
// Оценка чистой доходности при кандидатном размере
// ============================================================

// netAPYAt возвращает чистую годовую доходность возможности при
// размере notional: исторический спред с учётом self-impact минус
// амортизированные комиссии входа-выхода и проскальзывание
// в обе стороны
func (o *Optimizer) netAPYAt(opp *models.Opportunity, histSpread, notional float64) float64 {
	if notional <= 0 {
		return 0
	}

	// Self-impact при этом размере поверх исторического спреда
	erosion := opp.Spread - AdjustedSpread(opp, notional)
	spread := histSpread - erosion

	returnPerPeriod := spread * notional
	if returnPerPeriod <= 0 {
		return 0
	}

	// Вход отдыхающими лимитными ордерами, выход по рынку
	longBid, longAsk := fallbackQuotes(opp.LongMarkPrice)
	shortBid, shortAsk := fallbackQuotes(opp.ShortMarkPrice)
	entrySlip := SlippageCost(notional, longBid, longAsk, opp.LongOpenInterest, false) +
		SlippageCost(notional, shortBid, shortAsk, opp.ShortOpenInterest, false)
	exitSlip := SlippageCost(notional, longBid, longAsk, opp.LongOpenInterest, true) +
		SlippageCost(notional, shortBid, shortAsk, opp.ShortOpenInterest, true)

	feeCost := notional*(o.fees.MakerFee(opp.LongVenue)+o.fees.MakerFee(opp.ShortVenue)) +
		notional*(o.fees.TakerFee(opp.LongVenue)+o.fees.TakerFee(opp.ShortVenue))

	oneTime := feeCost + entrySlip + exitSlip

	periodHours := 24.0 / models.FundingPeriodsPerDay
	holdPeriods := o.cfg.HoldHorizonHours / periodHours
	if holdPeriods < 1 {
		holdPeriods = 1
	}
	netPerPeriod := returnPerPeriod - oneTime/holdPeriods

	return utils.AnnualizeRate(netPerPeriod / notional)
}

// breakEvenHoursAt возвращает точку безубыточности в часах
// при размере notional
func (o *Optimizer) breakEvenHoursAt(opp *models.Opportunity, histSpread, notional float64) float64 {
	if notional <= 0 {
		return math.Inf(1)
	}
	erosion := opp.Spread - AdjustedSpread(opp, notional)
	returnPerPeriod := (histSpread - erosion) * notional
	if returnPerPeriod <= 0 {
		return math.Inf(1)
	}

	longBid, longAsk := fallbackQuotes(opp.LongMarkPrice)
	shortBid, shortAsk := fallbackQuotes(opp.ShortMarkPrice)
	oneTime := notional*(o.fees.MakerFee(opp.LongVenue)+o.fees.MakerFee(opp.ShortVenue)+
		o.fees.TakerFee(opp.LongVenue)+o.fees.TakerFee(opp.ShortVenue)) +
		SlippageCost(notional, longBid, longAsk, opp.LongOpenInterest, false) +
		SlippageCost(notional, shortBid, shortAsk, opp.ShortOpenInterest, false) +
		SlippageCost(notional, longBid, longAsk, opp.LongOpenInterest, true) +
		SlippageCost(notional, shortBid, shortAsk, opp.ShortOpenInterest, true)

	periodHours := 24.0 / models.FundingPeriodsPerDay
	return utils.BreakEvenPeriods(oneTime, returnPerPeriod) * periodHours
}

// histSpreadFor возвращает исторический спред пары; при отсутствии
// истории используется мгновенный снимок
func (o *Optimizer) histSpreadFor(opp *models.Opportunity) (spread float64, hasHistory bool) {
	hist, ok, err := o.stats.WeightedSpread(opp.LongVenue, opp.ShortVenue, opp.Symbol)
	if err != nil || !ok {
		return opp.Spread, false
	}
	return hist, true
}

// ============================================================
// Размер одной возможности
// ============================================================

// MaxNotionalForTargetAPY возвращает максимальный размер позиции,
// при котором чистая доходность ещё достигает targetAPY, после
// урезания за нестабильность истории. Ноль означает, что возможность
// не проходит даже на минимальном размере.
func (o *Optimizer) MaxNotionalForTargetAPY(opp *models.Opportunity, targetAPY float64) float64 {
	histSpread, _ := o.histSpreadFor(opp)

	hi := o.cfg.MaxNotional
	minOI := math.Min(opp.LongOpenInterest, opp.ShortOpenInterest)
	if minOI > 0 {
		hi = math.Min(hi, minOI*o.cfg.MaxOIShare)
	}

	raw := searchMaxFeasible(o.cfg.MinNotional, hi, o.cfg.SizeSearchStep, o.cfg.SearchIterationLimit,
		func(n float64) bool {
			return o.netAPYAt(opp, histSpread, n) >= targetAPY
		})
	if raw <= 0 {
		return 0
	}

	stability, err := o.stats.StabilityScore(opp.LongVenue, opp.ShortVenue, opp.Symbol)
	if err != nil {
		stability = 0
	}

	// Урезание за нестабильность и за долгую окупаемость.
	// Потолок окупаемости зависит от устойчивости: стабильному
	// спреду можно дольше отбивать вход.
	haircut := (1 - stability) * 0.5

	ceiling := 24.0
	if stability >= 0.5 {
		ceiling = 48.0
	}
	beHours := o.breakEvenHoursAt(opp, histSpread, raw)
	if beHours > ceiling {
		haircut += math.Min((beHours-ceiling)/ceiling, 1) * 0.5
	}
	if haircut > o.cfg.MaxStabilityHaircut {
		haircut = o.cfg.MaxStabilityHaircut
	}

	adjusted := raw * (1 - haircut)
	if adjusted < o.cfg.MinAllocationFloor {
		adjusted = math.Min(o.cfg.MinAllocationFloor, raw)
	}
	return adjusted
}

// DataQualityRiskFactor урезает аллокацию при бедной истории:
// полное окно выборки даёт 1.0, почти пустая история - 0.3,
// полное отсутствие наблюдений - 0.1. Между порогами линейный рост.
func (o *Optimizer) DataQualityRiskFactor(opp *models.Opportunity) float64 {
	count, err := o.stats.SampleCount(opp.LongVenue, opp.ShortVenue, opp.Symbol)
	if err != nil || count <= 0 {
		return 0.1
	}
	target := o.cfg.TargetSampleCount
	if count >= target {
		return 1.0
	}

	const lowFactor = 0.3
	factor := lowFactor + (1-lowFactor)*float64(count)/float64(target)
	return utils.Clamp(factor, 0.1, 1.0)
}

// ============================================================
// Агрегированная аллокация
// ============================================================

// maxPlausibleSpread - спред за период, выше которого история
// считается артефактом данных, а не рынком
const maxPlausibleSpread = 0.5

// AggregateAllocation - результат распределения капитала
type AggregateAllocation struct {
	// PerOpportunity - аллокация по ключу возможности
	PerOpportunity map[string]float64
	// Total - суммарный размер портфеля
	Total float64
	// Excluded - ключи возможностей, исключённых по качеству данных
	Excluded []string
}

// OptimalAggregateAllocation распределяет totalCapital между
// возможностями так, чтобы смешанная чистая доходность достигала
// targetAggregateAPY на максимальном суммарном размере.
//
// Возможности с неправдоподобной историей (|спред| > 50%) или без
// истории исключаются из распределения; это не ошибка цикла.
func (o *Optimizer) OptimalAggregateAllocation(opps []*models.Opportunity, totalCapital, targetAggregateAPY float64) *AggregateAllocation {
	result := &AggregateAllocation{PerOpportunity: make(map[string]float64)}

	type candidate struct {
		opp        *models.Opportunity
		histSpread float64
		cap        float64
		quality    float64
	}

	var candidates []candidate
	for _, opp := range opps {
		histSpread, hasHistory := o.histSpreadFor(opp)
		if !hasHistory {
			o.log.Info("возможность исключена из аллокации: нет истории ставок",
				zap.String("key", opp.Key()))
			result.Excluded = append(result.Excluded, opp.Key())
			continue
		}
		if math.Abs(histSpread) > maxPlausibleSpread {
			o.log.Info("возможность исключена из аллокации: неправдоподобный спред",
				zap.String("key", opp.Key()),
				zap.Float64("spread", histSpread))
			result.Excluded = append(result.Excluded, opp.Key())
			continue
		}

		maxN := o.MaxNotionalForTargetAPY(opp, targetAggregateAPY)
		if maxN <= 0 {
			continue
		}
		candidates = append(candidates, candidate{
			opp:        opp,
			histSpread: histSpread,
			cap:        maxN,
			quality:    o.DataQualityRiskFactor(opp),
		})
	}
	if len(candidates) == 0 {
		return result
	}

	// distribute раскладывает кандидатный суммарный размер
	// пропорционально индивидуальным потолкам с учётом качества данных
	distribute := func(total float64) map[string]float64 {
		var weightSum float64
		for _, c := range candidates {
			weightSum += c.cap * c.quality
		}
		if weightSum <= 0 {
			return nil
		}
		out := make(map[string]float64, len(candidates))
		for _, c := range candidates {
			alloc := total * (c.cap * c.quality) / weightSum
			if alloc > c.cap {
				alloc = c.cap
			}
			out[c.opp.Key()] = alloc
		}
		return out
	}

	// blendedAPY пересчитывает нелинейные издержки на фактической
	// аллокации каждой возможности
	blendedAPY := func(allocs map[string]float64) float64 {
		var weighted, total float64
		for _, c := range candidates {
			n := allocs[c.opp.Key()]
			if n <= 0 {
				continue
			}
			weighted += o.netAPYAt(c.opp, c.histSpread, n) * n
			total += n
		}
		if total <= 0 {
			return 0
		}
		return weighted / total
	}

	var capSum float64
	for _, c := range candidates {
		capSum += c.cap
	}
	hi := math.Min(totalCapital, capSum)

	best := searchMaxFeasible(o.cfg.MinAllocationFloor, hi, o.cfg.AllocSearchStep, o.cfg.SearchIterationLimit,
		func(total float64) bool {
			allocs := distribute(total)
			if allocs == nil {
				return false
			}
			return blendedAPY(allocs) >= targetAggregateAPY
		})
	if best <= 0 {
		return result
	}

	result.PerOpportunity = distribute(best)
	for _, n := range result.PerOpportunity {
		result.Total += n
	}
	return result
}
