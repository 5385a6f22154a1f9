package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"fundarb/internal/models"
	"fundarb/internal/venue"
	"fundarb/pkg/ratelimit"
	"fundarb/pkg/utils"
)

// OpportunitySource отдаёт свежие возможности цикла. Реализация
// опрашивает биржи и пишет наблюдения в историю ставок.
type OpportunitySource interface {
	FindOpportunities(ctx context.Context, symbols []string, minSpread float64) ([]*models.Opportunity, error)
}

// OrchestratorConfig - параметры цикла стратегии
type OrchestratorConfig struct {
	Symbols          []string
	MinSpread        float64 // минимальный спред за период для отбора
	TargetAPY        float64
	Leverage         float64
	BalanceUsage     float64
	MinOrderNotional float64
	// InterOpportunityDelay - пауза между возможностями; щадит лимиты
	// API, на корректность не влияет
	InterOpportunityDelay time.Duration
}

// Orchestrator связывает компоненты движка в один цикл:
// балансы и позиции -> ремонт ног -> возможности -> размеры ->
// лестница -> залог -> планы -> исполнение -> пересмотр позиций.
//
// Циклы взаимно исключены: триггер во время работающего цикла
// не делает ничего. Внутри цикла возможности обрабатываются
// последовательно, конкурентны только независимые I/O шаги.
type Orchestrator struct {
	cfg        OrchestratorConfig
	adapters   map[string]venue.Adapter
	source     OpportunitySource
	planner    *Planner
	optimizer  *Optimizer
	ladder     *Ladder
	rebalancer *Rebalancer
	executor   *Executor
	stickiness *Stickiness
	fees       *venue.FeeSchedule
	book       *LegStateBook
	limits     *ratelimit.Policy
	hooks      Hooks
	log        *utils.Logger

	running atomic.Bool
}

// OrchestratorDeps - собранные зависимости оркестратора
type OrchestratorDeps struct {
	Adapters   map[string]venue.Adapter
	Source     OpportunitySource
	Planner    *Planner
	Optimizer  *Optimizer
	Ladder     *Ladder
	Rebalancer *Rebalancer
	Executor   *Executor
	Stickiness *Stickiness
	Fees       *venue.FeeSchedule
	Book       *LegStateBook
	Limits     *ratelimit.Policy
	Hooks      Hooks
	Logger     *utils.Logger
}

// NewOrchestrator создаёт оркестратор
func NewOrchestrator(cfg OrchestratorConfig, deps OrchestratorDeps) *Orchestrator {
	hooks := deps.Hooks
	if hooks == nil {
		hooks = NopHooks{}
	}
	deps.Executor.SetHooks(hooks)
	return &Orchestrator{
		cfg:        cfg,
		adapters:   deps.Adapters,
		source:     deps.Source,
		planner:    deps.Planner,
		optimizer:  deps.Optimizer,
		ladder:     deps.Ladder,
		rebalancer: deps.Rebalancer,
		executor:   deps.Executor,
		stickiness: deps.Stickiness,
		fees:       deps.Fees,
		book:       deps.Book,
		limits:     deps.Limits,
		hooks:      hooks,
		log:        deps.Logger.WithComponent("orchestrator"),
	}
}

// RunCycle выполняет один полный цикл стратегии.
//
// Никогда не паникует наружу: неожиданный сбой помечает цикл
// неуспешным, следующий триггер начинает с чистого состояния.
func (o *Orchestrator) RunCycle(ctx context.Context) (result *models.ExecutionResult) {
	result = &models.ExecutionResult{StartedAt: time.Now()}

	if !o.running.CompareAndSwap(false, true) {
		o.log.Warn("цикл уже выполняется, триггер пропущен")
		result.FinishedAt = time.Now()
		result.AddError("cycle already in progress")
		CyclesTotal.WithLabelValues("skipped").Inc()
		return result
	}
	defer o.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			o.log.Error("цикл прерван паникой",
				zap.Any("panic", r),
				zap.Stack("stack"))
			result.Success = false
			result.AddError(fmt.Sprintf("panic: %v", r))
		}
		result.FinishedAt = time.Now()
		label := "failed"
		if result.Success {
			label = "success"
		}
		RecordCycle(label, result.FinishedAt.Sub(result.StartedAt).Seconds())
		UpdateLegState(o.book)
		o.hooks.CycleFinished(result)
	}()

	o.log.Info("цикл начат", zap.Strings("symbols", o.cfg.Symbols))

	balances, err := o.fetchBalances(ctx)
	if err != nil {
		result.AddError(err.Error())
		return result
	}
	positions, err := o.fetchPositions(ctx)
	if err != nil {
		result.AddError(err.Error())
		return result
	}
	pairs, orphans := models.MatchPositionPairs(positions)
	o.adoptOrphans(orphans)

	deployed := 0.0
	for _, p := range pairs {
		deployed += p.Notional()
	}
	CapitalDeployed.Set(deployed)

	// Ремонт созревших асимметрий прошлого цикла до новых сделок
	if err := o.executor.RepairDue(ctx); err != nil {
		result.AddError(err.Error())
		if IsLegIntegrity(err) {
			o.log.Error("нарушение целостности ног, требуется ручное вмешательство",
				zap.Error(err))
		}
	}

	opps, err := o.source.FindOpportunities(ctx, o.cfg.Symbols, o.cfg.MinSpread)
	if err != nil {
		result.AddError("find opportunities: " + err.Error())
		return result
	}
	result.OpportunitiesEvaluated = len(opps)

	candidates := o.sizeCandidates(opps)

	totalCapital := 0.0
	for _, b := range balances {
		totalCapital += b
	}
	totalCapital *= o.cfg.BalanceUsage * o.cfg.Leverage

	decisions := o.ladder.Allocate(candidates, totalCapital, pairs)

	for i, d := range decisions {
		if d.Action != LadderOpen && d.Action != LadderTopUp {
			continue
		}
		if i > 0 && o.cfg.InterOpportunityDelay > 0 {
			select {
			case <-time.After(o.cfg.InterOpportunityDelay):
			case <-ctx.Done():
				result.AddError(ctx.Err().Error())
				return result
			}
		}
		if err := o.executeDecision(ctx, d, balances, result); err != nil {
			symbol := d.Candidate.Opportunity.Symbol
			switch {
			case IsSkip(err):
				o.log.Debug("возможность пропущена",
					zap.String("symbol", symbol),
					zap.Error(err))
				OpportunitiesEvaluated.WithLabelValues(symbol, "rejected").Inc()
			case IsLegIntegrity(err):
				result.AddError(err.Error())
				o.log.Error("нарушение целостности ног при исполнении",
					zap.String("symbol", symbol),
					zap.Error(err))
			default:
				result.AddError(err.Error())
				o.log.Warn("исполнение возможности не удалось",
					zap.String("symbol", symbol),
					zap.Error(err))
			}
		}
	}

	o.reviewPositions(ctx, pairs, candidates, result)

	result.Success = true
	o.log.Info("цикл завершён",
		zap.Int("evaluated", result.OpportunitiesEvaluated),
		zap.Int("executed", result.OpportunitiesExecuted),
		zap.Int("orders_placed", result.OrdersPlaced),
		zap.Int("errors", len(result.Errors)))
	return result
}

// ============================================================
// Снимки состояния бирж
// ============================================================

// fetchBalances опрашивает все биржи одновременно; отказ любой биржи
// фатален для цикла: без полной картины капитала торговать нельзя
func (o *Orchestrator) fetchBalances(ctx context.Context) (map[string]float64, error) {
	type balanceResult struct {
		venue string
		value float64
		err   error
	}

	results := make(chan balanceResult, len(o.adapters))
	for name, adapter := range o.adapters {
		go func(name string, a venue.Adapter) {
			if err := o.limits.Wait(ctx, name); err != nil {
				results <- balanceResult{venue: name, err: err}
				return
			}
			bal, err := a.GetBalance(ctx)
			results <- balanceResult{venue: name, value: bal, err: err}
		}(name, adapter)
	}

	balances := make(map[string]float64, len(o.adapters))
	for range o.adapters {
		r := <-results
		if r.err != nil {
			return nil, fmt.Errorf("balance %s: %w", r.venue, r.err)
		}
		balances[r.venue] = r.value
		VenueBalance.WithLabelValues(r.venue).Set(r.value)
	}
	return balances, nil
}

// fetchPositions собирает открытые позиции со всех бирж одновременно
func (o *Orchestrator) fetchPositions(ctx context.Context) ([]*models.Position, error) {
	type positionsResult struct {
		venue string
		list  []*models.Position
		err   error
	}

	results := make(chan positionsResult, len(o.adapters))
	for name, adapter := range o.adapters {
		go func(name string, a venue.Adapter) {
			if err := o.limits.Wait(ctx, name); err != nil {
				results <- positionsResult{venue: name, err: err}
				return
			}
			list, err := a.GetPositions(ctx)
			results <- positionsResult{venue: name, list: list, err: err}
		}(name, adapter)
	}

	var all []*models.Position
	for range o.adapters {
		r := <-results
		if r.err != nil {
			return nil, fmt.Errorf("positions %s: %w", r.venue, r.err)
		}
		all = append(all, r.list...)
	}
	return all, nil
}

// adoptOrphans регистрирует одноногие позиции прошлых циклов как
// асимметрии, созревшие немедленно: ждать естественного исполнения
// уже нечего
func (o *Orchestrator) adoptOrphans(orphans []*models.Position) {
	for _, p := range orphans {
		other := o.otherVenueFor(p)
		if other == "" {
			o.log.Error("одноногая позиция без парной биржи",
				zap.String("venue", p.Venue),
				zap.String("symbol", p.Symbol))
			continue
		}
		o.log.Warn("обнаружена одноногая позиция прошлого цикла",
			zap.String("venue", p.Venue),
			zap.String("symbol", p.Symbol),
			zap.Float64("size", p.Size))
		o.book.RecordAsymmetric(&models.AsymmetricFillRecord{
			Symbol:       p.Symbol,
			FilledSide:   p.Side,
			FilledVenue:  p.Venue,
			OtherVenue:   other,
			IntendedSize: p.Size,
			FilledSize:   p.Size,
			DetectedAt:   time.Now(),
			ActAfter:     time.Now(),
		})
	}
}

// otherVenueFor выбирает биржу для недостающей ноги: любая другая
// подключённая биржа; при нескольких - первая по имени детерминирует
// выбор между циклами
func (o *Orchestrator) otherVenueFor(p *models.Position) string {
	best := ""
	for name := range o.adapters {
		if name == p.Venue {
			continue
		}
		if best == "" || name < best {
			best = name
		}
	}
	return best
}

// refreshBalances перечитывает балансы перечисленных бирж после
// действий, меняющих капитал
func (o *Orchestrator) refreshBalances(ctx context.Context, balances map[string]float64, venues ...string) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, name := range venues {
		adapter, ok := o.adapters[name]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(name string, a venue.Adapter) {
			defer wg.Done()
			if err := o.limits.Wait(ctx, name); err != nil {
				return
			}
			bal, err := a.GetBalance(ctx)
			if err != nil {
				o.log.Warn("не удалось обновить баланс",
					zap.String("venue", name),
					zap.Error(err))
				return
			}
			mu.Lock()
			balances[name] = bal
			mu.Unlock()
			VenueBalance.WithLabelValues(name).Set(bal)
		}(name, adapter)
	}
	wg.Wait()
}

// ============================================================
// Отбор и исполнение
// ============================================================

// sizeCandidates превращает возможности в кандидатов лестницы:
// максимальный размер по целевой доходности, урезанный качеством
// исторических данных
func (o *Orchestrator) sizeCandidates(opps []*models.Opportunity) []*LadderCandidate {
	var candidates []*LadderCandidate
	for _, opp := range opps {
		RecordSpread(opp.Symbol, opp.VenuePair(), opp.Spread)

		if o.book.IsExcluded(opp.Symbol, opp.VenuePair()) {
			OpportunitiesEvaluated.WithLabelValues(opp.Symbol, "excluded").Inc()
			continue
		}
		maxN := o.optimizer.MaxNotionalForTargetAPY(opp, o.cfg.TargetAPY)
		maxN *= o.optimizer.DataQualityRiskFactor(opp)
		if maxN < o.cfg.MinOrderNotional {
			OpportunitiesEvaluated.WithLabelValues(opp.Symbol, "rejected").Inc()
			o.log.Debug("возможность не проходит по размеру",
				zap.String("key", opp.Key()),
				zap.Float64("max_notional", maxN))
			continue
		}
		candidates = append(candidates, &LadderCandidate{Opportunity: opp, MaxNotional: maxN})
	}
	return candidates
}

// executeDecision доводит одну ступень лестницы до исполнения:
// залог, план, парное размещение
func (o *Orchestrator) executeDecision(ctx context.Context, d *LadderDecision, balances map[string]float64, result *models.ExecutionResult) error {
	opp := d.Candidate.Opportunity

	required := d.Notional / o.cfg.Leverage
	if err := o.rebalancer.FundLegs(ctx, opp.LongVenue, opp.ShortVenue, required, balances); err != nil {
		return err
	}
	o.refreshBalances(ctx, balances, opp.LongVenue, opp.ShortVenue)

	req := PlanRequest{
		Opportunity: opp,
		Balances:    balances,
		NotionalCap: d.Notional,
	}
	req.LongBid, req.LongAsk = o.bestQuotes(ctx, opp.LongVenue, opp.Symbol)
	req.ShortBid, req.ShortAsk = o.bestQuotes(ctx, opp.ShortVenue, opp.Symbol)

	plan := o.planner.Build(req)
	if plan == nil {
		return Skip("no viable plan for %s", opp.Key())
	}

	outcome, err := o.executor.OpenPair(ctx, plan)
	if outcome.Attempt.State != StatePlanned {
		result.OrdersPlaced += 2
		RecordAttempt(opp.Symbol, outcome.Attempt.State)
	}
	if err != nil {
		return err
	}

	result.OpportunitiesExecuted++
	OpportunitiesEvaluated.WithLabelValues(opp.Symbol, "executed").Inc()
	scale := 1.0
	if plan.BaseSize > 0 {
		scale = outcome.FilledSize / plan.BaseSize
	}
	result.TotalExpectedReturn += plan.NetReturnPerPeriod * scale

	if d.Action == LadderTopUp {
		o.hooks.PairToppedUp(plan, outcome)
	} else {
		o.hooks.PairOpened(plan, outcome)
	}

	o.refreshBalances(ctx, balances, opp.LongVenue, opp.ShortVenue)
	return nil
}

// bestQuotes возвращает лучшие цены стакана, если адаптер их умеет;
// нули заставляют построитель планов использовать оценку спреда
func (o *Orchestrator) bestQuotes(ctx context.Context, venueName, symbol string) (bid, ask float64) {
	adapter, ok := o.adapters[venueName]
	if !ok {
		return 0, 0
	}
	book, ok := adapter.(venue.BookProvider)
	if !ok {
		return 0, 0
	}
	if err := o.limits.Wait(ctx, venueName); err != nil {
		return 0, 0
	}
	bid, ask, err := book.GetBestBidAsk(ctx, symbol)
	if err != nil {
		o.log.Debug("стакан недоступен",
			zap.String("venue", venueName),
			zap.String("symbol", symbol),
			zap.Error(err))
		return 0, 0
	}
	return bid, ask
}

// ============================================================
// Пересмотр существующих позиций
// ============================================================

// reviewPositions решает судьбу существующих связок: затухшие и
// убыточные закрываются, удерживаемые остаются до лучших времён
func (o *Orchestrator) reviewPositions(ctx context.Context, pairs []*models.PositionPair, candidates []*LadderCandidate, result *models.ExecutionResult) {
	for _, pair := range pairs {
		in := StickinessInput{Pair: pair}
		in.CurrentSpread, in.SpreadKnown = o.pairSpread(ctx, pair)
		in.Alternative = o.bestAlternative(pair, candidates)
		in.ChurnCost = o.churnCost(pair)

		verdict := o.stickiness.Evaluate(in)
		if verdict == VerdictKeep {
			continue
		}

		reason := "decayed"
		if verdict == VerdictReplace {
			reason = "replaced"
		} else if in.SpreadKnown && models.AnnualizeSpread(in.CurrentSpread) < 0 {
			reason = "stop_loss"
		}

		if err := o.executor.ClosePair(ctx, pair); err != nil {
			result.AddError(err.Error())
			o.log.Error("закрытие связки не удалось",
				zap.String("key", pair.Key()),
				zap.String("reason", reason),
				zap.Error(err))
			continue
		}
		PairsClosed.WithLabelValues(pair.Symbol, reason).Inc()
		o.hooks.PairClosed(pair, reason)
	}
}

// pairSpread вычисляет текущий спред связки из живых ставок обеих ног.
// Ставки бирж сырые: лонг получает минус ставку своей биржи, шорт
// платит минус ставку своей, спред = (-longRaw) - (-shortRaw)
func (o *Orchestrator) pairSpread(ctx context.Context, pair *models.PositionPair) (float64, bool) {
	longRate, okLong := o.fundingRate(ctx, pair.Long.Venue, pair.Symbol)
	shortRate, okShort := o.fundingRate(ctx, pair.Short.Venue, pair.Symbol)
	if !okLong || !okShort {
		return 0, false
	}
	return shortRate - longRate, true
}

func (o *Orchestrator) fundingRate(ctx context.Context, venueName, symbol string) (float64, bool) {
	adapter, ok := o.adapters[venueName]
	if !ok {
		return 0, false
	}
	if err := o.limits.Wait(ctx, venueName); err != nil {
		return 0, false
	}
	rate, err := adapter.GetFundingRate(ctx, symbol)
	if err != nil {
		o.log.Warn("ставка финансирования недоступна",
			zap.String("venue", venueName),
			zap.String("symbol", symbol),
			zap.Error(err))
		return 0, false
	}
	return rate, true
}

// bestAlternative ищет лучшего кандидата того же символа на другой
// связке бирж: только он претендует на капитал этой связки
func (o *Orchestrator) bestAlternative(pair *models.PositionPair, candidates []*LadderCandidate) *models.Opportunity {
	var best *models.Opportunity
	for _, c := range candidates {
		opp := c.Opportunity
		if opp.Symbol != pair.Symbol || opp.VenuePair() == pair.VenuePair() {
			continue
		}
		if best == nil || opp.ExpectedAPY > best.ExpectedAPY {
			best = opp
		}
	}
	return best
}

// churnCost оценивает разовые издержки закрыть-и-переоткрыть связку:
// тейкер-комиссии и рыночное проскальзывание обеих ног в обе стороны
func (o *Orchestrator) churnCost(pair *models.PositionPair) float64 {
	notional := pair.Notional()
	fees := notional * (o.fees.TakerFee(pair.Long.Venue) + o.fees.TakerFee(pair.Short.Venue))

	var slippage float64
	for _, p := range []*models.Position{pair.Long, pair.Short} {
		bid, ask := fallbackQuotes(p.MarkPrice)
		slippage += SlippageCost(notional, bid, ask, 0, true)
	}
	// Закрытие и переоткрытие: издержки дважды
	return 2 * (fees + slippage)
}
