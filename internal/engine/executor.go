package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fundarb/internal/models"
	"fundarb/internal/venue"
	"fundarb/pkg/ratelimit"
	"fundarb/pkg/retry"
	"fundarb/pkg/utils"
)

// ExecutorConfig - параметры исполнения и восстановления
type ExecutorConfig struct {
	// PollInterval и PollRetries ограничивают ожидание исполнения
	// отдыхающих лимитных ордеров
	PollInterval time.Duration
	PollRetries  int
	// AsymmetricTimeout - сколько даём второй ноге исполниться
	// естественно, прежде чем вмешиваться
	AsymmetricTimeout time.Duration
	// DuplicateGrace - возраст, после которого чужой отдыхающий ордер
	// на символе считается устаревшим дубликатом и отменяется
	DuplicateGrace time.Duration
}

// PairOutcome - итог одной попытки открытия связки
type PairOutcome struct {
	Attempt    *PairAttempt
	LongOrder  *venue.OrderResult
	ShortOrder *venue.OrderResult
	// FilledSize - согласованный размер связки: меньшее из двух
	// исполнений, в базовых единицах
	FilledSize float64
}

// legResult - итог одной ноги, передаётся из горутины отправки
type legResult struct {
	side  string
	venue string
	order *venue.OrderResult
	err   error
}

// Executor размещает обе ноги связки одновременно и доводит попытку
// до терминального состояния машины. Незакрытые асимметрии уходят
// в LegStateBook и ремонтируются следующими циклами.
//
// Лимиты запросов к биржам не встроены в адаптеры: политика передаётся
// сюда явно и опрашивается перед каждым обращением.
type Executor struct {
	adapters map[string]venue.Adapter
	limits   *ratelimit.Policy
	book     *LegStateBook
	cfg      ExecutorConfig
	hooks    Hooks
	log      *utils.Logger
}

// NewExecutor создаёт исполнитель
func NewExecutor(cfg ExecutorConfig, adapters map[string]venue.Adapter, limits *ratelimit.Policy, book *LegStateBook, log *utils.Logger) *Executor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PollRetries <= 0 {
		cfg.PollRetries = 30
	}
	if cfg.AsymmetricTimeout <= 0 {
		cfg.AsymmetricTimeout = 5 * time.Minute
	}
	if cfg.DuplicateGrace <= 0 {
		cfg.DuplicateGrace = 10 * time.Minute
	}
	return &Executor{adapters: adapters, limits: limits, book: book, cfg: cfg, hooks: NopHooks{}, log: log.WithComponent("executor")}
}

// SetHooks подключает подписчиков событий ремонта и закрытия ног
func (e *Executor) SetHooks(h Hooks) {
	if h != nil {
		e.hooks = h
	}
}

// ============================================================
// Парное открытие
// ============================================================

// OpenPair отправляет обе ноги плана одновременно и сопровождает их
// до терминальных статусов. Параллельная отправка сужает окно дрейфа
// цены между ногами.
//
// Возвращаемая ошибка классифицирована: RecoverableError оставляет
// капитал следующим возможностям, вердикт фиксируется в Attempt.State.
func (e *Executor) OpenPair(ctx context.Context, plan *models.ExecutionPlan) (*PairOutcome, error) {
	attempt := NewPairAttempt(plan)
	outcome := &PairOutcome{Attempt: attempt}

	if e.book.IsExcluded(plan.Opportunity.Symbol, plan.Opportunity.VenuePair()) {
		return outcome, Skip("pair %s permanently excluded", plan.Opportunity.Key())
	}

	longAdapter, ok := e.adapters[plan.LongOrder.Venue]
	if !ok {
		return outcome, Skip("no adapter for venue %s", plan.LongOrder.Venue)
	}
	shortAdapter, ok := e.adapters[plan.ShortOrder.Venue]
	if !ok {
		return outcome, Skip("no adapter for venue %s", plan.ShortOrder.Venue)
	}

	if err := attempt.Advance(StateOrdersSubmitted); err != nil {
		return outcome, err
	}
	e.log.Info("отправка ног связки",
		zap.String("key", plan.Opportunity.Key()),
		zap.Float64("base_size", plan.BaseSize),
		zap.Float64("notional", plan.Notional))

	longCh := make(chan legResult, 1)
	shortCh := make(chan legResult, 1)

	go func() {
		order, err := e.submitAndTrack(ctx, longAdapter, plan.LongOrder)
		longCh <- legResult{side: models.SideLong, venue: plan.LongOrder.Venue, order: order, err: err}
	}()
	go func() {
		order, err := e.submitAndTrack(ctx, shortAdapter, plan.ShortOrder)
		shortCh <- legResult{side: models.SideShort, venue: plan.ShortOrder.Venue, order: order, err: err}
	}()

	var long, short legResult
	for i := 0; i < 2; i++ {
		select {
		case long = <-longCh:
			longCh = nil
		case short = <-shortCh:
			shortCh = nil
		}
	}

	outcome.LongOrder = long.order
	outcome.ShortOrder = short.order
	return e.classify(ctx, plan, outcome, long, short)
}

// submitAndTrack размещает ордер и опрашивает его до терминального
// статуса либо исчерпания попыток опроса
func (e *Executor) submitAndTrack(ctx context.Context, adapter venue.Adapter, intent models.OrderIntent) (*venue.OrderResult, error) {
	if err := e.limits.Wait(ctx, adapter.Name()); err != nil {
		return nil, err
	}

	req := venue.OrderRequest{
		Symbol:      intent.Symbol,
		Side:        intent.Side,
		Type:        venue.OrderTypeLimit,
		Price:       intent.Price,
		Size:        intent.Size,
		TimeInForce: intent.TimeInForce,
		ReduceOnly:  intent.ReduceOnly,
	}
	order, err := adapter.PlaceOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	return e.pollOrder(ctx, adapter, order)
}

// pollOrder опрашивает ордер с фиксированным интервалом до
// терминального статуса; по исчерпанию попыток возвращает последнее
// известное состояние
func (e *Executor) pollOrder(ctx context.Context, adapter venue.Adapter, order *venue.OrderResult) (*venue.OrderResult, error) {
	current := order
	for i := 0; i < e.cfg.PollRetries; i++ {
		if venue.IsTerminal(current.Status) {
			return current, nil
		}
		select {
		case <-time.After(e.cfg.PollInterval):
		case <-ctx.Done():
			return current, ctx.Err()
		}

		if err := e.limits.Wait(ctx, adapter.Name()); err != nil {
			return current, err
		}
		updated, err := adapter.GetOrderStatus(ctx, current.OrderID, current.Symbol)
		if err != nil {
			// Единичный сбой опроса не повод бросать ордер
			e.log.Warn("опрос ордера не удался",
				zap.String("venue", adapter.Name()),
				zap.String("order_id", current.OrderID),
				zap.Error(err))
			continue
		}
		current = updated
	}
	return current, nil
}

// classify переводит попытку в терминальное состояние по фактическим
// исполнениям обеих ног
func (e *Executor) classify(ctx context.Context, plan *models.ExecutionPlan, outcome *PairOutcome, long, short legResult) (*PairOutcome, error) {
	longFilled := long.err == nil && long.order != nil && long.order.FilledSize > 0
	shortFilled := short.err == nil && short.order != nil && short.order.FilledSize > 0

	switch {
	case longFilled && shortFilled:
		outcome.FilledSize = utils.Min(long.order.FilledSize, short.order.FilledSize)
		state := StateBothFilled
		// Частичное исполнение: ноги согласованы на меньшем размере,
		// остаток капитала возвращается в пул следующего цикла
		if outcome.FilledSize < plan.BaseSize {
			state = StatePartialBothFilled
		}
		if err := outcome.Attempt.Advance(state); err != nil {
			return outcome, err
		}
		PairsOpened.WithLabelValues(plan.Opportunity.Symbol, state).Inc()
		e.log.Info("связка открыта",
			zap.String("key", plan.Opportunity.Key()),
			zap.String("state", state),
			zap.Float64("filled_size", outcome.FilledSize))
		return outcome, nil

	case longFilled != shortFilled:
		if err := outcome.Attempt.Advance(StateAsymmetric); err != nil {
			return outcome, err
		}
		PairsOpened.WithLabelValues(plan.Opportunity.Symbol, StateAsymmetric).Inc()
		rec := e.asymmetricRecord(plan, outcome, longFilled)
		e.book.RecordAsymmetric(rec)
		// Неисполненная нога остаётся в стакане: окно ожидания даёт
		// ей шанс исполниться естественно, снимет её ремонт
		e.log.Warn("асимметричное исполнение, действие отложено",
			zap.String("key", plan.Opportunity.Key()),
			zap.String("filled_side", rec.FilledSide),
			zap.Time("act_after", rec.ActAfter))
		return outcome, Recoverable("open pair", fmt.Errorf("asymmetric fill on %s", plan.Opportunity.Key()))

	default:
		if err := outcome.Attempt.Advance(StateBothFailed); err != nil {
			return outcome, err
		}
		PairsOpened.WithLabelValues(plan.Opportunity.Symbol, StateBothFailed).Inc()
		e.cancelUnfilled(ctx, plan, long, short)
		err := errors.Join(long.err, short.err)
		if err == nil {
			err = fmt.Errorf("neither leg filled on %s", plan.Opportunity.Key())
		}
		return outcome, Recoverable("open pair", err)
	}
}

// asymmetricRecord собирает запись об асимметрии из фактических ног
func (e *Executor) asymmetricRecord(plan *models.ExecutionPlan, outcome *PairOutcome, longFilled bool) *models.AsymmetricFillRecord {
	rec := &models.AsymmetricFillRecord{
		Symbol:       plan.Opportunity.Symbol,
		IntendedSize: plan.BaseSize,
		Opportunity:  plan.Opportunity,
		DetectedAt:   time.Now(),
		ActAfter:     time.Now().Add(e.cfg.AsymmetricTimeout),
	}
	if outcome.LongOrder != nil {
		rec.LongOrderID = outcome.LongOrder.OrderID
	}
	if outcome.ShortOrder != nil {
		rec.ShortOrderID = outcome.ShortOrder.OrderID
	}
	if longFilled {
		rec.FilledSide = models.SideLong
		rec.FilledVenue = plan.LongOrder.Venue
		rec.OtherVenue = plan.ShortOrder.Venue
		rec.FilledSize = outcome.LongOrder.FilledSize
	} else {
		rec.FilledSide = models.SideShort
		rec.FilledVenue = plan.ShortOrder.Venue
		rec.OtherVenue = plan.LongOrder.Venue
		rec.FilledSize = outcome.ShortOrder.FilledSize
	}
	return rec
}

// cancelUnfilled снимает неисполненные отдыхающие ноги попытки
func (e *Executor) cancelUnfilled(ctx context.Context, plan *models.ExecutionPlan, legs ...legResult) {
	for _, leg := range legs {
		if leg.order == nil || leg.order.FilledSize > 0 || venue.IsTerminal(leg.order.Status) {
			continue
		}
		adapter, ok := e.adapters[leg.venue]
		if !ok {
			continue
		}
		if err := e.limits.Wait(ctx, leg.venue); err != nil {
			return
		}
		if err := adapter.CancelOrder(ctx, leg.order.OrderID, leg.order.Symbol); err != nil {
			e.log.Warn("не удалось снять неисполненную ногу",
				zap.String("venue", leg.venue),
				zap.String("order_id", leg.order.OrderID),
				zap.Error(err))
		}
	}
}

// ============================================================
// Ремонт асимметрий
// ============================================================

// RepairDue обрабатывает асимметрии с истёкшим сроком ожидания.
// Возвращает первую ошибку целостности ног; остальные сбои ремонтов
// recoverable и переносятся на следующий цикл.
func (e *Executor) RepairDue(ctx context.Context) error {
	for _, rec := range e.book.DueAsymmetric(time.Now()) {
		if err := e.Repair(ctx, rec); err != nil {
			if IsLegIntegrity(err) {
				return err
			}
			e.log.Warn("ремонт асимметрии не удался",
				zap.String("key", rec.Key()),
				zap.Error(err))
		}
	}
	return nil
}

// Repair пытается дооткрыть недостающую ногу записи. При достижении
// потолка попыток ключ исключается навсегда, а исполненная нога
// закрывается по рынку reduce-only: направленная экспозиция хуже
// упущенного спреда.
func (e *Executor) Repair(ctx context.Context, rec *models.AsymmetricFillRecord) error {
	symbol := rec.Symbol
	venuePair := rec.Key()[len(symbol)+1:]

	if e.book.RetryCount(symbol, venuePair) >= models.SingleLegRetryCeiling {
		return e.giveUp(ctx, rec, venuePair)
	}

	adapter, ok := e.adapters[rec.OtherVenue]
	if !ok {
		return Skip("no adapter for venue %s", rec.OtherVenue)
	}

	// Отдыхающая нога ждала окно целиком: могла исполниться сама
	resolved, err := e.settleRestingLeg(ctx, adapter, rec)
	if err != nil {
		e.book.RegisterRetry(symbol, venuePair, rec.Opportunity)
		return Recoverable("settle resting leg", err)
	}
	if resolved {
		e.book.ClearRetry(symbol, venuePair)
		e.book.ResolveAsymmetric(rec.Key())
		e.hooks.LegRepaired(rec)
		LegRepairs.WithLabelValues(symbol, "repaired").Inc()
		e.log.Info("отдыхающая нога исполнилась сама",
			zap.String("key", rec.Key()))
		return nil
	}

	// Чужой отдыхающий ордер старше грейса - устаревший дубликат
	// прошлых попыток, снимаем его, чтобы не переоткрыться дважды
	if err := e.cancelStaleDuplicates(ctx, adapter, symbol); err != nil {
		e.book.RegisterRetry(symbol, venuePair, rec.Opportunity)
		return Recoverable("cancel stale duplicates", err)
	}

	side := venue.SideSell
	if rec.FilledSide == models.SideShort {
		side = venue.SideBuy
	}

	if err := e.limits.Wait(ctx, adapter.Name()); err != nil {
		return err
	}
	order, err := adapter.PlaceOrder(ctx, venue.OrderRequest{
		Symbol: symbol,
		Side:   side,
		Type:   venue.OrderTypeMarket,
		Size:   rec.FilledSize,
	})
	if err == nil {
		order, err = e.pollOrder(ctx, adapter, order)
	}
	if err != nil || order == nil || order.Status != venue.OrderStatusFilled {
		count := e.book.RegisterRetry(symbol, venuePair, rec.Opportunity).RetryCount
		LegRepairs.WithLabelValues(symbol, "retried").Inc()
		e.log.Warn("недостающая нога не открылась",
			zap.String("key", rec.Key()),
			zap.Int("retry_count", count),
			zap.Error(err))
		if count >= models.SingleLegRetryCeiling {
			return e.giveUp(ctx, rec, venuePair)
		}
		return Recoverable("repair missing leg", fmt.Errorf("order not filled on %s", rec.OtherVenue))
	}

	e.book.ClearRetry(symbol, venuePair)
	e.book.ResolveAsymmetric(rec.Key())
	e.hooks.LegRepaired(rec)
	LegRepairs.WithLabelValues(symbol, "repaired").Inc()
	e.log.Info("асимметрия восстановлена",
		zap.String("key", rec.Key()),
		zap.Float64("size", rec.FilledSize))
	return nil
}

// settleRestingLeg разбирается с ногой, оставленной в стакане на окно
// ожидания: исполнилась - асимметрия закрыта естественно, нет -
// снимается перед рыночным дооткрытием
func (e *Executor) settleRestingLeg(ctx context.Context, adapter venue.Adapter, rec *models.AsymmetricFillRecord) (resolved bool, err error) {
	restingID := rec.ShortOrderID
	if rec.FilledSide == models.SideShort {
		restingID = rec.LongOrderID
	}
	if restingID == "" {
		return false, nil
	}

	if err := e.limits.Wait(ctx, adapter.Name()); err != nil {
		return false, err
	}
	order, err := adapter.GetOrderStatus(ctx, restingID, rec.Symbol)
	if err != nil {
		return false, err
	}
	if order.Status == venue.OrderStatusFilled {
		return true, nil
	}
	if venue.IsTerminal(order.Status) {
		return false, nil
	}

	if err := e.limits.Wait(ctx, adapter.Name()); err != nil {
		return false, err
	}
	if err := adapter.CancelOrder(ctx, restingID, rec.Symbol); err != nil {
		return false, err
	}
	return false, nil
}

// giveUp навсегда исключает ключ и закрывает исполненную ногу
func (e *Executor) giveUp(ctx context.Context, rec *models.AsymmetricFillRecord, venuePair string) error {
	e.book.Exclude(rec.Symbol, venuePair)
	e.hooks.PairExcluded(rec.Symbol, venuePair)
	e.log.Error("потолок попыток достигнут, ключ исключён",
		zap.String("key", rec.Key()))

	if err := e.flattenLeg(ctx, rec.FilledVenue, rec.Symbol, rec.FilledSide, rec.FilledSize); err != nil {
		return &LegIntegrityError{Symbol: rec.Symbol, Venue: rec.FilledVenue, Err: err}
	}
	e.book.ResolveAsymmetric(rec.Key())
	e.book.ClearRetry(rec.Symbol, venuePair)
	e.hooks.LegFlattened(rec)
	LegRepairs.WithLabelValues(rec.Symbol, "flattened").Inc()
	return nil
}

// flattenLeg закрывает одну ногу по рынку reduce-only, с агрессивными
// повторами: это последний рубеж перед ручным вмешательством
func (e *Executor) flattenLeg(ctx context.Context, venueName, symbol, side string, size float64) error {
	adapter, ok := e.adapters[venueName]
	if !ok {
		return fmt.Errorf("no adapter for venue %s", venueName)
	}

	closeSide := venue.SideSell
	if side == models.SideShort {
		closeSide = venue.SideBuy
	}

	return retry.Do(ctx, func() error {
		if err := e.limits.Wait(ctx, venueName); err != nil {
			return retry.Permanent(err)
		}
		order, err := adapter.PlaceOrder(ctx, venue.OrderRequest{
			Symbol:     symbol,
			Side:       closeSide,
			Type:       venue.OrderTypeMarket,
			Size:       size,
			ReduceOnly: true,
		})
		if err != nil {
			return err
		}
		order, err = e.pollOrder(ctx, adapter, order)
		if err != nil {
			return err
		}
		if order.Status != venue.OrderStatusFilled {
			return fmt.Errorf("flatten order %s status %s", order.OrderID, order.Status)
		}
		return nil
	}, retry.AggressiveConfig())
}

// cancelStaleDuplicates снимает отдыхающие ордера символа старше грейса
func (e *Executor) cancelStaleDuplicates(ctx context.Context, adapter venue.Adapter, symbol string) error {
	if err := e.limits.Wait(ctx, adapter.Name()); err != nil {
		return err
	}
	open, err := adapter.GetOpenOrders(ctx, symbol)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-e.cfg.DuplicateGrace)
	for _, o := range open {
		if o.CreatedAt.After(cutoff) {
			continue
		}
		e.log.Info("снятие устаревшего дубликата",
			zap.String("venue", adapter.Name()),
			zap.String("order_id", o.OrderID),
			zap.Time("created_at", o.CreatedAt))
		if err := e.limits.Wait(ctx, adapter.Name()); err != nil {
			return err
		}
		if err := adapter.CancelOrder(ctx, o.OrderID, symbol); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================
// Закрытие связок
// ============================================================

// ClosePair закрывает обе ноги связки по рынку reduce-only,
// одновременно. Сбой любой ноги - ошибка целостности: одна нога
// закрыта, вторая осталась, экспозиция направленная.
func (e *Executor) ClosePair(ctx context.Context, pair *models.PositionPair) error {
	results := make(chan legResult, 2)

	closeLeg := func(p *models.Position) {
		err := e.flattenLeg(ctx, p.Venue, p.Symbol, p.Side, p.Size)
		results <- legResult{side: p.Side, venue: p.Venue, err: err}
	}
	go closeLeg(pair.Long)
	go closeLeg(pair.Short)

	var failures []error
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			failures = append(failures, &LegIntegrityError{
				Symbol: pair.Symbol,
				Venue:  r.venue,
				Err:    r.err,
			})
		}
	}
	if len(failures) == 2 {
		// Обе ноги остались: связка цела, закрытие можно повторить
		return Recoverable("close pair", errors.Join(failures...))
	}
	if len(failures) == 1 {
		return failures[0]
	}
	e.log.Info("связка закрыта",
		zap.String("key", pair.Key()))
	return nil
}
