package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"fundarb/internal/models"
	"fundarb/pkg/utils"
)

// Hooks - точки подписки на жизненный цикл позиций. Движок зовёт их
// синхронно внутри цикла; реализация обязана быть быстрой и не падать.
type Hooks interface {
	PairOpened(plan *models.ExecutionPlan, outcome *PairOutcome)
	PairToppedUp(plan *models.ExecutionPlan, outcome *PairOutcome)
	PairClosed(pair *models.PositionPair, reason string)
	LegRepaired(rec *models.AsymmetricFillRecord)
	LegFlattened(rec *models.AsymmetricFillRecord)
	PairExcluded(symbol, venuePair string)
	CycleFinished(result *models.ExecutionResult)
}

// TradeJournal - долговременный журнал событий позиций
type TradeJournal interface {
	Create(record *models.TradeRecord) error
}

// Notifier - real-time рассылка событий клиентам
type Notifier interface {
	Notify(n *models.Notification)
}

// NopHooks - заглушка для тестов и урезанных конфигураций
type NopHooks struct{}

func (NopHooks) PairOpened(*models.ExecutionPlan, *PairOutcome)   {}
func (NopHooks) PairToppedUp(*models.ExecutionPlan, *PairOutcome) {}
func (NopHooks) PairClosed(*models.PositionPair, string)          {}
func (NopHooks) LegRepaired(*models.AsymmetricFillRecord)         {}
func (NopHooks) LegFlattened(*models.AsymmetricFillRecord)        {}
func (NopHooks) PairExcluded(string, string)                      {}
func (NopHooks) CycleFinished(*models.ExecutionResult)            {}

// JournalHooks пишет события в торговый журнал и рассылает
// уведомления. Сбой журнала логируется и не прерывает цикл:
// торговля важнее отчётности.
type JournalHooks struct {
	journal  TradeJournal
	notifier Notifier
	log      *utils.Logger
}

// NewJournalHooks создаёт хуки; notifier может быть nil
func NewJournalHooks(journal TradeJournal, notifier Notifier, log *utils.Logger) *JournalHooks {
	return &JournalHooks{journal: journal, notifier: notifier, log: log.WithComponent("hooks")}
}

func (h *JournalHooks) record(rec *models.TradeRecord) {
	if err := h.journal.Create(rec); err != nil {
		h.log.Error("запись в торговый журнал не удалась",
			zap.String("event_type", rec.EventType),
			zap.String("symbol", rec.Symbol),
			zap.Error(err))
	}
}

func (h *JournalHooks) notify(n *models.Notification) {
	if h.notifier == nil {
		return
	}
	n.Timestamp = time.Now()
	h.notifier.Notify(n)
}

func (h *JournalHooks) PairOpened(plan *models.ExecutionPlan, outcome *PairOutcome) {
	h.pairEntry(models.TradeEventPairOpened, models.NotifyPairOpened, plan, outcome)
}

func (h *JournalHooks) PairToppedUp(plan *models.ExecutionPlan, outcome *PairOutcome) {
	h.pairEntry(models.TradeEventPairToppedUp, models.NotifyPairToppedUp, plan, outcome)
}

func (h *JournalHooks) pairEntry(eventType, notifyType string, plan *models.ExecutionPlan, outcome *PairOutcome) {
	opp := plan.Opportunity
	notional := plan.Notional
	if outcome.FilledSize > 0 && plan.BaseSize > 0 {
		notional = plan.Notional * outcome.FilledSize / plan.BaseSize
	}
	h.record(&models.TradeRecord{
		EventType:   eventType,
		Symbol:      opp.Symbol,
		LongVenue:   opp.LongVenue,
		ShortVenue:  opp.ShortVenue,
		Notional:    notional,
		ExpectedAPY: opp.ExpectedAPY,
		Details: fmt.Sprintf("state=%s size=%.6f entry_cost=%.2f",
			outcome.Attempt.State, outcome.FilledSize, plan.Costs.Total),
	})
	h.notify(&models.Notification{
		Severity:  models.SeverityInfo,
		Type:      notifyType,
		Symbol:    opp.Symbol,
		VenuePair: opp.VenuePair(),
		Message: fmt.Sprintf("%s %s notional %.0f USD, expected APY %.1f%%",
			eventType, opp.Symbol, notional, opp.ExpectedAPY*100),
	})
}

func (h *JournalHooks) PairClosed(pair *models.PositionPair, reason string) {
	h.record(&models.TradeRecord{
		EventType:  models.TradeEventPairClosed,
		Symbol:     pair.Symbol,
		LongVenue:  pair.Long.Venue,
		ShortVenue: pair.Short.Venue,
		Notional:   pair.Notional(),
		Details:    "reason=" + reason,
	})
	h.notify(&models.Notification{
		Severity:  models.SeverityInfo,
		Type:      models.NotifyPairClosed,
		Symbol:    pair.Symbol,
		VenuePair: pair.VenuePair(),
		Message:   fmt.Sprintf("closed %s (%s), notional %.0f USD", pair.Symbol, reason, pair.Notional()),
	})
}

func (h *JournalHooks) LegRepaired(rec *models.AsymmetricFillRecord) {
	h.record(&models.TradeRecord{
		EventType: models.TradeEventLegRepaired,
		Symbol:    rec.Symbol,
		Details:   fmt.Sprintf("venue=%s size=%.6f", rec.OtherVenue, rec.FilledSize),
	})
	h.notify(&models.Notification{
		Severity: models.SeverityWarning,
		Type:     models.NotifyLegRepaired,
		Symbol:   rec.Symbol,
		Message:  fmt.Sprintf("missing %s leg reopened on %s", rec.Symbol, rec.OtherVenue),
	})
}

func (h *JournalHooks) LegFlattened(rec *models.AsymmetricFillRecord) {
	h.record(&models.TradeRecord{
		EventType: models.TradeEventLegFlattened,
		Symbol:    rec.Symbol,
		Details:   fmt.Sprintf("venue=%s side=%s size=%.6f", rec.FilledVenue, rec.FilledSide, rec.FilledSize),
	})
	h.notify(&models.Notification{
		Severity: models.SeverityWarning,
		Type:     models.NotifyLegFlattened,
		Symbol:   rec.Symbol,
		Message:  fmt.Sprintf("flattened %s %s leg on %s after retry ceiling", rec.Symbol, rec.FilledSide, rec.FilledVenue),
	})
}

func (h *JournalHooks) PairExcluded(symbol, venuePair string) {
	h.record(&models.TradeRecord{
		EventType: models.TradeEventPairExcluded,
		Symbol:    symbol,
		Details:   "venue_pair=" + venuePair,
	})
	h.notify(&models.Notification{
		Severity:  models.SeverityCritical,
		Type:      models.NotifyPairExcluded,
		Symbol:    symbol,
		VenuePair: venuePair,
		Message:   fmt.Sprintf("%s:%s permanently excluded until restart", symbol, venuePair),
	})
}

func (h *JournalHooks) CycleFinished(result *models.ExecutionResult) {
	if len(result.Errors) == 0 {
		return
	}
	h.notify(&models.Notification{
		Severity: models.SeverityWarning,
		Type:     models.NotifyCycleError,
		Message:  fmt.Sprintf("cycle finished with %d errors: %s", len(result.Errors), result.Errors[0]),
	})
}
