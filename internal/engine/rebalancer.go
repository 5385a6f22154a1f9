package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fundarb/internal/venue"
	"fundarb/pkg/ratelimit"
	"fundarb/pkg/utils"
)

// BalanceReader отдаёт свежий доступный залог площадки
type BalanceReader interface {
	GetBalance(ctx context.Context, venueName string) (float64, error)
}

// AdapterBalanceReader читает балансы напрямую из адаптеров бирж
type AdapterBalanceReader struct {
	Adapters map[string]venue.Adapter
	Limits   *ratelimit.Policy
}

func (r *AdapterBalanceReader) GetBalance(ctx context.Context, venueName string) (float64, error) {
	a, ok := r.Adapters[venueName]
	if !ok {
		return 0, fmt.Errorf("no adapter for venue %s", venueName)
	}
	if r.Limits != nil {
		if err := r.Limits.Wait(ctx, venueName); err != nil {
			return 0, err
		}
	}
	return a.GetBalance(ctx)
}

// RebalancerConfig - параметры перераспределения залога
type RebalancerConfig struct {
	// SettleDelay - пауза после перевода перед перечитыванием баланса
	SettleDelay time.Duration
	// MinTransfer - переводы мельче не отправляются
	MinTransfer float64
}

// Rebalancer подвозит залог под выбранную возможность: сначала с
// незадействованных площадок пропорционально дефицитам ног, затем
// между площадками самой пары. Переводы асинхронны, баланс
// перечитывается из источника после каждого.
type Rebalancer struct {
	cfg      RebalancerConfig
	transfer venue.TransferClient
	balances BalanceReader
	log      *utils.Logger
}

// NewRebalancer создаёт ребалансировщик
func NewRebalancer(cfg RebalancerConfig, transfer venue.TransferClient, balances BalanceReader, log *utils.Logger) *Rebalancer {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 5 * time.Second
	}
	if cfg.MinTransfer <= 0 {
		cfg.MinTransfer = 10
	}
	return &Rebalancer{cfg: cfg, transfer: transfer, balances: balances, log: log.WithComponent("rebalancer")}
}

// FundLegs доводит балансы longVenue и shortVenue до required каждой.
//
// Возвращает RecoverableError, если после обоих проходов залога всё
// ещё не хватает: возможность пропускается в этом цикле, капитал
// частично не коммитится.
func (r *Rebalancer) FundLegs(ctx context.Context, longVenue, shortVenue string, required float64, balances map[string]float64) error {
	current := make(map[string]float64, len(balances))
	for v, b := range balances {
		current[v] = b
	}

	deficit := func(v string) float64 {
		d := required - current[v]
		if d < 0 {
			return 0
		}
		return d
	}

	if deficit(longVenue) == 0 && deficit(shortVenue) == 0 {
		return nil
	}

	// Проход 1: свободный залог с непричастных площадок,
	// пропорционально дефициту каждой ноги
	for donor, bal := range balances {
		if donor == longVenue || donor == shortVenue {
			continue
		}
		dl, ds := deficit(longVenue), deficit(shortVenue)
		total := dl + ds
		if total == 0 {
			break
		}

		available := utils.Min(bal, total)
		if available < r.cfg.MinTransfer {
			continue
		}

		for _, leg := range []struct {
			venue string
			share float64
		}{
			{longVenue, dl / total},
			{shortVenue, ds / total},
		} {
			amount := utils.Min(available*leg.share, deficit(leg.venue))
			if amount < r.cfg.MinTransfer {
				continue
			}
			if err := r.move(ctx, donor, leg.venue, amount, current); err != nil {
				return err
			}
		}
	}

	// Проход 2: излишек одной ноги пары закрывает дефицит другой
	if err := r.balanceWithinPair(ctx, longVenue, shortVenue, required, current); err != nil {
		return err
	}
	if err := r.balanceWithinPair(ctx, shortVenue, longVenue, required, current); err != nil {
		return err
	}

	if dl, ds := deficit(longVenue), deficit(shortVenue); dl > 0 || ds > 0 {
		r.log.Warn("залога не хватает после обоих проходов",
			zap.String("long_venue", longVenue),
			zap.Float64("long_deficit", dl),
			zap.String("short_venue", shortVenue),
			zap.Float64("short_deficit", ds))
		return Recoverable("rebalance", Skip("insufficient collateral: long short %.2f, short short %.2f", dl, ds))
	}
	return nil
}

// balanceWithinPair переводит излишек donor сверх required в пользу
// дефицита recipient
func (r *Rebalancer) balanceWithinPair(ctx context.Context, donor, recipient string, required float64, current map[string]float64) error {
	surplus := current[donor] - required
	need := required - current[recipient]
	if surplus <= 0 || need <= 0 {
		return nil
	}
	amount := utils.Min(surplus, need)
	if amount < r.cfg.MinTransfer {
		return nil
	}
	return r.move(ctx, donor, recipient, amount, current)
}

// move выполняет один перевод и перечитывает балансы обеих сторон
// после паузы на расчёт
func (r *Rebalancer) move(ctx context.Context, from, to string, amount float64, current map[string]float64) error {
	r.log.Info("перевод залога",
		zap.String("from", from),
		zap.String("to", to),
		zap.Float64("amount", amount))

	if err := r.transfer.TransferBetweenVenues(ctx, from, to, amount); err != nil {
		TransfersTotal.WithLabelValues(from, to, "error").Inc()
		return Recoverable("transfer "+from+"->"+to, err)
	}
	TransfersTotal.WithLabelValues(from, to, "ok").Inc()

	select {
	case <-time.After(r.cfg.SettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, v := range []string{from, to} {
		bal, err := r.balances.GetBalance(ctx, v)
		if err != nil {
			return Recoverable("refresh balance "+v, err)
		}
		current[v] = bal
	}
	return nil
}
