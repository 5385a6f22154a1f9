package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fundarb/internal/models"
	"fundarb/internal/venue"
	"fundarb/pkg/ratelimit"
)

// fakeAdapter - программируемый адаптер биржи для тестов исполнителя.
// Поведение размещения задаётся очередью сценариев placeScript:
// каждый вызов PlaceOrder снимает следующий сценарий.
type fakeAdapter struct {
	mu   sync.Mutex
	name string

	balance   float64
	positions []*models.Position
	// funding - переопределение ставки финансирования; nil даёт 0.0001
	funding *float64

	// placeScript - очередь ответов PlaceOrder
	placeScript []placeOutcome
	// statusAfterPolls - через сколько опросов ордер исполняется
	statusAfterPolls int

	placed    []venue.OrderRequest
	cancelled []string
	openOrds  []*venue.OrderResult
	polls     map[string]int
	// filledByID - ордера, исполнившиеся вне сценариев размещения
	filledByID map[string]float64
}

// placeOutcome - один сценарий размещения
type placeOutcome struct {
	err        error  // ошибка самого вызова
	status     string // статус после размещения
	filledFrac float64
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{name: name, polls: make(map[string]int)}
}

// script добавляет сценарий следующего размещения
func (f *fakeAdapter) script(o placeOutcome) *fakeAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeScript = append(f.placeScript, o)
	return f
}

func fills() placeOutcome {
	return placeOutcome{status: venue.OrderStatusFilled, filledFrac: 1}
}

func fillsPartially(frac float64) placeOutcome {
	return placeOutcome{status: venue.OrderStatusFilled, filledFrac: frac}
}

func rejects() placeOutcome {
	return placeOutcome{status: venue.OrderStatusRejected}
}

func restsUnfilled() placeOutcome {
	return placeOutcome{status: venue.OrderStatusNew}
}

func failsWith(err error) placeOutcome {
	return placeOutcome{err: err}
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Connect(apiKey, secret, passphrase string) error { return nil }

func (f *fakeAdapter) GetBalance(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeAdapter) GetPositions(ctx context.Context) ([]*models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions, nil
}

func (f *fakeAdapter) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return 3000, nil
}

func (f *fakeAdapter) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.funding != nil {
		return *f.funding, nil
	}
	return 0.0001, nil
}

// withFunding задаёт сырую ставку финансирования биржи
func (f *fakeAdapter) withFunding(rate float64) *fakeAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.funding = &rate
	return f
}

func (f *fakeAdapter) GetOpenInterest(ctx context.Context, symbol string) (float64, error) {
	return 500_000, nil
}

func (f *fakeAdapter) GetBestBidAsk(ctx context.Context, symbol string) (bid, ask float64, err error) {
	return 2999.9, 3000.1, nil
}

func (f *fakeAdapter) PlaceOrder(ctx context.Context, req venue.OrderRequest) (*venue.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.placed = append(f.placed, req)
	if len(f.placeScript) == 0 {
		return nil, errors.New("fakeAdapter: placeScript exhausted")
	}
	outcome := f.placeScript[0]
	f.placeScript = f.placeScript[1:]
	if outcome.err != nil {
		return nil, outcome.err
	}

	order := &venue.OrderResult{
		OrderID:       fmt.Sprintf("%s-%d", f.name, len(f.placed)),
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        outcome.status,
		RequestedSize: req.Size,
		FilledSize:    req.Size * outcome.filledFrac,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if f.statusAfterPolls > 0 && !venue.IsTerminal(order.Status) {
		// Исполнение наступит на statusAfterPolls-м опросе
		f.polls[order.OrderID] = 0
	}
	return order, nil
}

// markFilled отмечает ордер исполнившимся по его идентификатору
func (f *fakeAdapter) markFilled(orderID string, size float64) *fakeAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.filledByID == nil {
		f.filledByID = make(map[string]float64)
	}
	f.filledByID[orderID] = size
	return f
}

func (f *fakeAdapter) GetOrderStatus(ctx context.Context, orderID, symbol string) (*venue.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if size, ok := f.filledByID[orderID]; ok {
		return &venue.OrderResult{
			OrderID:       orderID,
			Symbol:        symbol,
			Status:        venue.OrderStatusFilled,
			RequestedSize: size,
			FilledSize:    size,
			UpdatedAt:     time.Now(),
		}, nil
	}

	order := &venue.OrderResult{
		OrderID:   orderID,
		Symbol:    symbol,
		Status:    venue.OrderStatusNew,
		UpdatedAt: time.Now(),
	}
	if count, tracked := f.polls[orderID]; tracked {
		f.polls[orderID] = count + 1
		if f.polls[orderID] >= f.statusAfterPolls {
			order.Status = venue.OrderStatusFilled
			// Размер берём из последнего размещения
			last := f.placed[len(f.placed)-1]
			order.RequestedSize = last.Size
			order.FilledSize = last.Size
		}
	}
	return order, nil
}

func (f *fakeAdapter) CancelOrder(ctx context.Context, orderID, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]*venue.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openOrds, nil
}

func (f *fakeAdapter) Close() error { return nil }

func (f *fakeAdapter) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

func (f *fakeAdapter) lastPlaced() venue.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.placed[len(f.placed)-1]
}

func (f *fakeAdapter) cancelledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancelled)
}

// testPolicy - щедрые лимиты, чтобы тесты не ждали токенов
func testPolicy() *ratelimit.Policy {
	return ratelimit.NewPolicy(ratelimit.VenueLimit{Rate: 10_000, Burst: 10_000})
}
