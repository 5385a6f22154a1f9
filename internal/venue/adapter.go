// Package venue предоставляет унифицированный интерфейс для работы
// с биржами бессрочных фьючерсов.
package venue

import (
	"context"
	"time"

	"fundarb/internal/models"
)

// Adapter определяет единый интерфейс адаптера биржи.
//
// Движок никогда не ветвится по имени биржи, кроме поиска комиссий
// и проверки опциональных возможностей (BookProvider).
type Adapter interface {
	// Name возвращает имя биржи
	Name() string

	// Connect устанавливает авторизацию (API ключи)
	Connect(apiKey, secret, passphrase string) error

	// GetBalance получает доступный баланс фьючерсного аккаунта в USD
	GetBalance(ctx context.Context) (float64, error)

	// GetPositions получает список открытых позиций
	GetPositions(ctx context.Context) ([]*models.Position, error)

	// GetMarkPrice получает маркет-цену символа
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)

	// GetFundingRate получает текущую ставку финансирования за период
	GetFundingRate(ctx context.Context, symbol string) (float64, error)

	// GetOpenInterest получает открытый интерес символа в USD
	GetOpenInterest(ctx context.Context, symbol string) (float64, error)

	// PlaceOrder размещает ордер
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	// GetOrderStatus получает текущее состояние ордера
	GetOrderStatus(ctx context.Context, orderID, symbol string) (*OrderResult, error)

	// CancelOrder отменяет ордер
	CancelOrder(ctx context.Context, orderID, symbol string) error

	// GetOpenOrders возвращает отдыхающие ордера по символу
	GetOpenOrders(ctx context.Context, symbol string) ([]*OrderResult, error)

	// Close закрывает соединения с биржей
	Close() error
}

// BookProvider - опциональная возможность адаптера: лучшие цены стакана.
// Если адаптер её не реализует, вызывающий код использует
// маркет-цену ± оценку спреда.
type BookProvider interface {
	// GetBestBidAsk возвращает лучший бид и аск
	GetBestBidAsk(ctx context.Context, symbol string) (bid, ask float64, err error)
}

// OrderRequest - запрос на размещение ордера
type OrderRequest struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"` // buy, sell
	Type        string  `json:"type"` // limit, market
	Price       float64 `json:"price,omitempty"`
	Size        float64 `json:"size"` // в базовых единицах
	TimeInForce string  `json:"time_in_force,omitempty"`
	ReduceOnly  bool    `json:"reduce_only,omitempty"`
}

// OrderResult - состояние ордера по данным биржи
type OrderResult struct {
	OrderID       string    `json:"order_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Status        string    `json:"status"`
	RequestedSize float64   `json:"requested_size"`
	FilledSize    float64   `json:"filled_size"`
	AvgFillPrice  float64   `json:"avg_fill_price"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Стороны ордеров
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Типы ордеров
const (
	OrderTypeLimit  = "limit"
	OrderTypeMarket = "market"
)

// Статусы ордеров
const (
	OrderStatusNew       = "new"     // принят, не исполнен
	OrderStatusPartial   = "partial" // частично исполнен, остаток в стакане
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)

// IsTerminal возвращает true для финальных статусов ордера
func IsTerminal(status string) bool {
	return status == OrderStatusFilled ||
		status == OrderStatusCancelled ||
		status == OrderStatusRejected
}

// VenueError представляет ошибку от биржи
type VenueError struct {
	Venue    string
	Code     string
	Message  string
	Original error
}

func (e *VenueError) Error() string {
	return e.Venue + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *VenueError) Unwrap() error {
	return e.Original
}

// TransferClient - транспорт перевода залога между биржами.
//
/// Перевод асинхронный: после вызова баланс на бирже-получателе
// необходимо перепроверять до истечения settlement delay.
type TransferClient interface {
	TransferBetweenVenues(ctx context.Context, from, to string, amount float64) error
}
