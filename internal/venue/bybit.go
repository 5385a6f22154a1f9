package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"fundarb/internal/models"
)

const (
	bybitBaseURL    = "https://api.bybit.com"
	bybitRecvWindow = "5000"
)

// json - быстрый кодек для разбора ответов в горячем пути
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Bybit реализует интерфейс Adapter для биржи Bybit (linear perpetuals)
type Bybit struct {
	apiKey    string
	secretKey string

	httpClient *http.Client
	connected  bool
}

// NewBybit создаёт адаптер Bybit, использует общий HTTP клиент
// с connection pooling
func NewBybit() *Bybit {
	return &Bybit{
		httpClient: SharedHTTPClient(),
	}
}

func (b *Bybit) Name() string {
	return "bybit"
}

// bybitSymbol переводит символ движка в формат биржи: ETH → ETHUSDT
func bybitSymbol(symbol string) string {
	if strings.HasSuffix(symbol, "USDT") {
		return symbol
	}
	return symbol + "USDT"
}

// sign создаёт подпись для запроса к Bybit API v5
func (b *Bybit) sign(timestamp, payload string) string {
	message := timestamp + b.apiKey + bybitRecvWindow + payload
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest выполняет HTTP запрос к Bybit API
func (b *Bybit) doRequest(ctx context.Context, method, endpoint string, params map[string]string, signed bool) ([]byte, error) {
	var reqBody string
	var reqURL string

	if method == http.MethodGet {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		reqBody = query.Encode()
		if reqBody != "" {
			reqURL = bybitBaseURL + endpoint + "?" + reqBody
		} else {
			reqURL = bybitBaseURL + endpoint
		}
	} else {
		reqURL = bybitBaseURL + endpoint
		if len(params) > 0 {
			jsonBytes, _ := json.Marshal(params)
			reqBody = string(jsonBytes)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, strings.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		signature := b.sign(timestamp, reqBody)

		req.Header.Set("X-BAPI-API-KEY", b.apiKey)
		req.Header.Set("X-BAPI-SIGN", signature)
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var baseResp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(body, &baseResp); err != nil {
		return nil, err
	}
	if baseResp.RetCode != 0 {
		return nil, &VenueError{
			Venue:   "bybit",
			Code:    strconv.Itoa(baseResp.RetCode),
			Message: baseResp.RetMsg,
		}
	}

	return body, nil
}

func (b *Bybit) Connect(apiKey, secret, passphrase string) error {
	b.apiKey = apiKey
	b.secretKey = secret

	// Проверяем подключение через получение баланса
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := b.GetBalance(ctx); err != nil {
		return fmt.Errorf("failed to connect to Bybit: %w", err)
	}
	b.connected = true
	return nil
}

func (b *Bybit) GetBalance(ctx context.Context) (float64, error) {
	params := map[string]string{
		"accountType": "UNIFIED",
		"coin":        "USDT",
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, true)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Coin []struct {
					Coin                string `json:"coin"`
					AvailableToWithdraw string `json:"availableToWithdraw"`
					Equity              string `json:"equity"`
				} `json:"coin"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}

	if len(resp.Result.List) > 0 {
		for _, coin := range resp.Result.List[0].Coin {
			if coin.Coin == "USDT" {
				available, _ := strconv.ParseFloat(coin.AvailableToWithdraw, 64)
				if available > 0 {
					return available, nil
				}
				equity, _ := strconv.ParseFloat(coin.Equity, 64)
				return equity, nil
			}
		}
	}
	return 0, nil
}

func (b *Bybit) GetPositions(ctx context.Context) ([]*models.Position, error) {
	params := map[string]string{
		"category":   "linear",
		"settleCoin": "USDT",
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/position/list", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Symbol        string `json:"symbol"`
				Side          string `json:"side"` // Buy, Sell
				Size          string `json:"size"`
				AvgPrice      string `json:"avgPrice"`
				MarkPrice     string `json:"markPrice"`
				UnrealisedPnl string `json:"unrealisedPnl"`
				PositionIM    string `json:"positionIM"`
				CreatedTime   string `json:"createdTime"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	positions := make([]*models.Position, 0, len(resp.Result.List))
	for _, p := range resp.Result.List {
		size, _ := strconv.ParseFloat(p.Size, 64)
		if size == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.AvgPrice, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		pnl, _ := strconv.ParseFloat(p.UnrealisedPnl, 64)
		margin, _ := strconv.ParseFloat(p.PositionIM, 64)
		createdMs, _ := strconv.ParseInt(p.CreatedTime, 10, 64)

		side := models.SideLong
		if p.Side == "Sell" {
			side = models.SideShort
		}

		positions = append(positions, &models.Position{
			Venue:         "bybit",
			Symbol:        strings.TrimSuffix(p.Symbol, "USDT"),
			Side:          side,
			Size:          size,
			EntryPrice:    entry,
			MarkPrice:     mark,
			UnrealizedPnl: pnl,
			Margin:        margin,
			OpenedAt:      time.UnixMilli(createdMs),
		})
	}
	return positions, nil
}

// tickerData - общий разбор /v5/market/tickers
func (b *Bybit) ticker(ctx context.Context, symbol string) (bid, ask, mark, funding, oiValue float64, err error) {
	params := map[string]string{
		"category": "linear",
		"symbol":   bybitSymbol(symbol),
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/tickers", params, false)
	if err != nil {
		return 0, 0, 0, 0, 0, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Bid1Price   string `json:"bid1Price"`
				Ask1Price   string `json:"ask1Price"`
				MarkPrice   string `json:"markPrice"`
				FundingRate string `json:"fundingRate"`
				OpenInterestValue string `json:"openInterestValue"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, 0, 0, 0, 0, err
	}
	if len(resp.Result.List) == 0 {
		return 0, 0, 0, 0, 0, fmt.Errorf("ticker not found for %s", symbol)
	}

	t := resp.Result.List[0]
	bid, _ = strconv.ParseFloat(t.Bid1Price, 64)
	ask, _ = strconv.ParseFloat(t.Ask1Price, 64)
	mark, _ = strconv.ParseFloat(t.MarkPrice, 64)
	funding, _ = strconv.ParseFloat(t.FundingRate, 64)
	oiValue, _ = strconv.ParseFloat(t.OpenInterestValue, 64)
	return bid, ask, mark, funding, oiValue, nil
}

func (b *Bybit) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	_, _, mark, _, _, err := b.ticker(ctx, symbol)
	return mark, err
}

func (b *Bybit) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	_, _, _, funding, _, err := b.ticker(ctx, symbol)
	return funding, err
}

func (b *Bybit) GetOpenInterest(ctx context.Context, symbol string) (float64, error) {
	_, _, _, _, oi, err := b.ticker(ctx, symbol)
	return oi, err
}

// GetBestBidAsk реализует опциональную возможность BookProvider
func (b *Bybit) GetBestBidAsk(ctx context.Context, symbol string) (float64, float64, error) {
	bid, ask, _, _, _, err := b.ticker(ctx, symbol)
	return bid, ask, err
}

func (b *Bybit) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	side := "Buy"
	if req.Side == SideSell {
		side = "Sell"
	}
	orderType := "Limit"
	tif := "GTC"
	if req.Type == OrderTypeMarket {
		orderType = "Market"
		tif = "IOC"
	}

	params := map[string]string{
		"category":    "linear",
		"symbol":      bybitSymbol(req.Symbol),
		"side":        side,
		"orderType":   orderType,
		"qty":         strconv.FormatFloat(req.Size, 'f', -1, 64),
		"timeInForce": tif,
	}
	if req.Type == OrderTypeLimit {
		params["price"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}
	if req.ReduceOnly {
		params["reduceOnly"] = "true"
	}

	body, err := b.doRequest(ctx, http.MethodPost, "/v5/order/create", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			OrderID string `json:"orderId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	now := time.Now()
	return &OrderResult{
		OrderID:       resp.Result.OrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        OrderStatusNew,
		RequestedSize: req.Size,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (b *Bybit) GetOrderStatus(ctx context.Context, orderID, symbol string) (*OrderResult, error) {
	params := map[string]string{
		"category": "linear",
		"symbol":   bybitSymbol(symbol),
		"orderId":  orderID,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/order/realtime", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				OrderID     string `json:"orderId"`
				Side        string `json:"side"`
				OrderStatus string `json:"orderStatus"`
				Qty         string `json:"qty"`
				CumExecQty  string `json:"cumExecQty"`
				AvgPrice    string `json:"avgPrice"`
				CreatedTime string `json:"createdTime"`
				UpdatedTime string `json:"updatedTime"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Result.List) == 0 {
		return nil, fmt.Errorf("order %s not found on bybit", orderID)
	}

	o := resp.Result.List[0]
	qty, _ := strconv.ParseFloat(o.Qty, 64)
	filled, _ := strconv.ParseFloat(o.CumExecQty, 64)
	avgPrice, _ := strconv.ParseFloat(o.AvgPrice, 64)
	createdMs, _ := strconv.ParseInt(o.CreatedTime, 10, 64)
	updatedMs, _ := strconv.ParseInt(o.UpdatedTime, 10, 64)

	side := SideBuy
	if o.Side == "Sell" {
		side = SideSell
	}

	return &OrderResult{
		OrderID:       o.OrderID,
		Symbol:        symbol,
		Side:          side,
		Status:        mapBybitStatus(o.OrderStatus),
		RequestedSize: qty,
		FilledSize:    filled,
		AvgFillPrice:  avgPrice,
		CreatedAt:     time.UnixMilli(createdMs),
		UpdatedAt:     time.UnixMilli(updatedMs),
	}, nil
}

// mapBybitStatus переводит статусы Bybit в статусы адаптера
func mapBybitStatus(status string) string {
	switch status {
	case "Filled":
		return OrderStatusFilled
	case "PartiallyFilled":
		return OrderStatusPartial
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return OrderStatusCancelled
	case "Rejected":
		return OrderStatusRejected
	default:
		// New, Untriggered и прочие промежуточные
		return OrderStatusNew
	}
}

func (b *Bybit) CancelOrder(ctx context.Context, orderID, symbol string) error {
	params := map[string]string{
		"category": "linear",
		"symbol":   bybitSymbol(symbol),
		"orderId":  orderID,
	}

	_, err := b.doRequest(ctx, http.MethodPost, "/v5/order/cancel", params, true)
	return err
}

func (b *Bybit) GetOpenOrders(ctx context.Context, symbol string) ([]*OrderResult, error) {
	params := map[string]string{
		"category":  "linear",
		"symbol":    bybitSymbol(symbol),
		"openOnly":  "0",
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/order/realtime", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				OrderID     string `json:"orderId"`
				Side        string `json:"side"`
				OrderStatus string `json:"orderStatus"`
				Qty         string `json:"qty"`
				CumExecQty  string `json:"cumExecQty"`
				CreatedTime string `json:"createdTime"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	orders := make([]*OrderResult, 0, len(resp.Result.List))
	for _, o := range resp.Result.List {
		status := mapBybitStatus(o.OrderStatus)
		if IsTerminal(status) {
			continue
		}
		qty, _ := strconv.ParseFloat(o.Qty, 64)
		filled, _ := strconv.ParseFloat(o.CumExecQty, 64)
		createdMs, _ := strconv.ParseInt(o.CreatedTime, 10, 64)

		side := SideBuy
		if o.Side == "Sell" {
			side = SideSell
		}
		orders = append(orders, &OrderResult{
			OrderID:       o.OrderID,
			Symbol:        symbol,
			Side:          side,
			Status:        status,
			RequestedSize: qty,
			FilledSize:    filled,
			CreatedAt:     time.UnixMilli(createdMs),
		})
	}
	return orders, nil
}

func (b *Bybit) Close() error {
	b.connected = false
	return nil
}
