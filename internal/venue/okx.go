package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fundarb/internal/models"
)

const okxBaseURL = "https://www.okx.com"

// OKX реализует интерфейс Adapter для биржи OKX (USDT swaps)
type OKX struct {
	apiKey     string
	secretKey  string
	passphrase string

	httpClient *http.Client
	connected  bool
}

// NewOKX создаёт адаптер OKX
func NewOKX() *OKX {
	return &OKX{
		httpClient: SharedHTTPClient(),
	}
}

func (o *OKX) Name() string {
	return "okx"
}

// okxInstID переводит символ движка в формат биржи: ETH → ETH-USDT-SWAP
func okxInstID(symbol string) string {
	if strings.Contains(symbol, "-") {
		return symbol
	}
	return symbol + "-USDT-SWAP"
}

// sign создаёт подпись запроса: Base64(HMAC-SHA256(ts + method + path + body))
func (o *OKX) sign(timestamp, method, requestPath, body string) string {
	message := timestamp + method + requestPath + body
	h := hmac.New(sha256.New, []byte(o.secretKey))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// doRequest выполняет HTTP запрос к OKX API v5
func (o *OKX) doRequest(ctx context.Context, method, endpoint string, query map[string]string, payload map[string]string, signed bool) ([]byte, error) {
	requestPath := endpoint
	if len(query) > 0 {
		values := url.Values{}
		for k, v := range query {
			values.Set(k, v)
		}
		requestPath = endpoint + "?" + values.Encode()
	}

	var reqBody string
	if len(payload) > 0 {
		jsonBytes, _ := json.Marshal(payload)
		reqBody = string(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, okxBaseURL+requestPath, strings.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
		req.Header.Set("OK-ACCESS-KEY", o.apiKey)
		req.Header.Set("OK-ACCESS-SIGN", o.sign(timestamp, method, requestPath, reqBody))
		req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
		req.Header.Set("OK-ACCESS-PASSPHRASE", o.passphrase)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var baseResp struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &baseResp); err != nil {
		return nil, err
	}
	if baseResp.Code != "0" {
		return nil, &VenueError{
			Venue:   "okx",
			Code:    baseResp.Code,
			Message: baseResp.Msg,
		}
	}

	return body, nil
}

func (o *OKX) Connect(apiKey, secret, passphrase string) error {
	o.apiKey = apiKey
	o.secretKey = secret
	o.passphrase = passphrase

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := o.GetBalance(ctx); err != nil {
		return fmt.Errorf("failed to connect to OKX: %w", err)
	}
	o.connected = true
	return nil
}

func (o *OKX) GetBalance(ctx context.Context) (float64, error) {
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/account/balance",
		map[string]string{"ccy": "USDT"}, nil, true)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Data []struct {
			Details []struct {
				Ccy      string `json:"ccy"`
				AvailBal string `json:"availBal"`
				Eq       string `json:"eq"`
			} `json:"details"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}

	if len(resp.Data) > 0 {
		for _, d := range resp.Data[0].Details {
			if d.Ccy == "USDT" {
				avail, _ := strconv.ParseFloat(d.AvailBal, 64)
				if avail > 0 {
					return avail, nil
				}
				eq, _ := strconv.ParseFloat(d.Eq, 64)
				return eq, nil
			}
		}
	}
	return 0, nil
}

func (o *OKX) GetPositions(ctx context.Context) ([]*models.Position, error) {
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/account/positions",
		map[string]string{"instType": "SWAP"}, nil, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			InstID string `json:"instId"`
			Pos    string `json:"pos"` // знак определяет сторону в net mode
			AvgPx  string `json:"avgPx"`
			MarkPx string `json:"markPx"`
			Upl    string `json:"upl"`
			Imr    string `json:"imr"`
			CTime  string `json:"cTime"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	positions := make([]*models.Position, 0, len(resp.Data))
	for _, p := range resp.Data {
		pos, _ := strconv.ParseFloat(p.Pos, 64)
		if pos == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.AvgPx, 64)
		mark, _ := strconv.ParseFloat(p.MarkPx, 64)
		pnl, _ := strconv.ParseFloat(p.Upl, 64)
		margin, _ := strconv.ParseFloat(p.Imr, 64)
		createdMs, _ := strconv.ParseInt(p.CTime, 10, 64)

		side := models.SideLong
		if pos < 0 {
			side = models.SideShort
		}

		positions = append(positions, &models.Position{
			Venue:         "okx",
			Symbol:        strings.TrimSuffix(p.InstID, "-USDT-SWAP"),
			Side:          side,
			Size:          math.Abs(pos),
			EntryPrice:    entry,
			MarkPrice:     mark,
			UnrealizedPnl: pnl,
			Margin:        margin,
			OpenedAt:      time.UnixMilli(createdMs),
		})
	}
	return positions, nil
}

func (o *OKX) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/public/mark-price",
		map[string]string{"instId": okxInstID(symbol), "instType": "SWAP"}, nil, false)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Data []struct {
			MarkPx string `json:"markPx"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}
	if len(resp.Data) == 0 {
		return 0, fmt.Errorf("mark price not found for %s", symbol)
	}
	mark, _ := strconv.ParseFloat(resp.Data[0].MarkPx, 64)
	return mark, nil
}

func (o *OKX) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/public/funding-rate",
		map[string]string{"instId": okxInstID(symbol)}, nil, false)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Data []struct {
			FundingRate string `json:"fundingRate"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}
	if len(resp.Data) == 0 {
		return 0, fmt.Errorf("funding rate not found for %s", symbol)
	}
	rate, _ := strconv.ParseFloat(resp.Data[0].FundingRate, 64)
	return rate, nil
}

func (o *OKX) GetOpenInterest(ctx context.Context, symbol string) (float64, error) {
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/public/open-interest",
		map[string]string{"instId": okxInstID(symbol), "instType": "SWAP"}, nil, false)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Data []struct {
			OiCcy string `json:"oiCcy"` // в монетах базовой валюты
			OiUsd string `json:"oiUsd"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}
	if len(resp.Data) == 0 {
		return 0, fmt.Errorf("open interest not found for %s", symbol)
	}

	oiUsd, _ := strconv.ParseFloat(resp.Data[0].OiUsd, 64)
	if oiUsd > 0 {
		return oiUsd, nil
	}

	// Старый формат ответа без oiUsd: пересчитываем через маркет-цену
	oiCcy, _ := strconv.ParseFloat(resp.Data[0].OiCcy, 64)
	mark, err := o.GetMarkPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return oiCcy * mark, nil
}

// GetBestBidAsk реализует опциональную возможность BookProvider
func (o *OKX) GetBestBidAsk(ctx context.Context, symbol string) (float64, float64, error) {
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/market/ticker",
		map[string]string{"instId": okxInstID(symbol)}, nil, false)
	if err != nil {
		return 0, 0, err
	}

	var resp struct {
		Data []struct {
			BidPx string `json:"bidPx"`
			AskPx string `json:"askPx"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, 0, err
	}
	if len(resp.Data) == 0 {
		return 0, 0, fmt.Errorf("ticker not found for %s", symbol)
	}
	bid, _ := strconv.ParseFloat(resp.Data[0].BidPx, 64)
	ask, _ := strconv.ParseFloat(resp.Data[0].AskPx, 64)
	return bid, ask, nil
}

func (o *OKX) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	ordType := "limit"
	if req.Type == OrderTypeMarket {
		ordType = "market"
	}

	payload := map[string]string{
		"instId":  okxInstID(req.Symbol),
		"tdMode":  "cross",
		"side":    req.Side, // buy, sell - совпадают с форматом OKX
		"ordType": ordType,
		"sz":      strconv.FormatFloat(req.Size, 'f', -1, 64),
	}
	if req.Type == OrderTypeLimit {
		payload["px"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}
	if req.ReduceOnly {
		payload["reduceOnly"] = "true"
	}

	body, err := o.doRequest(ctx, http.MethodPost, "/api/v5/trade/order", nil, payload, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			OrdID string `json:"ordId"`
			SCode string `json:"sCode"`
			SMsg  string `json:"sMsg"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("empty order response from okx")
	}
	// OKX возвращает code=0 даже при отклонении ордера, ошибка в sCode
	if resp.Data[0].SCode != "0" {
		return nil, &VenueError{
			Venue:   "okx",
			Code:    resp.Data[0].SCode,
			Message: resp.Data[0].SMsg,
		}
	}

	now := time.Now()
	return &OrderResult{
		OrderID:       resp.Data[0].OrdID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        OrderStatusNew,
		RequestedSize: req.Size,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (o *OKX) GetOrderStatus(ctx context.Context, orderID, symbol string) (*OrderResult, error) {
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/trade/order",
		map[string]string{"instId": okxInstID(symbol), "ordId": orderID}, nil, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			OrdID   string `json:"ordId"`
			Side    string `json:"side"`
			State   string `json:"state"`
			Sz      string `json:"sz"`
			AccFillSz string `json:"accFillSz"`
			AvgPx   string `json:"avgPx"`
			CTime   string `json:"cTime"`
			UTime   string `json:"uTime"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("order %s not found on okx", orderID)
	}

	d := resp.Data[0]
	sz, _ := strconv.ParseFloat(d.Sz, 64)
	filled, _ := strconv.ParseFloat(d.AccFillSz, 64)
	avgPx, _ := strconv.ParseFloat(d.AvgPx, 64)
	createdMs, _ := strconv.ParseInt(d.CTime, 10, 64)
	updatedMs, _ := strconv.ParseInt(d.UTime, 10, 64)

	return &OrderResult{
		OrderID:       d.OrdID,
		Symbol:        symbol,
		Side:          d.Side,
		Status:        mapOKXState(d.State),
		RequestedSize: sz,
		FilledSize:    filled,
		AvgFillPrice:  avgPx,
		CreatedAt:     time.UnixMilli(createdMs),
		UpdatedAt:     time.UnixMilli(updatedMs),
	}, nil
}

// mapOKXState переводит состояния OKX в статусы адаптера
func mapOKXState(state string) string {
	switch state {
	case "filled":
		return OrderStatusFilled
	case "partially_filled":
		return OrderStatusPartial
	case "canceled", "mmp_canceled":
		return OrderStatusCancelled
	default:
		return OrderStatusNew
	}
}

func (o *OKX) CancelOrder(ctx context.Context, orderID, symbol string) error {
	payload := map[string]string{
		"instId": okxInstID(symbol),
		"ordId":  orderID,
	}
	_, err := o.doRequest(ctx, http.MethodPost, "/api/v5/trade/cancel-order", nil, payload, true)
	return err
}

func (o *OKX) GetOpenOrders(ctx context.Context, symbol string) ([]*OrderResult, error) {
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/trade/orders-pending",
		map[string]string{"instType": "SWAP", "instId": okxInstID(symbol)}, nil, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			OrdID     string `json:"ordId"`
			Side      string `json:"side"`
			State     string `json:"state"`
			Sz        string `json:"sz"`
			AccFillSz string `json:"accFillSz"`
			CTime     string `json:"cTime"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	orders := make([]*OrderResult, 0, len(resp.Data))
	for _, d := range resp.Data {
		sz, _ := strconv.ParseFloat(d.Sz, 64)
		filled, _ := strconv.ParseFloat(d.AccFillSz, 64)
		createdMs, _ := strconv.ParseInt(d.CTime, 10, 64)
		orders = append(orders, &OrderResult{
			OrderID:       d.OrdID,
			Symbol:        symbol,
			Side:          d.Side,
			Status:        mapOKXState(d.State),
			RequestedSize: sz,
			FilledSize:    filled,
			CreatedAt:     time.UnixMilli(createdMs),
		})
	}
	return orders, nil
}

func (o *OKX) Close() error {
	o.connected = false
	return nil
}
