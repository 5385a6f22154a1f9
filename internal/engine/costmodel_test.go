package engine

import (
	"math"
	"testing"

	"fundarb/internal/models"
)

// ============================================================
// Тесты SlippageCost
// ============================================================

func TestSlippageCost_MonotonicInNotional(t *testing.T) {
	// Проскальзывание не убывает с ростом объёма при фиксированных
	// OI и спреде стакана
	notionals := []float64{100, 1000, 10000, 100000, 1000000, 10000000}

	prev := 0.0
	for _, n := range notionals {
		cost := SlippageCost(n, 2999, 3001, 500000, true)
		if cost < prev {
			t.Fatalf("SlippageCost(%v) = %v < previous %v, must be non-decreasing", n, cost, prev)
		}
		prev = cost
	}
}

func TestSlippageCost_MarketVsLimit(t *testing.T) {
	// Рыночный ордер платит половину спреда, лимитный - малую базу
	market := SlippageCost(10000, 2999, 3001, 500000, true)
	limit := SlippageCost(10000, 2999, 3001, 500000, false)

	if market <= limit {
		t.Errorf("market slippage %v <= limit slippage %v", market, limit)
	}
}

func TestSlippageCost_CappedAtTwoPercent(t *testing.T) {
	// Гигантский объём против крошечного OI: потолок 2% от объёма
	notional := 10_000_000.0
	cost := SlippageCost(notional, 90, 110, 1000, true)

	cap := notional * 0.02
	if cost > cap+1e-9 {
		t.Errorf("SlippageCost = %v, exceeds cap %v", cost, cap)
	}
	if cost != cap {
		t.Errorf("SlippageCost = %v, want exactly cap %v for extreme size", cost, cap)
	}
}

func TestSlippageCost_NoOpenInterestFallback(t *testing.T) {
	// Без OI оценка консервативная, но не нулевая
	cost := SlippageCost(10000, 2999, 3001, 0, false)
	if cost <= 0 {
		t.Errorf("SlippageCost without OI = %v, want positive fallback", cost)
	}

	costNeg := SlippageCost(10000, 2999, 3001, -5, false)
	if costNeg != cost {
		t.Errorf("negative OI cost %v != zero OI cost %v", costNeg, cost)
	}
}

func TestSlippageCost_ZeroNotional(t *testing.T) {
	if cost := SlippageCost(0, 2999, 3001, 500000, true); cost != 0 {
		t.Errorf("SlippageCost(0) = %v, want 0", cost)
	}
	if cost := SlippageCost(-100, 2999, 3001, 500000, true); cost != 0 {
		t.Errorf("SlippageCost(-100) = %v, want 0", cost)
	}
}

func TestSlippageCost_InvalidBook(t *testing.T) {
	// Перевёрнутый или пустой стакан: fallback оценка спреда
	cost := SlippageCost(10000, 3001, 2999, 500000, true)
	if cost <= 0 || math.IsNaN(cost) {
		t.Errorf("SlippageCost with crossed book = %v", cost)
	}
}

// ============================================================
// Тесты FundingRateSelfImpact
// ============================================================

func TestFundingRateSelfImpact_Direction(t *testing.T) {
	rate := 0.0001

	adjLong := FundingRateSelfImpact(10000, 500000, rate, models.SideLong)
	adjShort := FundingRateSelfImpact(10000, 500000, rate, models.SideShort)

	if adjLong <= rate {
		t.Errorf("long impact: %v <= %v, long must push rate up", adjLong, rate)
	}
	if adjShort >= rate {
		t.Errorf("short impact: %v >= %v, short must push rate down", adjShort, rate)
	}
}

func TestFundingRateSelfImpact_FactorCap(t *testing.T) {
	// Объём равен OI: sqrt(1)*0.1 = 0.1, ровно на потолке
	rate := 0.001
	adj := FundingRateSelfImpact(500000, 500000, rate, models.SideLong)
	want := rate * 1.1
	if math.Abs(adj-want) > 1e-12 {
		t.Errorf("adj = %v, want %v", adj, want)
	}

	// Объём больше OI: фактор остаётся на потолке
	adjHuge := FundingRateSelfImpact(5_000_000, 500000, rate, models.SideLong)
	if math.Abs(adjHuge-want) > 1e-12 {
		t.Errorf("adj for huge size = %v, want capped %v", adjHuge, want)
	}
}

func TestFundingRateSelfImpact_UnknownOI(t *testing.T) {
	rate := 0.0003
	if adj := FundingRateSelfImpact(10000, 0, rate, models.SideLong); adj != rate {
		t.Errorf("zero OI: adj = %v, want unchanged %v", adj, rate)
	}
	if adj := FundingRateSelfImpact(10000, -1, rate, models.SideShort); adj != rate {
		t.Errorf("negative OI: adj = %v, want unchanged %v", adj, rate)
	}
}

func TestFundingRateSelfImpact_NeverNaN(t *testing.T) {
	cases := []struct {
		notional, oi, rate float64
	}{
		{math.NaN(), 500000, 0.0001},
		{10000, math.NaN(), 0.0001},
		{10000, 500000, math.NaN()},
		{math.Inf(1), 500000, 0.0001},
	}

	for _, c := range cases {
		adjLong := FundingRateSelfImpact(c.notional, c.oi, c.rate, models.SideLong)
		adjShort := FundingRateSelfImpact(c.notional, c.oi, c.rate, models.SideShort)
		// Либо исходная ставка (пусть даже NaN на входе), либо конечное число;
		// функция сама не порождает NaN
		if !math.IsNaN(c.rate) {
			if math.IsNaN(adjLong) || math.IsNaN(adjShort) {
				t.Errorf("self impact produced NaN for %+v", c)
			}
		}
	}
}

// ============================================================
// Тесты AdjustedSpread
// ============================================================

func TestAdjustedSpread_ReducesRawSpread(t *testing.T) {
	opp := &models.Opportunity{
		Symbol:            "ETH",
		LongVenue:         "bybit",
		ShortVenue:        "okx",
		LongRate:          0.0001,
		ShortRate:         -0.0002,
		Spread:            0.0003,
		LongOpenInterest:  500000,
		ShortOpenInterest: 300000,
	}

	adj := AdjustedSpread(opp, 15000)
	if adj >= opp.Spread {
		t.Errorf("adjusted spread %v >= raw %v, self impact must erode the edge", adj, opp.Spread)
	}
	if adj <= 0 {
		t.Errorf("adjusted spread %v <= 0 for a modest size", adj)
	}
}

func TestAdjustedSpread_GrowsWithSizeErosion(t *testing.T) {
	opp := &models.Opportunity{
		LongRate:          0.0001,
		ShortRate:         -0.0002,
		Spread:            0.0003,
		LongOpenInterest:  500000,
		ShortOpenInterest: 300000,
	}

	small := AdjustedSpread(opp, 1000)
	large := AdjustedSpread(opp, 100000)
	if large >= small {
		t.Errorf("erosion must grow with size: spread at 100k %v >= at 1k %v", large, small)
	}
}
