package engine

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"fundarb/internal/models"
	"fundarb/internal/venue"
)

// fakeStats - статистика с фиксированными значениями на пару
type fakeStats struct {
	spread    float64
	hasData   bool
	stability float64
	samples   int
	err       error
}

func (f *fakeStats) WeightedSpread(longVenue, shortVenue, symbol string) (float64, bool, error) {
	return f.spread, f.hasData, f.err
}

func (f *fakeStats) StabilityScore(longVenue, shortVenue, symbol string) (float64, error) {
	return f.stability, f.err
}

func (f *fakeStats) SampleCount(longVenue, shortVenue, symbol string) (int, error) {
	return f.samples, f.err
}

func testOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		SizeSearchStep:       100,
		AllocSearchStep:      1000,
		SearchIterationLimit: 50,
		MinNotional:          100,
		MaxNotional:          500_000,
		MinAllocationFloor:   1000,
		MaxStabilityHaircut:  0.70,
		MaxOIShare:           0.05,
		HoldHorizonHours:     7 * 24,
		TargetSampleCount:    21,
	}
}

// richStats - стабильная история с полным окном выборки
func richStats(spread float64) *fakeStats {
	return &fakeStats{spread: spread, hasData: true, stability: 1.0, samples: 21}
}

func newTestOptimizer(stats StatsProvider) *Optimizer {
	return NewOptimizer(testOptimizerConfig(), stats, venue.DefaultFeeSchedule(), testLogger())
}

// ============================================================
// Чистый бинарный поиск
// ============================================================

func TestSearchMaxFeasible(t *testing.T) {
	tests := []struct {
		name     string
		lo, hi   float64
		step     float64
		maxIter  int
		feasible func(float64) bool
		wantMin  float64
		wantMax  float64
	}{
		{
			name: "порог внутри интервала",
			lo:   0, hi: 10000, step: 100, maxIter: 50,
			feasible: func(x float64) bool { return x <= 7300 },
			wantMin:  7200, wantMax: 7300,
		},
		{
			name: "весь интервал проходит",
			lo:   0, hi: 10000, step: 100, maxIter: 50,
			feasible: func(x float64) bool { return true },
			wantMin:  10000, wantMax: 10000,
		},
		{
			name: "даже нижняя граница не проходит",
			lo:   100, hi: 10000, step: 100, maxIter: 50,
			feasible: func(x float64) bool { return false },
			wantMin:  0, wantMax: 0,
		},
		{
			name: "вырожденный интервал",
			lo:   5000, hi: 4000, step: 100, maxIter: 50,
			feasible: func(x float64) bool { return true },
			wantMin:  0, wantMax: 0,
		},
		{
			name: "нулевой лимит итераций",
			lo:   0, hi: 10000, step: 100, maxIter: 0,
			feasible: func(x float64) bool { return true },
			wantMin:  0, wantMax: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchMaxFeasible(tt.lo, tt.hi, tt.step, tt.maxIter, tt.feasible)
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("searchMaxFeasible() = %v, want in [%v, %v]", got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestSearchMaxFeasible_IterationCapHolds(t *testing.T) {
	calls := 0
	searchMaxFeasible(0, 1e12, 1e-9, 50, func(x float64) bool {
		calls++
		return x <= 1
	})
	// lo, hi и не более 50 делений интервала
	if calls > 52 {
		t.Errorf("feasible вызвана %d раз, лимит итераций не соблюдён", calls)
	}
}

// ============================================================
// Размер одной возможности
// ============================================================

func TestMaxNotionalForTargetAPY_PositiveForGoodSpread(t *testing.T) {
	o := newTestOptimizer(richStats(0.0003))
	got := o.MaxNotionalForTargetAPY(testOpportunity(), 0.10)

	if got <= 0 {
		t.Fatal("MaxNotionalForTargetAPY() = 0 при спреде 0.0003 (APY ~33%), want > 0")
	}
	// Никогда выше доли меньшего OI
	if got > 300_000*0.05 {
		t.Errorf("MaxNotionalForTargetAPY() = %v, превышает 5%% меньшего OI", got)
	}
}

func TestMaxNotionalForTargetAPY_ZeroWhenTargetUnreachable(t *testing.T) {
	// Спред 0.0003 даёт грубо 33% годовых до издержек: цель 500%
	// недостижима на любом размере
	o := newTestOptimizer(richStats(0.0003))
	if got := o.MaxNotionalForTargetAPY(testOpportunity(), 5.0); got != 0 {
		t.Errorf("MaxNotionalForTargetAPY() = %v, want 0 для недостижимой цели", got)
	}
}

func TestMaxNotionalForTargetAPY_ShrinksWithTighterTarget(t *testing.T) {
	// Издержки растут с размером, поэтому более высокая цель
	// допускает только меньший размер
	o := newTestOptimizer(richStats(0.0008))
	loose := o.MaxNotionalForTargetAPY(testOpportunity(), 0.10)
	tight := o.MaxNotionalForTargetAPY(testOpportunity(), 0.60)

	if loose <= 0 || tight <= 0 {
		t.Fatalf("ожидались положительные размеры, got loose=%v tight=%v", loose, tight)
	}
	if tight > loose {
		t.Errorf("размер при цели 60%% (%v) больше размера при цели 10%% (%v)", tight, loose)
	}
}

func TestMaxNotionalForTargetAPY_UnstableHistoryHaircut(t *testing.T) {
	stable := newTestOptimizer(&fakeStats{spread: 0.0005, hasData: true, stability: 1.0, samples: 21})
	unstable := newTestOptimizer(&fakeStats{spread: 0.0005, hasData: true, stability: 0.1, samples: 21})

	s := stable.MaxNotionalForTargetAPY(testOpportunity(), 0.10)
	u := unstable.MaxNotionalForTargetAPY(testOpportunity(), 0.10)

	if s <= 0 {
		t.Fatal("стабильная история дала нулевой размер")
	}
	if u >= s {
		t.Errorf("нестабильная история (%v) не урезана относительно стабильной (%v)", u, s)
	}
	// Суммарное урезание ограничено потолком 70%
	if u < s*(1-0.70)-testOptimizerConfig().SizeSearchStep && u >= testOptimizerConfig().MinAllocationFloor {
		t.Errorf("урезание превысило потолок: %v против %v", u, s)
	}
}

func TestMaxNotionalForTargetAPY_FloorAfterHaircut(t *testing.T) {
	// Даже при максимальном урезании размер не падает ниже пола,
	// пока сырой размер его допускает
	o := newTestOptimizer(&fakeStats{spread: 0.0005, hasData: true, stability: 0.0, samples: 21})
	got := o.MaxNotionalForTargetAPY(testOpportunity(), 0.10)
	if got > 0 && got < testOptimizerConfig().MinAllocationFloor {
		t.Errorf("MaxNotionalForTargetAPY() = %v ниже пола %v", got, testOptimizerConfig().MinAllocationFloor)
	}
}

// ============================================================
// Качество данных
// ============================================================

func TestDataQualityRiskFactor(t *testing.T) {
	tests := []struct {
		name    string
		samples int
		err     error
		wantMin float64
		wantMax float64
	}{
		{name: "полное окно", samples: 21, wantMin: 1.0, wantMax: 1.0},
		{name: "сверх окна", samples: 100, wantMin: 1.0, wantMax: 1.0},
		{name: "половина окна", samples: 10, wantMin: 0.3, wantMax: 1.0},
		{name: "почти пусто", samples: 1, wantMin: 0.1, wantMax: 0.4},
		{name: "нет наблюдений", samples: 0, wantMin: 0.1, wantMax: 0.1},
		{name: "ошибка источника", samples: 21, err: errors.New("db down"), wantMin: 0.1, wantMax: 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOptimizer(&fakeStats{hasData: true, samples: tt.samples, err: tt.err})
			got := o.DataQualityRiskFactor(testOpportunity())
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("DataQualityRiskFactor() = %v, want in [%v, %v]", got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestDataQualityRiskFactor_MonotoneInSamples(t *testing.T) {
	prev := 0.0
	for _, n := range []int{0, 3, 7, 14, 21} {
		o := newTestOptimizer(&fakeStats{hasData: true, samples: n})
		got := o.DataQualityRiskFactor(testOpportunity())
		if got < prev {
			t.Fatalf("фактор при %d наблюдениях (%v) меньше, чем при меньшей выборке (%v)", n, got, prev)
		}
		prev = got
	}
}

// ============================================================
// Агрегированная аллокация
// ============================================================

func secondOpportunity() *models.Opportunity {
	opp := testOpportunity()
	opp.Symbol = "BTC"
	opp.LongMarkPrice = 60000
	opp.ShortMarkPrice = 60000
	opp.LongOpenInterest = 2_000_000
	opp.ShortOpenInterest = 1_500_000
	return opp
}

func TestOptimalAggregateAllocation_RespectsCapital(t *testing.T) {
	o := newTestOptimizer(richStats(0.0005))
	opps := []*models.Opportunity{testOpportunity(), secondOpportunity()}

	got := o.OptimalAggregateAllocation(opps, 20_000, 0.10)
	if got.Total <= 0 {
		t.Fatal("OptimalAggregateAllocation() = 0 при достижимой цели")
	}
	if got.Total > 20_000+1e-6 {
		t.Errorf("суммарная аллокация %v превышает капитал 20000", got.Total)
	}

	var sum float64
	for _, n := range got.PerOpportunity {
		if n < 0 {
			t.Errorf("отрицательная аллокация %v", n)
		}
		sum += n
	}
	if math.Abs(sum-got.Total) > 1e-6 {
		t.Errorf("сумма по возможностям %v не сходится с Total %v", sum, got.Total)
	}
}

func TestOptimalAggregateAllocation_ExcludesImplausibleSpread(t *testing.T) {
	o := newTestOptimizer(&fakeStats{spread: 0.9, hasData: true, stability: 1.0, samples: 21})
	got := o.OptimalAggregateAllocation([]*models.Opportunity{testOpportunity()}, 20_000, 0.10)

	if got.Total != 0 {
		t.Errorf("Total = %v, want 0: история с |спредом| 90%% должна исключаться", got.Total)
	}
	if len(got.Excluded) != 1 {
		t.Fatalf("Excluded = %v, want один ключ", got.Excluded)
	}
	if want := testOpportunity().Key(); got.Excluded[0] != want {
		t.Errorf("Excluded[0] = %q, want %q", got.Excluded[0], want)
	}
}

func TestOptimalAggregateAllocation_ExcludesNoHistory(t *testing.T) {
	o := newTestOptimizer(&fakeStats{hasData: false})
	got := o.OptimalAggregateAllocation([]*models.Opportunity{testOpportunity()}, 20_000, 0.10)

	if got.Total != 0 || len(got.Excluded) != 1 {
		t.Errorf("возможность без истории должна исключаться: Total=%v Excluded=%v",
			got.Total, got.Excluded)
	}
}

func TestOptimalAggregateAllocation_EmptyInput(t *testing.T) {
	o := newTestOptimizer(richStats(0.0005))
	got := o.OptimalAggregateAllocation(nil, 20_000, 0.10)
	if got.Total != 0 || len(got.PerOpportunity) != 0 {
		t.Errorf("пустой вход должен давать пустую аллокацию, got %+v", got)
	}
}

func TestOptimalAggregateAllocation_PerOpportunityCaps(t *testing.T) {
	o := newTestOptimizer(richStats(0.0005))
	opps := []*models.Opportunity{testOpportunity(), secondOpportunity()}

	got := o.OptimalAggregateAllocation(opps, 1_000_000, 0.10)
	for key, n := range got.PerOpportunity {
		var opp *models.Opportunity
		for _, o := range opps {
			if o.Key() == key {
				opp = o
			}
		}
		if opp == nil {
			t.Fatalf("неизвестный ключ %q", key)
		}
		capLimit := math.Min(opp.LongOpenInterest, opp.ShortOpenInterest) * 0.05
		if n > capLimit+1e-6 {
			t.Errorf("%s: аллокация %v превышает потолок ликвидности %v", key, n, capLimit)
		}
	}
}

func ExampleOptimizer_DataQualityRiskFactor() {
	stats := &fakeStats{hasData: true, samples: 21}
	o := NewOptimizer(testOptimizerConfig(), stats, venue.DefaultFeeSchedule(), testLogger())
	fmt.Println(o.DataQualityRiskFactor(testOpportunity()))
	// Output: 1
}
