package engine

import (
	"testing"
	"time"

	"fundarb/internal/models"
)

func ladderCandidate(symbol, longVenue, shortVenue string, apy, maxNotional float64) *LadderCandidate {
	return &LadderCandidate{
		Opportunity: &models.Opportunity{
			Symbol:      symbol,
			LongVenue:   longVenue,
			ShortVenue:  shortVenue,
			ExpectedAPY: apy,
			Timestamp:   time.Now(),
		},
		MaxNotional: maxNotional,
	}
}

func existingPair(symbol, longVenue, shortVenue string, notional float64) *models.PositionPair {
	size := notional / 3000
	return &models.PositionPair{
		Symbol: symbol,
		Long: &models.Position{
			Venue: longVenue, Symbol: symbol, Side: models.SideLong,
			Size: size, MarkPrice: 3000, OpenedAt: time.Now().Add(-24 * time.Hour),
		},
		Short: &models.Position{
			Venue: shortVenue, Symbol: symbol, Side: models.SideShort,
			Size: size, MarkPrice: 3000, OpenedAt: time.Now().Add(-24 * time.Hour),
		},
	}
}

func decisionsByAction(decisions []*LadderDecision, action LadderAction) []*LadderDecision {
	var out []*LadderDecision
	for _, d := range decisions {
		if d.Action == action {
			out = append(out, d)
		}
	}
	return out
}

func newTestLadder() *Ladder {
	return NewLadder(100, testLogger())
}

// ============================================================
// Порядок обхода и консервация капитала
// ============================================================

func TestLadderAllocate_BestAPYFirst(t *testing.T) {
	l := newTestLadder()
	candidates := []*LadderCandidate{
		ladderCandidate("BTC", "bybit", "okx", 0.15, 10_000),
		ladderCandidate("ETH", "bybit", "okx", 0.40, 10_000),
		ladderCandidate("SOL", "bybit", "okx", 0.25, 10_000),
	}

	decisions := l.Allocate(candidates, 100_000, nil)
	opens := decisionsByAction(decisions, LadderOpen)
	if len(opens) != 3 {
		t.Fatalf("открыто %d пар, want 3", len(opens))
	}
	wantOrder := []string{"ETH", "SOL", "BTC"}
	for i, d := range opens {
		if d.Candidate.Opportunity.Symbol != wantOrder[i] {
			t.Errorf("порядок[%d] = %s, want %s", i, d.Candidate.Opportunity.Symbol, wantOrder[i])
		}
	}
}

func TestLadderAllocate_TieBreakByLargerCap(t *testing.T) {
	l := newTestLadder()
	candidates := []*LadderCandidate{
		ladderCandidate("BTC", "bybit", "okx", 0.20, 5_000),
		ladderCandidate("ETH", "bybit", "okx", 0.20, 50_000),
	}

	decisions := l.Allocate(candidates, 100_000, nil)
	opens := decisionsByAction(decisions, LadderOpen)
	if len(opens) != 2 {
		t.Fatalf("открыто %d пар, want 2", len(opens))
	}
	if opens[0].Candidate.Opportunity.Symbol != "ETH" {
		t.Errorf("при равном APY первым должен идти больший потолок, got %s",
			opens[0].Candidate.Opportunity.Symbol)
	}
}

func TestLadderAllocate_CapitalNeverExceeded(t *testing.T) {
	l := newTestLadder()
	candidates := []*LadderCandidate{
		ladderCandidate("ETH", "bybit", "okx", 0.40, 30_000),
		ladderCandidate("BTC", "bybit", "okx", 0.30, 30_000),
		ladderCandidate("SOL", "bybit", "okx", 0.20, 30_000),
	}

	decisions := l.Allocate(candidates, 50_000, nil)
	var total float64
	for _, d := range decisions {
		total += d.Notional
	}
	if total > 50_000+1e-9 {
		t.Errorf("распределено %v при капитале 50000", total)
	}
}

func TestLadderAllocate_StopsAfterPartialOpen(t *testing.T) {
	// Вторая ступень получает лишь остаток: обход должен остановиться,
	// третья возможность не рассматривается
	l := newTestLadder()
	candidates := []*LadderCandidate{
		ladderCandidate("ETH", "bybit", "okx", 0.40, 30_000),
		ladderCandidate("BTC", "bybit", "okx", 0.30, 30_000),
		ladderCandidate("SOL", "bybit", "okx", 0.20, 30_000),
	}

	decisions := l.Allocate(candidates, 50_000, nil)
	opens := decisionsByAction(decisions, LadderOpen)
	if len(opens) != 2 {
		t.Fatalf("открыто %d пар, want 2 (полная и частичная)", len(opens))
	}
	if opens[0].Notional != 30_000 {
		t.Errorf("первая ступень = %v, want 30000", opens[0].Notional)
	}
	if opens[1].Notional != 20_000 {
		t.Errorf("частичная ступень = %v, want 20000", opens[1].Notional)
	}
}

// ============================================================
// Существующие пары
// ============================================================

func TestLadderAllocate_TopUpExistingPair(t *testing.T) {
	l := newTestLadder()
	candidates := []*LadderCandidate{
		ladderCandidate("ETH", "bybit", "okx", 0.40, 20_000),
	}
	pairs := []*models.PositionPair{existingPair("ETH", "bybit", "okx", 12_000)}

	decisions := l.Allocate(candidates, 100_000, pairs)
	topUps := decisionsByAction(decisions, LadderTopUp)
	if len(topUps) != 1 {
		t.Fatalf("доливок %d, want 1", len(topUps))
	}
	if got := topUps[0].Notional; got != 8_000 {
		t.Errorf("доливка = %v, want 8000 (до потолка 20000)", got)
	}
}

func TestLadderAllocate_TopUpExhaustsCapitalStopsWalk(t *testing.T) {
	l := newTestLadder()
	candidates := []*LadderCandidate{
		ladderCandidate("ETH", "bybit", "okx", 0.40, 50_000),
		ladderCandidate("BTC", "bybit", "okx", 0.30, 20_000),
	}
	pairs := []*models.PositionPair{existingPair("ETH", "bybit", "okx", 12_000)}

	decisions := l.Allocate(candidates, 10_000, pairs)
	if len(decisionsByAction(decisions, LadderTopUp)) != 1 {
		t.Fatal("ожидалась одна доливка")
	}
	if got := decisionsByAction(decisions, LadderOpen); len(got) != 0 {
		t.Errorf("после неполной доливки обход должен остановиться, открыто %d", len(got))
	}
}

func TestLadderAllocate_PairAtCapSkippedSilently(t *testing.T) {
	l := newTestLadder()
	candidates := []*LadderCandidate{
		ladderCandidate("ETH", "bybit", "okx", 0.40, 12_000),
		ladderCandidate("BTC", "bybit", "okx", 0.30, 10_000),
	}
	pairs := []*models.PositionPair{existingPair("ETH", "bybit", "okx", 12_000)}

	decisions := l.Allocate(candidates, 100_000, pairs)
	opens := decisionsByAction(decisions, LadderOpen)
	if len(opens) != 1 || opens[0].Candidate.Opportunity.Symbol != "BTC" {
		t.Errorf("пара на потолке не должна мешать следующей ступени, opens=%v", opens)
	}
}

func TestLadderAllocate_ConflictingVenuePairSkippedButReserved(t *testing.T) {
	// ETH уже занят парой bybit-okx; возможность ETH okx-bybit
	// пропускается, но её номинал резервируется, так что на BTC
	// остаётся меньше
	l := newTestLadder()
	candidates := []*LadderCandidate{
		ladderCandidate("ETH", "okx", "bybit", 0.40, 30_000),
		ladderCandidate("BTC", "bybit", "okx", 0.30, 50_000),
	}
	pairs := []*models.PositionPair{existingPair("ETH", "bybit", "okx", 10_000)}

	decisions := l.Allocate(candidates, 50_000, pairs)
	if skips := decisionsByAction(decisions, LadderSkip); len(skips) != 1 {
		t.Fatalf("пропусков %d, want 1", len(skips))
	}
	opens := decisionsByAction(decisions, LadderOpen)
	if len(opens) != 1 {
		t.Fatalf("открытий %d, want 1", len(opens))
	}
	if got := opens[0].Notional; got != 20_000 {
		t.Errorf("BTC получил %v, want 20000 (50000 минус резерв 30000)", got)
	}
}

func TestLadderAllocate_HaltsWhenCapitalBelowMinimum(t *testing.T) {
	l := newTestLadder()
	candidates := []*LadderCandidate{
		ladderCandidate("ETH", "bybit", "okx", 0.40, 30_000),
		ladderCandidate("BTC", "bybit", "okx", 0.30, 30_000),
	}

	decisions := l.Allocate(candidates, 30_050, nil)
	if len(decisionsByAction(decisions, LadderOpen)) != 1 {
		t.Fatal("ожидалось одно открытие")
	}
	halted := decisionsByAction(decisions, LadderHalted)
	if len(halted) != 1 || halted[0].Candidate.Opportunity.Symbol != "BTC" {
		t.Errorf("остаток 50 ниже минимального ордера, ожидалась остановка на BTC: %v", halted)
	}
}
