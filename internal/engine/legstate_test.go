package engine

import (
	"testing"
	"time"

	"fundarb/internal/models"
)

// ============================================================
// Машина состояний попытки
// ============================================================

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{name: "план отправляется", from: StatePlanned, to: StateOrdersSubmitted, want: true},
		{name: "обе исполнены", from: StateOrdersSubmitted, to: StateBothFilled, want: true},
		{name: "частичное исполнение", from: StateOrdersSubmitted, to: StatePartialBothFilled, want: true},
		{name: "асимметрия", from: StateOrdersSubmitted, to: StateAsymmetric, want: true},
		{name: "обе отклонены", from: StateOrdersSubmitted, to: StateBothFailed, want: true},
		{name: "нельзя исполнить без отправки", from: StatePlanned, to: StateBothFilled, want: false},
		{name: "терминальное не покидается", from: StateBothFilled, to: StatePlanned, want: false},
		{name: "асимметрия терминальна для попытки", from: StateAsymmetric, to: StateBothFilled, want: false},
		{name: "неизвестное состояние", from: "half_filled", to: StateBothFilled, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestIsTerminalState(t *testing.T) {
	terminal := []string{StateBothFilled, StatePartialBothFilled, StateAsymmetric, StateBothFailed}
	for _, s := range terminal {
		if !IsTerminalState(s) {
			t.Errorf("IsTerminalState(%q) = false, want true", s)
		}
	}
	for _, s := range []string{StatePlanned, StateOrdersSubmitted} {
		if IsTerminalState(s) {
			t.Errorf("IsTerminalState(%q) = true, want false", s)
		}
	}
}

func TestPairAttempt_Advance(t *testing.T) {
	a := NewPairAttempt(nil)
	if a.State != StatePlanned {
		t.Fatalf("начальное состояние = %q, want %q", a.State, StatePlanned)
	}
	if err := a.Advance(StateOrdersSubmitted); err != nil {
		t.Fatalf("Advance(submitted) error = %v", err)
	}
	if err := a.Advance(StateBothFilled); err != nil {
		t.Fatalf("Advance(filled) error = %v", err)
	}
	if err := a.Advance(StateOrdersSubmitted); err == nil {
		t.Error("переход из терминального состояния должен возвращать ошибку")
	}
	if a.State != StateBothFilled {
		t.Errorf("неудачный переход изменил состояние: %q", a.State)
	}
}

// ============================================================
// Учёт асимметрий и повторов
// ============================================================

func asymRecord(symbol string, actAfter time.Time) *models.AsymmetricFillRecord {
	return &models.AsymmetricFillRecord{
		Symbol:      symbol,
		FilledSide:  models.SideLong,
		FilledVenue: "bybit",
		OtherVenue:  "okx",
		DetectedAt:  time.Now(),
		ActAfter:    actAfter,
	}
}

func TestLegStateBook_AsymmetricLifecycle(t *testing.T) {
	b := NewLegStateBook()
	now := time.Now()

	b.RecordAsymmetric(asymRecord("ETH", now.Add(5*time.Minute)))
	b.RecordAsymmetric(asymRecord("BTC", now.Add(-time.Second)))

	if got := b.AsymmetricCount(); got != 2 {
		t.Fatalf("AsymmetricCount() = %d, want 2", got)
	}

	due := b.DueAsymmetric(now)
	if len(due) != 1 || due[0].Symbol != "BTC" {
		t.Fatalf("DueAsymmetric() = %v, want только BTC", due)
	}

	b.ResolveAsymmetric(due[0].Key())
	if got := b.AsymmetricCount(); got != 1 {
		t.Errorf("после разрешения AsymmetricCount() = %d, want 1", got)
	}
}

func TestLegStateBook_DuplicateAsymmetricKeepsOriginalDeadline(t *testing.T) {
	b := NewLegStateBook()
	first := asymRecord("ETH", time.Now().Add(-time.Minute))
	b.RecordAsymmetric(first)
	b.RecordAsymmetric(asymRecord("ETH", time.Now().Add(time.Hour)))

	due := b.DueAsymmetric(time.Now())
	if len(due) != 1 {
		t.Fatalf("повторная регистрация не должна сдвигать дедлайн, due=%v", due)
	}
}

func TestLegStateBook_RetryCeilingReached(t *testing.T) {
	b := NewLegStateBook()

	var last *models.SingleLegRetryRecord
	for i := 0; i < models.SingleLegRetryCeiling; i++ {
		last = b.RegisterRetry("ETH", "bybit-okx", nil)
	}
	if last.RetryCount != models.SingleLegRetryCeiling {
		t.Fatalf("RetryCount = %d, want %d", last.RetryCount, models.SingleLegRetryCeiling)
	}
	if got := b.RetryCount("ETH", "bybit-okx"); got != models.SingleLegRetryCeiling {
		t.Errorf("RetryCount() = %d, want %d", got, models.SingleLegRetryCeiling)
	}

	// Другой ключ не затронут
	if got := b.RetryCount("BTC", "bybit-okx"); got != 0 {
		t.Errorf("чужой ключ RetryCount() = %d, want 0", got)
	}

	b.ClearRetry("ETH", "bybit-okx")
	if got := b.RetryCount("ETH", "bybit-okx"); got != 0 {
		t.Errorf("после ClearRetry RetryCount() = %d, want 0", got)
	}
}

func TestLegStateBook_Exclusions(t *testing.T) {
	b := NewLegStateBook()
	if b.IsExcluded("ETH", "bybit-okx") {
		t.Fatal("пустой учёт не должен исключать ключи")
	}

	b.Exclude("ETH", "bybit-okx")
	if !b.IsExcluded("ETH", "bybit-okx") {
		t.Error("IsExcluded() = false после Exclude")
	}
	if b.IsExcluded("ETH", "okx-bybit") {
		t.Error("исключение привязано к направлению связки")
	}

	snap := b.Exclusions()
	if len(snap) != 1 {
		t.Fatalf("Exclusions() = %v, want одна запись", snap)
	}
	// Снимок не связан с внутренним состоянием
	delete(snap, "ETH:bybit-okx")
	if !b.IsExcluded("ETH", "bybit-okx") {
		t.Error("изменение снимка затронуло учёт")
	}
}
