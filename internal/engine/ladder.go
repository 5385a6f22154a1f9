package engine

import (
	"sort"

	"go.uber.org/zap"

	"fundarb/internal/models"
	"fundarb/pkg/utils"
)

// LadderCandidate - возможность, прошедшая оценку, с потолком размера
type LadderCandidate struct {
	Opportunity *models.Opportunity
	MaxNotional float64
}

// LadderAction - что делать с возможностью в этом цикле
type LadderAction string

const (
	LadderOpen   LadderAction = "open"    // открыть новую пару
	LadderTopUp  LadderAction = "top_up"  // долить существующую пару
	LadderSkip   LadderAction = "skip"    // конфликт ног по символу
	LadderHalted LadderAction = "halted"  // капитал исчерпан раньше
)

// LadderDecision - одна ступень лестницы аллокаций
type LadderDecision struct {
	Candidate *LadderCandidate
	Action    LadderAction
	Notional  float64 // добавляемый размер, не суммарный
}

// Ladder раскладывает капитал по возможностям жадно, от лучшей к худшей:
// немного крупных полностью профинансированных позиций вместо множества
// мелких, чтобы разовые издержки не съедали доходность.
type Ladder struct {
	minOrderNotional float64
	log              *utils.Logger
}

// NewLadder создаёт аллокатор
func NewLadder(minOrderNotional float64, log *utils.Logger) *Ladder {
	return &Ladder{minOrderNotional: minOrderNotional, log: log.WithComponent("ladder")}
}

// Allocate обходит возможности по убыванию ожидаемой доходности
// и решает open/top_up/skip для каждой, пока не кончится капитал.
//
// Существующая пара на тех же площадках доливается до потолка;
// пара того же символа на других площадках пропускается (третья нога
// сломала бы дельта-нейтральность), но её размер резервируется в
// счётчике, чтобы дальнейшая математика не расходилась с рынком.
// Частично профинансированная ступень завершает обход.
func (l *Ladder) Allocate(candidates []*LadderCandidate, totalCapital float64, pairs []*models.PositionPair) []*LadderDecision {
	sorted := make([]*LadderCandidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Opportunity.ExpectedAPY != b.Opportunity.ExpectedAPY {
			return a.Opportunity.ExpectedAPY > b.Opportunity.ExpectedAPY
		}
		return a.MaxNotional > b.MaxNotional
	})

	bySymbol := make(map[string][]*models.PositionPair)
	for _, p := range pairs {
		bySymbol[p.Symbol] = append(bySymbol[p.Symbol], p)
	}

	var decisions []*LadderDecision
	used := 0.0

	for _, c := range sorted {
		remaining := totalCapital - used
		if remaining < l.minOrderNotional {
			decisions = append(decisions, &LadderDecision{Candidate: c, Action: LadderHalted})
			break
		}

		existing, conflict := matchPair(bySymbol[c.Opportunity.Symbol], c.Opportunity)
		if conflict {
			// Размер чужой пары резервируется, открывать нельзя
			l.log.Debug("символ занят другой комбинацией площадок",
				zap.String("key", c.Opportunity.Key()))
			used += c.MaxNotional
			decisions = append(decisions, &LadderDecision{Candidate: c, Action: LadderSkip})
			continue
		}

		if existing != nil {
			headroom := c.MaxNotional - existing.Notional()
			if headroom <= 0 {
				continue
			}
			add := utils.Min(headroom, remaining)
			used += add
			decisions = append(decisions, &LadderDecision{
				Candidate: c,
				Action:    LadderTopUp,
				Notional:  add,
			})
			// Капитал кончился до потолка: дальше не идём
			if add < headroom {
				break
			}
			continue
		}

		size := utils.Min(remaining, c.MaxNotional)
		if size < l.minOrderNotional {
			continue
		}
		used += size
		decisions = append(decisions, &LadderDecision{
			Candidate: c,
			Action:    LadderOpen,
			Notional:  size,
		})
		// Частичное открытие значит, что капитал исчерпан
		if size < c.MaxNotional {
			break
		}
	}
	return decisions
}

// matchPair ищет среди пар символа пару ровно на площадках возможности;
// любая другая пара того же символа означает конфликт ног
func matchPair(pairs []*models.PositionPair, opp *models.Opportunity) (existing *models.PositionPair, conflict bool) {
	for _, p := range pairs {
		if p.Long.Venue == opp.LongVenue && p.Short.Venue == opp.ShortVenue {
			existing = p
			continue
		}
		conflict = true
	}
	if existing != nil {
		return existing, false
	}
	return nil, conflict
}
