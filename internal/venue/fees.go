package venue

// FeeSchedule - комиссии бирж (доли, не проценты)
//
// Единственное место, где движок различает биржи по имени.
// Ставки мейкера используются планировщиком (входим отдыхающими
// лимитными ордерами), ставки тейкера - при закрытии по рынку.
type FeeSchedule struct {
	maker map[string]float64
	taker map[string]float64
}

// Дефолтные ставки для неизвестной биржи (консервативные)
const (
	defaultMakerFee = 0.0002 // 0.02%
	defaultTakerFee = 0.0006 // 0.06%
)

// DefaultFeeSchedule возвращает справочник комиссий поддерживаемых бирж
func DefaultFeeSchedule() *FeeSchedule {
	return &FeeSchedule{
		maker: map[string]float64{
			"bybit": 0.0002,
			"okx":   0.0002,
		},
		taker: map[string]float64{
			"bybit": 0.00055,
			"okx":   0.0005,
		},
	}
}

// MakerFee возвращает ставку мейкера для биржи
func (f *FeeSchedule) MakerFee(venue string) float64 {
	if fee, ok := f.maker[venue]; ok {
		return fee
	}
	return defaultMakerFee
}

// TakerFee возвращает ставку тейкера для биржи
func (f *FeeSchedule) TakerFee(venue string) float64 {
	if fee, ok := f.taker[venue]; ok {
		return fee
	}
	return defaultTakerFee
}

// SetMaker устанавливает ставку мейкера (для тестов и обновления из API)
func (f *FeeSchedule) SetMaker(venue string, fee float64) {
	f.maker[venue] = fee
}

// SetTaker устанавливает ставку тейкера
func (f *FeeSchedule) SetTaker(venue string, fee float64) {
	f.taker[venue] = fee
}
