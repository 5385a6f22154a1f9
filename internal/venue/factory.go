package venue

import (
	"fmt"
	"strings"
)

// SupportedVenues - список поддерживаемых бирж
var SupportedVenues = []string{
	"bybit",
	"okx",
}

// NewAdapter создает новый адаптер биржи по имени
func NewAdapter(name string) (Adapter, error) {
	name = strings.ToLower(name)

	switch name {
	case "bybit":
		return NewBybit(), nil
	case "okx":
		return NewOKX(), nil
	default:
		return nil, fmt.Errorf("unsupported venue: %s", name)
	}
}

// IsSupported проверяет, поддерживается ли биржа
func IsSupported(name string) bool {
	name = strings.ToLower(name)
	for _, supported := range SupportedVenues {
		if name == supported {
			return true
		}
	}
	return false
}
