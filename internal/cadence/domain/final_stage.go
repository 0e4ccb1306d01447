package domain

import "strings"

// FinalStageOrderThreshold is the first order index reserved for
// system-generated outcome stages.
const FinalStageOrderThreshold = 998

var finalStageNames = map[string]struct{}{
	"won":             {},
	"lost":            {},
	"closed won":      {},
	"closed lost":     {},
	"closed-won":      {},
	"closed-lost":     {},
	"ganho":           {},
	"perdido":         {},
	"venda ganha":     {},
	"venda perdida":   {},
	"fechado ganho":   {},
	"fechado perdido": {},
	"ganado":          {},
	"gewonnen":        {},
	"verloren":        {},
}

var finalStageTokens = []string{
	"won",
	"lost",
	"ganho",
	"ganha",
	"perdido",
	"perdida",
	"ganado",
	"gewonnen",
	"verloren",
}

// IsFinalStage reports whether a stage is a terminal pipeline outcome.
// A nil order skips the order-index rule.
func IsFinalStage(name string, order *int) bool {
	if order != nil && *order >= FinalStageOrderThreshold {
		return true
	}

	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return false
	}
	if _, ok := finalStageNames[normalized]; ok {
		return true
	}
	for _, token := range finalStageTokens {
		if strings.Contains(normalized, token) {
			return true
		}
	}
	return false
}
