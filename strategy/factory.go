package strategy

import (
	"fmt"
	"strings"

	"tradeflow/config"
	"tradeflow/indicator"
	"tradeflow/internal/clock"
)

// Known strategy-type keys accepted by New.
const (
	TypePVA = "PVA"
)

var typeAliases = map[string]string{
	"PVA":                 TypePVA,
	"PRICE_VOLUME_ACTION": TypePVA,
}

// New builds a strategy from its config, dispatching on the type string.
// Adding a new family means adding a case here and nothing else.
func New(cfg config.StrategyConfig, engine *indicator.Engine, clk clock.Clock) (Strategy, error) {
	kind, ok := typeAliases[strings.ToUpper(strings.TrimSpace(cfg.Type))]
	if !ok {
		return nil, fmt.Errorf("unknown strategy type %q for %s (known: %s)",
			cfg.Type, cfg.ID, strings.Join(knownTypes(), ", "))
	}

	switch kind {
	case TypePVA:
		return NewPVA(cfg, engine, clk), nil
	}
	return nil, fmt.Errorf("unhandled strategy type %q", kind)
}

func knownTypes() []string {
	out := make([]string, 0, len(typeAliases))
	for alias := range typeAliases {
		out = append(out, alias)
	}
	return out
}
