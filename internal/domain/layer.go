package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Table names of the three layers.
const (
	BronzeTable = "bronze_transactions"
	SilverTable = "silver_transactions"
	GoldTable   = "gold_daily_summary"
)

// ErrUnknownLayer is returned when a layer name is not bronze, silver or gold.
var ErrUnknownLayer = errors.New("unknown layer")

// Layer names one stage of the medallion store.
type Layer string

const (
	LayerBronze Layer = "bronze"
	LayerSilver Layer = "silver"
	LayerGold   Layer = "gold"
)

// Layers lists every layer in pipeline order.
var Layers = []Layer{LayerBronze, LayerSilver, LayerGold}

// ParseLayer converts a user-supplied name into a Layer.
func ParseLayer(s string) (Layer, error) {
	switch l := Layer(strings.ToLower(strings.TrimSpace(s))); l {
	case LayerBronze, LayerSilver, LayerGold:
		return l, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLayer, s)
	}
}

// Table returns the store table backing the layer.
func (l Layer) Table() string {
	switch l {
	case LayerBronze:
		return BronzeTable
	case LayerSilver:
		return SilverTable
	case LayerGold:
		return GoldTable
	}
	return ""
}

func (l Layer) String() string { return string(l) }
