package decision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/okxtrader/agent/internal/model"
)

// Decision is one parsed advisor decision. Numeric fields tolerate number,
// string, null and missing encodings; absent values decode to 0.
type Decision struct {
	Signal                model.DecisionSignal `json:"signal"`
	Coin                  string               `json:"coin"`
	Quantity              model.FlexFloat      `json:"quantity"`
	Leverage              model.FlexFloat      `json:"leverage"`
	EntryPrice            model.FlexFloat      `json:"entry_price"`
	ProfitTarget          model.FlexFloat      `json:"profit_target"`
	StopLoss              model.FlexFloat      `json:"stop_loss"`
	InvalidationCondition string               `json:"invalidation_condition,omitempty"`
	Confidence            model.FlexFloat      `json:"confidence"`
	CancelOrders          []string             `json:"cancel_orders,omitempty"`
	RiskUSD               model.FlexFloat      `json:"risk_usd,omitempty"`
	Justification         string               `json:"justification,omitempty"`
}

// ParseDecisions extracts decisions from free-form advisor output. It first
// tries a strict parse of the whole text; on failure it falls back to the
// largest [...] slice, then the largest {...} slice. An array is iterated
// with null entries skipped; a bare object is a single decision.
func ParseDecisions(raw string) ([]Decision, error) {
	data := []byte(raw)
	if !json.Valid(data) {
		slice, err := extractJSONSlice(raw)
		if err != nil {
			return nil, err
		}
		data = slice
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("decision: empty advisor output")
	}
	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decision: parse array: %w", err)
		}
		decisions := make([]Decision, 0, len(items))
		for i, item := range items {
			if bytes.Equal(bytes.TrimSpace(item), []byte("null")) {
				continue
			}
			var d Decision
			if err := json.Unmarshal(item, &d); err != nil {
				return nil, fmt.Errorf("decision: parse decision %d: %w", i+1, err)
			}
			d.Signal = canonicalSignal(d.Signal)
			decisions = append(decisions, d)
		}
		if len(decisions) == 0 {
			return nil, fmt.Errorf("decision: advisor returned an empty decision array")
		}
		return decisions, nil
	case '{':
		var d Decision
		if err := json.Unmarshal(trimmed, &d); err != nil {
			return nil, fmt.Errorf("decision: parse decision: %w", err)
		}
		d.Signal = canonicalSignal(d.Signal)
		return []Decision{d}, nil
	default:
		return nil, fmt.Errorf("decision: advisor output must be a JSON object or array")
	}
}

// canonicalSignal maps signal spellings the advisor is known to emit onto
// the canonical enum; models frequently pluralize cancel_order to match the
// cancel_orders field next to it.
func canonicalSignal(signal model.DecisionSignal) model.DecisionSignal {
	if signal == "cancel_orders" {
		return model.SignalCancelOrder
	}
	return signal
}

// extractJSONSlice cuts the largest bracketed slice out of non-JSON text:
// outermost [...] when present, otherwise outermost {...}.
func extractJSONSlice(raw string) ([]byte, error) {
	if start, end := strings.Index(raw, "["), strings.LastIndex(raw, "]"); start >= 0 && end > start {
		return []byte(raw[start : end+1]), nil
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("decision: no JSON found in advisor output")
	}
	return []byte(raw[start : end+1]), nil
}

// ResolveInstID maps an abstract coin name onto one of the configured
// instruments: exact case-insensitive match when the coin already contains
// a dash, uppercase-prefix match on "COIN-" otherwise.
func ResolveInstID(coin string, instIDs []string) (string, bool) {
	needle := strings.ToUpper(strings.TrimSpace(coin))
	if needle == "" {
		return "", false
	}
	exact := strings.Contains(needle, "-")
	for _, inst := range instIDs {
		upper := strings.ToUpper(inst)
		if exact {
			if upper == needle {
				return inst, true
			}
		} else if strings.HasPrefix(upper, needle+"-") {
			return inst, true
		}
	}
	return "", false
}
