package position

import "strings"

// Action is a recommendation verb shared by every stage of the pipeline.
type Action string

const (
	Hold       Action = "hold"
	TakeProfit Action = "take_profit"
	CutLoss    Action = "cut_loss"
	Roll       Action = "roll"
	Close      Action = "close"
	Hedge      Action = "hedge"
)

// Actions lists every action in schema order.
var Actions = []Action{Hold, TakeProfit, CutLoss, Roll, Close, Hedge}

// ParseAction is strict: only the canonical snake_case names are accepted.
func ParseAction(raw string) (Action, bool) {
	a := Action(strings.TrimSpace(raw))
	for _, known := range Actions {
		if a == known {
			return a, true
		}
	}
	return "", false
}
