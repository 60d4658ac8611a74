package position

import "atm_algo/internal/models"

type Decision int

const (
	Allow Decision = iota
	SkipDuplicate
	SkipOpposite
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case SkipDuplicate:
		return "duplicate"
	case SkipOpposite:
		return "opposite side open"
	default:
		return "unknown"
	}
}

// Guard suppresses orders for symbols that already hold an OPEN position.
// An open position on the opposite side is not flipped: it has to close first.
type Guard struct {
	store *Store
}

func NewGuard(store *Store) *Guard {
	return &Guard{store: store}
}

func (g *Guard) Check(symbol string, side models.Side) Decision {
	open, ok := g.store.OpenSide(symbol)
	switch {
	case !ok:
		return Allow
	case open == side:
		return SkipDuplicate
	default:
		return SkipOpposite
	}
}
