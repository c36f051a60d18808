package engine

import (
	"math"

	"github.com/google/uuid"
)

// defaultMinVisits is injected as maxVisits when the caller leaves the
// visit budget unspecified, so the engine always has a stopping condition.
const defaultMinVisits = 10

const defaultKomi = 7.5

// Request is a caller-facing analysis request, prior to normalization into
// the engine's wire shape.
type Request struct {
	// ID is the caller-supplied correlation id. A fresh UUID is assigned
	// when empty.
	ID string
	// Moves are coordinate strings in play order ("D4", "Q16", "pass").
	Moves []string
	// InitialStones are coordinates placed before the first move, e.g.
	// handicap stones.
	InitialStones []string
	// InitialPlayer names the side to move first ("b" or "w", any case).
	// When empty it is inferred: stones present means White moves first,
	// otherwise Black.
	InitialPlayer string
	// Rules names the engine ruleset. When empty it is derived from komi.
	Rules string
	// Komi is the compensation points; nil means the default 7.5.
	Komi *float64
	// BoardXSize and BoardYSize are the board dimensions.
	BoardXSize int
	BoardYSize int
	// MaxVisits bounds the search; zero means the server minimum.
	MaxVisits int

	IncludeOwnership bool
	IncludePolicy    bool
	IncludePVVisits  bool

	// AnalyzeTurns selects which turns the engine reports. Empty means the
	// final position only, which keeps responses one-to-one with queries.
	AnalyzeTurns []int

	// OverrideSettings is passed to the engine verbatim.
	OverrideSettings map[string]interface{}
}

// buildQuery normalizes a request into the engine's query shape. The id is
// the only field the supervisor interprets; everything else round-trips.
func buildQuery(req *Request) *Query {
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	first := normalizeColor(req.InitialPlayer)
	if first == "" {
		if len(req.InitialStones) > 0 {
			first = "w"
		} else {
			first = "b"
		}
	}

	// Initial stones belong to the side that does not move first.
	stoneColor := opponent(first)
	stones := make([][]string, 0, len(req.InitialStones))
	for _, coord := range req.InitialStones {
		stones = append(stones, []string{stoneColor, coord})
	}

	moves := make([][]string, 0, len(req.Moves))
	color := first
	for _, mv := range req.Moves {
		moves = append(moves, []string{color, mv})
		color = opponent(color)
	}

	komi := defaultKomi
	if req.Komi != nil {
		komi = *req.Komi
	}

	rules := req.Rules
	if rules == "" {
		rules = rulesForKomi(komi)
	}

	turns := req.AnalyzeTurns
	if len(turns) == 0 {
		turns = []int{len(req.Moves)}
	}

	maxVisits := req.MaxVisits
	if maxVisits <= 0 {
		maxVisits = defaultMinVisits
	}

	return &Query{
		ID:               id,
		InitialStones:    stones,
		Moves:            moves,
		Rules:            rules,
		Komi:             komi,
		BoardXSize:       req.BoardXSize,
		BoardYSize:       req.BoardYSize,
		AnalyzeTurns:     turns,
		MaxVisits:        maxVisits,
		IncludeOwnership: req.IncludeOwnership,
		IncludePolicy:    req.IncludePolicy,
		IncludePVVisits:  req.IncludePVVisits,
		OverrideSettings: req.OverrideSettings,
	}
}

// rulesForKomi picks a ruleset matching common komi conventions: integer
// komi and even-half komi (6.5) play as Japanese, odd-half komi (7.5) as
// Chinese.
func rulesForKomi(komi float64) string {
	if komi == math.Floor(komi) {
		return "japanese"
	}
	half := komi - 0.5
	if half == math.Floor(half) && int(math.Abs(half))%2 == 0 {
		return "japanese"
	}
	return "chinese"
}

func normalizeColor(c string) string {
	switch c {
	case "b", "B":
		return "b"
	case "w", "W":
		return "w"
	}
	return ""
}

func opponent(c string) string {
	if c == "b" {
		return "w"
	}
	return "b"
}
