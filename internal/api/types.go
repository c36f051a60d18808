package api

import (
	"fmt"

	"github.com/goban-app/katago-server/internal/engine"
)

const maxBoardSize = 25

// AnalysisRequest is the POST /analyze request body.
//
// InitialPlayer is a heuristic escape hatch: when absent it is inferred from
// the presence of initial stones (stones present means White moves first).
// Handicap variants with non-standard rules should supply it explicitly.
type AnalysisRequest struct {
	ID               string                 `json:"id,omitempty"`
	Moves            []string               `json:"moves"`
	InitialStones    []string               `json:"initialStones,omitempty"`
	InitialPlayer    string                 `json:"initialPlayer,omitempty"`
	Rules            string                 `json:"rules,omitempty"`
	Komi             *float64               `json:"komi,omitempty"`
	BoardXSize       int                    `json:"boardXSize,omitempty"`
	BoardYSize       int                    `json:"boardYSize,omitempty"`
	MaxVisits        int                    `json:"maxVisits,omitempty"`
	IncludeOwnership bool                   `json:"includeOwnership,omitempty"`
	IncludePolicy    bool                   `json:"includePolicy,omitempty"`
	IncludePvVisits  bool                   `json:"includePvVisits,omitempty"`
	AnalyzeTurns     []int                  `json:"analyzeTurns,omitempty"`
	OverrideSettings map[string]interface{} `json:"overrideSettings,omitempty"`
}

// Validate normalizes defaults and checks the request before any engine
// traffic.
func (r *AnalysisRequest) Validate() error {
	if r.BoardXSize == 0 {
		r.BoardXSize = 19
	}
	if r.BoardYSize == 0 {
		r.BoardYSize = 19
	}
	if r.BoardXSize < 1 || r.BoardXSize > maxBoardSize || r.BoardYSize < 1 || r.BoardYSize > maxBoardSize {
		return fmt.Errorf("board size %dx%d out of range (1-%d)", r.BoardXSize, r.BoardYSize, maxBoardSize)
	}
	if r.MaxVisits < 0 {
		return fmt.Errorf("maxVisits must not be negative")
	}
	switch r.InitialPlayer {
	case "", "b", "B", "w", "W":
	default:
		return fmt.Errorf("initialPlayer must be \"B\" or \"W\", got %q", r.InitialPlayer)
	}
	for _, mv := range r.Moves {
		if err := validateCoord(mv, r.BoardXSize, r.BoardYSize); err != nil {
			return fmt.Errorf("invalid move %q: %w", mv, err)
		}
	}
	for _, stone := range r.InitialStones {
		if err := validateCoord(stone, r.BoardXSize, r.BoardYSize); err != nil {
			return fmt.Errorf("invalid initial stone %q: %w", stone, err)
		}
		if isPass(stone) {
			return fmt.Errorf("initial stone must not be a pass")
		}
	}
	for _, turn := range r.AnalyzeTurns {
		if turn < 0 || turn > len(r.Moves) {
			return fmt.Errorf("analyzeTurns entry %d out of range (0-%d)", turn, len(r.Moves))
		}
	}
	return nil
}

// ToEngine converts the request into the engine façade's shape.
func (r *AnalysisRequest) ToEngine() *engine.Request {
	return &engine.Request{
		ID:               r.ID,
		Moves:            r.Moves,
		InitialStones:    r.InitialStones,
		InitialPlayer:    r.InitialPlayer,
		Rules:            r.Rules,
		Komi:             r.Komi,
		BoardXSize:       r.BoardXSize,
		BoardYSize:       r.BoardYSize,
		MaxVisits:        r.MaxVisits,
		IncludeOwnership: r.IncludeOwnership,
		IncludePolicy:    r.IncludePolicy,
		IncludePVVisits:  r.IncludePvVisits,
		AnalyzeTurns:     r.AnalyzeTurns,
		OverrideSettings: r.OverrideSettings,
	}
}

// VersionResponse is the GET /version response body.
type VersionResponse struct {
	EngineVersion string `json:"engineVersion"`
	ServerVersion string `json:"serverVersion"`
}

// StatusResponse acknowledges fire-and-forget operations.
type StatusResponse struct {
	Status string `json:"status"`
}
