package engine

import "encoding/json"

// Query is one analysis request line in the engine's stdin protocol. The
// engine echoes ID on the matching response line; everything else is the
// position and the analysis controls.
type Query struct {
	ID               string                 `json:"id"`
	InitialStones    [][]string             `json:"initialStones"`
	Moves            [][]string             `json:"moves"`
	Rules            string                 `json:"rules"`
	Komi             float64                `json:"komi"`
	BoardXSize       int                    `json:"boardXSize"`
	BoardYSize       int                    `json:"boardYSize"`
	AnalyzeTurns     []int                  `json:"analyzeTurns"`
	MaxVisits        int                    `json:"maxVisits,omitempty"`
	IncludeOwnership bool                   `json:"includeOwnership,omitempty"`
	IncludePolicy    bool                   `json:"includePolicy,omitempty"`
	IncludePVVisits  bool                   `json:"includePVVisits,omitempty"`
	OverrideSettings map[string]interface{} `json:"overrideSettings,omitempty"`
}

// controlQuery is the action-only request shape used for clear_cache,
// query_version and keepalive pings.
type controlQuery struct {
	ID     string `json:"id"`
	Action string `json:"action"`
}

// MoveInfo is the engine's evaluation of one candidate move.
type MoveInfo struct {
	Move       string   `json:"move"`
	Visits     int      `json:"visits"`
	Winrate    float64  `json:"winrate"`
	ScoreMean  float64  `json:"scoreMean"`
	ScoreStdev float64  `json:"scoreStdev"`
	ScoreLead  float64  `json:"scoreLead"`
	Utility    float64  `json:"utility"`
	UtilityLcb float64  `json:"utilityLcb"`
	Lcb        float64  `json:"lcb"`
	Prior      float64  `json:"prior"`
	Order      int      `json:"order"`
	PV         []string `json:"pv"`
	PVVisits   []int    `json:"pvVisits,omitempty"`
	HumanPrior *float64 `json:"humanPrior,omitempty"`
}

// RootInfo summarizes the root position.
type RootInfo struct {
	Winrate         float64  `json:"winrate"`
	ScoreLead       float64  `json:"scoreLead"`
	ScoreStdev      float64  `json:"scoreStdev,omitempty"`
	Utility         float64  `json:"utility"`
	Visits          int      `json:"visits"`
	CurrentPlayer   string   `json:"currentPlayer"`
	RawWinrate      *float64 `json:"rawWinrate,omitempty"`
	RawScoreMean    *float64 `json:"rawScoreMean,omitempty"`
	RawStScoreError *float64 `json:"rawStScoreError,omitempty"`
	HumanWinrate    *float64 `json:"humanWinrate,omitempty"`
	HumanScoreMean  *float64 `json:"humanScoreMean,omitempty"`
}

// Response is one analysis result line from the engine. Unknown fields are
// tolerated in both directions; the engine's id round-trips untouched.
type Response struct {
	ID          string          `json:"id"`
	TurnNumber  int             `json:"turnNumber"`
	MoveInfos   []MoveInfo      `json:"moveInfos"`
	RootInfo    *RootInfo       `json:"rootInfo,omitempty"`
	Ownership   []float64       `json:"ownership,omitempty"`
	Policy      []float64       `json:"policy,omitempty"`
	HumanPolicy []float64       `json:"humanPolicy,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
}
