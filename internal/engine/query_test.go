package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func komi(v float64) *float64 { return &v }

func TestBuildQueryAlternatesColors(t *testing.T) {
	q := buildQuery(&Request{
		Moves:      []string{"D4", "Q16", "C3"},
		BoardXSize: 19,
		BoardYSize: 19,
	})

	require.Len(t, q.Moves, 3)
	assert.Equal(t, []string{"b", "D4"}, q.Moves[0])
	assert.Equal(t, []string{"w", "Q16"}, q.Moves[1])
	assert.Equal(t, []string{"b", "C3"}, q.Moves[2])
	assert.Empty(t, q.InitialStones)
}

func TestBuildQueryAssignsID(t *testing.T) {
	q := buildQuery(&Request{BoardXSize: 19, BoardYSize: 19})
	assert.NotEmpty(t, q.ID)

	q2 := buildQuery(&Request{ID: "caller-id", BoardXSize: 19, BoardYSize: 19})
	assert.Equal(t, "caller-id", q2.ID)
}

func TestBuildQueryHandicapInference(t *testing.T) {
	// Stones present and no explicit first player: White moves first and
	// the stones belong to Black.
	q := buildQuery(&Request{
		InitialStones: []string{"D4", "Q16"},
		Moves:         []string{"C3"},
		BoardXSize:    19,
		BoardYSize:    19,
	})

	require.Len(t, q.InitialStones, 2)
	assert.Equal(t, []string{"b", "D4"}, q.InitialStones[0])
	assert.Equal(t, []string{"w", "C3"}, q.Moves[0])
}

func TestBuildQueryExplicitInitialPlayer(t *testing.T) {
	q := buildQuery(&Request{
		InitialStones: []string{"D4"},
		InitialPlayer: "B",
		Moves:         []string{"C3"},
		BoardXSize:    19,
		BoardYSize:    19,
	})

	assert.Equal(t, []string{"w", "D4"}, q.InitialStones[0])
	assert.Equal(t, []string{"b", "C3"}, q.Moves[0])
}

func TestBuildQueryRulesByKomi(t *testing.T) {
	cases := []struct {
		komi  float64
		rules string
	}{
		{7.5, "chinese"},
		{6.5, "japanese"},
		{6.0, "japanese"},
		{7.0, "japanese"},
		{0.5, "japanese"},
		{5.5, "chinese"},
	}
	for _, tc := range cases {
		q := buildQuery(&Request{Komi: komi(tc.komi), BoardXSize: 19, BoardYSize: 19})
		assert.Equalf(t, tc.rules, q.Rules, "komi %.1f", tc.komi)
	}
}

func TestBuildQueryExplicitRulesWin(t *testing.T) {
	q := buildQuery(&Request{Rules: "aga", Komi: komi(7.5), BoardXSize: 19, BoardYSize: 19})
	assert.Equal(t, "aga", q.Rules)
}

func TestBuildQueryDefaults(t *testing.T) {
	q := buildQuery(&Request{
		Moves:      []string{"D4", "Q16"},
		BoardXSize: 19,
		BoardYSize: 19,
	})

	assert.Equal(t, defaultKomi, q.Komi)
	assert.Equal(t, defaultMinVisits, q.MaxVisits)
	assert.Equal(t, []int{2}, q.AnalyzeTurns, "default analyzeTurns is the final position")
}

func TestBuildQueryPassthrough(t *testing.T) {
	q := buildQuery(&Request{
		Moves:            []string{"D4"},
		BoardXSize:       9,
		BoardYSize:       13,
		MaxVisits:        500,
		AnalyzeTurns:     []int{0, 1},
		IncludeOwnership: true,
		OverrideSettings: map[string]interface{}{"reportAnalysisWinratesAs": "BLACK"},
	})

	assert.Equal(t, 9, q.BoardXSize)
	assert.Equal(t, 13, q.BoardYSize)
	assert.Equal(t, 500, q.MaxVisits)
	assert.Equal(t, []int{0, 1}, q.AnalyzeTurns)
	assert.True(t, q.IncludeOwnership)
	assert.Equal(t, "BLACK", q.OverrideSettings["reportAnalysisWinratesAs"])
}
