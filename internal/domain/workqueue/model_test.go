package workqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestItemPayloadCarriesHandlerContract(t *testing.T) {
	t.Parallel()

	item := Item{
		ID:           "analysis-nba-consensus-games-20260105T143000Z",
		Sport:        "nba",
		Model:        "consensus",
		BetType:      "games",
		AnalysisType: "game",
		PropsOnly:    false,
		SnapshotAt:   time.Date(2026, time.January, 5, 14, 30, 0, 0, time.UTC),
		EnqueuedAt:   time.Date(2026, time.January, 5, 14, 30, 1, 0, time.UTC),
		ReceiveCount: 2,
	}

	payload := item.Payload()

	require.Equal(t, "nba", payload["sport"])
	require.Equal(t, "consensus", payload["model"])
	require.Equal(t, "games", payload["bet_type"])
	require.Equal(t, "game", payload["analysis_type"])
	require.Equal(t, false, payload["props_only"])

	// Queue bookkeeping never leaks into the handler payload.
	require.NotContains(t, payload, "id")
	require.NotContains(t, payload, "snapshot_at")
	require.NotContains(t, payload, "enqueued_at")
	require.NotContains(t, payload, "receive_count")
}

func TestItemPayloadPropsVariant(t *testing.T) {
	t.Parallel()

	item := Item{Sport: "nfl", Model: "power-rating", BetType: "props", AnalysisType: "prop", PropsOnly: true}
	payload := item.Payload()

	require.Equal(t, true, payload["props_only"])
	require.Equal(t, "prop", payload["analysis_type"])
}
