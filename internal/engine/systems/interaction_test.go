package systems

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabletop/internal/engine"
)

func TestInteractionGatesCommands(t *testing.T) {
	h := newHarness(t, allSystems()...)
	h.ok("ASK", "p1", nil)
	require.True(t, h.st.Sys.Interaction.Pending())

	h.reject("PLACE", "p1", spot{Spot: "a"}, engine.ErrInteractionPending)
	h.reject("ROLL", "p2", nil, engine.ErrInteractionPending)
	h.reject(CmdUndoRequest, "p2", nil, engine.ErrInteractionPending)
	h.reject(CmdUseToken, "p1", UseToken{TokenID: "shield"}, engine.ErrInteractionPending)
}

func TestInteractionRespond(t *testing.T) {
	h := newHarness(t, allSystems()...)
	h.ok("ASK", "p1", nil)
	id := h.st.Sys.Interaction.Current.ID

	h.reject(CmdInteractionRespond, "p2", RespondPayload{OptionID: "score"}, ErrInteractionNotYours)
	h.reject(CmdInteractionRespond, "p1", RespondPayload{OptionID: "nope"}, ErrInteractionInvalidOption)
	h.reject(CmdInteractionRespond, "p1", RespondPayload{OptionID: "locked"}, ErrInteractionOptionDisabled)
	h.reject(CmdInteractionRespond, "p1", RespondPayload{OptionIDs: []string{"score", "pass"}}, ErrInteractionSelectionCount)
	h.reject(CmdInteractionRespond, "p1", RespondPayload{InteractionID: "ix-99", OptionID: "score"}, ErrInteractionStale)
	h.reject(CmdInteractionCancel, "p1", nil, ErrInteractionNotCancellable)

	res := h.ok(CmdInteractionRespond, "p1", RespondPayload{InteractionID: id, OptionID: "score"})
	assert.Equal(t, []string{EvInteractionResolved, "SCORED"}, eventTypes(res.Events))
	assert.Equal(t, 1, h.st.Core.Score["p1"])
	assert.False(t, h.st.Sys.Interaction.Pending())

	h.reject(CmdInteractionRespond, "p1", RespondPayload{OptionID: "score"}, ErrInteractionNone)
	h.ok("PLACE", "p1", spot{Spot: "a"})
}

func TestInteractionQueueAdvances(t *testing.T) {
	h := newHarness(t, NewInteraction[board]())
	h.ok("ASK", "p1", nil)
	// The second prompt comes from outside the gate, as a cascade would.
	h.st.Sys.Enqueue(engine.Descriptor{SourceID: "late", PlayerID: "p2", Options: []engine.Option{{ID: "score"}}, ResolverKey: "pick"})
	require.Equal(t, 2, h.st.Sys.Interaction.Len())

	h.ok(CmdInteractionRespond, "p1", RespondPayload{OptionID: "pass"})
	require.NotNil(t, h.st.Sys.Interaction.Current)
	assert.Equal(t, "late", h.st.Sys.Interaction.Current.SourceID)
	assert.Equal(t, "p2", h.st.Sys.Interaction.Current.PlayerID)

	h.ok(CmdInteractionRespond, "p2", RespondPayload{OptionID: "score"})
	assert.Equal(t, 1, h.st.Core.Score["p2"])
	assert.Equal(t, 0, h.st.Sys.Interaction.Len())
}

func TestInteractionTimeout(t *testing.T) {
	h := newHarness(t, NewInteraction[board]())
	h.ok("ASK", "p1", nil)
	cur := h.st.Sys.Interaction.Current
	cur.Min = 1

	res := h.ok(CmdInteractionTimeout, "p2", nil)
	assert.Equal(t, EvInteractionExpired, res.Events[0].Type)
	assert.Equal(t, 1, h.st.Core.Score["p1"], "timeout falls back to the first enabled option")
}

func TestInteractionCancel(t *testing.T) {
	h := newHarness(t, NewInteraction[board]())
	h.ok("ASK", "p1", nil)
	h.st.Sys.Interaction.Current.Cancellable = true

	res := h.ok(CmdInteractionCancel, "p1", nil)
	assert.Equal(t, []string{EvInteractionCancelled}, eventTypes(res.Events))
	assert.False(t, h.st.Sys.Interaction.Pending())
	assert.Empty(t, h.st.Core.Score)
}

func TestInteractionMissingResolverFaults(t *testing.T) {
	h := newHarness(t, NewInteraction[board]())
	h.st.Sys.Enqueue(engine.Descriptor{PlayerID: "p1", Options: []engine.Option{{ID: "x"}}, ResolverKey: "missing"})
	before := h.st.Clone()
	res := h.exec(engine.NewCommand(CmdInteractionRespond, "p1", RespondPayload{OptionID: "x"}))
	assert.Equal(t, engine.ErrCommandFailed, res.Error)
	assert.Error(t, res.Fault)
	assert.Equal(t, before, res.State)
}

func TestSnapshotPerPlayer(t *testing.T) {
	h := newHarness(t, NewInteraction[board]())
	h.ok("ASK", "p1", nil)
	assert.NotNil(t, Snapshot(h.st.Sys, "p1").Current)
	assert.Nil(t, Snapshot(h.st.Sys, "p2").Current)
	assert.Equal(t, 1, Snapshot(h.st.Sys, "").Len())
}

func TestInteractionRefreshesPromotedOptions(t *testing.T) {
	h := newHarness(t, NewInteraction[board]())
	h.ok("ASK", "p1", nil)
	h.st.Sys.Enqueue(engine.Descriptor{
		PlayerID:    "p2",
		Options:     []engine.Option{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		ResolverKey: "pick",
		RefreshKey:  "spots",
	})
	// Placed after the prompt was queued, so its options are stale.
	h.st.Core.Placed = []string{"a"}

	h.ok(CmdInteractionRespond, "p1", RespondPayload{OptionID: "pass"})
	cur := h.st.Sys.Interaction.Current
	require.NotNil(t, cur)
	assert.Equal(t, []string{"b", "c"}, cur.Enabled())

	h.reject(CmdInteractionRespond, "p2", RespondPayload{OptionID: "a"}, ErrInteractionOptionDisabled)
	h.ok(CmdInteractionRespond, "p2", RespondPayload{OptionID: "b"})
}

func TestInteractionAutoResolvesSingleOption(t *testing.T) {
	h := newHarness(t, NewInteraction[board]())
	h.ok("ASK", "p1", nil)
	h.st.Sys.Enqueue(engine.Descriptor{
		PlayerID:    "p2",
		Options:     []engine.Option{{ID: "score"}, {ID: "a"}},
		ResolverKey: "pick",
		RefreshKey:  "spots",
		AutoResolve: true,
	})
	h.st.Core.Placed = []string{"a"}

	res := h.ok(CmdInteractionRespond, "p1", RespondPayload{OptionID: "pass"})
	assert.Equal(t, []string{EvInteractionResolved, EvInteractionResolved, "SCORED"}, eventTypes(res.Events))

	var auto InteractionResolved
	require.NoError(t, res.Events[1].Decode(&auto))
	assert.True(t, auto.Auto)
	assert.Equal(t, "p2", auto.PlayerID)
	assert.Equal(t, []string{"score"}, auto.OptionIDs)
	assert.Equal(t, 1, h.st.Core.Score["p2"])
	assert.False(t, h.st.Sys.Interaction.Pending())
}

func TestInteractionAutoResolveWaitsForChoice(t *testing.T) {
	h := newHarness(t, NewInteraction[board]())
	h.ok("ASK", "p1", nil)
	h.st.Sys.Enqueue(engine.Descriptor{
		PlayerID:    "p2",
		Options:     []engine.Option{{ID: "score"}, {ID: "b"}},
		ResolverKey: "pick",
		AutoResolve: true,
	})

	res := h.ok(CmdInteractionRespond, "p1", RespondPayload{OptionID: "pass"})
	assert.Equal(t, []string{EvInteractionResolved}, eventTypes(res.Events))
	require.True(t, h.st.Sys.Interaction.Pending())
	assert.Equal(t, "p2", h.st.Sys.Interaction.Current.PlayerID)
}
