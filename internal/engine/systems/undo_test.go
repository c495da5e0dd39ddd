package systems

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabletop/internal/engine"
)

func TestUndoRestoresPrePlacementState(t *testing.T) {
	h := newHarness(t, allSystems()...)
	h.ok("ROLL", "p1", nil)
	before := h.st.Clone()
	require.Equal(t, 3, Count(before.Sys, "p1", "marker"))

	h.ok("PLACE", "p1", spot{Spot: "a"})
	require.Equal(t, 2, Count(h.st.Sys, "p1", "marker"))
	require.Len(t, h.st.Sys.Undo.Snapshots, 2)

	res := h.ok(CmdUndoRequest, "p1", nil)
	assert.Equal(t, []string{EvUndoRequested}, eventTypes(res.Events))
	require.NotNil(t, h.st.Sys.Undo.Pending)

	res = h.ok(CmdUndoApprove, "p2", nil)
	assert.Equal(t, []string{EvUndoApplied}, eventTypes(res.Events))

	assert.Equal(t, before.Core, h.st.Core)
	assert.Equal(t, before.Sys.Tokens, h.st.Sys.Tokens)
	assert.Equal(t, before.Sys.Phase, h.st.Sys.Phase)
	assert.Equal(t, before.Sys.Undo.Snapshots, h.st.Sys.Undo.Snapshots)
	assert.Nil(t, h.st.Sys.Undo.Pending)
	assert.Greater(t, h.st.Sys.NextSeq, before.Sys.NextSeq, "event ids keep increasing after undo")
}

func TestUndoErrors(t *testing.T) {
	h := newHarness(t, allSystems()...)
	h.reject(CmdUndoRequest, "p1", nil, ErrUndoNoSnapshot)
	h.reject(CmdUndoApprove, "p2", nil, ErrUndoNoRequest)
	h.reject(CmdUndoCancel, "p1", nil, ErrUndoNoRequest)

	h.ok("PLACE", "p1", spot{Spot: "a"})
	h.ok(CmdUndoRequest, "p1", nil)

	h.reject(CmdUndoRequest, "p2", nil, ErrUndoRequestPending)
	h.reject(CmdUndoApprove, "p1", nil, ErrUndoSelfApproval)
	h.reject(CmdUndoReject, "p1", nil, ErrUndoSelfApproval)
	h.reject(CmdUndoCancel, "p2", nil, ErrUndoNotRequester)
	h.reject("PLACE", "p1", spot{Spot: "b"}, ErrUndoRequestPending)

	h.ok(CmdUndoReject, "p2", nil)
	assert.Nil(t, h.st.Sys.Undo.Pending)
	assert.Equal(t, []string{"a"}, h.st.Core.Placed)

	h.ok(CmdUndoRequest, "p1", nil)
	h.ok(CmdUndoCancel, "p1", nil)
	assert.Nil(t, h.st.Sys.Undo.Pending)
}

func TestUndoSkipsRejectedCommands(t *testing.T) {
	h := newHarness(t, allSystems()...)
	h.ok("PLACE", "p1", spot{Spot: "a"})
	h.reject("PLACE", "p1", spot{Spot: "a"}, "spot_taken")
	assert.Len(t, h.st.Sys.Undo.Snapshots, 1)
}

func TestUndoSnapshotLimit(t *testing.T) {
	h := newHarness(t, NewUndo[board](UndoConfig{MaxSnapshots: 2, RequireApproval: false}))
	for _, s := range []string{"a", "b", "c"} {
		h.ok("PLACE", "p1", spot{Spot: s})
	}
	require.Len(t, h.st.Sys.Undo.Snapshots, 2)

	h.ok(CmdUndoRequest, "p1", nil)
	assert.Equal(t, []string{"a", "b"}, h.st.Core.Placed)
	h.ok(CmdUndoRequest, "p1", nil)
	assert.Equal(t, []string{"a"}, h.st.Core.Placed)
	h.reject(CmdUndoRequest, "p1", nil, ErrUndoNoSnapshot)
}

func TestUndoRejectRequiresSeat(t *testing.T) {
	h := newHarness(t, allSystems()...)
	h.ok("PLACE", "p1", spot{Spot: "a"})
	h.ok(CmdUndoRequest, "p1", nil)

	h.reject(CmdUndoReject, "mallory", nil, engine.ErrPlayerMismatch)
	h.reject(CmdUndoApprove, "mallory", nil, engine.ErrPlayerMismatch)
	require.NotNil(t, h.st.Sys.Undo.Pending)

	h.ok(CmdUndoReject, "p2", nil)
	assert.Nil(t, h.st.Sys.Undo.Pending)
}

func TestUndoAfterGameOver(t *testing.T) {
	h := newHarness(t, allSystems()...)
	h.ok("PLACE", "p1", spot{Spot: "a"})
	h.ok("FINISH", "p1", nil)
	require.NotNil(t, h.st.Sys.Gameover)
	require.NotEmpty(t, h.st.Sys.Undo.Snapshots)

	h.reject(CmdUndoRequest, "p1", nil, ErrUndoMatchOver)
	h.reject(CmdUndoRequest, "p2", nil, ErrUndoMatchOver)

	h.st.Sys.Undo.Pending = &engine.UndoRequest{Requester: "p1", Approvals: []engine.PlayerID{}, Required: 1}
	h.reject(CmdUndoApprove, "p2", nil, ErrUndoMatchOver)
	assert.Equal(t, "p1", h.st.Core.Winner)
}
