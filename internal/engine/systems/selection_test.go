package systems

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabletop/internal/engine"
)

func selectionHarness(t *testing.T, autoStart bool) *harness {
	return newHarness(t, NewInteraction[board](), NewSelection[board](SelectionConfig{
		Characters: []string{"knight", "mage", "rogue"},
		Exclusive:  true,
		FirstPhase: "play",
		AutoStart:  autoStart,
	}))
}

func TestSelectionFlow(t *testing.T) {
	h := selectionHarness(t, false)
	assert.Equal(t, SetupPhase, h.st.Sys.Phase)
	assert.Equal(t, "p1", h.st.Sys.Selection.Host)

	h.reject("PLACE", "p1", spot{Spot: "a"}, ErrSetupNotStarted)
	h.reject(CmdSelectCharacter, "p1", SelectCharacter{CharacterID: "dragon"}, ErrSetupInvalidCharacter)
	h.reject(CmdSelectCharacter, "p9", SelectCharacter{CharacterID: "mage"}, engine.ErrPlayerMismatch)
	h.reject(CmdPlayerReady, "p1", nil, ErrSetupCharacterNotSelected)

	h.ok(CmdSelectCharacter, "p1", SelectCharacter{CharacterID: "knight"})
	h.ok(CmdSelectCharacter, "p1", SelectCharacter{CharacterID: "mage"})
	h.reject(CmdSelectCharacter, "p2", SelectCharacter{CharacterID: "mage"}, ErrSetupCharacterTaken)
	h.ok(CmdSelectCharacter, "p2", SelectCharacter{CharacterID: "knight"})

	h.ok(CmdPlayerReady, "p1", nil)
	h.reject(CmdSelectCharacter, "p1", SelectCharacter{CharacterID: "rogue"}, ErrSetupAlreadyReady)
	h.reject(CmdHostStartGame, "p1", nil, ErrSetupNotReady)
	h.ok(CmdPlayerReady, "p2", nil)
	h.reject(CmdHostStartGame, "p2", nil, engine.ErrPlayerMismatch)

	res := h.ok(CmdHostStartGame, "p1", nil)
	assert.Equal(t, []string{EvSetupCompleted, engine.EventPhaseChanged}, eventTypes(res.Events))
	assert.Equal(t, "play", h.st.Sys.Phase)
	assert.Equal(t, "p1", h.st.Sys.ActivePlayer)
	assert.Equal(t, map[engine.PlayerID]string{"p1": "mage", "p2": "knight"}, h.st.Sys.Selection.Selected)

	h.reject(CmdHostStartGame, "p1", nil, ErrSetupAlreadyStarted)
	h.ok("PLACE", "p1", spot{Spot: "a"})
}

func TestSelectionAutoStart(t *testing.T) {
	h := selectionHarness(t, true)
	h.ok(CmdSelectCharacter, "p1", SelectCharacter{CharacterID: "rogue"})
	h.ok(CmdSelectCharacter, "p2", SelectCharacter{CharacterID: "mage"})
	h.ok(CmdPlayerReady, "p1", nil)
	require.False(t, h.st.Sys.Selection.Started)

	res := h.ok(CmdPlayerReady, "p2", nil)
	assert.Equal(t, []string{EvPlayerReady, EvSetupCompleted, engine.EventPhaseChanged}, eventTypes(res.Events))
	assert.True(t, h.st.Sys.Selection.Started)
	assert.Equal(t, "play", h.st.Sys.Phase)
}
