package systems

import "tabletop/internal/engine"

// Standard returns the systems every game runs with: interaction gating,
// rematch voting, tutorials and undo.
func Standard[C engine.Core[C]](undo UndoConfig) []engine.System[C] {
	return []engine.System[C]{
		NewInteraction[C](),
		NewRematch[C](),
		NewTutorial[C](),
		NewUndo[C](undo),
	}
}
