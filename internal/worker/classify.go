package worker

import (
	"sitegraph/internal/crawl"
	"sitegraph/internal/store"
)

// Classify grades the structural significance of a transition from a known
// node to a freshly captured snapshot. Precedence: an unchanged node beats
// everything, then a route change, then overlay surfaces, then plain
// in-place interaction.
func Classify(from *store.Node, sameNode bool, toURLNormalized string, snap *crawl.Snapshot) store.DepthDiff {
	switch {
	case sameNode:
		return store.DiffSameNode
	case toURLNormalized != from.URLNormalized:
		return store.DiffNewPage
	case snap.HasModal:
		return store.DiffModalOverlay
	case snap.HasDrawer:
		return store.DiffDrawer
	default:
		return store.DiffInteractionOnly
	}
}

// NextDepths computes the destination node's depth counters from the source
// node and the classified transition. Counters carry over from the source
// and exactly one advances, so every counter is non-decreasing along any
// path from the root.
func NextDepths(from *store.Node, diff store.DepthDiff) (route, modal, interaction int) {
	route, modal, interaction = from.RouteDepth, from.ModalDepth, from.InteractionDepth
	switch diff {
	case store.DiffNewPage:
		route++
	case store.DiffModalOverlay, store.DiffDrawer:
		modal++
	case store.DiffInteractionOnly:
		interaction++
	}
	return route, modal, interaction
}
