package worker

import (
	"encoding/json"

	"sitegraph/internal/crawl"
	"sitegraph/internal/fingerprint"
	"sitegraph/internal/store"
)

// buildNodeParams turns a snapshot into the store registration for a node.
// Depth counters are the caller's responsibility since they depend on the
// transition, not the snapshot.
func buildNodeParams(runID string, snap *crawl.Snapshot, route, modal, interaction int) store.NodeParams {
	elements := make([]fingerprint.Element, 0, len(snap.Elements))
	for _, el := range snap.Elements {
		elements = append(elements, fingerprint.Element{
			Role:  el.Role,
			Label: el.Label,
			Name:  el.Name,
			Tag:   el.Tag,
			Type:  el.Type,
			Aria:  el.Aria,
		})
	}

	auth := fingerprint.InferAuthState(snap.LocalStorage, snap.SessionStorage)
	storageFP := fingerprint.StorageFingerprintOf(snap.LocalStorage, snap.SessionStorage)
	authJSON, _ := json.Marshal(auth)
	storageJSON, _ := json.Marshal(storageFP)

	p := store.NodeParams{
		RunID:              runID,
		URL:                snap.URL,
		URLNormalized:      fingerprint.NormalizeURL(snap.URL),
		A11yHash:           fingerprint.AccessibilityHash(elements),
		StateHash:          fingerprint.StateHash(auth, storageFP),
		InputStateHash:     fingerprint.InputStateHash(snap.InputValues),
		AuthState:          authJSON,
		StorageFingerprint: storageJSON,
		RouteDepth:         route,
		ModalDepth:         modal,
		InteractionDepth:   interaction,
		Artifacts: store.ArtifactPayloads{
			DOM:        snap.DOM,
			Screenshot: snap.Screenshot,
			CSS:        snap.CSS,
			A11y:       marshalElements(elements),
			Storage:    storageJSON,
		},
	}
	if hash, ok := fingerprint.ContentHash(snap.ContentSamples); ok {
		p.ContentHash = hash
	}
	return p
}

func marshalElements(elements []fingerprint.Element) []byte {
	data, err := json.Marshal(elements)
	if err != nil {
		return nil
	}
	return data
}
