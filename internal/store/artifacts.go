package store

import (
	"context"
	"os"
	"path/filepath"

	"sitegraph/internal/logging"
)

// ArtifactPayloads carries raw artifact bytes captured with a node. Any field
// may be empty.
type ArtifactPayloads struct {
	DOM        []byte
	A11y       []byte
	Screenshot []byte
	Storage    []byte
	CSS        []byte
}

// writeArtifacts persists artifact payloads to the filesystem blob store and
// returns the refs for the ones that succeeded. Failures are logged, never
// fatal: a node with a missing artifact ref is still a node.
func (s *Store) writeArtifacts(runID, nodeID string, p ArtifactPayloads) ArtifactRefs {
	var refs ArtifactRefs
	if s.artifactsDir == "" {
		return refs
	}

	dir := filepath.Join(s.artifactsDir, runID, nodeID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.Get(logging.CategoryStore).Warn("Artifact dir create failed for node %s: %v", nodeID, err)
		return refs
	}

	write := func(name string, data []byte) string {
		if len(data) == 0 {
			return ""
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0644); err != nil {
			logging.Get(logging.CategoryStore).Warn("Artifact write failed: %s: %v", path, err)
			return ""
		}
		return path
	}

	refs.DOM = write("dom.html", p.DOM)
	refs.A11y = write("a11y.json", p.A11y)
	refs.Screenshot = write("screenshot.png", p.Screenshot)
	refs.Storage = write("storage.json", p.Storage)
	refs.CSS = write("styles.css", p.CSS)
	return refs
}

// discardArtifacts removes blobs written for a node that lost its create
// race. Best effort; orphaned files are harmless.
func (s *Store) discardArtifacts(refs ArtifactRefs) {
	for _, path := range []string{refs.DOM, refs.A11y, refs.Screenshot, refs.Storage, refs.CSS} {
		if path != "" {
			_ = os.Remove(path)
		}
	}
}

// ReadArtifact loads one artifact payload by ref. Missing artifacts are
// reported via the error, which callers treat as non-fatal.
func (s *Store) ReadArtifact(ref string) ([]byte, error) {
	return os.ReadFile(ref)
}

// GetNodeWithArtifacts fetches a node and loads every artifact it references.
// Artifact reads are best effort: refs that fail to load come back as nil
// payloads and their errors are collected in missing, keyed by artifact kind.
// Only a missing node is an error.
func (s *Store) GetNodeWithArtifacts(ctx context.Context, id string) (*Node, ArtifactPayloads, map[string]error, error) {
	node, err := s.GetNode(ctx, id)
	if err != nil {
		return nil, ArtifactPayloads{}, nil, err
	}

	var payloads ArtifactPayloads
	missing := map[string]error{}
	load := func(kind, ref string, dst *[]byte) {
		if ref == "" {
			return
		}
		data, err := s.ReadArtifact(ref)
		if err != nil {
			missing[kind] = err
			return
		}
		*dst = data
	}
	load("dom", node.Artifacts.DOM, &payloads.DOM)
	load("a11y", node.Artifacts.A11y, &payloads.A11y)
	load("screenshot", node.Artifacts.Screenshot, &payloads.Screenshot)
	load("storage", node.Artifacts.Storage, &payloads.Storage)
	load("css", node.Artifacts.CSS, &payloads.CSS)
	return node, payloads, missing, nil
}
