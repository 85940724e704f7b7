package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/contentnode/internal/metadata"
)

// canonicalMetadata converts a metadata document to canonical JSON for
// storage and returns its CID. Empty input stays empty.
//
// Canonical bytes make the stored document, and therefore the exported
// delta, byte-identical on every replica.
func canonicalMetadata(raw json.RawMessage) (json.RawMessage, string, error) {
	if len(raw) == 0 {
		return nil, "", nil
	}
	doc, err := metadata.Parse(raw)
	if err != nil {
		return nil, "", fmt.Errorf("marshal metadata: %w", err)
	}
	canon, err := metadata.Canonical(doc)
	if err != nil {
		return nil, "", fmt.Errorf("marshal metadata: %w", err)
	}
	id, err := metadata.CID(doc)
	if err != nil {
		return nil, "", fmt.Errorf("marshal metadata: %w", err)
	}
	return canon, id, nil
}
