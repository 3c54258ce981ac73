package appstate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Signature identifies the context-relevant identity of a snapshot. Two
// snapshots with equal signatures need no session re-initialization.
type Signature string

// Signature computes the dependency signature over the tracked fields:
// project id, active chapter identity, and analysis-result identity.
func (s Snapshot) Signature() Signature {
	analysisID := ""
	if s.Analysis != nil {
		analysisID = s.Analysis.ID
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", s.ProjectID, s.Manuscript.ActiveChapterID, analysisID)
	return Signature(hex.EncodeToString(h.Sum(nil)))
}
