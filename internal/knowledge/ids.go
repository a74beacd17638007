package knowledge

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewDocumentID returns a fresh UUIDv4 for a document.
func NewDocumentID() string { return uuid.New().String() }

// NewJobID returns a fresh UUIDv4 for an ingestion job.
func NewJobID() string { return uuid.New().String() }

// NewChunkID returns the deterministic UUIDv5 for a chunk: the document id
// is the namespace, "chunk:<ordinal>" the name. Identical content chunked
// twice yields identical ids, which keeps VI upserts idempotent.
func NewChunkID(documentID string, ordinal int) (string, error) {
	ns, err := uuid.Parse(documentID)
	if err != nil {
		return "", fmt.Errorf("parse document id %q: %w", documentID, err)
	}
	return uuid.NewSHA1(ns, []byte(fmt.Sprintf("chunk:%d", ordinal))).String(), nil
}

// NewSessionID generates sess_<unixms>_<rand8>.
func NewSessionID() string { return prefixedID("sess") }

// NewActionID generates act_<unixms>_<rand8>.
func NewActionID() string { return prefixedID("act") }

// NewMessageID generates msg_<unixms>_<rand8>.
func NewMessageID() string { return prefixedID("msg") }

// NewSnippetID generates snip_<unixms>_<rand8>.
func NewSnippetID() string { return prefixedID("snip") }

// prefixedID builds <prefix>_<unix_ms>_<rand8>, the id shape the webhook
// contract promises for server-generated identifiers.
func prefixedID(prefix string) string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a
		// time-derived suffix rather than panicking in the intake path.
		return fmt.Sprintf("%s_%d_%08x", prefix, time.Now().UnixMilli(), time.Now().UnixNano()&0xffffffff)
	}
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), hex.EncodeToString(b[:]))
}
