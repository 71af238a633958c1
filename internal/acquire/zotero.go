package acquire

import (
	"context"

	"github.com/Epistemic-Technology/zotero/zotero"
)

// AttachmentSource downloads attachment files by item key.
type AttachmentSource interface {
	File(ctx context.Context, itemKey string) ([]byte, error)
}

// NewZoteroSource returns a client for a user library.
func NewZoteroSource(libraryID, apiKey string) AttachmentSource {
	return zotero.NewClient(libraryID, zotero.LibraryTypeUser, zotero.WithAPIKey(apiKey))
}
