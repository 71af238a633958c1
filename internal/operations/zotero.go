package operations

import (
	"context"
	"fmt"
	"strings"

	"github.com/Epistemic-Technology/zotero/zotero"

	"github.com/Epistemic-Technology/vision-ocr/internal/logger"
)

// ZoteroSearchParams contains parameters for searching a Zotero library.
type ZoteroSearchParams struct {
	Query      string   // Quick search text (searches title, creator, year)
	Tags       []string // Filter by tags
	Collection string   // Filter by collection key (optional)
	Limit      int      // Max results (default 25)
	Sort       string   // Sort field (default "dateModified")
}

// ZoteroItemResult is a library item together with the attachments that can
// be sent through OCR.
type ZoteroItemResult struct {
	Key         string
	Title       string
	ItemType    string
	Date        string
	Attachments []AttachmentInfo
}

// AttachmentInfo describes one scanned file attached to a Zotero item.
type AttachmentInfo struct {
	Key         string
	Reference   string // zotero:<key>, accepted wherever a URL is
	Filename    string
	ContentType string
}

// FindScans searches a Zotero library and returns the items that carry
// image or PDF attachments.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - apiKey: Zotero API key for authentication
//   - libraryID: Zotero user library ID
//   - params: Search parameters (query, tags, collection, limit, sort)
//   - log: Logger for recording operations
//
// Returns:
//   - results: Items with at least one OCR-able attachment
//   - error: Any error encountered during the search
func FindScans(ctx context.Context, apiKey, libraryID string, params ZoteroSearchParams, log logger.Logger) ([]ZoteroItemResult, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Zotero API key is required")
	}
	if libraryID == "" {
		return nil, fmt.Errorf("Zotero library ID is required")
	}

	client := zotero.NewClient(libraryID, zotero.LibraryTypeUser, zotero.WithAPIKey(apiKey))

	queryParams := &zotero.QueryParams{
		Q:        params.Query,
		QMode:    "titleCreatorYear",
		Tag:      params.Tags,
		ItemType: []string{"-attachment"},
		Limit:    params.Limit,
		Sort:     params.Sort,
	}
	if queryParams.Limit == 0 {
		queryParams.Limit = 25
	}
	if queryParams.Sort == "" {
		queryParams.Sort = "dateModified"
	}

	var items []zotero.Item
	var err error
	if params.Collection != "" {
		items, err = client.CollectionItems(ctx, params.Collection, queryParams)
		if err != nil {
			log.Error("Failed to search collection %s: %v", params.Collection, err)
			return nil, fmt.Errorf("failed to search collection %s: %w", params.Collection, err)
		}
	} else {
		items, err = client.Items(ctx, queryParams)
		if err != nil {
			log.Error("Failed to search Zotero library: %v", err)
			return nil, fmt.Errorf("failed to search Zotero library: %w", err)
		}
	}
	log.Info("Found %d items in Zotero library", len(items))

	results := make([]ZoteroItemResult, 0, len(items))
	for _, item := range items {
		if item.Data.ItemType == "attachment" {
			continue
		}
		children, err := client.Children(ctx, item.Key, nil)
		if err != nil {
			log.Error("Failed to retrieve children for item %s: %v", item.Key, err)
			continue
		}
		if result, ok := scanResult(item, children); ok {
			results = append(results, result)
		}
	}

	log.Info("Returning %d items with scans", len(results))
	return results, nil
}

// scanResult keeps the OCR-able attachments of item. Items without any are
// skipped.
func scanResult(item zotero.Item, children []zotero.Item) (ZoteroItemResult, bool) {
	result := ZoteroItemResult{
		Key:      item.Key,
		Title:    item.Data.Title,
		ItemType: item.Data.ItemType,
		Date:     item.Data.DateAdded,
	}
	for _, child := range children {
		if child.Data.ItemType != "attachment" || !IsScannable(child.Data.ContentType) {
			continue
		}
		// Linked URLs have no stored file to download.
		if child.Data.LinkMode == "linked_url" {
			continue
		}
		result.Attachments = append(result.Attachments, AttachmentInfo{
			Key:         child.Key,
			Reference:   "zotero:" + child.Key,
			Filename:    child.Data.Filename,
			ContentType: child.Data.ContentType,
		})
	}
	return result, len(result.Attachments) > 0
}

// IsScannable reports whether an attachment content type can be OCRed.
func IsScannable(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return strings.HasPrefix(ct, "image/") || ct == "application/pdf"
}
