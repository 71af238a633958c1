package tools

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Epistemic-Technology/vision-ocr/internal/config"
	"github.com/Epistemic-Technology/vision-ocr/internal/logger"
	"github.com/Epistemic-Technology/vision-ocr/internal/operations"
)

type ZoteroSearchQuery struct {
	Query      string   `json:"query,omitempty"`      // Quick search text (searches title, creator, year)
	Tags       []string `json:"tags,omitempty"`       // Filter by tags
	Collection string   `json:"collection,omitempty"` // Filter by collection key (optional)
	Limit      int      `json:"limit,omitempty"`      // Max results (default 25)
	Sort       string   `json:"sort,omitempty"`       // Sort field (default "dateModified")
}

type ZoteroSearchResponse struct {
	Items []ZoteroItemResult `json:"items"`
	Count int                `json:"count"`
}

type ZoteroItemResult struct {
	Key         string           `json:"key"`
	Title       string           `json:"title"`
	ItemType    string           `json:"item_type"`
	Date        string           `json:"date,omitempty"`
	Attachments []AttachmentInfo `json:"attachments"`
}

type AttachmentInfo struct {
	Key         string `json:"key"`
	Reference   string `json:"reference"` // Pass this to ocr-extract or ocr-acquire
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

func ZoteroSearchTool() *mcp.Tool {
	inputschema, err := jsonschema.For[ZoteroSearchQuery](nil)
	if err != nil {
		panic(err)
	}
	return &mcp.Tool{
		Name:        "zotero-search",
		Description: "Search a Zotero library for items with scanned attachments (images or PDFs). Each attachment comes with a zotero:<key> reference that ocr-extract and ocr-acquire accept.",
		InputSchema: inputschema,
	}
}

func ZoteroSearchToolHandler(ctx context.Context, req *mcp.CallToolRequest, query ZoteroSearchQuery, cfg *config.Config, log logger.Logger) (*mcp.CallToolResult, *ZoteroSearchResponse, error) {
	log.Info("zotero-search tool called")

	if !cfg.ZoteroEnabled() {
		return nil, nil, fmt.Errorf("ZOTERO_API_KEY and ZOTERO_LIBRARY_ID must be set")
	}

	items, err := operations.FindScans(ctx, cfg.ZoteroAPIKey, cfg.ZoteroLibraryID, operations.ZoteroSearchParams{
		Query:      query.Query,
		Tags:       query.Tags,
		Collection: query.Collection,
		Limit:      query.Limit,
		Sort:       query.Sort,
	}, log)
	if err != nil {
		return nil, nil, err
	}

	results := make([]ZoteroItemResult, len(items))
	for i, item := range items {
		results[i] = ZoteroItemResult{
			Key:      item.Key,
			Title:    item.Title,
			ItemType: item.ItemType,
			Date:     item.Date,
		}
		for _, att := range item.Attachments {
			results[i].Attachments = append(results[i].Attachments, AttachmentInfo{
				Key:         att.Key,
				Reference:   att.Reference,
				Filename:    att.Filename,
				ContentType: att.ContentType,
			})
		}
	}

	return nil, &ZoteroSearchResponse{Items: results, Count: len(results)}, nil
}
