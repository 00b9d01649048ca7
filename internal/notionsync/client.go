package notionsync

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
)

// pageSize is the largest page the Notion query endpoint returns.
const pageSize = 100

// PageStore is the part of the Notion API the posting export needs.
type PageStore interface {
	// CreatePage adds a page to the database and returns its id.
	CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (string, error)
	UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) error
	// ListPages returns one page of database rows. An empty next cursor marks the last page.
	ListPages(ctx context.Context, databaseID string, cursor notionapi.Cursor) (pages []notionapi.Page, next notionapi.Cursor, err error)
}

// NotionClient implements PageStore over the Notion REST API.
type NotionClient struct {
	client *notionapi.Client
}

// NewNotionClient creates a client authenticated with an integration token.
func NewNotionClient(token string) *NotionClient {
	return &NotionClient{client: notionapi.NewClient(notionapi.Token(token))}
}

func (n *NotionClient) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (string, error) {
	page, err := n.client.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: properties,
	})
	if err != nil {
		return "", fmt.Errorf("CreatePage: database %s: %w", databaseID, err)
	}
	return string(page.ID), nil
}

func (n *NotionClient) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) error {
	if _, err := n.client.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{Properties: properties}); err != nil {
		return fmt.Errorf("UpdatePage: page %s: %w", pageID, err)
	}
	return nil
}

func (n *NotionClient) ListPages(ctx context.Context, databaseID string, cursor notionapi.Cursor) ([]notionapi.Page, notionapi.Cursor, error) {
	req := &notionapi.DatabaseQueryRequest{PageSize: pageSize}
	if cursor != "" {
		req.StartCursor = cursor
	}
	resp, err := n.client.Database.Query(ctx, notionapi.DatabaseID(databaseID), req)
	if err != nil {
		return nil, "", fmt.Errorf("ListPages: database %s: %w", databaseID, err)
	}
	if !resp.HasMore {
		return resp.Results, "", nil
	}
	return resp.Results, resp.NextCursor, nil
}

var _ PageStore = (*NotionClient)(nil)
