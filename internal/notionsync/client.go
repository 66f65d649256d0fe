package notionsync

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
	"golang.org/x/time/rate"
)

// Notion allows an average of three requests per second per integration.
const defaultRequestsPerSecond = 3

// NotionClient implements NotionService on github.com/jomei/notionapi.
// Every call waits on a shared limiter so large statements do not trip
// Notion's rate limit.
type NotionClient struct {
	api     *notionapi.Client
	limiter *rate.Limiter
}

// ClientOption configures a NotionClient.
type ClientOption func(*NotionClient)

// WithRateLimit overrides the request rate. A non-positive rps removes the
// limit.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(n *NotionClient) {
		if rps <= 0 {
			n.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		if burst < 1 {
			burst = 1
		}
		n.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewNotionClient creates a NotionClient for an integration token.
func NewNotionClient(token string, opts ...ClientOption) *NotionClient {
	n := &NotionClient{
		api:     notionapi.NewClient(notionapi.Token(token)),
		limiter: rate.NewLimiter(defaultRequestsPerSecond, defaultRequestsPerSecond),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// CreatePage adds a page with properties to databaseID.
func (n *NotionClient) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("CreatePage: %w", err)
	}

	page, err := n.api.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: properties,
	})
	if err != nil {
		return nil, fmt.Errorf("CreatePage: %w", err)
	}
	return page, nil
}

// QueryDatabase runs one page of a database query.
func (n *NotionClient) QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("QueryDatabase: %w", err)
	}

	resp, err := n.api.Database.Query(ctx, notionapi.DatabaseID(databaseID), req)
	if err != nil {
		return nil, fmt.Errorf("QueryDatabase: %w", err)
	}
	return resp, nil
}

// DeletePage archives pageID. Notion has no hard delete.
func (n *NotionClient) DeletePage(ctx context.Context, pageID string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("DeletePage: %w", err)
	}

	if _, err := n.api.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{Archived: true}); err != nil {
		return fmt.Errorf("DeletePage: %w", err)
	}
	return nil
}

var _ NotionService = (*NotionClient)(nil)
