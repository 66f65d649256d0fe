// Package notionsync exports bill statements to a Notion database, one page
// per statement item.
package notionsync

import (
	"context"
	"fmt"

	"github.com/dvloznov/bill-parser/internal/domain"
	"github.com/dvloznov/bill-parser/internal/logger"
	"github.com/jomei/notionapi"
)

// ExportOptions controls ExportStatement.
type ExportOptions struct {
	// DryRun logs what would change without calling the write endpoints.
	DryRun bool
}

// ExportResult counts the pages touched by an export.
type ExportResult struct {
	Created int
	Deleted int
	Failed  int
}

// ExportStatement replaces the pages of stmt in the database: pages from a
// previous export of the same statement are archived, then one page is
// created per item. Individual page failures are logged and counted; only
// a failure to list existing pages aborts the export.
func ExportStatement(ctx context.Context, notionClient NotionService, notionDBID string, stmt *domain.BillStatement, opts ExportOptions) (ExportResult, error) {
	log := logger.FromContext(ctx)
	var res ExportResult

	if stmt == nil {
		return res, fmt.Errorf("ExportStatement: nil statement")
	}
	key := StatementKey(stmt)

	log.Info().
		Str("statement", key).
		Int("item_count", len(stmt.Items)).
		Bool("dry_run", opts.DryRun).
		Msg("Starting statement export to Notion")

	existing, err := queryStatementPages(ctx, notionClient, notionDBID, key)
	if err != nil {
		return res, fmt.Errorf("ExportStatement: %w", err)
	}

	for _, page := range existing {
		if opts.DryRun {
			log.Info().Str("page_id", string(page.ID)).Msg("[DRY RUN] Would archive previous Notion page")
			res.Deleted++
			continue
		}
		if err := notionClient.DeletePage(ctx, string(page.ID)); err != nil {
			log.Warn().Err(err).Str("page_id", string(page.ID)).Msg("Failed to archive previous Notion page")
			res.Failed++
			continue
		}
		res.Deleted++
	}

	for i, item := range stmt.Items {
		if opts.DryRun {
			log.Info().Int("item", i).Str("category", item.Category).Msg("[DRY RUN] Would create Notion page")
			res.Created++
			continue
		}

		page, err := notionClient.CreatePage(ctx, notionDBID, BillItemToNotionProperties(stmt, item))
		if err != nil {
			log.Warn().Err(err).Int("item", i).Msg("Failed to create Notion page")
			res.Failed++
			continue
		}
		log.Debug().Int("item", i).Str("page_id", string(page.ID)).Msg("Created Notion page")
		res.Created++
	}

	log.Info().
		Int("created", res.Created).
		Int("deleted", res.Deleted).
		Int("failed", res.Failed).
		Msg("Statement export completed")

	return res, nil
}

// queryStatementPages returns every page of a previous export of key,
// following pagination.
func queryStatementPages(ctx context.Context, notionClient NotionService, databaseID, key string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			Filter: &notionapi.PropertyFilter{
				Property: PropStatement,
				RichText: &notionapi.TextFilterCondition{Equals: key},
			},
			PageSize: 100,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryStatementPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}
