package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"postscript/internal/models"
	"postscript/internal/observability"
	"postscript/internal/repository"
	"postscript/internal/search"

	"go.opentelemetry.io/otel/attribute"
)

// MinSearchLength is the shortest query, in runes, sent to the index.
const MinSearchLength = 2

// SearchService runs ranked comment searches and hydrates the hits from the store.
type SearchService struct {
	index    search.Index
	comments repository.CommentRepository
	limit    int
}

// NewSearchService creates a SearchService returning at most limit comments.
func NewSearchService(index search.Index, comments repository.CommentRepository, limit int) *SearchService {
	return &SearchService{index: index, comments: comments, limit: limit}
}

// Search returns comments matching text in index rank order. Index and store
// failures degrade to an empty result.
func (s *SearchService) Search(ctx context.Context, text string) ([]*models.Comment, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < MinSearchLength {
		observability.SearchQueriesTotal.WithLabelValues("rejected").Inc()
		return nil, models.NewValidationError("Search query must be at least 2 characters")
	}

	ctx, span := observability.StartSpan(ctx, "search_service", "search",
		attribute.Int("query.length", len(text)))
	defer span.End()

	ids, err := s.index.Query(ctx, search.Query{
		Text:        text,
		Fields:      search.CommentFields,
		Conjunctive: true,
		Limit:       s.limit,
	})
	if err != nil {
		span.RecordError(err)
		observability.SearchQueriesTotal.WithLabelValues("degraded").Inc()
		observability.Logger.ErrorContext(ctx, "search index query failed", "error", err)
		return []*models.Comment{}, nil
	}
	if len(ids) == 0 {
		observability.SearchQueriesTotal.WithLabelValues("empty").Inc()
		return []*models.Comment{}, nil
	}

	found, err := s.comments.GetByIDs(ctx, ids)
	if err != nil {
		span.RecordError(err)
		observability.SearchQueriesTotal.WithLabelValues("degraded").Inc()
		observability.Logger.ErrorContext(ctx, "search hydration failed", "error", err)
		return []*models.Comment{}, nil
	}

	observability.SearchQueriesTotal.WithLabelValues("ok").Inc()
	return inRankOrder(ids, found), nil
}

// inRankOrder arranges comments by ids, dropping ids with no comment.
func inRankOrder(ids []uint, comments []*models.Comment) []*models.Comment {
	byID := make(map[uint]*models.Comment, len(comments))
	for _, c := range comments {
		byID[c.ID] = c
	}
	ordered := make([]*models.Comment, 0, len(comments))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			ordered = append(ordered, c)
		}
	}
	return ordered
}
