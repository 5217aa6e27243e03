package tui

import (
	"context"

	"finrag/internal/answer"
	"finrag/internal/domain"
)

// Services adapts the answer policy and the ticker matcher to Port.
type Services struct {
	Policy  *answer.Policy
	Matcher interface {
		Match(ctx context.Context, query string, topN int) ([]domain.TickerMatch, error)
	}
	TopN int
}

func (s Services) Answer(ctx context.Context, query string) (*answer.Outcome, error) {
	return s.Policy.Answer(ctx, answer.Request{Query: query, Statement: !answer.LooksLikeQuestion(query)})
}

func (s Services) MatchTicker(ctx context.Context, query string) ([]domain.TickerMatch, error) {
	return s.Matcher.Match(ctx, query, s.TopN)
}
