// Package answer turns retrieved context into a reply with source links, and
// decides when to fall back to a reply that ignores the documents.
package answer

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"finrag/internal/domain"
	"finrag/internal/service"
)

// InsufficientContext is the reply a generator gives when the contexts do
// not support an answer.
const InsufficientContext = "INSUFFICIENT_CONTEXT"

// Prompt is what a Generator sees. Statement marks input that is not a
// question, which changes how a language model is instructed.
type Prompt struct {
	Query     string
	Statement bool
	Contexts  []string
}

// Generator produces an answer from a prompt, or InsufficientContext.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// Fallback replies to a query the documents could not answer.
type Fallback interface {
	Reply(ctx context.Context, query string) (string, error)
}

// Static is a Fallback that always gives the same message.
type Static string

func (s Static) Reply(context.Context, string) (string, error) { return string(s), nil }

// Retriever is the subset of service.Retriever used by Policy.
type Retriever interface {
	RetrieveContext(ctx context.Context, query string, topK int) ([]domain.RetrievalResult, error)
}

type Request struct {
	Query     string
	Statement bool
}

// Outcome is the reply to one request. Sources is empty whenever Fallback is set.
type Outcome struct {
	Answer   string
	Sources  []string
	Fallback bool
	Results  []domain.RetrievalResult
}

// Policy retrieves context, asks the generator and applies the fallback rules.
type Policy struct {
	retriever Retriever
	generator Generator
	fallback  Fallback
	static    Static
	topK      int
	log       zerolog.Logger
}

type Option func(*Policy)

// WithTopK sets how many chunks are retrieved per request.
func WithTopK(k int) Option { return func(p *Policy) { p.topK = k } }

// WithFallback replaces the static fallback. If it fails, the static message is used.
func WithFallback(f Fallback) Option { return func(p *Policy) { p.fallback = f } }

func WithLogger(log zerolog.Logger) Option { return func(p *Policy) { p.log = log } }

// NewPolicy creates a policy whose fallback is the static message.
func NewPolicy(r Retriever, g Generator, message string, opts ...Option) *Policy {
	p := &Policy{
		retriever: r,
		generator: g,
		static:    Static(message),
		topK:      4,
		log:       zerolog.Nop(),
	}
	p.fallback = p.static
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Answer runs one request. Retrieval and generator failures are returned as
// errors; missing context is not an error but a fallback outcome.
func (p *Policy) Answer(ctx context.Context, req Request) (*Outcome, error) {
	results, err := p.retriever.RetrieveContext(ctx, req.Query, p.topK)
	if err != nil {
		return nil, errors.Wrap(err, "retrieve context")
	}
	if !service.Sufficient(results) {
		p.log.Debug().Str("query", req.Query).Msg("no usable context, falling back")
		return p.fallbackOutcome(ctx, req.Query, results), nil
	}

	contexts := make([]string, 0, len(results))
	for _, r := range results {
		if strings.TrimSpace(r.Chunk.Text) != "" {
			contexts = append(contexts, r.Chunk.Text)
		}
	}
	reply, err := p.generator.Generate(ctx, Prompt{Query: req.Query, Statement: req.Statement, Contexts: contexts})
	if err != nil {
		return nil, errors.Wrap(err, "generate answer")
	}
	reply = strings.TrimSpace(reply)
	if reply == InsufficientContext || reply == "" {
		p.log.Debug().Str("query", req.Query).Msg("generator found context insufficient")
		return p.fallbackOutcome(ctx, req.Query, results), nil
	}
	return &Outcome{Answer: reply, Sources: Sources(results), Results: results}, nil
}

func (p *Policy) fallbackOutcome(ctx context.Context, query string, results []domain.RetrievalResult) *Outcome {
	msg, err := p.fallback.Reply(ctx, query)
	msg = strings.TrimSpace(msg)
	if err != nil || msg == "" {
		if err != nil {
			p.log.Warn().Err(err).Msg("fallback reply failed, using static message")
		}
		msg = string(p.static)
	}
	return &Outcome{Answer: msg, Sources: []string{}, Fallback: true, Results: results}
}

// Sources returns the distinct links of results in first-seen order.
func Sources(results []domain.RetrievalResult) []string {
	seen := make(map[string]struct{}, len(results))
	out := make([]string, 0, len(results))
	for _, r := range results {
		link := r.Chunk.Link()
		if link == "" {
			continue
		}
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}
	return out
}
