package answer

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	goopenai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	questionPrompt = `Based on the following context, provide a concise answer to the user's question:
Question: %s
Context: %s

Answer in a natural, conversational tone. Keep it brief and to the point.
If the context doesn't provide enough information to answer the question meaningfully, respond with '%s'.`

	statementPrompt = `Based on the following context, provide a relevant response to the user's statement:
Statement: %s
Context: %s

Respond in a natural, conversational tone. Keep it brief and relevant.
If the context doesn't provide enough information to respond meaningfully, respond with '%s'.`

	fallbackPrompt = `The user said: '%s'. There is no relevant information in the document collection to answer this directly.
Write a short, friendly reply that:
- admits you do not know the answer,
- suggests asking about the documents or entering a company name to look up its ticker symbol,
- does not mention any context or document explicitly.
Return plain text only.`

	systemPrompt = "You are a financial research assistant. Answer only from the context you are given."
)

// ChatConfig configures a ChatGenerator.
type ChatConfig struct {
	BaseURL           string
	APIKeyEnv         string
	Model             string
	Timeout           time.Duration
	Temperature       float32
	RequestsPerSecond float64
}

// ChatGenerator asks an OpenAI-compatible chat model. It serves both as
// Generator and as Fallback.
type ChatGenerator struct {
	client      *goopenai.Client
	model       string
	temperature float32
	limiter     *rate.Limiter
}

func NewChatGenerator(cfg ChatConfig) (*ChatGenerator, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, errors.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = goopenai.GPT4oMini
	}
	t := cfg.Timeout
	if t == 0 {
		t = 60 * time.Second
	}
	clientConfig := goopenai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: t}

	g := &ChatGenerator{
		client:      goopenai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
	if cfg.RequestsPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return g, nil
}

// Generate fills the question or statement prompt with the joined contexts.
func (g *ChatGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	tmpl := questionPrompt
	if p.Statement {
		tmpl = statementPrompt
	}
	content := fmt.Sprintf(tmpl, p.Query, strings.Join(p.Contexts, "\n"), InsufficientContext)
	return g.complete(ctx, content)
}

// Reply writes a short reply to a query the documents could not answer.
func (g *ChatGenerator) Reply(ctx context.Context, query string) (string, error) {
	return g.complete(ctx, fmt.Sprintf(fallbackPrompt, query))
}

func (g *ChatGenerator) complete(ctx context.Context, content string) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", errors.Wrap(err, "wait for rate limiter")
		}
	}
	resp, err := g.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: g.temperature,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: content},
		},
	})
	if err != nil {
		return "", errors.Wrapf(err, "chat completion with %s", g.model)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from chat model")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
