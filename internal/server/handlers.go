package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"finrag/internal/answer"
	"finrag/internal/domain"
	"finrag/internal/service"
)

type retrieveRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type resultJSON struct {
	Rank     int     `json:"rank"`
	Distance float32 `json:"distance"`
	ID       int     `json:"id"`
	Content  string  `json:"content"`
	Source   string  `json:"source"`
	URL      string  `json:"url,omitempty"`
}

type retrieveResponse struct {
	Results    []resultJSON `json:"results"`
	Sufficient bool         `json:"sufficient"`
}

type matchRequest struct {
	Query string `json:"query"`
	TopN  int    `json:"top_n"`
}

type matchJSON struct {
	Name   string  `json:"name"`
	Symbol string  `json:"symbol"`
	Score  float64 `json:"score"`
}

type matchResponse struct {
	Matches []matchJSON `json:"matches"`
}

type askRequest struct {
	Query string `json:"query"`
	// Statement overrides question detection when set.
	Statement *bool `json:"statement"`
}

type askResponse struct {
	Answer   string   `json:"answer"`
	Sources  []string `json:"sources"`
	Fallback bool     `json:"fallback"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Documents bool   `json:"documents"`
	Tickers   bool   `json:"tickers"`
}

// bind decodes a JSON body. A missing or malformed body is a 400.
func bind(c echo.Context, v any) error {
	if err := c.Echo().JSONSerializer.Deserialize(c, v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "request body must be a JSON object").SetInternal(err)
	}
	return nil
}

func (s *Server) healthz(c echo.Context) error {
	resp := healthResponse{Status: "ok", Documents: s.retriever.Ready(), Tickers: s.matcher.Ready()}
	if !resp.Documents || !resp.Tickers {
		resp.Status = "starting"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) retrieve(c echo.Context) error {
	var req retrieveRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	results, err := s.retriever.RetrieveContext(c.Request().Context(), req.Query, req.TopK)
	if err != nil {
		return err
	}
	resp := retrieveResponse{Results: make([]resultJSON, 0, len(results)), Sufficient: service.Sufficient(results)}
	for _, r := range results {
		resp.Results = append(resp.Results, toResultJSON(r))
	}
	return c.JSON(http.StatusOK, resp)
}

func toResultJSON(r domain.RetrievalResult) resultJSON {
	return resultJSON{
		Rank:     r.Rank,
		Distance: r.Distance,
		ID:       r.Chunk.ID,
		Content:  r.Chunk.Text,
		Source:   r.Chunk.Source,
		URL:      r.Chunk.URL,
	}
}

func (s *Server) match(c echo.Context) error {
	var req matchRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	matches, err := s.matcher.Match(c.Request().Context(), req.Query, req.TopN)
	if err != nil {
		return err
	}
	resp := matchResponse{Matches: make([]matchJSON, 0, len(matches))}
	for _, m := range matches {
		resp.Matches = append(resp.Matches, matchJSON{Name: m.Name, Symbol: m.Symbol, Score: m.Score})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) ask(c echo.Context) error {
	var req askRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	statement := !answer.LooksLikeQuestion(req.Query)
	if req.Statement != nil {
		statement = *req.Statement
	}
	out, err := s.answerer.Answer(c.Request().Context(), answer.Request{Query: req.Query, Statement: statement})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, askResponse{Answer: out.Answer, Sources: out.Sources, Fallback: out.Fallback})
}
