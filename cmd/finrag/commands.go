package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"finrag/internal/answer"
)

func newIndexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "index [dir]",
		Short: "Build the document index from a corpus directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.Corpus.Dir
			if len(args) == 1 {
				dir = args[0]
			}
			ix, err := a.indexer()
			if err != nil {
				return err
			}
			res, err := ix.Run(cmd.Context(), dir)
			if err != nil {
				return err
			}
			st := res.Stats
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d chunks from %d documents (%d skipped, %d failed) in %s\n",
				st.Chunks, st.Documents, st.Skipped, st.Failed, st.Duration.Round(time.Millisecond))
			fmt.Fprintf(cmd.OutOrStdout(), "index:    %s\nmetadata: %s\n", a.cfg.Index.Path, a.cfg.Index.MetadataPath)
			return nil
		},
	}
}

func newTickersCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "tickers",
		Short: "Build or verify the company name embedding cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.matcher()
			if err != nil {
				return err
			}
			if force {
				err = m.Rebuild(cmd.Context(), a.cfg.Ticker.RosterPath, a.cfg.Ticker.CacheDir)
			} else {
				err = a.initMatcher(cmd.Context(), m)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d companies cached in %s\n", m.Size(), a.cfg.Ticker.CacheDir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "rebuild even when the cache is current")
	return cmd
}

func newAskCmd(a *app) *cobra.Command {
	var (
		raw       bool
		topK      int
		statement bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			r, err := a.retriever()
			if err != nil {
				return err
			}
			if err := a.loadIndex(cmd.Context(), r); err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if raw {
				results, err := r.RetrieveContext(cmd.Context(), query, topK)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RANK\tDISTANCE\tSOURCE\tTEXT")
				for _, res := range results {
					fmt.Fprintf(tw, "%d\t%.4f\t%s\t%s\n", res.Rank, res.Distance, res.Chunk.Link(), preview(res.Chunk.Text, 80))
				}
				return tw.Flush()
			}

			if topK > 0 {
				a.cfg.Retrieval.TopK = topK
			}
			p, err := a.policy(r)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("statement") {
				statement = !answer.LooksLikeQuestion(query)
			}
			res, err := p.Answer(cmd.Context(), answer.Request{Query: query, Statement: statement})
			if err != nil {
				return err
			}
			fmt.Fprintln(out, res.Answer)
			if len(res.Sources) > 0 {
				fmt.Fprintln(out, "\nSources:")
				for _, s := range res.Sources {
					fmt.Fprintln(out, "  -", s)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print retrieved chunks instead of an answer")
	cmd.Flags().IntVar(&topK, "top-k", 0, "chunks to retrieve (default from config)")
	cmd.Flags().BoolVar(&statement, "statement", false, "treat the input as a statement rather than a question")
	return cmd
}

func newMatchCmd(a *app) *cobra.Command {
	var topN int
	cmd := &cobra.Command{
		Use:   "match <company name>",
		Short: "Find ticker symbols for a company name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.matcher()
			if err != nil {
				return err
			}
			if err := a.initMatcher(cmd.Context(), m); err != nil {
				return err
			}
			matches, err := m.Match(cmd.Context(), strings.Join(args, " "), topN)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SYMBOL\tNAME\tSCORE")
			for _, mt := range matches {
				fmt.Fprintf(tw, "%s\t%s\t%.4f\n", mt.Symbol, mt.Name, mt.Score)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&topN, "top-n", 0, "matches to return (default from config)")
	return cmd
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
