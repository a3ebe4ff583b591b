package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yungbote/researchbridge-backend/internal/platform/envutil"
	"github.com/yungbote/researchbridge-backend/internal/types"
)

const defaultPollInterval = 2 * time.Second

type rootOptions struct {
	apiURL  string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "researchctl",
		Short:         "Submit and follow research sessions",
		Long:          `researchctl submits research queries to the orchestrator and polls sessions until they finish.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api", envutil.String("RESEARCH_API_URL", "http://localhost:8080"), "orchestrator base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-request timeout")

	client := func() *apiClient { return newAPIClient(opts.apiURL, opts.timeout) }
	root.AddCommand(
		newSubmitCmd(client),
		newContinueCmd(client),
		newWatchCmd(client),
		newHistoryCmd(client),
		newStatsCmd(client),
	)
	return root
}

func newSubmitCmd(client func() *apiClient) *cobra.Command {
	var (
		files    []string
		id       string
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit [query]",
		Short: "Start a research session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := submitRequest{ID: id, Query: strings.Join(args, " ")}
			for _, path := range files {
				doc, err := readDocument(path)
				if err != nil {
					return err
				}
				req.Documents = append(req.Documents, doc)
			}
			c := client()
			sessionID, err := c.Submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s\n", sessionID)
			if !watch {
				return nil
			}
			_, err = watchSession(cmd.Context(), c, sessionID, interval, cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "attach a text document (repeatable)")
	cmd.Flags().StringVar(&id, "id", "", "client-chosen session id")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "poll until the session finishes")
	cmd.Flags().DurationVar(&interval, "interval", defaultPollInterval, "poll interval")
	return cmd
}

func newContinueCmd(client func() *apiClient) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "continue <session-id> [additional query]",
		Short: "Fork a session with a follow-up query",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parentID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session id %q", args[0])
			}
			c := client()
			newID, err := c.Continue(cmd.Context(), parentID, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s\n", newID)
			if !watch {
				return nil
			}
			_, err = watchSession(cmd.Context(), c, newID, interval, cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "poll until the session finishes")
	cmd.Flags().DurationVar(&interval, "interval", defaultPollInterval, "poll interval")
	return cmd
}

func newWatchCmd(client func() *apiClient) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Poll a session and print steps as they land",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session id %q", args[0])
			}
			_, err = watchSession(cmd.Context(), client(), sessionID, interval, cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", defaultPollInterval, "poll interval")
	return cmd
}

func newHistoryCmd(client func() *apiClient) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the most recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := client().History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range sessions {
				fmt.Fprintf(out, "%s  %-9s  %6d tok  $%.6f  %s\n",
					s.ID, s.Status, s.TotalTokens, s.TotalCost, oneLine(s.Query, 60))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of sessions")
	return cmd
}

func newStatsCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate cost and token usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := client().Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sessions:     %d\n", st.SessionCount)
			fmt.Fprintf(out, "total tokens: %d\n", st.TotalTokens)
			fmt.Fprintf(out, "total cost:   $%.6f\n", st.TotalCost)
			fmt.Fprintf(out, "avg/session:  $%.6f\n", st.AvgCostPerSession)
			return nil
		},
	}
}

// watchSession polls until the session leaves running, printing each new
// step once. It returns the terminal session.
func watchSession(ctx context.Context, c *apiClient, id uuid.UUID, interval time.Duration, out io.Writer) (*types.ResearchSession, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	printed := 0
	for {
		snap, err := c.Snapshot(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, step := range snap.Steps {
			if step.StepNumber <= printed {
				continue
			}
			fmt.Fprintf(out, "[%d] %s (%d tok)\n%s\n\n", step.StepNumber, step.StepType, step.TokensUsed, step.Content)
			printed = step.StepNumber
		}
		if snap.Session == nil {
			return nil, errors.New("empty snapshot")
		}
		if snap.Session.Status.Terminal() {
			fmt.Fprintf(out, "%s: %d tokens, $%.6f\n", snap.Session.Status, snap.Session.TotalTokens, snap.Session.TotalCost)
			return snap.Session, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func readDocument(path string) (submitDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return submitDocument{}, fmt.Errorf("read %s: %w", path, err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "text/plain"
	}
	return submitDocument{
		Filename: filepath.Base(path),
		Content:  string(raw),
		MimeType: mimeType,
	}, nil
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
