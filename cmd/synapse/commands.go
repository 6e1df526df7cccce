package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"synapse/internal/store"
)

// runCmd resolves a single turn and prints the answer.
var runCmd = &cobra.Command{
	Use:   "run [input]",
	Short: "Resolve one turn non-interactively",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		streamTurn(a, ctx, strings.Join(args, " "))
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and edit live sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions restored from the last saved state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		a.brain.LoadStateOnRestart()
		sessions := a.brain.ListSessions()
		if len(sessions) == 0 {
			fmt.Println("no sessions")
			return nil
		}
		for _, s := range sessions {
			fmt.Printf("%s  exchanges=%d  tokens=%d  mode=%s\n", s.ID, s.Exchanges, s.TokenCost, s.Mode)
		}
		// Put the snapshot back; listing must not consume it.
		a.brain.SaveStateForRestart()
		return nil
	},
}

var sessionsTruncateCmd = &cobra.Command{
	Use:   "truncate [session] [count] [index]",
	Short: "Remove count exchanges from a session starting at index",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("count must be an integer: %w", err)
		}
		index, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("index must be an integer: %w", err)
		}

		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		a.brain.LoadStateOnRestart()
		res, err := a.brain.Truncate(args[0], count, index)
		if err != nil {
			return err
		}
		fmt.Println(res.Message)
		a.brain.SaveStateForRestart()
		return nil
	},
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Query and edit long-term memory",
}

var memorySearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Similarity-search the semantic store",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		query := strings.Join(args, " ")
		matches, err := a.arch.Read(cmd.Context(), []string{query}, a.cfg.Limits.RetrievalTopK, nil)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			fmt.Println("no matches")
			return nil
		}
		for i, m := range matches {
			fmt.Printf("%d. [relevance %.2f] (%s) %s\n", i+1, 1-m.Distance, m.VectorID, m.Document)
		}
		return nil
	},
}

var memorySaveCmd = &cobra.Command{
	Use:   "save [title] [content]",
	Short: "Save a fact to long-term memory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.arch.Write(cmd.Context(), "deep_memory", store.VerbInsert, actor, store.Row{
			"owner":   actor,
			"title":   args[0],
			"content": args[1],
		}, nil)
		if err != nil {
			return err
		}
		if res.ArchivalID != nil {
			fmt.Printf("saved memory #%d (synced=%v)\n", *res.ArchivalID, res.SemanticSynced)
		}
		return nil
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the semantic store from the canonical records",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.arch.Reindex(cmd.Context(), actor)
		if err != nil {
			return err
		}
		fmt.Printf("reindexed %d documents\n", n)
		return nil
	},
}

var saveStateCmd = &cobra.Command{
	Use:   "save-state",
	Short: "Persist live sessions for a planned restart",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.brain.SaveStateForRestart() {
			return fmt.Errorf("state save incomplete, see logs")
		}
		fmt.Println("state saved")
		return nil
	},
}

var loadStateCmd = &cobra.Command{
	Use:   "load-state",
	Short: "Restore sessions from a previous save (consumes the snapshot)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.brain.LoadStateOnRestart() {
			fmt.Println("nothing to restore")
			return nil
		}
		for _, s := range a.brain.ListSessions() {
			fmt.Printf("%s  exchanges=%d  tokens=%d\n", s.ID, s.Exchanges, s.TokenCost)
		}
		return nil
	},
}
