package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"synapse/internal/types"
)

// runChat is the interactive loop: read a line, stream the turn, repeat.
// Slash commands cover session management without leaving the REPL.
func runChat() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.brain.LoadStateOnRestart() {
		fmt.Println("(restored sessions from previous run)")
	}
	a.brain.WarmCache(ctx)

	fmt.Printf("synapse ready (persona=%s, session=%s). /help for commands.\n", a.cfg.Persona, sessionID)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if done := handleSlash(a, line); done {
				break
			}
			continue
		}

		tctx, cancel := context.WithTimeout(ctx, timeout)
		streamTurn(a, tctx, line)
		cancel()

		if ctx.Err() != nil {
			break
		}
	}
	return scanner.Err()
}

// streamTurn renders the event stream of one turn to the terminal.
func streamTurn(a *app, ctx context.Context, input string) {
	events := a.brain.RunTurn(ctx, sessionID, actor, input, nil)
	inAnswer := false
	for ev := range events {
		switch ev.Kind {
		case types.EventStatus:
			if verbose {
				fmt.Printf("  [%s]\n", ev.Text)
			}
		case types.EventThought:
			if verbose {
				fmt.Printf("\033[2m%s\033[0m", ev.Text)
			}
		case types.EventToken:
			fmt.Print(ev.Text)
			inAnswer = true
		case types.EventError:
			fmt.Printf("\n! %s\n", ev.Text)
		case types.EventUsage:
			if verbose {
				fmt.Printf("\n  [%d tokens]", ev.TokenCount)
			}
		case types.EventDone:
			if inAnswer {
				fmt.Println()
			}
		}
	}
}

// handleSlash executes a REPL command. Returns true to exit the loop.
func handleSlash(a *app, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		if a.brain.SaveStateForRestart() {
			fmt.Println("(sessions saved)")
		}
		return true
	case "/sessions":
		for _, s := range a.brain.ListSessions() {
			fmt.Printf("  %s  exchanges=%d  tokens=%d  mode=%s\n", s.ID, s.Exchanges, s.TokenCost, s.Mode)
		}
	case "/mode":
		if len(fields) < 2 {
			fmt.Printf("  mode: %s\n", a.brain.GetMode(sessionID))
			break
		}
		if err := a.brain.SetMode(sessionID, fields[1]); err != nil {
			fmt.Println("  error:", err)
		}
	case "/help":
		fmt.Println("  /sessions         list sessions")
		fmt.Println("  /mode [name]      show or switch backend mode")
		fmt.Println("  /quit             save state and exit")
	default:
		fmt.Println("  unknown command; /help")
	}
	return false
}
