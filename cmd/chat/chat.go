package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shre-db/linked-squad/go/assistant/internal/orchestrator"
	"github.com/shre-db/linked-squad/go/assistant/internal/state"
)

var sessionID string

const banner = `LinkedIn profile assistant. Paste a profile URL to get started.
Commands: /state shows the session, /reset starts over, /quit exits.`

// conversation is the part of the orchestrator the REPL drives.
type conversation interface {
	HandleTurn(ctx context.Context, sessionID, input string) (*orchestrator.TurnResult, error)
	Session(ctx context.Context, sessionID string) (*state.ConversationState, error)
	Reset(ctx context.Context, sessionID string) error
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg, newLogger())
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id := sessionID
	if id == "" {
		id = uuid.NewString()
	}
	return repl(ctx, rt.orch, id, os.Stdin, os.Stdout)
}

// repl reads one user message per line until EOF, /quit or cancellation.
func repl(ctx context.Context, conv conversation, id string, in io.Reader, out io.Writer) error {
	prompt := color.New(color.FgCyan, color.Bold)
	assistant := color.New(color.FgGreen)
	faint := color.New(color.Faint)
	warn := color.New(color.FgYellow)

	fmt.Fprintln(out, banner)
	faint.Fprintf(out, "session %s\n\n", id)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		prompt.Fprint(out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return nil
		case "/reset":
			if err := conv.Reset(ctx, id); err != nil {
				warn.Fprintf(out, "reset failed: %v\n", err)
				continue
			}
			faint.Fprintln(out, "session cleared")
			continue
		case "/state":
			st, err := conv.Session(ctx, id)
			if err != nil {
				warn.Fprintf(out, "no state yet: %v\n", err)
				continue
			}
			data, _ := json.MarshalIndent(st, "", "  ")
			fmt.Fprintln(out, string(data))
			continue
		}

		result, err := conv.HandleTurn(ctx, id, line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			warn.Fprintf(out, "error: %v\n", err)
			continue
		}
		assistant.Fprint(out, "assistant> ")
		fmt.Fprintln(out, result.Reply)
		faint.Fprintf(out, "[%s]\n\n", result.Action)
	}
}
