package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/altfoxie/bing-client/internal/chat"
)

// session runs the read-send-render loop of one conversation.
type session struct {
	conv *chat.Conversation
	in   io.Reader
	out  io.Writer
}

func newSession(conv *chat.Conversation, in io.Reader, out io.Writer) *session {
	return &session{conv: conv, in: in, out: out}
}

// shortID is the tail of the conversation id shown in the prompt.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}

func (s *session) loop(ctx context.Context) error {
	fmt.Fprintf(s.out, "Conversation %s. Type your messages (or 'quit' to exit):\n", shortID(s.conv.ID()))

	scanner := bufio.NewScanner(s.in)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "quit" || text == "exit" {
			return nil
		}

		if err := s.ask(ctx, text); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}

// ask sends one message and renders the streamed answer. Updates are
// snapshots, so only the unseen suffix is printed.
func (s *session) ask(ctx context.Context, text string) error {
	turn, err := s.conv.SendMessage(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	fmt.Fprint(s.out, "bing: ")
	var shown string
	for ev := range turn.Events() {
		switch ev.Kind {
		case chat.EventUpdate:
			if strings.HasPrefix(ev.Text, shown) {
				fmt.Fprint(s.out, ev.Text[len(shown):])
			} else {
				fmt.Fprint(s.out, "\nbing: "+ev.Text)
			}
			shown = ev.Text
		case chat.EventComplete:
			fmt.Fprintln(s.out)
		}
	}

	if err := turn.Wait(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(s.out, "\n[connection lost: %v]\n", err)
	} else if !turn.Completed() {
		fmt.Fprintln(s.out, "\n[answer interrupted]")
	}
	fmt.Fprintln(s.out, "---")
	return nil
}
