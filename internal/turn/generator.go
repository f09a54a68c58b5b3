// ABOUTME: Generator interface for the external response-producing collaborator
// ABOUTME: Includes an echo generator for local development and tests

package turn

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Fragment is one incremental piece of a turn's output as produced by a
// generator: a text delta, an image, or the terminal sentinel. The last
// fragment of every successful generation carries Done=true.
type Fragment struct {
	Role    string // defaults to "assistant"
	Type    string // defaults to "text"
	Content []byte
	Done    bool
}

// Generator produces the response fragments for one turn. Implementations
// wrap whatever backend actually generates text; they may be slow and may
// fail. The returned channel must be closed when generation ends, whether or
// not a Done fragment was emitted.
type Generator interface {
	Generate(ctx context.Context, threadID string, prompt string) (<-chan Fragment, error)
}

// EchoGenerator is a development stand-in that streams the prompt back word
// by word, then emits the terminal fragment. Useful for wiring the relay end
// to end without a real backend.
type EchoGenerator struct {
	// Delay between fragments; zero means no artificial pacing.
	Delay time.Duration
}

// Generate streams the echoed prompt.
func (g *EchoGenerator) Generate(ctx context.Context, threadID string, prompt string) (<-chan Fragment, error) {
	out := make(chan Fragment)

	go func() {
		defer close(out)

		words := strings.Fields(prompt)
		for i, word := range words {
			if g.Delay > 0 {
				select {
				case <-time.After(g.Delay):
				case <-ctx.Done():
					return
				}
			}

			text := word
			if i < len(words)-1 {
				text += " "
			}
			select {
			case out <- Fragment{Content: []byte(text)}:
			case <-ctx.Done():
				return
			}
		}

		select {
		case out <- Fragment{Content: []byte(fmt.Sprintf("(echoed %d words)", len(words))), Done: true}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}
