// Package responder produces bot replies for bot-flagged conversations.
// Replies are generated off the caller's goroutine, delayed to resemble
// typing, and re-injected through the inbound message path so the rest
// of the system cannot tell them from a relay delivery.
package responder

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"courier/internal/bus"
	"courier/internal/store"
	"courier/internal/wire"
)

// Turn is one prior exchange handed to the generator as context.
type Turn struct {
	From string
	Text string
}

// Generator produces the reply text. Implementations may call out to an
// external model; errors fall back to a canned apology.
type Generator interface {
	Generate(ctx context.Context, history []Turn, lastText, personaName, personaBio string) (string, error)
}

// Options tunes the simulated typing delay.
type Options struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	PerChar  time.Duration
}

// DefaultOptions mirrors a human-ish typing cadence.
var DefaultOptions = Options{
	MinDelay: 800 * time.Millisecond,
	MaxDelay: 4 * time.Second,
	PerChar:  35 * time.Millisecond,
}

const fallbackReply = "Sorry, I can't answer right now. Try again in a moment."

// Responder schedules bot replies. Implements the controller's Replier.
type Responder struct {
	bus    *bus.Bus
	gen    Generator
	opts   Options
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a responder. Zero-valued opts fields fall back to defaults.
func New(b *bus.Bus, gen Generator, opts Options, logger *zap.Logger) *Responder {
	if opts.MinDelay <= 0 {
		opts.MinDelay = DefaultOptions.MinDelay
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	if opts.PerChar < 0 {
		opts.PerChar = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Responder{bus: b, gen: gen, opts: opts, logger: logger, ctx: ctx, cancel: cancel}
}

// Stop cancels all in-flight replies.
func (r *Responder) Stop() {
	r.cancel()
}

// Reply generates and delivers a bot reply asynchronously. history is the
// stored conversation at send time; lastText is the user's message.
func (r *Responder) Reply(botID, botName, botBio, userID string, history []store.Message, lastText string) {
	turns := make([]Turn, 0, len(history))
	for _, m := range history {
		turns = append(turns, Turn{From: m.SenderID, Text: m.Body})
	}

	go func() {
		text, err := r.gen.Generate(r.ctx, turns, lastText, botName, botBio)
		if err != nil {
			r.logger.Warn("reply generation failed", zap.String("bot", botID), zap.Error(err))
			text = fallbackReply
		}

		select {
		case <-time.After(r.delayFor(text)):
		case <-r.ctx.Done():
			return
		}

		r.bus.Publish(bus.Now("relay."+string(wire.FrameNewMessage), &wire.Message{
			ID:             uuid.NewString(),
			ConversationID: userID,
			SenderID:       botID,
			SenderName:     botName,
			Body:           text,
			Timestamp:      time.Now().UnixMilli(),
		}))
	}()
}

// delayFor scales the typing delay with reply length, clamped to the
// configured window.
func (r *Responder) delayFor(text string) time.Duration {
	d := time.Duration(len(text)) * r.opts.PerChar
	if d < r.opts.MinDelay {
		return r.opts.MinDelay
	}
	if d > r.opts.MaxDelay {
		return r.opts.MaxDelay
	}
	return d
}

// CannedGenerator cycles through a fixed set of replies. It is the
// default when no external generator is wired in.
type CannedGenerator struct {
	replies []string
	next    int
}

// NewCannedGenerator builds a generator over the given replies, falling
// back to a small built-in set when none are provided.
func NewCannedGenerator(replies ...string) *CannedGenerator {
	if len(replies) == 0 {
		replies = []string{
			"Interesting, tell me more.",
			"I see what you mean.",
			"That makes sense to me.",
			"Good question. What do you think yourself?",
		}
	}
	return &CannedGenerator{replies: replies}
}

func (g *CannedGenerator) Generate(_ context.Context, _ []Turn, _ string, _, _ string) (string, error) {
	reply := g.replies[g.next%len(g.replies)]
	g.next++
	return reply, nil
}
