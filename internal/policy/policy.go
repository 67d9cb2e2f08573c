// Package policy decides whether and how the bot responds to an inbound
// message. The decision is a pure function of the event, the session mute
// state, the configured bot name, the command table, and one injectable
// source of randomness.
package policy

import (
	"math/rand"
	"strings"
	"sync/atomic"

	"github.com/Hierifer/vanilla/internal/model"
)

// Sentinel is the command prefix character.
const Sentinel = "/"

// Kind classifies a reply decision.
type Kind int

// Decision kinds.
const (
	KindDrop Kind = iota
	KindCommand
	KindReply
)

// Decision is the outcome of evaluating one inbound message.
type Decision struct {
	Kind       Kind
	Command    string // set when Kind is KindCommand
	UseHistory bool   // set when Kind is KindReply
}

// Session holds the per-bot conversational state shared between the policy
// engine and command handlers. Safe for concurrent use.
type Session struct {
	muted atomic.Bool
}

// NewSession creates an unmuted Session.
func NewSession() *Session { return &Session{} }

// Mute suppresses generative replies until Unmute. Commands still run.
func (s *Session) Mute() { s.muted.Store(true) }

// Unmute restores normal replies.
func (s *Session) Unmute() { s.muted.Store(false) }

// Muted reports the current mute state.
func (s *Session) Muted() bool { return s.muted.Load() }

// CommandSet is the subset of the command registry the engine consults.
type CommandSet interface {
	Has(name string) bool
}

// Engine evaluates inbound messages against the reply policy.
type Engine struct {
	session     *Session
	commands    CommandSet
	botName     string
	probability float64
	random      func() float64
}

// NewEngine creates an Engine. probability is the chance of replying to a
// message that neither names a command nor mentions the bot.
func NewEngine(session *Session, commands CommandSet, botName string, probability float64) *Engine {
	return &Engine{
		session:     session,
		commands:    commands,
		botName:     botName,
		probability: probability,
		random:      rand.Float64,
	}
}

// SetRandom overrides the randomness source, for deterministic tests.
func (e *Engine) SetRandom(f func() float64) { e.random = f }

// Decide applies the policy rules in order: registered commands always run,
// even while muted; muted sessions drop everything else; a mention of the
// bot's display name replies without history; otherwise a random draw below
// the configured probability replies with history attached.
func (e *Engine) Decide(ev model.ChatEvent) Decision {
	if name, ok := e.commandName(ev.Text); ok {
		return Decision{Kind: KindCommand, Command: name}
	}

	if e.session.Muted() {
		return Decision{Kind: KindDrop}
	}

	for _, m := range ev.Mentions {
		if e.botName != "" && m == e.botName {
			return Decision{Kind: KindReply, UseHistory: false}
		}
	}

	if e.random() < e.probability {
		return Decision{Kind: KindReply, UseHistory: true}
	}
	return Decision{Kind: KindDrop}
}

func (e *Engine) commandName(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], Sentinel) {
		return "", false
	}
	if !e.commands.Has(fields[0]) {
		return "", false
	}
	return fields[0], true
}
