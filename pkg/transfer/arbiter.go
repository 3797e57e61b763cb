// Package transfer decides when a call should be handed to a human agent.
package transfer

import (
	"fmt"
	"strings"
)

// Reason explains why a call is being transferred.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonCustomerRequest Reason = "CUSTOMER_REQUEST"
	ReasonSensitiveTopic  Reason = "SENSITIVE_TOPIC"
	ReasonOutOfContext    Reason = "OUT_OF_CONTEXT"
	ReasonEscalation      Reason = "ESCALATION"
)

// Turn is one completed exchange, as the arbiter sees it.
type Turn struct {
	UserText      string
	AssistantText string
}

// Action is the structured hand-off passed to the dial layer. The context
// summary is the recent turn history rendered as plain text for the human
// agent picking up the call.
type Action struct {
	Reason         Reason
	TransferTarget string
	ContextSummary string
}

// Config holds the phrase lists and thresholds. Zero values take the
// built-in defaults.
type Config struct {
	TransferTarget      string
	RequestPhrases      []string
	SensitiveKeywords   []string
	UnknownPhrases      []string
	FrustrationKeywords []string
	ConfidenceThreshold float64
	// MaxUnknownResponses is how many consecutive low-confidence or
	// "I don't know" turns trip an OUT_OF_CONTEXT transfer.
	MaxUnknownResponses int
	// SummaryTurns is how much history goes into the context summary.
	SummaryTurns int
	// PreTransferUtterance is spoken before bridging; kept conversational
	// on purpose, no robotic "transferring you now".
	PreTransferUtterance string
}

func (c *Config) applyDefaults() {
	if len(c.RequestPhrases) == 0 {
		c.RequestPhrases = []string{
			"speak to a manager", "talk to a manager", "speak to a human",
			"talk to a human", "real person", "speak to someone",
			"talk to an agent", "speak to an agent", "representative",
		}
	}
	if len(c.SensitiveKeywords) == 0 {
		c.SensitiveKeywords = []string{
			"lawsuit", "lawyer", "attorney", "legal action", "sue",
			"discrimination", "harassment", "emergency", "injury",
		}
	}
	if len(c.UnknownPhrases) == 0 {
		c.UnknownPhrases = []string{
			"i don't know", "i'm not sure", "i am not sure",
			"i don't have that information", "i can't help with that",
			"i cannot help with that",
		}
	}
	if len(c.FrustrationKeywords) == 0 {
		c.FrustrationKeywords = []string{
			"this is ridiculous", "useless", "waste of time", "fed up",
			"terrible service", "angry", "frustrated",
		}
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.5
	}
	if c.MaxUnknownResponses <= 0 {
		c.MaxUnknownResponses = 2
	}
	if c.SummaryTurns <= 0 {
		c.SummaryTurns = 5
	}
	if c.PreTransferUtterance == "" {
		c.PreTransferUtterance = "One moment, let me get a colleague who can help you with this."
	}
}

// Arbiter tracks the consecutive-unknown streak for one session. Not safe
// for concurrent use; each call session owns one.
type Arbiter struct {
	cfg           Config
	unknownStreak int
}

func NewArbiter(cfg Config) *Arbiter {
	cfg.applyDefaults()
	return &Arbiter{cfg: cfg}
}

// UnknownStreak exposes the current consecutive-unknown count.
func (a *Arbiter) UnknownStreak() int { return a.unknownStreak }

// RestoreStreak rehydrates the counter from a persisted session snapshot.
func (a *Arbiter) RestoreStreak(n int) {
	if n >= 0 {
		a.unknownStreak = n
	}
}

// Decide evaluates one completed turn. Reasons are checked in a fixed
// order and the first match wins.
func (a *Arbiter) Decide(userText, assistantText string, confidence float64) (bool, Reason) {
	user := strings.ToLower(userText)
	assistant := strings.ToLower(assistantText)

	if containsAny(user, a.cfg.RequestPhrases) {
		return true, ReasonCustomerRequest
	}
	if containsAny(user, a.cfg.SensitiveKeywords) {
		return true, ReasonSensitiveTopic
	}

	if containsAny(assistant, a.cfg.UnknownPhrases) || confidence < a.cfg.ConfidenceThreshold {
		a.unknownStreak++
		if a.unknownStreak >= a.cfg.MaxUnknownResponses {
			return true, ReasonOutOfContext
		}
	} else {
		a.unknownStreak = 0
	}

	if containsAny(user, a.cfg.FrustrationKeywords) {
		return true, ReasonEscalation
	}
	return false, ReasonNone
}

// PreTransferUtterance is what the assistant says right before bridging.
func (a *Arbiter) PreTransferUtterance() string { return a.cfg.PreTransferUtterance }

// BuildAction renders the hand-off for the human agent from recent history.
func (a *Arbiter) BuildAction(reason Reason, history []Turn) Action {
	start := 0
	if len(history) > a.cfg.SummaryTurns {
		start = len(history) - a.cfg.SummaryTurns
	}
	var b strings.Builder
	for _, t := range history[start:] {
		fmt.Fprintf(&b, "Caller: %s\n", t.UserText)
		fmt.Fprintf(&b, "Assistant: %s\n", t.AssistantText)
	}
	return Action{
		Reason:         reason,
		TransferTarget: a.cfg.TransferTarget,
		ContextSummary: strings.TrimRight(b.String(), "\n"),
	}
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(text, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
