// Package prune bounds a conversation to a token budget while keeping the
// most recent turns.
package prune

import (
	"strings"
	"unicode/utf8"

	"aigateway/internal/chat"
)

// TruncationMarker is appended to a rolling summary that was cut to fit.
const TruncationMarker = " (truncated)"

// MinKeepLastTurns is the lowest keep-turns value the pruner honors.
const MinKeepLastTurns = 2

// fallbackTurns is the size of the hard-truncation fallback.
const fallbackTurns = 2

// Input describes a pruning request.
type Input struct {
	SystemPrompt   string
	RollingSummary string
	Messages       []chat.Message
	BudgetTokens   int
	KeepLastTurns  int
}

// Result reports the pruned payload and what pruning did to it.
type Result struct {
	Messages              []chat.Message
	EstimatedTokensBefore int
	EstimatedTokensAfter  int
	MessageCountBefore    int
	MessageCountAfter     int
	SummaryTruncated      bool
}

// Turns returns the conversation turns of the result without the system
// prompt or summary.
func (r Result) Turns() []chat.Message {
	start := 0
	for start < len(r.Messages) && start < 2 && r.Messages[start].Role == chat.RoleSystem {
		start++
	}
	return r.Messages[start:]
}

// Prune reduces the input to fit BudgetTokens.
//
// The oldest turns are evicted first and the newest KeepLastTurns turns are
// protected. If the protected turns still exceed the budget the conversation
// is cut to its last two turns. The rolling summary gets whatever budget is
// left and is truncated or dropped to fit it.
func Prune(in Input) Result {
	keep := in.KeepLastTurns
	if keep < MinKeepLastTurns {
		keep = MinKeepLastTurns
	}

	var system *chat.Message
	if prompt := strings.TrimSpace(in.SystemPrompt); prompt != "" {
		msg := chat.System(prompt)
		system = &msg
	}
	summary := strings.TrimSpace(in.RollingSummary)

	turns := chat.Sanitize(in.Messages)
	before := estimate(system, summary, turns)
	countBefore := len(turns) + countOptional(system, summary)

	for len(turns) > keep && estimate(system, summary, turns) > in.BudgetTokens {
		turns = turns[1:]
	}
	if estimate(system, summary, turns) > in.BudgetTokens && len(turns) > fallbackTurns {
		turns = turns[len(turns)-fallbackTurns:]
	}

	truncated := false
	if summary != "" {
		summary, truncated = fitSummary(summary, in.BudgetTokens-estimate(system, "", turns))
	}

	out := make([]chat.Message, 0, len(turns)+2)
	if system != nil {
		out = append(out, *system)
	}
	if summary != "" {
		out = append(out, chat.System(summary))
	}
	out = append(out, turns...)

	return Result{
		Messages:              out,
		EstimatedTokensBefore: before,
		EstimatedTokensAfter:  chat.EstimateMessages(out),
		MessageCountBefore:    countBefore,
		MessageCountAfter:     len(out),
		SummaryTruncated:      truncated,
	}
}

// fitSummary cuts the summary to the remaining token budget. It returns an
// empty summary when nothing fits and reports whether any cut happened.
func fitSummary(summary string, remaining int) (string, bool) {
	available := remaining - chat.MessageOverhead
	if available <= 0 {
		return "", true
	}
	limit := available * chat.CharsPerToken
	if len(summary) <= limit {
		return summary, false
	}
	cut := limit - len(TruncationMarker)
	if cut <= 0 {
		return "", true
	}
	for cut > 0 && !utf8.RuneStart(summary[cut]) {
		cut--
	}
	head := strings.TrimRightFunc(summary[:cut], isSpace)
	if head == "" {
		return "", true
	}
	return head + TruncationMarker, true
}

// estimate sums token estimates for the system prompt, summary, and turns.
func estimate(system *chat.Message, summary string, turns []chat.Message) int {
	total := chat.EstimateMessages(turns)
	if system != nil {
		total += chat.EstimateMessage(*system)
	}
	if summary != "" {
		total += chat.EstimateMessage(chat.System(summary))
	}
	return total
}

func countOptional(system *chat.Message, summary string) int {
	count := 0
	if system != nil {
		count++
	}
	if summary != "" {
		count++
	}
	return count
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}
