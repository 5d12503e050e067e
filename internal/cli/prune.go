package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"aigateway/internal/chat"
	"aigateway/internal/prune"
	"aigateway/internal/tier"
)

// transcript is the JSON input accepted by the prune command.
type transcript struct {
	SystemPrompt   string         `json:"system_prompt"`
	RollingSummary string         `json:"rolling_summary"`
	Messages       []chat.Message `json:"messages"`
}

type pruneOutput struct {
	Budget                tier.Budget    `json:"budget"`
	Messages              []chat.Message `json:"messages"`
	EstimatedTokensBefore int            `json:"estimated_tokens_before"`
	EstimatedTokensAfter  int            `json:"estimated_tokens_after"`
	MessageCountBefore    int            `json:"message_count_before"`
	MessageCountAfter     int            `json:"message_count_after"`
	SummaryTruncated      bool           `json:"summary_truncated"`
}

// runPrune builds the handler for the prune command without piped input.
func runPrune(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		return runPruneWith(cmd, args, nil, stdout, stderr)
	}
}

func runPruneWith(cmd *Command, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if wantsHelp(args) {
		printCommandUsage(cmd, stdout)
		return ExitOK
	}
	flags := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
	input := flags.String("input", "", "Path to a JSON transcript (default: stdin)")
	tierName := flags.String("tier", string(tier.Basic), "Tier whose budget applies")
	budgetTokens := flags.Int("budget", 0, "Override the tier's input token budget")
	keep := flags.Int("keep", 0, "Override the tier's keep-last-turns")
	aggressive := flags.Bool("aggressive", false, "Apply the stricter re-prune budget")
	if code, ok := parseFlags(cmd, flags, args, stdout, stderr); !ok {
		return code
	}

	reader := stdin
	if *input != "" {
		file, err := os.Open(*input)
		if err != nil {
			fmt.Fprintf(stderr, "open input: %v\n", err)
			return ExitError
		}
		defer file.Close()
		reader = file
	}
	if reader == nil {
		fmt.Fprintln(stderr, "no transcript: pass --input or pipe JSON on stdin")
		return ExitUsage
	}

	var t transcript
	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&t); err != nil {
		fmt.Fprintf(stderr, "decode transcript: %v\n", err)
		return ExitError
	}

	budget := tier.DefaultPolicy().Budget(*tierName)
	if *budgetTokens > 0 {
		budget.InputTokens = *budgetTokens
	}
	if *keep > 0 {
		budget.KeepLastTurns = *keep
	}
	if *aggressive {
		budget = tier.Aggressive(budget)
	}

	system, messages := chat.SplitSystem(t.Messages)
	if t.SystemPrompt != "" {
		system = t.SystemPrompt
	}
	res := prune.Prune(prune.Input{
		SystemPrompt:   system,
		RollingSummary: t.RollingSummary,
		Messages:       messages,
		BudgetTokens:   budget.InputTokens,
		KeepLastTurns:  budget.KeepLastTurns,
	})
	out := pruneOutput{
		Budget:                budget,
		Messages:              res.Messages,
		EstimatedTokensBefore: res.EstimatedTokensBefore,
		EstimatedTokensAfter:  res.EstimatedTokensAfter,
		MessageCountBefore:    res.MessageCountBefore,
		MessageCountAfter:     res.MessageCountAfter,
		SummaryTruncated:      res.SummaryTruncated,
	}
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(out); err != nil {
		fmt.Fprintf(stderr, "write result: %v\n", err)
		return ExitError
	}
	return ExitOK
}
