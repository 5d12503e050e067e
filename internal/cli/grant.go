package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"aigateway/internal/ledger"
	"aigateway/internal/ledger/httpclient"
)

const ledgerTimeout = 10 * time.Second

// runGrant builds the handler for the grant command.
func runGrant(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}
		flags := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
		baseURL := flags.String("ledger", "http://localhost:8081", "ledgerd base URL")
		user := flags.String("user", "", "User id")
		plan := flags.String("plan", "", "Plan type")
		delta := flags.Int64("delta", 0, "Sessions to add (negative to remove)")
		reason := flags.String("reason", ledger.ReasonGrant, "Reason recorded on the ledger event")
		if code, ok := parseFlags(cmd, flags, args, stdout, stderr); !ok {
			return code
		}

		ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
		defer cancel()
		client := httpclient.NewWithTimeout(*baseURL, ledgerTimeout)
		remaining, err := client.Grant(ctx, ledger.Grant{UserID: *user, Plan: *plan, Delta: *delta, Reason: *reason})
		if err != nil {
			fmt.Fprintf(stderr, "grant failed: %v\n", err)
			return ExitError
		}
		fmt.Fprintf(stdout, "%s/%s: %d sessions remaining\n", *user, *plan, remaining)
		return ExitOK
	}
}

// runBalance builds the handler for the balance command.
func runBalance(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}
		flags := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
		baseURL := flags.String("ledger", "http://localhost:8081", "ledgerd base URL")
		user := flags.String("user", "", "User id")
		plan := flags.String("plan", "", "Plan type")
		if code, ok := parseFlags(cmd, flags, args, stdout, stderr); !ok {
			return code
		}
		if *user == "" || *plan == "" {
			fmt.Fprintln(stderr, "--user and --plan are required")
			return ExitUsage
		}

		ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
		defer cancel()
		client := httpclient.NewWithTimeout(*baseURL, ledgerTimeout)
		remaining, err := client.Balance(ctx, *user, *plan)
		if err != nil {
			fmt.Fprintf(stderr, "balance failed: %v\n", err)
			return ExitError
		}
		fmt.Fprintf(stdout, "%s/%s: %d sessions remaining\n", *user, *plan, remaining)
		return ExitOK
	}
}
