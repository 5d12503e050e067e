package tb

import (
	"context"
	"fmt"

	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"

	"aigateway/internal/tbutil"
)

// transferOK marks a transfer that TigerBeetle accepted without a result code.
const transferOK = tbtypes.TransferOK

// ensureAccounts creates the operator and session accounts for a user once.
func (l *Ledger) ensureAccounts(ctx context.Context, userID, plan string) error {
	userAccount := tbutil.SessionAccountID(userID, plan)
	l.mu.Lock()
	done := l.ensured[userAccount]
	l.mu.Unlock()
	if done {
		return nil
	}
	accounts := []tbtypes.Account{
		{
			ID:     tbutil.OperatorAccountID(plan),
			Ledger: ledgerSessions,
			Code:   codeAccount,
		},
		{
			ID:     userAccount,
			Ledger: ledgerSessions,
			Code:   codeAccount,
			Flags:  tbtypes.AccountFlags{DebitsMustNotExceedCredits: true}.ToUint16(),
		},
	}
	var results []tbtypes.AccountEventResult
	err := l.pool.Do(ctx, func(client tbutil.Client) error {
		var err error
		results, err = tbutil.CreateAccounts(ctx, client, accounts)
		return err
	})
	if err != nil {
		return err
	}
	for _, result := range results {
		if result.Result == tbtypes.AccountExists {
			continue
		}
		return fmt.Errorf("create account error: %s", result.Result)
	}
	l.mu.Lock()
	l.ensured[userAccount] = true
	l.mu.Unlock()
	return nil
}

// transfer submits a single transfer through the batching submitter and
// returns its result code.
func (l *Ledger) transfer(ctx context.Context, transfer tbtypes.Transfer) (tbtypes.CreateTransferResult, error) {
	results, err := l.submitter.Submit(ctx, transfer)
	if err != nil {
		return transferOK, err
	}
	if len(results) != 1 {
		return transferOK, fmt.Errorf("expected one transfer result, got %d", len(results))
	}
	return results[0].Code, nil
}

// transferExists reports whether a transfer with id was committed.
func (l *Ledger) transferExists(ctx context.Context, id tbtypes.Uint128) (bool, error) {
	var found bool
	err := l.pool.Do(ctx, func(client tbutil.Client) error {
		transfers, err := tbutil.LookupTransfers(ctx, client, []tbtypes.Uint128{id})
		found = len(transfers) > 0
		return err
	})
	return found, err
}

// lookupAccounts fetches accounts through the client pool.
func (l *Ledger) lookupAccounts(ctx context.Context, ids []tbtypes.Uint128) ([]tbtypes.Account, error) {
	var accounts []tbtypes.Account
	err := l.pool.Do(ctx, func(client tbutil.Client) error {
		var err error
		accounts, err = tbutil.LookupAccounts(ctx, client, ids)
		return err
	})
	return accounts, err
}
