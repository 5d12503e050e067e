package tbutil

import (
	"context"
	"fmt"

	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"
)

// call runs a blocking client call and stops waiting once ctx is done. The
// call itself keeps running; its result is dropped.
func call[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn()
		done <- result{value: value, err: err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("tigerbeetle %s: %w", op, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return res.value, fmt.Errorf("tigerbeetle %s: %w", op, res.err)
		}
		return res.value, nil
	}
}

// CreateAccounts creates accounts, honoring ctx.
func CreateAccounts(ctx context.Context, client Client, accounts []tbtypes.Account) ([]tbtypes.AccountEventResult, error) {
	return call(ctx, "create accounts", func() ([]tbtypes.AccountEventResult, error) {
		return client.CreateAccounts(accounts)
	})
}

// LookupAccounts reads accounts by id, honoring ctx.
func LookupAccounts(ctx context.Context, client Client, ids []tbtypes.Uint128) ([]tbtypes.Account, error) {
	return call(ctx, "lookup accounts", func() ([]tbtypes.Account, error) {
		return client.LookupAccounts(ids)
	})
}

// CreateTransfers submits one batch of transfers, honoring ctx.
func CreateTransfers(ctx context.Context, client Client, transfers []tbtypes.Transfer) ([]tbtypes.TransferEventResult, error) {
	return call(ctx, "create transfers", func() ([]tbtypes.TransferEventResult, error) {
		return client.CreateTransfers(transfers)
	})
}

// LookupTransfers reads transfers by id, honoring ctx.
func LookupTransfers(ctx context.Context, client Client, ids []tbtypes.Uint128) ([]tbtypes.Transfer, error) {
	return call(ctx, "lookup transfers", func() ([]tbtypes.Transfer, error) {
		return client.LookupTransfers(ids)
	})
}
