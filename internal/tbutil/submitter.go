package tbutil

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"

	"aigateway/internal/logging"
)

// ErrBatchTooLarge rejects a request holding more transfers than one batch.
var ErrBatchTooLarge = errors.New("request exceeds max batch size")

// Request is a group of transfers that must land in the same batch.
type Request struct {
	Transfers []tbtypes.Transfer
	Done      chan Outcome
}

// TransferResult is TigerBeetle's verdict on one transfer.
type TransferResult struct {
	ID   tbtypes.Uint128
	Code tbtypes.CreateTransferResult
}

// Accepted reports whether the transfer was created by this batch.
func (r TransferResult) Accepted() bool {
	return r.Code == tbtypes.TransferOK
}

// Outcome carries one TransferResult per request transfer, in order, or the
// error that failed the whole batch.
type Outcome struct {
	Results []TransferResult
	Err     error
}

// Submitter coalesces requests from concurrent callers into CreateTransfers
// batches of at most MaxEvents transfers, flushing at least every FlushEvery.
type Submitter struct {
	In         chan Request
	FlushEvery time.Duration
	MaxEvents  int
	Pool       *ClientPool
	Logger     *zerolog.Logger
}

// Submit enqueues transfers as one request and waits for their results.
func (s *Submitter) Submit(ctx context.Context, transfers ...tbtypes.Transfer) ([]TransferResult, error) {
	req := Request{Transfers: transfers, Done: make(chan Outcome, 1)}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case s.In <- req:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-req.Done:
		return out.Results, out.Err
	}
}

// Run processes requests until ctx is canceled, flushing what is pending on
// the way out.
func (s *Submitter) Run(ctx context.Context) {
	timer := time.NewTimer(s.FlushEvery)
	defer timer.Stop()
	var pending []Request
	queued := 0

	flush := func() {
		if len(pending) == 0 {
			return
		}
		s.flush(context.WithoutCancel(ctx), pending, queued)
		pending, queued = nil, 0
		resetTimer(timer, s.FlushEvery)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case req := <-s.In:
			if len(req.Transfers) > s.MaxEvents {
				s.respond(req, Outcome{Err: ErrBatchTooLarge})
				continue
			}
			if queued+len(req.Transfers) > s.MaxEvents {
				flush()
			}
			pending = append(pending, req)
			queued += len(req.Transfers)
			if queued >= s.MaxEvents {
				flush()
			}
		case <-timer.C:
			flush()
			resetTimer(timer, s.FlushEvery)
		}
	}
}

// flush sends one batch and fans the per-transfer codes back to requests.
// TigerBeetle only reports failed events; absent indexes were accepted.
func (s *Submitter) flush(ctx context.Context, reqs []Request, size int) {
	transfers := make([]tbtypes.Transfer, 0, size)
	for _, req := range reqs {
		transfers = append(transfers, req.Transfers...)
	}

	events, err := s.submit(ctx, transfers)
	if err != nil {
		logger := logging.OrNop(s.Logger)
		logger.Error().Err(err).Int("requests", len(reqs)).Int("transfers", len(transfers)).Msg("transfer batch failed")
		for _, req := range reqs {
			s.respond(req, Outcome{Err: err})
		}
		return
	}

	codes := make([]tbtypes.CreateTransferResult, len(transfers))
	for _, event := range events {
		if i := int(event.Index); i < len(codes) {
			codes[i] = event.Result
		}
	}
	offset := 0
	for _, req := range reqs {
		results := make([]TransferResult, len(req.Transfers))
		for i, transfer := range req.Transfers {
			results[i] = TransferResult{ID: transfer.ID, Code: codes[offset+i]}
		}
		offset += len(req.Transfers)
		s.respond(req, Outcome{Results: results})
	}
}

func (s *Submitter) submit(ctx context.Context, transfers []tbtypes.Transfer) ([]tbtypes.TransferEventResult, error) {
	var events []tbtypes.TransferEventResult
	err := s.Pool.Do(ctx, func(client Client) error {
		var err error
		events, err = CreateTransfers(ctx, client, transfers)
		return err
	})
	return events, err
}

// respond never blocks the submitter; Done must be buffered.
func (s *Submitter) respond(req Request, out Outcome) {
	select {
	case req.Done <- out:
	default:
		logger := logging.OrNop(s.Logger)
		logger.Warn().Int("transfers", len(req.Transfers)).Msg("dropped transfer outcome")
	}
}

func resetTimer(timer *time.Timer, interval time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(interval)
}
