package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Submission protocol constants. A transaction is only valid until the
// chain height passes the expiry fixed at signing time, and raw submits
// are fire-and-forget, so the only way to learn the fate of an attempt
// is to see it finalized or see the validity window close.
const (
	// MaxConfirmationTime caps one submission attempt end to end.
	MaxConfirmationTime = 120 * time.Second

	confirmPollInterval = 1 * time.Second
	confirmFetchTimeout = 5 * time.Second
	heightPollInterval  = 2 * time.Second

	// sendMaxRetries asks the RPC node to retransmit at the network
	// layer; it does not imply confirmation.
	sendMaxRetries = uint(20)
)

// Status is the terminal classification of one submission attempt.
type Status int

const (
	// StatusSuccess: the transaction is confirmed without error.
	StatusSuccess Status = iota
	// StatusFailed: the transaction is confirmed with a structured
	// ledger error. Resending the same bytes cannot succeed.
	StatusFailed
	// StatusExpired: the attempt is no longer confirmable — either the
	// chain height passed the attempt's expiry or the confirmation
	// window timed out. The intent provably did not land, so the caller
	// may rebuild and resubmit with a fresh blockhash.
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusExpired:
		return "expired"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Attempt is one signed transaction with its validity window. The expiry
// height is fixed at signing time and never mutated; a new attempt
// requires a fresh blockhash and a fresh expiry height.
type Attempt struct {
	Tx           *solana.Transaction
	ExpiryHeight uint64
}

// Outcome is the consolidated result of one attempt, shared by every
// submission call site.
type Outcome struct {
	Status    Status
	Signature solana.Signature
	Meta      *rpc.TransactionMeta
	// TxErr is the raw structured transaction error as decoded from the
	// RPC response; nil unless Status is StatusFailed.
	TxErr interface{}
}

// Submitter races a confirmation watcher against an expiry watcher for
// each submitted transaction. Poll intervals are fields so tests can
// compress time.
type Submitter struct {
	rpc    rpcAPI
	logger *slog.Logger

	maxConfirmationTime time.Duration
	confirmPoll         time.Duration
	confirmFetchTimeout time.Duration
	heightPoll          time.Duration
}

// NewSubmitter creates a submitter with production timing.
func NewSubmitter(api rpcAPI, logger *slog.Logger) *Submitter {
	return &Submitter{
		rpc:                 api,
		logger:              logger.With("component", "submitter"),
		maxConfirmationTime: MaxConfirmationTime,
		confirmPoll:         confirmPollInterval,
		confirmFetchTimeout: confirmFetchTimeout,
		heightPoll:          heightPollInterval,
	}
}

// SendAndConfirm submits the attempt's raw bytes and resolves to the
// first classified outcome produced by either watcher. The losing
// watcher is cancelled cooperatively: it observes the shared context at
// every poll boundary and stops; an in-flight fetch is simply ignored
// once it returns.
func (s *Submitter) SendAndConfirm(ctx context.Context, att *Attempt) (Outcome, error) {
	raw, err := att.Tx.MarshalBinary()
	if err != nil {
		return Outcome{}, fmt.Errorf("serialize transaction: %w", err)
	}

	// Resending identical bytes is idempotent (same signature), so a
	// transport failure here is retried until ctx cancellation.
	maxRetries := sendMaxRetries
	var sig solana.Signature
	err = backoff.Retry(func() error {
		var sendErr error
		sig, sendErr = s.rpc.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
			SkipPreflight: true,
			MaxRetries:    &maxRetries,
		})
		return sendErr
	}, backoff.WithContext(backoff.NewConstantBackOff(500*time.Millisecond), ctx))
	if err != nil {
		return Outcome{}, fmt.Errorf("send transaction: %w", err)
	}

	s.logger.Info("transaction submitted",
		"signature", sig.String(),
		"expiry_height", att.ExpiryHeight)

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan Outcome, 2)
	go s.watchConfirmation(watchCtx, sig, results)
	go s.watchExpiry(watchCtx, sig, att.ExpiryHeight, results)

	out := <-results
	cancel()

	s.logger.Info("transaction resolved",
		"signature", sig.String(),
		"status", out.Status.String())
	return out, nil
}

// watchConfirmation polls for the confirmed record of the signature,
// each poll bounded by a short timeout so a hung fetch cannot stall the
// watcher past one interval.
func (s *Submitter) watchConfirmation(ctx context.Context, sig solana.Signature, out chan<- Outcome) {
	deadline := time.Now().Add(s.maxConfirmationTime)

	for time.Now().Before(deadline) && ctx.Err() == nil {
		meta := s.fetchMeta(ctx, sig)
		if meta != nil {
			if meta.Err != nil {
				s.logger.Warn("transaction error",
					"signature", sig.String(),
					"error", fmt.Sprintf("%v", meta.Err))
				out <- Outcome{Status: StatusFailed, Signature: sig, Meta: meta, TxErr: meta.Err}
				return
			}
			out <- Outcome{Status: StatusSuccess, Signature: sig, Meta: meta}
			return
		}
		sleepCtx(ctx, s.confirmPoll)
	}

	out <- Outcome{Status: StatusExpired, Signature: sig}
}

// fetchMeta returns the transaction's meta, or nil if it is not yet
// confirmed or the fetch failed or timed out.
func (s *Submitter) fetchMeta(ctx context.Context, sig solana.Signature) *rpc.TransactionMeta {
	fetchCtx, cancel := context.WithTimeout(ctx, s.confirmFetchTimeout)
	defer cancel()

	maxVersion := uint64(0)
	res, err := s.rpc.GetTransaction(fetchCtx, sig, &rpc.GetTransactionOpts{
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil || res == nil {
		return nil
	}
	return res.Meta
}

// watchExpiry polls the chain height until it passes the attempt's
// expiry. Transient fetch failures mean "unknown, keep polling".
func (s *Submitter) watchExpiry(ctx context.Context, sig solana.Signature, expiryHeight uint64, out chan<- Outcome) {
	deadline := time.Now().Add(s.maxConfirmationTime)

	for time.Now().Before(deadline) && ctx.Err() == nil {
		height, err := s.rpc.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
		if err == nil && height > expiryHeight {
			out <- Outcome{Status: StatusExpired, Signature: sig}
			return
		}
		sleepCtx(ctx, s.heightPoll)
	}

	out <- Outcome{Status: StatusExpired, Signature: sig}
}
