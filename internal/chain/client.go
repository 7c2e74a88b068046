// Package chain wraps the Solana RPC surface the bot consumes: read-only
// account fetches hardened by the retry primitive, transaction signing
// against a fresh blockhash, and the submission/confirmation engine that
// races a finality watcher against a block-height expiry watcher.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"whirlpool-lp/internal/retry"
)

// rpcAPI is the slice of *rpc.Client the package needs. Narrowed to an
// interface so tests can drive the watchers with scripted responses.
type rpcAPI interface {
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
	GetMultipleAccountsWithOpts(ctx context.Context, accounts []solana.PublicKey, opts *rpc.GetMultipleAccountsOpts) (*rpc.GetMultipleAccountsResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	GetTransaction(ctx context.Context, txSig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	SendRawTransactionWithOpts(ctx context.Context, data []byte, opts rpc.TransactionOpts) (solana.Signature, error)
}

// Client is the process-wide ledger handle: one RPC connection and the
// wallet signing key. Only the engine loop mutates positions through it,
// so no locking is needed.
type Client struct {
	rpc    rpcAPI
	wallet solana.PrivateKey
	sub    *Submitter
	logger *slog.Logger
}

// New connects a client to the given RPC endpoint.
func New(endpoint string, wallet solana.PrivateKey, logger *slog.Logger) *Client {
	rc := rpc.New(endpoint)
	return &Client{
		rpc:    rc,
		wallet: wallet,
		sub:    NewSubmitter(rc, logger),
		logger: logger.With("component", "chain"),
	}
}

// WalletKey returns the wallet's public key.
func (c *Client) WalletKey() solana.PublicKey {
	return c.wallet.PublicKey()
}

// AccountData fetches the raw data of one account, retrying transient
// failures forever. Returns nil data if the account does not exist.
func (c *Client) AccountData(ctx context.Context, key solana.PublicKey) ([]byte, error) {
	return retry.Forever(ctx, func() ([]byte, error) {
		res, err := c.rpc.GetAccountInfoWithOpts(ctx, key, &rpc.GetAccountInfoOpts{
			Commitment: rpc.CommitmentConfirmed,
		})
		if err == rpc.ErrNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("get account %s: %w", key, err)
		}
		if res.Value == nil {
			return nil, nil
		}
		return res.Value.Data.GetBinary(), nil
	}, retry.DefaultWait)
}

// MultipleAccountData batch-fetches raw account data. Entries for
// accounts that do not exist are nil.
func (c *Client) MultipleAccountData(ctx context.Context, keys ...solana.PublicKey) ([][]byte, error) {
	return retry.Forever(ctx, func() ([][]byte, error) {
		res, err := c.rpc.GetMultipleAccountsWithOpts(ctx, keys, &rpc.GetMultipleAccountsOpts{
			Commitment: rpc.CommitmentConfirmed,
		})
		if err != nil {
			return nil, fmt.Errorf("get multiple accounts: %w", err)
		}
		out := make([][]byte, len(keys))
		for i, acc := range res.Value {
			if acc == nil {
				continue
			}
			out[i] = acc.Data.GetBinary()
		}
		return out, nil
	}, retry.DefaultWait)
}

// Lamports returns the native balance of an account.
func (c *Client) Lamports(ctx context.Context, key solana.PublicKey) (uint64, error) {
	return retry.Forever(ctx, func() (uint64, error) {
		res, err := c.rpc.GetBalance(ctx, key, rpc.CommitmentConfirmed)
		if err != nil {
			return 0, fmt.Errorf("get balance %s: %w", key, err)
		}
		return res.Value, nil
	}, retry.DefaultWait)
}

// SignWithFreshBlockhash stamps the transaction with a fresh recent
// blockhash, signs it with the wallet plus any extra signers, and fixes
// the attempt's expiry height. A resubmission after expiry must go
// through here again: expiry height is never mutated on an attempt.
func (c *Client) SignWithFreshBlockhash(ctx context.Context, tx *solana.Transaction, extra ...solana.PrivateKey) (*Attempt, error) {
	bh, err := retry.Forever(ctx, func() (*rpc.GetLatestBlockhashResult, error) {
		return c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	}, retry.DefaultWait)
	if err != nil {
		return nil, fmt.Errorf("get latest blockhash: %w", err)
	}

	tx.Message.RecentBlockhash = bh.Value.Blockhash
	tx.Signatures = nil

	signers := append([]solana.PrivateKey{c.wallet}, extra...)
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range signers {
			if signers[i].PublicKey().Equals(key) {
				return &signers[i]
			}
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	return &Attempt{
		Tx:           tx,
		ExpiryHeight: bh.Value.LastValidBlockHeight,
	}, nil
}

// SignAndSend performs exactly one submission attempt: fresh blockhash,
// sign, submit, and wait for a classified outcome. Callers decide how to
// react to Expired or Failed outcomes.
func (c *Client) SignAndSend(ctx context.Context, tx *solana.Transaction, extra ...solana.PrivateKey) (Outcome, error) {
	att, err := c.SignWithFreshBlockhash(ctx, tx, extra...)
	if err != nil {
		return Outcome{}, err
	}
	return c.sub.SendAndConfirm(ctx, att)
}

// SendUntilLanded drives a transaction to a terminal outcome: on Expired
// it re-signs with a fresh blockhash and resubmits (the expired attempt
// provably produced no confirmed record, so this never double-applies),
// on Failed it returns the classified error. Used for transactions whose
// instructions are safe to rebuild verbatim.
func (c *Client) SendUntilLanded(ctx context.Context, tx *solana.Transaction, extra ...solana.PrivateKey) (*rpc.TransactionMeta, error) {
	for {
		out, err := c.SignAndSend(ctx, tx, extra...)
		if err != nil {
			return nil, err
		}
		switch out.Status {
		case StatusSuccess:
			return out.Meta, nil
		case StatusExpired:
			c.logger.Warn("transaction expired, resigning",
				"signature", out.Signature.String())
			continue
		default:
			return nil, fmt.Errorf("transaction %s failed: %w", out.Signature, out.Err())
		}
	}
}

// Submitter exposes the submission engine for callers that pre-sign.
func (c *Client) Submitter() *Submitter {
	return c.sub
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
