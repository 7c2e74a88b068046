// Package swap executes token swaps through the Jupiter aggregator.
// Routes are fetched fresh for every attempt: a route embeds market
// state, so after slippage rejection or blockhash expiry the old route
// is worthless and the executor re-quotes instead of resending.
package swap

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/go-resty/resty/v2"

	"whirlpool-lp/internal/chain"
)

// DefaultBaseURL is the Jupiter quote API.
const DefaultBaseURL = "https://quote-api.jup.ag/v3"

const (
	// slippageBps bounds route slippage at 0.1%; tighter than the pool
	// tolerance so swap dust stays negligible.
	slippageBps = 10

	// slippageToleranceExceeded is Jupiter's custom program error for a
	// route whose execution price moved past the slippage bound.
	slippageToleranceExceeded = 6000

	retryWait = 500 * time.Millisecond
)

// Mode selects which side of the swap is fixed.
type Mode string

const (
	// ExactIn fixes the input amount; used for surplus sweeps.
	ExactIn Mode = "ExactIn"
	// ExactOut fixes the output amount; used to buy exact deposit
	// deficits.
	ExactOut Mode = "ExactOut"
)

// Params describes one swap.
type Params struct {
	InputMint  solana.PublicKey
	OutputMint solana.PublicKey
	// AmountRaw is the fixed side's amount in base units, input or
	// output per Mode.
	AmountRaw uint64
	Mode      Mode
}

// TxSender performs one signed submission attempt and classifies the
// outcome. Satisfied by chain.Client.
type TxSender interface {
	SignAndSend(ctx context.Context, tx *solana.Transaction, extra ...solana.PrivateKey) (chain.Outcome, error)
}

// Executor swaps tokens via Jupiter routes.
type Executor struct {
	http   *resty.Client
	sender TxSender
	wallet solana.PublicKey
	logger *slog.Logger
}

// NewExecutor creates a swap executor for the given wallet.
func NewExecutor(baseURL string, sender TxSender, wallet solana.PublicKey, logger *slog.Logger) *Executor {
	return &Executor{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(15 * time.Second),
		sender: sender,
		wallet: wallet,
		logger: logger.With("component", "swap"),
	}
}

type quoteResponse struct {
	Data []json.RawMessage `json:"data"`
}

type swapRequest struct {
	Route         json.RawMessage `json:"route"`
	UserPublicKey string          `json:"userPublicKey"`
	WrapUnwrapSOL bool            `json:"wrapUnwrapSOL"`
}

type swapResponse struct {
	SetupTransaction   string `json:"setupTransaction"`
	SwapTransaction    string `json:"swapTransaction"`
	CleanupTransaction string `json:"cleanupTransaction"`
}

// Execute performs the swap, re-quoting and resubmitting until it
// confirms or ctx is cancelled. Each route's transactions run in order
// (setup, swap, cleanup); any terminal failure discards the route and
// starts over from a fresh quote.
func (e *Executor) Execute(ctx context.Context, p Params) error {
	e.logger.Info("swap requested",
		"input_mint", p.InputMint.String(),
		"output_mint", p.OutputMint.String(),
		"amount", p.AmountRaw,
		"mode", string(p.Mode))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		txs, err := e.fetchRoute(ctx, p)
		if err != nil {
			e.logger.Warn("route fetch failed, retrying", "error", err)
			if err := wait(ctx, retryWait); err != nil {
				return err
			}
			continue
		}

		done, err := e.runRoute(ctx, txs)
		if err != nil {
			return err
		}
		if done {
			e.logger.Info("swap confirmed")
			return nil
		}
	}
}

// runRoute submits the route's transactions in order. Returns done=true
// only when every transaction confirmed; done=false means the route is
// spent and a fresh quote is needed.
func (e *Executor) runRoute(ctx context.Context, txs []*solana.Transaction) (bool, error) {
	for _, tx := range txs {
		out, err := e.sender.SignAndSend(ctx, tx)
		if err != nil {
			return false, err
		}
		switch out.Status {
		case chain.StatusSuccess:
			continue
		case chain.StatusExpired:
			e.logger.Warn("swap transaction expired, requoting",
				"signature", out.Signature.String())
			return false, nil
		default:
			if code, ok := out.CustomErrorCode(); ok && code == slippageToleranceExceeded {
				e.logger.Warn("swap slippage exceeded, requoting",
					"signature", out.Signature.String())
				return false, nil
			}
			e.logger.Warn("swap transaction failed, requoting",
				"signature", out.Signature.String(),
				"error", fmt.Sprintf("%v", out.TxErr))
			if err := wait(ctx, retryWait); err != nil {
				return false, err
			}
			return false, nil
		}
	}
	return true, nil
}

// fetchRoute quotes the swap and exchanges the best route for signed
// transaction payloads.
func (e *Executor) fetchRoute(ctx context.Context, p Params) ([]*solana.Transaction, error) {
	var quote quoteResponse
	resp, err := e.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"inputMint":   p.InputMint.String(),
			"outputMint":  p.OutputMint.String(),
			"amount":      strconv.FormatUint(p.AmountRaw, 10),
			"slippageBps": strconv.Itoa(slippageBps),
			"swapMode":    string(p.Mode),
		}).
		SetResult(&quote).
		Get("/quote")
	if err != nil {
		return nil, fmt.Errorf("fetch quote: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch quote: status %d", resp.StatusCode())
	}
	if len(quote.Data) == 0 {
		return nil, fmt.Errorf("no route for %s -> %s", p.InputMint, p.OutputMint)
	}

	var sw swapResponse
	resp, err = e.http.R().
		SetContext(ctx).
		SetBody(swapRequest{
			Route:         quote.Data[0],
			UserPublicKey: e.wallet.String(),
			WrapUnwrapSOL: true,
		}).
		SetResult(&sw).
		Post("/swap")
	if err != nil {
		return nil, fmt.Errorf("fetch swap transactions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch swap transactions: status %d", resp.StatusCode())
	}

	var txs []*solana.Transaction
	for _, encoded := range []string{sw.SetupTransaction, sw.SwapTransaction, sw.CleanupTransaction} {
		if encoded == "" {
			continue
		}
		tx, err := decodeTransaction(encoded)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("swap response contained no transactions")
	}
	return txs, nil
}

func decodeTransaction(encoded string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("deserialize transaction: %w", err)
	}
	return tx, nil
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
