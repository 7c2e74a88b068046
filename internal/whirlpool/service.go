package whirlpool

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// AccountReader is the read-only ledger surface the service needs,
// satisfied by chain.Client (which retries transient failures).
type AccountReader interface {
	AccountData(ctx context.Context, key solana.PublicKey) ([]byte, error)
	MultipleAccountData(ctx context.Context, keys ...solana.PublicKey) ([][]byte, error)
}

// Service fetches and decodes this pool's program accounts.
type Service struct {
	reader  AccountReader
	address solana.PublicKey
}

// NewService creates a service bound to one pool.
func NewService(reader AccountReader, address solana.PublicKey) *Service {
	return &Service{reader: reader, address: address}
}

// Address returns the pool's address.
func (s *Service) Address() solana.PublicKey {
	return s.address
}

// Fetch returns fresh pool state. A missing pool account is a fatal
// invariant violation, not a retriable condition.
func (s *Service) Fetch(ctx context.Context) (*Whirlpool, error) {
	data, err := s.reader.AccountData(ctx, s.address)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("whirlpool account does not exist: %s", s.address)
	}
	return DecodeWhirlpool(data)
}

// FetchPosition returns the live state of a position account. The close
// flow always refetches: a stale in-memory copy is not trusted for the
// withdrawal quote.
func (s *Service) FetchPosition(ctx context.Context, address solana.PublicKey) (*Position, error) {
	data, err := s.reader.AccountData(ctx, address)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("position account does not exist: %s", address)
	}
	return DecodePosition(data)
}

// TickArrayExists derives the tick-array PDA for startTick and reports
// whether the account is initialized on-chain.
func (s *Service) TickArrayExists(ctx context.Context, startTick int32) (solana.PublicKey, bool, error) {
	addr, err := TickArrayAddress(s.address, startTick)
	if err != nil {
		return solana.PublicKey{}, false, err
	}
	data, err := s.reader.AccountData(ctx, addr)
	if err != nil {
		return solana.PublicKey{}, false, err
	}
	return addr, data != nil, nil
}

// TokenBalances reads the raw wallet balances of both pool tokens from
// their token accounts. Missing accounts count as zero.
func (s *Service) TokenBalances(ctx context.Context, accountA, accountB solana.PublicKey) (uint64, uint64, error) {
	datas, err := s.reader.MultipleAccountData(ctx, accountA, accountB)
	if err != nil {
		return 0, 0, err
	}
	amounts := [2]uint64{}
	for i, data := range datas {
		if data == nil {
			continue
		}
		amount, err := tokenAccountAmount(data)
		if err != nil {
			return 0, 0, err
		}
		amounts[i] = amount
	}
	return amounts[0], amounts[1], nil
}
