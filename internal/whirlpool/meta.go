package whirlpool

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-resty/resty/v2"

	"whirlpool-lp/internal/retry"
	"whirlpool-lp/pkg/types"
)

// DefaultMetaBaseURL is the Orca whirlpool metadata API.
const DefaultMetaBaseURL = "https://api.mainnet.orca.so"

type apiToken struct {
	Mint        string  `json:"mint"`
	Symbol      string  `json:"symbol"`
	Name        string  `json:"name"`
	Decimals    uint8   `json:"decimals"`
	CoingeckoID *string `json:"coingeckoId"`
}

type apiWhirlpool struct {
	Address string   `json:"address"`
	TokenA  apiToken `json:"tokenA"`
	TokenB  apiToken `json:"tokenB"`
}

type apiWhirlpoolList struct {
	Whirlpools []apiWhirlpool `json:"whirlpools"`
}

// MetaClient resolves token mints, decimals and Coingecko ids for a
// pool from the Orca metadata API.
type MetaClient struct {
	http *resty.Client
}

// NewMetaClient creates a metadata client.
func NewMetaClient(baseURL string) *MetaClient {
	return &MetaClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(15 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(time.Second),
	}
}

// TokenPair fetches the pool's token metadata, retrying indefinitely:
// the bot cannot run without knowing the pool's token decimals. The
// wallet key is needed to derive the associated token accounts.
func (m *MetaClient) TokenPair(ctx context.Context, pool, wallet solana.PublicKey) (tokenA, tokenB types.TokenInfo, err error) {
	entry, err := retry.Forever(ctx, func() (*apiWhirlpool, error) {
		return m.fetchPool(ctx, pool)
	}, retry.DefaultWait)
	if err != nil {
		return types.TokenInfo{}, types.TokenInfo{}, err
	}

	tokenA, err = toTokenInfo(entry.TokenA, wallet)
	if err != nil {
		return types.TokenInfo{}, types.TokenInfo{}, fmt.Errorf("token A: %w", err)
	}
	tokenB, err = toTokenInfo(entry.TokenB, wallet)
	if err != nil {
		return types.TokenInfo{}, types.TokenInfo{}, fmt.Errorf("token B: %w", err)
	}
	return tokenA, tokenB, nil
}

func (m *MetaClient) fetchPool(ctx context.Context, pool solana.PublicKey) (*apiWhirlpool, error) {
	var list apiWhirlpoolList
	resp, err := m.http.R().
		SetContext(ctx).
		SetResult(&list).
		Get("/v1/whirlpool/list")
	if err != nil {
		return nil, fmt.Errorf("fetch whirlpool list: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch whirlpool list: status %d", resp.StatusCode())
	}

	want := pool.String()
	for i := range list.Whirlpools {
		if list.Whirlpools[i].Address == want {
			return &list.Whirlpools[i], nil
		}
	}
	return nil, fmt.Errorf("whirlpool %s not in metadata list", want)
}

func toTokenInfo(t apiToken, wallet solana.PublicKey) (types.TokenInfo, error) {
	mint, err := solana.PublicKeyFromBase58(t.Mint)
	if err != nil {
		return types.TokenInfo{}, fmt.Errorf("parse mint %q: %w", t.Mint, err)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(wallet, mint)
	if err != nil {
		return types.TokenInfo{}, fmt.Errorf("derive associated token account: %w", err)
	}
	info := types.TokenInfo{
		Mint:     mint,
		ATA:      ata,
		Decimals: t.Decimals,
	}
	if t.CoingeckoID != nil {
		info.CoingeckoID = *t.CoingeckoID
	}
	return info, nil
}
