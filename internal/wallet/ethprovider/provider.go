// Package ethprovider implements wallet.Provider with a local key over an
// Ethereum JSON-RPC endpoint.
package ethprovider

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/BananaCrystal/external-crypto-payment/internal/wallet"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var _ wallet.Provider = (*Provider)(nil)

const erc20JSON = `[
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"}
]`

var erc20 = mustABI(erc20JSON)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Client is the subset of *ethclient.Client the provider uses.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

type DialFunc func(ctx context.Context, rpcURL string) (Client, error)

func dialEthclient(ctx context.Context, rpcURL string) (Client, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return c, nil
}

type Provider struct {
	key     *ecdsa.PrivateKey
	address common.Address
	dial    DialFunc
	logger  *slog.Logger

	receiptInterval time.Duration
	receiptTries    uint64

	mu     sync.Mutex
	client Client
	rpcs   map[int64]string
}

type Option func(*Provider)

func WithDialer(d DialFunc) Option {
	return func(p *Provider) { p.dial = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithReceiptPolling sets how often and how many times the receipt is polled.
func WithReceiptPolling(interval time.Duration, tries uint64) Option {
	return func(p *Provider) {
		p.receiptInterval = interval
		p.receiptTries = tries
	}
}

// WithChains registers RPC endpoints the provider may switch to.
func WithChains(chains ...wallet.Chain) Option {
	return func(p *Provider) {
		for _, c := range chains {
			if len(c.RPCURLs) > 0 {
				p.rpcs[c.ID] = c.RPCURLs[0]
			}
		}
	}
}

func Dial(ctx context.Context, rpcURL, privateKeyHex string, opts ...Option) (*Provider, error) {
	client, err := dialEthclient(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	p, err := New(client, privateKeyHex, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	return p, nil
}

func New(client Client, privateKeyHex string, opts ...Option) (*Provider, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	p := &Provider{
		key:             key,
		address:         crypto.PubkeyToAddress(key.PublicKey),
		dial:            dialEthclient,
		logger:          slog.Default(),
		receiptInterval: time.Second,
		receiptTries:    60,
		client:          client,
		rpcs:            make(map[int64]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "ethprovider")
	return p, nil
}

func (p *Provider) Address() common.Address {
	return p.address
}

func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Close()
	}
}

func (p *Provider) current() Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

func (p *Provider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return []common.Address{p.address}, nil
}

func (p *Provider) ChainID(ctx context.Context) (int64, error) {
	id, err := p.current().ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get chain ID: %w", err)
	}
	return id.Int64(), nil
}

func (p *Provider) SwitchChain(ctx context.Context, chainID int64) error {
	if current, err := p.ChainID(ctx); err == nil && current == chainID {
		return nil
	}

	p.mu.Lock()
	rpcURL, ok := p.rpcs[chainID]
	p.mu.Unlock()
	if !ok {
		return &wallet.ProviderError{Code: wallet.CodeUnrecognizedChain, Message: fmt.Sprintf("Unrecognized chain ID %d", chainID)}
	}

	client, err := p.dial(ctx, rpcURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RPC: %w", err)
	}

	p.mu.Lock()
	old := p.client
	p.client = client
	p.mu.Unlock()
	if old != nil {
		old.Close()
	}
	p.logger.Info("switched chain", "chain", chainID, "rpc", rpcURL)
	return nil
}

func (p *Provider) AddChain(ctx context.Context, chain wallet.Chain) error {
	if len(chain.RPCURLs) == 0 {
		return fmt.Errorf("chain %d has no RPC URL", chain.ID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rpcs[chain.ID] = chain.RPCURLs[0]
	return nil
}

func (p *Provider) call(ctx context.Context, token common.Address, method string, args ...any) ([]any, error) {
	data, err := erc20.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack method call: %w", err)
	}
	result, err := p.current().CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", wallet.ErrCallException, method, err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("%w: empty result from %s", wallet.ErrCallException, method)
	}
	out, err := erc20.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no output from %s", method)
	}
	return out, nil
}

func (p *Provider) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := p.call(ctx, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balance type: %T", out[0])
	}
	return balance, nil
}

func (p *Provider) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := p.call(ctx, token, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type: %T", out[0])
	}
	return decimals, nil
}

func (p *Provider) Signer(account common.Address) (wallet.Signer, error) {
	if account != p.address {
		return nil, fmt.Errorf("no key for account %s", account.Hex())
	}
	return &keySigner{p: p}, nil
}

type keySigner struct {
	p *Provider
}

func (s *keySigner) Address() common.Address {
	return s.p.address
}

func (s *keySigner) Transfer(ctx context.Context, token, to common.Address, amount *big.Int) (common.Hash, error) {
	p := s.p
	client := p.current()

	data, err := erc20.Pack("transfer", to, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack method call: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get chain ID: %w", err)
	}
	nonce, err := client.PendingNonceAt(ctx, p.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get gas price: %w", err)
	}
	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{From: p.address, To: &token, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
	}

	tx := types.NewTransaction(nonce, token, big.NewInt(0), gas, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), p.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	hash := signedTx.Hash()
	p.logger.Info("transfer sent", "hash", hash.Hex(), "token", token.Hex(), "to", to.Hex(), "amount", amount)

	receipt, err := p.waitReceipt(ctx, client, hash)
	if err != nil {
		return hash, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return hash, fmt.Errorf("%w: transaction %s reverted", wallet.ErrCallException, hash.Hex())
	}
	return hash, nil
}

func (p *Provider) waitReceipt(ctx context.Context, client Client, hash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	op := func() error {
		r, err := client.TransactionReceipt(ctx, hash)
		if err != nil {
			if !errors.Is(err, ethereum.NotFound) {
				p.logger.Debug("receipt poll failed", "hash", hash.Hex(), "error", err)
			}
			return err
		}
		receipt = r
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(p.receiptInterval), p.receiptTries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("transaction receipt not found for %s: %w", hash.Hex(), err)
	}
	return receipt, nil
}
