package wallet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Provider is the injected wallet capability.
type Provider interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (int64, error)
	SwitchChain(ctx context.Context, chainID int64) error
	AddChain(ctx context.Context, chain Chain) error
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
	Signer(account common.Address) (Signer, error)
}

// Signer authorizes transfers for one account. Transfer returns once the
// transaction is confirmed.
type Signer interface {
	Address() common.Address
	Transfer(ctx context.Context, token, to common.Address, amount *big.Int) (common.Hash, error)
}

type Connection struct {
	Address common.Address
	ChainID int64
	Signer  Signer
}

type State string

const (
	StateDisconnected    State = "DISCONNECTED"
	StateConnecting      State = "CONNECTING"
	StateConnected       State = "CONNECTED"
	StateCheckingNetwork State = "CHECKING_NETWORK"
	StateNetworkMismatch State = "NETWORK_MISMATCH"
	StateReady           State = "READY"
	StateProcessing      State = "PROCESSING"
	StateCompleted       State = "COMPLETED"
	StateFailed          State = "FAILED"
)

type Balance struct {
	Amount      *big.Int
	Decimals    uint8
	Loading     bool
	Unavailable bool
}

// Unavailable is the sentinel stored when the balance could not be read.
var Unavailable = Balance{Unavailable: true}
