package wallet

import (
	"errors"
	"fmt"
	"strings"
)

// EIP-1193 provider error codes.
const (
	CodeUserRejected      = 4001
	CodeUnrecognizedChain = 4902
)

type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

type NoWalletError struct{}

func (NoWalletError) Error() string {
	return "No Ethereum wallet detected. Please install MetaMask or another wallet."
}

type UserRejectedError struct {
	Err error
}

func (e UserRejectedError) Error() string {
	return "Wallet connection was rejected. Please approve the request in your wallet."
}

func (e UserRejectedError) Unwrap() error { return e.Err }

type ConnectionError struct {
	Err error
}

func (e ConnectionError) Error() string {
	if e.Err != nil && e.Err.Error() != "" {
		return e.Err.Error()
	}
	return "Connection failed. Please try again."
}

func (e ConnectionError) Unwrap() error { return e.Err }

var (
	ErrNotConnected      = errors.New("Please connect your wallet first")
	ErrWrongNetwork      = errors.New("Please switch to the Polygon network before making a payment.")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoRecipient       = errors.New("payment address unavailable")
	ErrBusy              = errors.New("a wallet payment is already in progress")

	// ErrCallException marks a reverted or failed contract call.
	ErrCallException = errors.New("CALL_EXCEPTION")
)

const (
	msgNetworkMismatch = "Please connect to Polygon network to continue"
	msgBalanceWarning  = "Could not check USDT balance. Please verify you're connected to the Polygon network."
)

type Category string

const (
	CategoryInsufficientFunds Category = "insufficient_funds"
	CategoryUserRejected      Category = "user_rejected"
	CategoryWrongNetwork      Category = "wrong_network"
	CategoryContractCall      Category = "contract_call"
	CategoryGeneric           Category = "generic"
)

// PaymentError is what Pay returns on failure: a category and the message
// shown to the buyer.
type PaymentError struct {
	Category Category
	Message  string
	Err      error
	// Hash is set when the transaction was broadcast before the failure.
	Hash string
}

func (e *PaymentError) Error() string { return e.Message }

func (e *PaymentError) Unwrap() error { return e.Err }

func Classify(err error) Category {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Code == CodeUserRejected {
		return CategoryUserRejected
	}
	var ur UserRejectedError
	if errors.As(err, &ur) {
		return CategoryUserRejected
	}
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return CategoryInsufficientFunds
	case errors.Is(err, ErrWrongNetwork):
		return CategoryWrongNetwork
	case errors.Is(err, ErrCallException):
		return CategoryContractCall
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"), strings.Contains(msg, "transfer amount exceeds balance"):
		return CategoryInsufficientFunds
	case strings.Contains(msg, "user rejected"), strings.Contains(msg, "user denied"):
		return CategoryUserRejected
	case strings.Contains(msg, "switch to the polygon"):
		return CategoryWrongNetwork
	case strings.Contains(msg, "call_exception"), strings.Contains(msg, "execution reverted"):
		return CategoryContractCall
	}
	return CategoryGeneric
}

func Message(category Category, err error) string {
	switch category {
	case CategoryInsufficientFunds:
		return "Insufficient USDT balance. Please add more USDT to your wallet."
	case CategoryUserRejected:
		return "Transaction was rejected in your wallet. Please try again."
	case CategoryWrongNetwork:
		return "Please switch to the Polygon/MATIC network to make your payment."
	case CategoryContractCall:
		return "Contract call failed. Please ensure you're on the Polygon network."
	}
	if err == nil || err.Error() == "" {
		return "Payment failed. Please try again."
	}
	return "Error: " + err.Error()
}

func isUserRejection(err error) bool {
	return Classify(err) == CategoryUserRejected
}
