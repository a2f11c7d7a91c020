package paymentapi

import (
	"fmt"
)

type StoreProfile struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	StoreUsername     string `json:"store_username"`
	StoreSupportEmail string `json:"store_support_email"`
	StorePaymentEmail string `json:"store_payment_email"`
	StoreURL          string `json:"store_url"`
	WalletAddress     string `json:"wallet_address"`
	StoreLogo         string `json:"store_logo"`
}

type SignupRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
}

type VerificationRequest struct {
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	Description    string  `json:"description"`
	USDAmount      float64 `json:"usd_amount"`
	Fees           float64 `json:"fees"`
	USDFees        float64 `json:"usd_fees"`
	TotalAmount    float64 `json:"total_amount"`
	TotalUSDAmount float64 `json:"total_usd_amount"`
	FirstName      string  `json:"first_name"`
	LastName       string  `json:"last_name"`
	Email          string  `json:"email"`
	Phone          string  `json:"phone"`
	Street         string  `json:"street"`
	City           string  `json:"city"`
	State          string  `json:"state"`
	PostalCode     string  `json:"postal_code"`
	Country        string  `json:"country"`
	Address        string  `json:"address"`
	TrxnHash       string  `json:"trxn_hash"`
	SignupConsent  bool    `json:"signup_consent"`
	WalletAddress  string  `json:"wallet_address"`
	ProductName    string  `json:"product_name,omitempty"`
}

type ErrorKind string

const (
	// KindNetwork means the request never produced an HTTP response.
	KindNetwork ErrorKind = "network"
	// KindStatus means the server answered with a non-2xx status.
	KindStatus ErrorKind = "status"
	// KindDecode means a 2xx body could not be decoded.
	KindDecode ErrorKind = "decode"
)

type APIError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func (e *APIError) Detail() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}
