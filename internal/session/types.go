package session

import (
	"errors"
	"fmt"
	"strings"
)

type Step string

const (
	StepDetails Step = "DETAILS"
	StepPayment Step = "PAYMENT"
)

type SubmissionState string

const (
	SubmissionIdle       SubmissionState = "IDLE"
	SubmissionSubmitting SubmissionState = "SUBMITTING"
	SubmissionSucceeded  SubmissionState = "SUCCEEDED"
	SubmissionFailed     SubmissionState = "FAILED"
)

const DefaultCountryCode = "+234"

var (
	ErrSubmitInProgress   = errors.New("submission already in progress")
	ErrWindowExpired      = errors.New("payment window expired")
	ErrAddressUnavailable = errors.New("payment address unavailable")
	ErrHashRequired       = errors.New("Please enter the transaction hash")
	ErrWrongStep          = errors.New("action not available at this step")
	ErrTimerActive        = errors.New("more time is only available once the payment window has expired")
	ErrNoWallet           = errors.New("wallet payments are not available")

	ErrUnregisteredRecipient = errors.New("wallet payments need the store's registered payment address")
)

// Draft is what the buyer has typed so far. It is persisted on every change.
type Draft struct {
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Email         string `json:"email"`
	PhoneNumber   string `json:"phoneNumber"`
	Street        string `json:"street"`
	City          string `json:"city"`
	State         string `json:"state"`
	PostalCode    string `json:"postalCode"`
	Country       string `json:"country"`
	TrxnHash      string `json:"trxnHash"`
	SignUpConsent bool   `json:"signUpConsent"`
}

// ValidationError lists the required fields left empty.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "Please fill in all required fields: " + strings.Join(e.Fields, ", ")
}

// Validate checks the fields required to leave the details step.
func (d Draft) Validate() error {
	required := []struct {
		label, value string
	}{
		{"First Name", d.FirstName},
		{"Last Name", d.LastName},
		{"Email", d.Email},
		{"Phone Number", d.PhoneNumber},
		{"Street", d.Street},
		{"City", d.City},
		{"Country", d.Country},
	}
	var missing []string
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.label)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

// FullAddress joins the non-empty address parts.
func (d Draft) FullAddress() string {
	var parts []string
	for _, p := range []string{d.Street, d.City, d.State, d.PostalCode, d.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

func (d Draft) Phone(countryCode string) string {
	return countryCode + strings.TrimSpace(d.PhoneNumber)
}

// Invoice is supplied by the embedding page.
type Invoice struct {
	StoreID        string
	Amount         float64
	Currency       string
	Description    string
	USDAmount      float64
	RedirectURL    string
	FallbackWallet string
	ProductName    string
	CRMKey         string
}

func (inv Invoice) Validate() error {
	var missing []string
	if inv.StoreID == "" {
		missing = append(missing, "store_id")
	}
	if inv.Description == "" {
		missing = append(missing, "description")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing invoice fields: %s", strings.Join(missing, ", "))
	}
	if inv.Amount < 0 || inv.USDAmount < 0 {
		return errors.New("invoice amounts must not be negative")
	}
	return nil
}
