package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultCurrency is the ISO currency code used for all amounts.
const DefaultCurrency = "usd"

// ChargeStatus represents the delivery state of an overage charge.
type ChargeStatus string

const (
	ChargeStatusPending ChargeStatus = "pending"
	ChargeStatusBilled  ChargeStatus = "billed"
	ChargeStatusFailed  ChargeStatus = "failed"
)

// OverageCharge is a billable line for units consumed past the monthly limit.
type OverageCharge struct {
	ID             uuid.UUID
	SubscriberID   uuid.UUID
	Units          int64
	UnitPriceCents int64
	AmountCents    int64
	Currency       string
	Status         ChargeStatus

	// Period is the start of the billing period the units belong to.
	Period  time.Time
	Feature string

	Attempts  int
	LastError string
	CreatedAt time.Time
	BilledAt  *time.Time
}

// PeriodKey is the ledger natural-key component for the charge's period.
func (c *OverageCharge) PeriodKey() string {
	return PeriodKey(c.Period)
}

// PeriodKey formats a billing period start as YYYY-MM-DD.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// PeriodStart returns the start of the billing period that ends at renewal.
func PeriodStart(renewal time.Time) time.Time {
	return renewal.AddDate(0, -1, 0)
}

var moneyPrinter = message.NewPrinter(language.English)

// FormatCents renders an amount of cents in the given currency, e.g. "$ 0.10".
func FormatCents(cents int64, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, code)
	}
	return moneyPrinter.Sprint(currency.Symbol(unit.Amount(float64(cents) / 100)))
}
