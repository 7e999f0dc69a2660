package pdf

import (
	"strings"

	"github.com/flexprice/invoicing/internal/config"
	"github.com/flexprice/invoicing/internal/domain/invoice"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// InvoiceData is the JSON document the invoice template reads
type InvoiceData struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	InvoiceNumber  string         `json:"invoice_number"`
	Kind           string         `json:"kind"`
	IssuedAt       string         `json:"issued_at"`
	DueDate        string         `json:"due_date,omitempty"`
	PaidAt         string         `json:"paid_at,omitempty"`
	ProformaNumber string         `json:"proforma_number,omitempty"`
	Currency       string         `json:"currency"`
	Issuer         Issuer         `json:"issuer"`
	Buyer          Buyer          `json:"buyer"`
	Item           Item           `json:"item"`
	Subtotal       string         `json:"subtotal"`
	VATPercentage  string         `json:"vat_percentage"`
	VATAmount      string         `json:"vat_amount"`
	Total          string         `json:"total"`
	Converted      *ConvertedData `json:"converted,omitempty"`
	PaymentLinkURL string         `json:"payment_link_url,omitempty"`
	Notes          string         `json:"notes,omitempty"`
}

type Issuer struct {
	Name        string `json:"name"`
	TaxID       string `json:"tax_id,omitempty"`
	RegNumber   string `json:"reg_number,omitempty"`
	Address     string `json:"address,omitempty"`
	Email       string `json:"email,omitempty"`
	BankAccount string `json:"bank_account,omitempty"`
	BankName    string `json:"bank_name,omitempty"`
}

type Buyer struct {
	Name        string `json:"name"`
	CompanyName string `json:"company_name,omitempty"`
	TaxID       string `json:"tax_id,omitempty"`
	Email       string `json:"email,omitempty"`
	Address     string `json:"address,omitempty"`
}

type Item struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type ConvertedData struct {
	Currency  string `json:"currency"`
	Subtotal  string `json:"subtotal"`
	VATAmount string `json:"vat_amount"`
	Total     string `json:"total"`
	Rate      string `json:"rate"`
	Provider  string `json:"provider"`
	FetchedAt string `json:"fetched_at"`
}

// NewInvoiceData maps an invoice onto the template document.
// proformaNumber is only shown on fiscal invoices.
func NewInvoiceData(inv *invoice.Invoice, issuer config.IssuerConfig, paymentLinkURL, proformaNumber string) *InvoiceData {
	data := &InvoiceData{
		ID:            inv.ID,
		Title:         "Proforma invoice",
		InvoiceNumber: inv.InvoiceNumber,
		Kind:          string(inv.Kind),
		IssuedAt:      inv.IssuedAt.Format(dateLayout),
		Currency:      inv.Currency,
		Issuer: Issuer{
			Name:        issuer.Name,
			TaxID:       issuer.TaxID,
			RegNumber:   issuer.RegNumber,
			Address:     issuer.Address,
			Email:       issuer.Email,
			BankAccount: issuer.BankAccount,
			BankName:    issuer.BankName,
		},
		Buyer: Buyer{
			Name:        inv.Buyer.Name,
			CompanyName: inv.Buyer.CompanyName,
			TaxID:       inv.Buyer.TaxID,
			Email:       inv.Buyer.Email,
			Address:     formatAddress(inv.Buyer),
		},
		Item: Item{
			Name:        inv.Package.Name,
			Description: inv.Package.Description,
		},
		Subtotal:       amount(inv.Subtotal),
		VATPercentage:  inv.VATPercentage.String(),
		VATAmount:      amount(inv.VATAmount),
		Total:          amount(inv.TotalAmount),
		PaymentLinkURL: paymentLinkURL,
		Notes:          inv.Notes,
	}

	if inv.IsFiscal() {
		data.Title = "Invoice"
		data.ProformaNumber = proformaNumber
	}
	if inv.DueDate != nil {
		data.DueDate = inv.DueDate.Format(dateLayout)
	}
	if inv.PaidAt != nil {
		data.PaidAt = inv.PaidAt.Format(dateLayout)
	}

	if inv.ConvertedAmounts != nil && inv.ExchangeRate != nil {
		data.Converted = &ConvertedData{
			Currency:  inv.ConvertedAmounts.Currency,
			Subtotal:  amount(inv.ConvertedAmounts.Subtotal),
			VATAmount: amount(inv.ConvertedAmounts.VATAmount),
			Total:     amount(inv.ConvertedAmounts.Total),
			Rate:      inv.ExchangeRate.Rate.String(),
			Provider:  inv.ExchangeRate.Provider,
			FetchedAt: inv.ExchangeRate.FetchedAt.Format(dateLayout),
		}
	}

	return data
}

func amount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func formatAddress(b invoice.Buyer) string {
	parts := make([]string, 0, 6)
	for _, p := range []string{b.AddressLine1, b.AddressLine2, b.PostalCode, b.City, b.County, b.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
