package receipt

import (
	"time"

	"github.com/shopspring/decimal"
)

// Receipt is a reimbursement request submitted by a member
type Receipt struct {
	ID            string          `json:"id"`
	Amount        decimal.Decimal `json:"amount"`
	CommitteeID   string          `json:"committee_id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	UserID        string          `json:"user_id"`
	CardNumber    string          `json:"card_number,omitempty"`
	AccountNumber string          `json:"account_number,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// PaymentKind reports how the expense was paid
func (r *Receipt) PaymentKind() string {
	return paymentKind(r.AccountNumber)
}

func paymentKind(accountNumber string) string {
	if accountNumber != "" {
		return "Payment"
	}
	return "Card"
}

// Attachment links a stored file to a receipt. Name is the storage key.
type Attachment struct {
	ID        string `json:"id"`
	ReceiptID string `json:"receipt_id"`
	Name      string `json:"name"`
	Position  int    `json:"position"` // index in the submitted attachment list
}

// Committee is the organizational group a receipt is billed against
type Committee struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// User is a member who has authenticated at least once
type User struct {
	ID       string    `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"fullname"`
	LastSeen time.Time `json:"last_seen"`
}

// ReviewStatus is the outcome of a finance review
type ReviewStatus string

const (
	ReviewNone     ReviewStatus = "NONE"
	ReviewApproved ReviewStatus = "APPROVED"
	ReviewDenied   ReviewStatus = "DENIED"
)

// Review is a finance decision on a receipt
type Review struct {
	ID        string       `json:"id"`
	ReceiptID string       `json:"receipt_id"`
	Status    ReviewStatus `json:"status"`
	Comment   string       `json:"comment,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// ReceiptInfo is the denormalized read model used for listing
type ReceiptInfo struct {
	ReceiptID             string          `json:"receiptId"`
	UserID                string          `json:"-"`
	Amount                decimal.Decimal `json:"amount"`
	ReceiptName           string          `json:"receiptName"`
	ReceiptDescription    string          `json:"receiptDescription"`
	ReceiptCreatedAt      time.Time       `json:"receiptCreatedAt"`
	CommitteeName         string          `json:"committeeName"`
	UserFullname          string          `json:"userFullname"`
	PaymentOrCard         string          `json:"paymentOrCard"`
	AttachmentCount       int             `json:"attachmentCount"`
	LatestReviewStatus    ReviewStatus    `json:"latestReviewStatus"`
	LatestReviewCreatedAt *time.Time      `json:"latestReviewCreatedAt,omitempty"`
	LatestReviewComment   string          `json:"latestReviewComment,omitempty"`
	AccountNumber         string          `json:"paymentAccountNumber,omitempty"`
	CardNumber            string          `json:"cardCardNumber,omitempty"`
}

// CompleteReceipt is a receipt with its attachments rehydrated from storage.
// Each attachment is "<legacy mime token>.<base64 data>".
type CompleteReceipt struct {
	ReceiptInfo
	Attachments []string `json:"attachments"`
}

// ReceiptPage is one page of a receipt listing
type ReceiptPage struct {
	Receipts []*ReceiptInfo `json:"receipts"`
	Total    int            `json:"total"`
}
