package receipt

import (
	"errors"
	"net/http"

	"github.com/autobank/receipt-backend/internal/attachment"
)

var (
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrInvalidPaymentMethod = errors.New("exactly one of card number or account number must be provided")
	ErrCommitteeNotFound    = errors.New("committee not found")
	ErrInvalidReceipt       = errors.New("invalid receipt")
	ErrInvalidQuery         = errors.New("invalid query")
	ErrStorage              = errors.New("storage error")
	ErrDelivery             = errors.New("email delivery failed")

	// ErrNotFound covers both missing records and records owned by someone else
	ErrNotFound = errors.New("not found")
)

// Code identifies an error class for API consumers
type Code string

const (
	CodeUnauthenticated      Code = "UNAUTHENTICATED"
	CodeInvalidPaymentMethod Code = "INVALID_PAYMENT_METHOD"
	CodeCommitteeNotFound    Code = "COMMITTEE_NOT_FOUND"
	CodeInvalidReceipt       Code = "INVALID_RECEIPT"
	CodeInvalidQuery         Code = "INVALID_QUERY"
	CodeMalformedAttachment  Code = "MALFORMED_ATTACHMENT"
	CodeUnsupportedMimeType  Code = "UNSUPPORTED_MIME_TYPE"
	CodeInvalidEncoding      Code = "INVALID_ENCODING"
	CodeImageProcessing      Code = "IMAGE_PROCESSING_ERROR"
	CodeFileTooLarge         Code = "FILE_TOO_LARGE"
	CodeStorage              Code = "STORAGE_ERROR"
	CodeDelivery             Code = "DELIVERY_ERROR"
	CodeNotFound             Code = "NOT_FOUND"
	CodeInternal             Code = "INTERNAL"
)

var codes = []struct {
	err  error
	code Code
}{
	{ErrUnauthenticated, CodeUnauthenticated},
	{ErrInvalidPaymentMethod, CodeInvalidPaymentMethod},
	{ErrCommitteeNotFound, CodeCommitteeNotFound},
	{ErrInvalidReceipt, CodeInvalidReceipt},
	{ErrInvalidQuery, CodeInvalidQuery},
	{attachment.ErrMalformedAttachment, CodeMalformedAttachment},
	{attachment.ErrUnsupportedMimeType, CodeUnsupportedMimeType},
	{attachment.ErrInvalidEncoding, CodeInvalidEncoding},
	{attachment.ErrImageProcessing, CodeImageProcessing},
	{attachment.ErrFileTooLarge, CodeFileTooLarge},
	{ErrStorage, CodeStorage},
	{ErrDelivery, CodeDelivery},
	{ErrNotFound, CodeNotFound},
}

// CodeOf classifies err. Errors outside the taxonomy are CodeInternal.
func CodeOf(err error) Code {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// ClientFixable reports whether the caller can correct the request and retry
func (c Code) ClientFixable() bool {
	switch c {
	case CodeStorage, CodeDelivery, CodeInternal:
		return false
	}
	return true
}

// Status maps the code to an HTTP status
func (c Code) Status() int {
	switch c {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeUnsupportedMimeType:
		return http.StatusUnsupportedMediaType
	case CodeStorage, CodeDelivery:
		return http.StatusBadGateway
	case CodeInternal:
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}
