package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Supported MIME types after normalization
const (
	MimeJPEG = "image/jpeg"
	MimeJPG  = "image/jpg"
	MimePNG  = "image/png"
	MimePDF  = "application/pdf"
)

// MaxFileSize is the largest attachment accepted after image processing
const MaxFileSize = 5 * 1024 * 1024

var (
	ErrMalformedAttachment = errors.New("malformed attachment")
	ErrUnsupportedMimeType = errors.New("unsupported mime type")
	ErrInvalidEncoding     = errors.New("invalid attachment encoding")
	ErrImageProcessing     = errors.New("image processing failed")
	ErrFileTooLarge        = errors.New("file too large")
)

var allowedMimeTypes = map[string]bool{
	MimeJPEG: true,
	MimeJPG:  true,
	MimePNG:  true,
	MimePDF:  true,
}

// Decoded is an attachment payload after parsing and processing
type Decoded struct {
	MimeType string
	Data     []byte
}

// Decode parses an inbound attachment payload and returns its MIME type and bytes.
//
// Two encodings are accepted:
//   - data URL: "data:image/png;base64,iVBORw0KGgo..."
//   - legacy: "image:png.iVBORw0KGgo..." (MIME token, first dot, base64 data)
//
// Images are shrunk to fit within 1000x800 in their original format. PDFs pass
// through unchanged.
func Decode(payload string) (*Decoded, error) {
	rawMime, data, err := split(payload)
	if err != nil {
		return nil, err
	}

	mimeType := NormalizeMimeType(rawMime)
	if !allowedMimeTypes[mimeType] {
		return nil, fmt.Errorf("%w: %q (allowed: JPEG, PNG, PDF)", ErrUnsupportedMimeType, mimeType)
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}

	if strings.HasPrefix(mimeType, "image/") {
		raw, err = resizeImage(raw, mimeType)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrImageProcessing, err)
		}
	}

	if len(raw) > MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, len(raw), MaxFileSize)
	}

	return &Decoded{MimeType: mimeType, Data: raw}, nil
}

// split separates the MIME token from the base64 data
func split(payload string) (string, string, error) {
	if strings.HasPrefix(payload, "data:") && strings.Contains(payload, ";base64,") {
		rest := strings.TrimPrefix(payload, "data:")
		mimeType, _, _ := strings.Cut(rest, ";base64")
		_, data, _ := strings.Cut(payload, "base64,")
		return mimeType, data, nil
	}

	if mimeType, data, ok := strings.Cut(payload, "."); ok {
		return mimeType, data, nil
	}

	return "", "", ErrMalformedAttachment
}

// NormalizeMimeType turns legacy tokens like "image:png", "image.png" or
// "application-pdf" into their slash form.
func NormalizeMimeType(raw string) string {
	replacer := strings.NewReplacer(".", "/", "-", "/", ":", "/")
	return strings.ToLower(replacer.Replace(raw))
}
