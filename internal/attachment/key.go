package attachment

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// StorageKey builds the object name for an attachment.
//
// The format is "<id>.<mime with / replaced by :>.<ext>", for example
// "550e8400-e29b-41d4-a716-446655440000.image:png.png". Older front-ends read
// the middle segment to recover the content type, so the layout must not change.
func StorageKey(id, mimeType string) string {
	return fmt.Sprintf("%s.%s.%s", id, strings.ReplaceAll(mimeType, "/", ":"), Extension(mimeType))
}

// Extension returns the file extension used for a MIME type
func Extension(mimeType string) string {
	switch mimeType {
	case MimeJPEG, MimeJPG:
		return "jpg"
	case MimePNG:
		return "png"
	case MimePDF:
		return "pdf"
	default:
		return "bin"
	}
}

// LegacyToken returns the colon-separated MIME segment of a storage key
func LegacyToken(key string) (string, error) {
	parts := strings.Split(key, ".")
	if len(parts) < 3 || parts[1] == "" {
		return "", fmt.Errorf("%w: storage key %q", ErrMalformedAttachment, key)
	}
	return parts[1], nil
}

// MimeTypeFromKey recovers the MIME type encoded in a storage key
func MimeTypeFromKey(key string) string {
	token, err := LegacyToken(key)
	if err != nil {
		return "application/octet-stream"
	}
	return NormalizeMimeType(token)
}

// Encode renders stored bytes in the legacy payload form, "<token>.<base64>"
func Encode(key string, data []byte) (string, error) {
	token, err := LegacyToken(key)
	if err != nil {
		return "", err
	}
	return token + "." + base64.StdEncoding.EncodeToString(data), nil
}
