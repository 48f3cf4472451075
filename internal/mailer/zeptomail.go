package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultZeptoMailURL is the ZeptoMail send endpoint
const DefaultZeptoMailURL = "https://api.zeptomail.eu/v1.1/email"

// ZeptoMail sends email through the ZeptoMail HTTP API
type ZeptoMail struct {
	apiURL   string
	apiKey   string
	from     string
	fromName string
	client   *http.Client
}

// NewZeptoMail creates a new ZeptoMail notifier
func NewZeptoMail(apiURL, apiKey, from, fromName string) (*ZeptoMail, error) {
	if apiKey == "" || from == "" {
		return nil, fmt.Errorf("zeptomail api key and from address are required")
	}
	if apiURL == "" {
		apiURL = DefaultZeptoMailURL
	}

	return &ZeptoMail{
		apiURL:   apiURL,
		apiKey:   apiKey,
		from:     from,
		fromName: fromName,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

type zeptoRequest struct {
	From        zeptoAddress      `json:"from"`
	To          []zeptoRecipient  `json:"to"`
	Subject     string            `json:"subject"`
	HTMLBody    string            `json:"htmlbody"`
	Attachments []zeptoAttachment `json:"attachments,omitempty"`
}

type zeptoAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type zeptoRecipient struct {
	Email zeptoAddress `json:"email_address"`
}

type zeptoAttachment struct {
	Content  string `json:"content"`
	MimeType string `json:"mime_type"`
	Name     string `json:"name"`
}

// Send delivers msg, returning an error for transport failures and non-2xx responses
func (z *ZeptoMail) Send(ctx context.Context, msg Message) error {
	payload := zeptoRequest{
		From:     zeptoAddress{Address: z.from, Name: z.fromName},
		To:       []zeptoRecipient{{Email: zeptoAddress{Address: msg.To}}},
		Subject:  msg.Subject,
		HTMLBody: msg.HTMLBody,
	}
	for _, a := range msg.Attachments {
		mimeType := a.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		payload.Attachments = append(payload.Attachments, zeptoAttachment{
			Content:  base64.StdEncoding.EncodeToString(a.Data),
			MimeType: mimeType,
			Name:     a.Filename,
		})
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", z.apiKey)

	resp, err := z.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling zeptomail API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("zeptomail API error (status %d): %s", resp.StatusCode, string(body))
	}

	slog.Info("Email sent", "to", msg.To, "attachments", len(msg.Attachments))
	return nil
}
