package receipt

import (
	"fmt"
	"strings"

	"github.com/autobank/receipt-backend/internal/attachment"
	"github.com/autobank/receipt-backend/internal/mailer"
)

const (
	receiptEmailSubject = "Receipt Submission Details"
	noAccountNumber     = "Ikke oppgitt"
)

type receiptEmailData struct {
	UserFullname  string
	UserEmail     string
	ReceiptID     string
	Amount        string
	CommitteeName string
	Name          string
	Description   string
	PaymentMethod string
	AccountNumber string
}

// storedFile is an attachment kept in memory between upload and email
type storedFile struct {
	key  string
	data []byte
}

// composeReceiptEmail renders the submission summary sent to the member
func composeReceiptEmail(user *Identity, receipt *Receipt, committee *Committee, files []storedFile) (mailer.Message, error) {
	data := receiptEmailData{
		UserFullname:  user.FullName,
		UserEmail:     user.Email,
		ReceiptID:     receipt.ID,
		Amount:        receipt.Amount.StringFixed(2),
		CommitteeName: committee.Name,
		Name:          receipt.Name,
		Description:   receipt.Description,
		PaymentMethod: "Bankoverføring",
		AccountNumber: receipt.AccountNumber,
	}
	if receipt.CardNumber != "" {
		data.PaymentMethod = "Online-kort"
	}
	if data.AccountNumber == "" {
		data.AccountNumber = noAccountNumber
	}

	var body strings.Builder
	if err := receiptEmailTemplate.Execute(&body, data); err != nil {
		return mailer.Message{}, fmt.Errorf("rendering receipt email: %w", err)
	}

	attachments := make([]mailer.Attachment, 0, len(files))
	for _, f := range files {
		attachments = append(attachments, mailer.Attachment{
			Filename: f.key,
			MimeType: attachment.MimeTypeFromKey(f.key),
			Data:     f.data,
		})
	}

	return mailer.Message{
		To:          user.Email,
		Subject:     receiptEmailSubject,
		HTMLBody:    body.String(),
		Attachments: attachments,
	}, nil
}

// financeCopy readdresses msg to the finance inbox
func financeCopy(msg mailer.Message, to string, user *Identity, receipt *Receipt) mailer.Message {
	msg.To = to
	msg.Subject = fmt.Sprintf("Kvittering: %s - %s", user.FullName, receipt.Name)
	return msg
}
