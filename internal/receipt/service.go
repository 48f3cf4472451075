package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/autobank/receipt-backend/internal/attachment"
	"github.com/autobank/receipt-backend/internal/mailer"
)

// IDGenerator generates unique IDs for receipts, attachments and storage keys
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// NotificationPolicy decides what a failed receipt email means for the submission
type NotificationPolicy int

const (
	// NotifyBestEffort keeps the receipt when the email fails and reports
	// NotificationSent=false
	NotifyBestEffort NotificationPolicy = iota

	// NotifyRequired undoes the submission when the email fails and returns
	// an error matching ErrDelivery
	NotifyRequired
)

func (p NotificationPolicy) String() string {
	if p == NotifyRequired {
		return "required"
	}
	return "best-effort"
}

// ParseNotificationPolicy reads "best-effort" or "required"
func ParseNotificationPolicy(s string) (NotificationPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "best-effort":
		return NotifyBestEffort, nil
	case "required":
		return NotifyRequired, nil
	}
	return NotifyBestEffort, fmt.Errorf("unknown notification policy %q", s)
}

// Options configures a Service
type Options struct {
	NotificationPolicy NotificationPolicy

	// FinanceAddress receives a copy of every receipt email when set
	FinanceAddress string

	Metrics *Metrics
}

// Service handles receipt operations
type Service struct {
	db          DB
	storage     Storage
	notifier    mailer.Notifier
	opts        Options
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, storage Storage, notifier mailer.Notifier, opts Options) *Service {
	return NewServiceWithDeps(db, storage, notifier, opts, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, notifier mailer.Notifier, opts Options, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		notifier:    notifier,
		opts:        opts,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// ReceiptFields are the descriptive fields of a submission
type ReceiptFields struct {
	Amount      *decimal.Decimal `json:"amount"`
	CommitteeID string           `json:"committee_id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
}

// PaymentInformation says how the expense was paid. Exactly one number must be set.
type PaymentInformation struct {
	CardNumber    string `json:"cardnumber"`
	AccountNumber string `json:"accountnumber"`
}

// CreateReceiptRequest is a receipt submission. Attachments are data URLs or
// legacy "<mime-token>.<base64>" strings.
type CreateReceiptRequest struct {
	Receipt     *ReceiptFields      `json:"receipt"`
	Payment     *PaymentInformation `json:"receiptPaymentInformation"`
	Attachments []string            `json:"attachments"`
}

// CreateReceiptResult acknowledges a stored submission
type CreateReceiptResult struct {
	ReceiptID        string `json:"receipt_id"`
	NotificationSent bool   `json:"notification_sent"`
}

func paymentNumbers(p *PaymentInformation) (card, account string) {
	if p == nil {
		return "", ""
	}
	return strings.TrimSpace(p.CardNumber), strings.TrimSpace(p.AccountNumber)
}

func (f *ReceiptFields) validate() error {
	var missing []string
	if f.Amount == nil || !f.Amount.IsPositive() {
		missing = append(missing, "positive amount")
	}
	if strings.TrimSpace(f.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(f.Description) == "" {
		missing = append(missing, "description")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrInvalidReceipt, strings.Join(missing, ", "))
	}
	return nil
}

func (s *Service) lookupCommittee(id string) (*Committee, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: committee id required", ErrInvalidReceipt)
	}
	committee, err := s.db.GetCommittee(id)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCommitteeNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting committee: %w", err)
	}
	return committee, nil
}

func (s *Service) touchUser(user *Identity) (*User, error) {
	u := &User{
		ID:       user.UserID,
		Email:    user.Email,
		FullName: user.FullName,
		LastSeen: s.timeSource.Now(),
	}
	if err := s.db.SaveUser(u); err != nil {
		return nil, fmt.Errorf("saving user: %w", err)
	}
	return u, nil
}

// CurrentUser records the authenticated member and returns the stored user
func (s *Service) CurrentUser(user *Identity) (*User, error) {
	if user == nil || user.UserID == "" {
		return nil, ErrUnauthenticated
	}
	return s.touchUser(user)
}

// CreateReceipt validates a submission, stores the receipt and its
// attachments, and emails a summary to the submitter.
//
// The receipt row is written first. If any later step fails, the rows and
// blobs written so far are removed again and the step's error is returned.
func (s *Service) CreateReceipt(ctx context.Context, user *Identity, req *CreateReceiptRequest) (result *CreateReceiptResult, err error) {
	defer func() {
		if err != nil {
			s.opts.Metrics.failed(err)
		}
	}()

	if user == nil || user.UserID == "" {
		return nil, ErrUnauthenticated
	}
	if req == nil || req.Receipt == nil {
		return nil, fmt.Errorf("%w: receipt not sent", ErrInvalidReceipt)
	}

	card, account := paymentNumbers(req.Payment)
	if (card == "") == (account == "") {
		return nil, ErrInvalidPaymentMethod
	}

	committee, err := s.lookupCommittee(req.Receipt.CommitteeID)
	if err != nil {
		return nil, err
	}
	if err := req.Receipt.validate(); err != nil {
		return nil, err
	}

	if _, err := s.touchUser(user); err != nil {
		return nil, err
	}

	receipt := &Receipt{
		ID:            s.idGenerator.Generate(),
		Amount:        *req.Receipt.Amount,
		CommitteeID:   committee.ID,
		Name:          strings.TrimSpace(req.Receipt.Name),
		Description:   strings.TrimSpace(req.Receipt.Description),
		UserID:        user.UserID,
		CardNumber:    card,
		AccountNumber: account,
		CreatedAt:     s.timeSource.Now(),
	}

	// Compensations must run even if the request was cancelled
	cleanupCtx := context.WithoutCancel(ctx)

	var tx saga
	err = tx.step("save receipt",
		func() error {
			if err := s.db.SaveReceipt(receipt); err != nil {
				return fmt.Errorf("saving receipt to database: %w", err)
			}
			return nil
		},
		func() error { return s.db.DeleteReceipt(receipt.ID) },
	)
	if err != nil {
		return nil, err
	}

	files, err := s.storeAttachments(ctx, cleanupCtx, &tx, receipt, req.Attachments)
	if err != nil {
		s.rollback(&tx, receipt, err)
		return nil, err
	}

	sent, err := s.notify(ctx, user, receipt, committee, files)
	if err != nil {
		s.rollback(&tx, receipt, err)
		return nil, err
	}

	s.opts.Metrics.created()
	slog.Info("Receipt created",
		"receipt_id", receipt.ID,
		"user_id", user.UserID,
		"committee", committee.Name,
		"attachments", len(files),
		"notification_sent", sent,
	)

	return &CreateReceiptResult{ReceiptID: receipt.ID, NotificationSent: sent}, nil
}

// storeAttachments decodes, uploads and records each payload in order
func (s *Service) storeAttachments(ctx, cleanupCtx context.Context, tx *saga, receipt *Receipt, payloads []string) ([]storedFile, error) {
	files := make([]storedFile, 0, len(payloads))
	for i, payload := range payloads {
		decoded, err := attachment.Decode(payload)
		if err != nil {
			return nil, fmt.Errorf("attachment %d: %w", i+1, err)
		}

		key := attachment.StorageKey(s.idGenerator.Generate(), decoded.MimeType)
		err = tx.step("upload "+key,
			func() error {
				if _, err := s.storage.Save(ctx, key, decoded.Data); err != nil {
					return fmt.Errorf("%w: uploading %s: %w", ErrStorage, key, err)
				}
				return nil
			},
			func() error { return s.storage.Delete(cleanupCtx, key) },
		)
		if err != nil {
			return nil, err
		}

		// The row goes away with the receipt, so it needs no compensation of its own
		err = tx.step("save attachment "+key,
			func() error {
				row := &Attachment{
					ID:        s.idGenerator.Generate(),
					ReceiptID: receipt.ID,
					Name:      key,
					Position:  i,
				}
				if err := s.db.SaveAttachment(row); err != nil {
					return fmt.Errorf("saving attachment to database: %w", err)
				}
				return nil
			},
			nil,
		)
		if err != nil {
			return nil, err
		}

		s.opts.Metrics.stored(len(decoded.Data))
		files = append(files, storedFile{key: key, data: decoded.Data})
	}
	return files, nil
}

// notify emails the submitter and, if configured, the finance inbox. Only the
// submitter's email is subject to the notification policy; the finance copy is
// sent after it and a failure there is logged and counted.
func (s *Service) notify(ctx context.Context, user *Identity, receipt *Receipt, committee *Committee, files []storedFile) (bool, error) {
	msg, err := composeReceiptEmail(user, receipt, committee, files)
	if err != nil {
		return false, err
	}

	sent := true
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.opts.Metrics.notificationFailed()
		if s.opts.NotificationPolicy == NotifyRequired {
			return false, fmt.Errorf("%w: sending to %s: %w", ErrDelivery, msg.To, err)
		}
		slog.Warn("Receipt email not delivered", "receipt_id", receipt.ID, "to", msg.To, "error", err)
		sent = false
	}

	if s.opts.FinanceAddress != "" {
		finance := financeCopy(msg, s.opts.FinanceAddress, user, receipt)
		if err := s.notifier.Send(ctx, finance); err != nil {
			s.opts.Metrics.notificationFailed()
			slog.Warn("Finance copy not delivered", "receipt_id", receipt.ID, "to", finance.To, "error", err)
		}
	}
	return sent, nil
}

func (s *Service) rollback(tx *saga, receipt *Receipt, cause error) {
	slog.Warn("Rolling back receipt", "receipt_id", receipt.ID, "error", cause)
	tx.rollback()
	s.opts.Metrics.rolledBack(tx.failed)
}

// ListReceipts returns a page of the caller's own receipts
func (s *Service) ListReceipts(user *Identity, query ListQuery) (*ReceiptPage, error) {
	if user == nil || user.UserID == "" {
		return nil, ErrUnauthenticated
	}
	if err := query.Validate(); err != nil {
		return nil, err
	}
	query.UserID = user.UserID

	page, err := s.db.QueryReceiptInfos(query)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return page, nil
}

// GetReceipt returns one of the caller's receipts with its attachments.
// Receipts that do not exist and receipts owned by someone else both yield
// ErrNotFound.
func (s *Service) GetReceipt(ctx context.Context, user *Identity, id string) (*CompleteReceipt, error) {
	if user == nil || user.UserID == "" {
		return nil, ErrUnauthenticated
	}

	info, err := s.db.GetReceiptInfo(id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	if info == nil || info.UserID != user.UserID {
		return nil, fmt.Errorf("receipt %s: %w", id, ErrNotFound)
	}

	attachments, err := s.db.ListAttachments(id)
	if err != nil {
		return nil, fmt.Errorf("listing attachments: %w", err)
	}

	files := make([]string, len(attachments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, a := range attachments {
		g.Go(func() error {
			data, err := s.storage.Get(gctx, a.Name)
			if err != nil {
				return fmt.Errorf("%w: downloading %s: %w", ErrStorage, a.Name, err)
			}
			encoded, err := attachment.Encode(a.Name, data)
			if err != nil {
				return err
			}
			files[i] = encoded
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &CompleteReceipt{ReceiptInfo: *info, Attachments: files}, nil
}

// ListCommittees returns all committees ordered by name
func (s *Service) ListCommittees() ([]*Committee, error) {
	committees, err := s.db.ListCommittees()
	if err != nil {
		return nil, fmt.Errorf("listing committees: %w", err)
	}
	sort.Slice(committees, func(i, j int) bool {
		return committees[i].Name < committees[j].Name
	})
	return committees, nil
}

// SeedCommittees saves committees, replacing existing ones with the same ID
func (s *Service) SeedCommittees(committees []*Committee) error {
	for _, c := range committees {
		if c.ID == "" || c.Name == "" {
			return fmt.Errorf("committee needs both id and name: %+v", *c)
		}
		if err := s.db.SaveCommittee(c); err != nil {
			return fmt.Errorf("saving committee %s: %w", c.ID, err)
		}
	}
	return nil
}
