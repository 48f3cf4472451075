package receipt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	receiptBucketName    = "receipts"
	attachmentBucketName = "attachments"
	committeeBucketName  = "committees"
	userBucketName       = "users"
	reviewBucketName     = "reviews"
)

var bucketNames = []string{
	receiptBucketName,
	attachmentBucketName,
	committeeBucketName,
	userBucketName,
	reviewBucketName,
}

// DB defines the interface for database operations.
// Every write is its own transaction.
type DB interface {
	// SaveReceipt saves a receipt to the database
	SaveReceipt(receipt *Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// DeleteReceipt removes a receipt together with its attachment and review rows
	DeleteReceipt(id string) error

	// SaveAttachment saves an attachment row for an existing receipt
	SaveAttachment(attachment *Attachment) error

	// ListAttachments returns the attachments of a receipt
	ListAttachments(receiptID string) ([]*Attachment, error)

	SaveCommittee(committee *Committee) error
	GetCommittee(id string) (*Committee, error)
	ListCommittees() ([]*Committee, error)

	SaveUser(user *User) error
	GetUser(id string) (*User, error)

	// SaveReview records a review decision for an existing receipt
	SaveReview(review *Review) error

	// GetReceiptInfo returns the read model of one receipt
	GetReceiptInfo(id string) (*ReceiptInfo, error)

	// QueryReceiptInfos returns a filtered, sorted page of a user's receipts
	QueryReceiptInfos(query ListQuery) (*ReceiptPage, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range bucketNames {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// childKey nests a row under its receipt so a prefix scan finds all of them
func childKey(receiptID, id string) []byte {
	return []byte(receiptID + "/" + id)
}

func forEachChild(bucket *bbolt.Bucket, receiptID string, fn func(v []byte) error) error {
	prefix := []byte(receiptID + "/")
	c := bucket.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

func deleteChildren(bucket *bbolt.Bucket, receiptID string) error {
	prefix := []byte(receiptID + "/")
	var keys [][]byte
	c := bucket.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := bucket.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func put(bucket *bbolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	return bucket.Put(key, data)
}

func get(tx *bbolt.Tx, bucketName, kind, id string, v any) error {
	data := tx.Bucket([]byte(bucketName)).Get([]byte(id))
	if data == nil {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshaling %s: %w", kind, err)
	}
	return nil
}

// SaveReceipt saves a receipt to the database
func (b *BoltDB) SaveReceipt(receipt *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket([]byte(receiptBucketName)), []byte(receipt.ID), receipt)
	})
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		return get(tx, receiptBucketName, "receipt", id, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// DeleteReceipt removes a receipt and every row that belongs to it
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := deleteChildren(tx.Bucket([]byte(attachmentBucketName)), id); err != nil {
			return fmt.Errorf("deleting attachments: %w", err)
		}
		if err := deleteChildren(tx.Bucket([]byte(reviewBucketName)), id); err != nil {
			return fmt.Errorf("deleting reviews: %w", err)
		}
		return tx.Bucket([]byte(receiptBucketName)).Delete([]byte(id))
	})
}

// SaveAttachment saves an attachment. The receipt must exist.
func (b *BoltDB) SaveAttachment(attachment *Attachment) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(receiptBucketName)).Get([]byte(attachment.ReceiptID)) == nil {
			return fmt.Errorf("receipt %s: %w", attachment.ReceiptID, ErrNotFound)
		}
		bucket := tx.Bucket([]byte(attachmentBucketName))
		return put(bucket, childKey(attachment.ReceiptID, attachment.ID), attachment)
	})
}

// ListAttachments returns the attachments of a receipt in submission order
func (b *BoltDB) ListAttachments(receiptID string) ([]*Attachment, error) {
	attachments := make([]*Attachment, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return forEachChild(tx.Bucket([]byte(attachmentBucketName)), receiptID, func(v []byte) error {
			var a Attachment
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("unmarshaling attachment: %w", err)
			}
			attachments = append(attachments, &a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(attachments, func(i, j int) bool {
		return attachments[i].Position < attachments[j].Position
	})
	return attachments, nil
}

// SaveCommittee saves or replaces a committee
func (b *BoltDB) SaveCommittee(committee *Committee) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket([]byte(committeeBucketName)), []byte(committee.ID), committee)
	})
}

// GetCommittee retrieves a committee by ID
func (b *BoltDB) GetCommittee(id string) (*Committee, error) {
	var committee Committee
	err := b.db.View(func(tx *bbolt.Tx) error {
		return get(tx, committeeBucketName, "committee", id, &committee)
	})
	if err != nil {
		return nil, err
	}
	return &committee, nil
}

// ListCommittees returns all committees
func (b *BoltDB) ListCommittees() ([]*Committee, error) {
	committees := make([]*Committee, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(committeeBucketName)).ForEach(func(k, v []byte) error {
			var committee Committee
			if err := json.Unmarshal(v, &committee); err != nil {
				return fmt.Errorf("unmarshaling committee: %w", err)
			}
			committees = append(committees, &committee)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return committees, nil
}

// SaveUser saves or replaces a user
func (b *BoltDB) SaveUser(user *User) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket([]byte(userBucketName)), []byte(user.ID), user)
	})
}

// GetUser retrieves a user by ID
func (b *BoltDB) GetUser(id string) (*User, error) {
	var user User
	err := b.db.View(func(tx *bbolt.Tx) error {
		return get(tx, userBucketName, "user", id, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SaveReview saves a review. The receipt must exist.
func (b *BoltDB) SaveReview(review *Review) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(receiptBucketName)).Get([]byte(review.ReceiptID)) == nil {
			return fmt.Errorf("receipt %s: %w", review.ReceiptID, ErrNotFound)
		}
		return put(tx.Bucket([]byte(reviewBucketName)), childKey(review.ReceiptID, review.ID), review)
	})
}

// GetReceiptInfo builds the read model of one receipt
func (b *BoltDB) GetReceiptInfo(id string) (*ReceiptInfo, error) {
	var info *ReceiptInfo
	err := b.db.View(func(tx *bbolt.Tx) error {
		var receipt Receipt
		if err := get(tx, receiptBucketName, "receipt", id, &receipt); err != nil {
			return err
		}
		var err error
		info, err = buildInfo(tx, &receipt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// QueryReceiptInfos scans the user's receipts and applies the query
func (b *BoltDB) QueryReceiptInfos(query ListQuery) (*ReceiptPage, error) {
	infos := make([]*ReceiptInfo, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(receiptBucketName)).ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			if receipt.UserID != query.UserID {
				return nil
			}
			info, err := buildInfo(tx, &receipt)
			if err != nil {
				return err
			}
			infos = append(infos, info)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return query.Apply(infos), nil
}

// buildInfo joins a receipt with its committee, user, attachments and reviews
func buildInfo(tx *bbolt.Tx, receipt *Receipt) (*ReceiptInfo, error) {
	info := &ReceiptInfo{
		ReceiptID:          receipt.ID,
		UserID:             receipt.UserID,
		Amount:             receipt.Amount,
		ReceiptName:        receipt.Name,
		ReceiptDescription: receipt.Description,
		ReceiptCreatedAt:   receipt.CreatedAt,
		PaymentOrCard:      receipt.PaymentKind(),
		LatestReviewStatus: ReviewNone,
		AccountNumber:      receipt.AccountNumber,
		CardNumber:         receipt.CardNumber,
	}

	var committee Committee
	if err := get(tx, committeeBucketName, "committee", receipt.CommitteeID, &committee); err == nil {
		info.CommitteeName = committee.Name
	}

	var user User
	if err := get(tx, userBucketName, "user", receipt.UserID, &user); err == nil {
		info.UserFullname = user.FullName
	}

	err := forEachChild(tx.Bucket([]byte(attachmentBucketName)), receipt.ID, func([]byte) error {
		info.AttachmentCount++
		return nil
	})
	if err != nil {
		return nil, err
	}

	var latest *Review
	err = forEachChild(tx.Bucket([]byte(reviewBucketName)), receipt.ID, func(v []byte) error {
		var review Review
		if err := json.Unmarshal(v, &review); err != nil {
			return fmt.Errorf("unmarshaling review: %w", err)
		}
		if latest == nil || review.CreatedAt.After(latest.CreatedAt) {
			latest = &review
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if latest != nil {
		createdAt := latest.CreatedAt
		info.LatestReviewStatus = latest.Status
		info.LatestReviewCreatedAt = &createdAt
		info.LatestReviewComment = latest.Comment
	}

	return info, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
