package receipt

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
		now    time.Time
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		now = time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	newReceipt := func(id string) *Receipt {
		return &Receipt{
			ID:            id,
			Amount:        decimal.RequireFromString("199.90"),
			CommitteeID:   "c1",
			Name:          "Kaffe",
			Description:   "Til kontoret",
			UserID:        "u1",
			AccountNumber: "1234.56.78903",
			CreatedAt:     now,
		}
	}

	Describe("SaveReceipt", func() {
		var (
			receipt *Receipt
			err     error
		)

		BeforeEach(func() {
			receipt = newReceipt("test-id")
		})

		JustBeforeEach(func() {
			err = db.SaveReceipt(receipt)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should persist the receipt", func() {
				saved, getErr := db.GetReceipt("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Name).To(Equal("Kaffe"))
				Expect(saved.Amount.Equal(decimal.RequireFromString("199.9"))).To(BeTrue())
				Expect(saved.CreatedAt).To(BeTemporally("==", now))
			})
		})

		When("the receipt already exists", func() {
			BeforeEach(func() {
				Expect(db.SaveReceipt(newReceipt("test-id"))).To(Succeed())
				receipt.Name = "Oppdatert"
			})

			It("should replace it", func() {
				saved, _ := db.GetReceipt("test-id")
				Expect(saved.Name).To(Equal("Oppdatert"))
			})
		})
	})

	Describe("GetReceipt", func() {
		When("the receipt does not exist", func() {
			It("returns ErrNotFound", func() {
				_, err := db.GetReceipt("nope")
				Expect(err).To(MatchError(ErrNotFound))
				Expect(err.Error()).To(Equal("receipt nope: not found"))
			})
		})
	})

	Describe("attachments", func() {
		BeforeEach(func() {
			Expect(db.SaveReceipt(newReceipt("r1"))).To(Succeed())
			Expect(db.SaveReceipt(newReceipt("r10"))).To(Succeed())
		})

		It("lists attachments by position", func() {
			Expect(db.SaveAttachment(&Attachment{ID: "z", ReceiptID: "r1", Name: "second", Position: 1})).To(Succeed())
			Expect(db.SaveAttachment(&Attachment{ID: "a", ReceiptID: "r1", Name: "first", Position: 0})).To(Succeed())

			attachments, err := db.ListAttachments("r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(attachments).To(HaveLen(2))
			Expect(attachments[0].Name).To(Equal("first"))
			Expect(attachments[1].Name).To(Equal("second"))
		})

		It("does not mix up receipts whose IDs share a prefix", func() {
			Expect(db.SaveAttachment(&Attachment{ID: "a", ReceiptID: "r10", Name: "other"})).To(Succeed())

			attachments, err := db.ListAttachments("r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(attachments).To(BeEmpty())
		})

		It("refuses attachments for unknown receipts", func() {
			err := db.SaveAttachment(&Attachment{ID: "a", ReceiptID: "ghost"})
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("DeleteReceipt", func() {
		BeforeEach(func() {
			Expect(db.SaveReceipt(newReceipt("r1"))).To(Succeed())
			Expect(db.SaveReceipt(newReceipt("r10"))).To(Succeed())
			Expect(db.SaveAttachment(&Attachment{ID: "a", ReceiptID: "r1", Name: "k1"})).To(Succeed())
			Expect(db.SaveAttachment(&Attachment{ID: "b", ReceiptID: "r10", Name: "k2"})).To(Succeed())
			Expect(db.SaveReview(&Review{ID: "v", ReceiptID: "r1", Status: ReviewApproved, CreatedAt: now})).To(Succeed())
			Expect(db.DeleteReceipt("r1")).To(Succeed())
		})

		It("removes the receipt", func() {
			_, err := db.GetReceipt("r1")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("removes its attachment rows", func() {
			attachments, err := db.ListAttachments("r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(attachments).To(BeEmpty())
		})

		It("leaves other receipts alone", func() {
			attachments, err := db.ListAttachments("r10")
			Expect(err).NotTo(HaveOccurred())
			Expect(attachments).To(HaveLen(1))
		})

		It("is a no-op for a missing receipt", func() {
			Expect(db.DeleteReceipt("r1")).To(Succeed())
		})
	})

	Describe("committees and users", func() {
		It("round-trips committees", func() {
			Expect(db.SaveCommittee(&Committee{ID: "c1", Name: "Styret"})).To(Succeed())
			Expect(db.SaveCommittee(&Committee{ID: "c2", Name: "Arrkom"})).To(Succeed())

			c, err := db.GetCommittee("c2")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Name).To(Equal("Arrkom"))

			all, err := db.ListCommittees()
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))
		})

		It("returns ErrNotFound for unknown committees", func() {
			_, err := db.GetCommittee("missing")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("upserts users", func() {
			Expect(db.SaveUser(&User{ID: "u1", FullName: "Old"})).To(Succeed())
			Expect(db.SaveUser(&User{ID: "u1", FullName: "New"})).To(Succeed())
			u, err := db.GetUser("u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(u.FullName).To(Equal("New"))
		})
	})

	Describe("GetReceiptInfo", func() {
		var (
			info *ReceiptInfo
			err  error
		)

		BeforeEach(func() {
			Expect(db.SaveCommittee(&Committee{ID: "c1", Name: "Styret"})).To(Succeed())
			Expect(db.SaveUser(&User{ID: "u1", FullName: "Kari Nordmann"})).To(Succeed())
			Expect(db.SaveReceipt(newReceipt("r1"))).To(Succeed())
			Expect(db.SaveAttachment(&Attachment{ID: "a", ReceiptID: "r1", Name: "k1"})).To(Succeed())
			Expect(db.SaveAttachment(&Attachment{ID: "b", ReceiptID: "r1", Name: "k2", Position: 1})).To(Succeed())
		})

		JustBeforeEach(func() {
			info, err = db.GetReceiptInfo("r1")
		})

		It("joins the committee, user and attachment count", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(info.CommitteeName).To(Equal("Styret"))
			Expect(info.UserFullname).To(Equal("Kari Nordmann"))
			Expect(info.AttachmentCount).To(Equal(2))
			Expect(info.PaymentOrCard).To(Equal("Payment"))
			Expect(info.AccountNumber).To(Equal("1234.56.78903"))
		})

		When("there are no reviews", func() {
			It("reports status NONE", func() {
				Expect(info.LatestReviewStatus).To(Equal(ReviewNone))
				Expect(info.LatestReviewCreatedAt).To(BeNil())
			})
		})

		When("there are several reviews", func() {
			BeforeEach(func() {
				Expect(db.SaveReview(&Review{ID: "v1", ReceiptID: "r1", Status: ReviewDenied, Comment: "mangler kvittering", CreatedAt: now})).To(Succeed())
				Expect(db.SaveReview(&Review{ID: "v2", ReceiptID: "r1", Status: ReviewApproved, Comment: "ok", CreatedAt: now.Add(time.Hour)})).To(Succeed())
			})

			It("reports the latest one", func() {
				Expect(info.LatestReviewStatus).To(Equal(ReviewApproved))
				Expect(info.LatestReviewComment).To(Equal("ok"))
				Expect(*info.LatestReviewCreatedAt).To(BeTemporally("==", now.Add(time.Hour)))
			})
		})
	})

	Describe("QueryReceiptInfos", func() {
		BeforeEach(func() {
			for _, id := range []string{"a", "b", "c"} {
				Expect(db.SaveReceipt(newReceipt(id))).To(Succeed())
			}
			other := newReceipt("d")
			other.UserID = "u2"
			Expect(db.SaveReceipt(other)).To(Succeed())
		})

		It("only returns the user's receipts", func() {
			page, err := db.QueryReceiptInfos(ListQuery{UserID: "u1", Size: 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Total).To(Equal(3))
			Expect(page.Receipts).To(HaveLen(2))
		})
	})

	Describe("NewBoltDB", func() {
		When("the path cannot be opened", func() {
			It("returns an error", func() {
				_, err := NewBoltDB(filepath.Join(tmpDir, "missing", "dir", "test.db"))
				Expect(err).To(MatchError(ContainSubstring("opening boltdb")))
			})
		})
	})
})
