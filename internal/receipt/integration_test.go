package receipt_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/autobank/receipt-backend/internal/mailer"
	"github.com/autobank/receipt-backend/internal/receipt"
)

var _ = Describe("Integration", func() {
	const secret = "integration-secret"

	var (
		tempDir     string
		storagePath string
		db          *receipt.BoltDB
		mailServer  *ghttp.Server
		registry    *prometheus.Registry
		policy      receipt.NotificationPolicy
		appServer   *httptest.Server
		token       string
	)

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
		storagePath = filepath.Join(tempDir, "attachments")
		policy = receipt.NotifyBestEffort

		var err error
		db, err = receipt.NewBoltDB(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(db.Close)

		mailServer = ghttp.NewServer()
		DeferCleanup(mailServer.Close)

		registry = prometheus.NewRegistry()

		token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":   "auth0|7",
			"email": "per@example.org",
			"name":  "Per Hansen",
			"exp":   time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(secret))
		Expect(err).NotTo(HaveOccurred())
	})

	JustBeforeEach(func() {
		store, err := receipt.NewLocalStorage(storagePath)
		Expect(err).NotTo(HaveOccurred())

		notifier, err := mailer.NewZeptoMail(mailServer.URL()+"/v1.1/email", "Zoho-enczapikey test", "noreply@example.org", "Autobank")
		Expect(err).NotTo(HaveOccurred())

		metrics, err := receipt.NewMetrics(registry)
		Expect(err).NotTo(HaveOccurred())

		service := receipt.NewService(db, store, notifier, receipt.Options{
			NotificationPolicy: policy,
			FinanceAddress:     "finance@example.org",
			Metrics:            metrics,
		})
		Expect(service.SeedCommittees([]*receipt.Committee{{ID: "3", Name: "Bedkom"}})).To(Succeed())

		verifier, err := receipt.NewJWTVerifier(secret, "", "")
		Expect(err).NotTo(HaveOccurred())

		server := receipt.NewServer(service, receipt.ServerConfig{Verifier: verifier})
		appServer = httptest.NewServer(server.Handler())
		DeferCleanup(appServer.Close)
	})

	call := func(method, path, body string) (*http.Response, []byte) {
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}
		req, err := http.NewRequest(method, appServer.URL+path, reader)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp, data
	}

	submission := func() string {
		img := image.NewRGBA(image.Rect(0, 0, 1600, 1200))
		var buf bytes.Buffer
		Expect(jpeg.Encode(&buf, img, nil)).To(Succeed())
		payload := map[string]any{
			"receipt": map[string]any{
				"amount":       "349.00",
				"committee_id": "3",
				"name":         "Bedpres-mat",
				"description":  "Pizza til bedriftspresentasjon",
			},
			"receiptPaymentInformation": map[string]any{"cardnumber": "5555"},
			"attachments": []string{
				"image-jpeg." + base64.StdEncoding.EncodeToString(buf.Bytes()),
				"data:application/pdf;base64," + base64.StdEncoding.EncodeToString([]byte("%PDF-1.7 faktura")),
			},
		}
		data, err := json.Marshal(payload)
		Expect(err).NotTo(HaveOccurred())
		return string(data)
	}

	storedFiles := func() []string {
		entries, err := os.ReadDir(storagePath)
		Expect(err).NotTo(HaveOccurred())
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return names
	}

	When("the mail service accepts the message", func() {
		BeforeEach(func() {
			mailServer.AppendHandlers(
				ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", "/v1.1/email"),
					ghttp.VerifyHeaderKV("Authorization", "Zoho-enczapikey test"),
					ghttp.RespondWith(http.StatusCreated, `{"data":[{"code":"EM_104"}]}`),
				),
				ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", "/v1.1/email"),
					ghttp.RespondWith(http.StatusCreated, `{}`),
				),
			)
		})

		It("stores, lists and returns the receipt", func() {
			resp, body := call("POST", "/api/receipts", submission())
			Expect(resp.StatusCode).To(Equal(http.StatusCreated), string(body))

			var created receipt.CreateReceiptResult
			Expect(json.Unmarshal(body, &created)).To(Succeed())
			Expect(created.NotificationSent).To(BeTrue())

			By("writing both attachments to disk")
			files := storedFiles()
			Expect(files).To(HaveLen(2))
			Expect(files).To(ContainElement(HaveSuffix(".image:jpeg.jpg")))
			Expect(files).To(ContainElement(HaveSuffix(".application:pdf.pdf")))

			By("emailing the member and finance")
			Expect(mailServer.ReceivedRequests()).To(HaveLen(2))

			By("listing the receipt")
			resp, body = call("GET", "/api/receipts", "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var page receipt.ReceiptPage
			Expect(json.Unmarshal(body, &page)).To(Succeed())
			Expect(page.Total).To(Equal(1))
			Expect(page.Receipts[0].CommitteeName).To(Equal("Bedkom"))
			Expect(page.Receipts[0].UserFullname).To(Equal("Per Hansen"))
			Expect(page.Receipts[0].PaymentOrCard).To(Equal("Card"))
			Expect(page.Receipts[0].AttachmentCount).To(Equal(2))

			By("returning the attachments, with the image resized")
			resp, body = call("GET", "/api/receipts/"+created.ReceiptID, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var complete receipt.CompleteReceipt
			Expect(json.Unmarshal(body, &complete)).To(Succeed())
			Expect(complete.Attachments).To(HaveLen(2))

			mimeToken, data, ok := strings.Cut(complete.Attachments[0], ".")
			Expect(ok).To(BeTrue())
			Expect(mimeToken).To(Equal("image:jpeg"))
			raw, err := base64.StdEncoding.DecodeString(data)
			Expect(err).NotTo(HaveOccurred())
			cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Width).To(Equal(1000))
			Expect(cfg.Height).To(Equal(750))

			Expect(strings.HasPrefix(complete.Attachments[1], "application:pdf.")).To(BeTrue())

			By("counting the receipt")
			Expect(testutil.GatherAndCompare(registry, strings.NewReader(`
# HELP autobank_receipts_created_total Receipts persisted with all attachments.
# TYPE autobank_receipts_created_total counter
autobank_receipts_created_total 1
`), "autobank_receipts_created_total")).To(Succeed())
		})
	})

	When("the mail service is down", func() {
		BeforeEach(func() {
			mailServer.SetAllowUnhandledRequests(true)
			mailServer.SetUnhandledRequestStatusCode(http.StatusServiceUnavailable)
		})

		Context("and email is best effort", func() {
			It("keeps the receipt and reports the missing email", func() {
				resp, body := call("POST", "/api/receipts", submission())
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var created receipt.CreateReceiptResult
				Expect(json.Unmarshal(body, &created)).To(Succeed())
				Expect(created.NotificationSent).To(BeFalse())
				Expect(storedFiles()).To(HaveLen(2))
			})
		})

		Context("and email is required", func() {
			BeforeEach(func() {
				policy = receipt.NotifyRequired
			})

			It("undoes the submission", func() {
				resp, body := call("POST", "/api/receipts", submission())
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(string(body)).To(ContainSubstring(`"code":"DELIVERY_ERROR"`))

				Expect(storedFiles()).To(BeEmpty())

				resp, body = call("GET", "/api/receipts", "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var page receipt.ReceiptPage
				Expect(json.Unmarshal(body, &page)).To(Succeed())
				Expect(page.Total).To(Equal(0))
			})
		})
	})
})
