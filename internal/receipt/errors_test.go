package receipt

import (
	"errors"
	"fmt"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/autobank/receipt-backend/internal/attachment"
)

var _ = Describe("error codes", func() {
	DescribeTable("classifying errors",
		func(err error, code Code, status int, fixable bool) {
			Expect(CodeOf(err)).To(Equal(code))
			Expect(CodeOf(err).Status()).To(Equal(status))
			Expect(CodeOf(err).ClientFixable()).To(Equal(fixable))
		},
		Entry("unauthenticated", ErrUnauthenticated, CodeUnauthenticated, http.StatusUnauthorized, true),
		Entry("payment", ErrInvalidPaymentMethod, CodeInvalidPaymentMethod, http.StatusBadRequest, true),
		Entry("wrapped committee", fmt.Errorf("%w: 9", ErrCommitteeNotFound), CodeCommitteeNotFound, http.StatusBadRequest, true),
		Entry("attachment", fmt.Errorf("attachment 2: %w", attachment.ErrMalformedAttachment), CodeMalformedAttachment, http.StatusBadRequest, true),
		Entry("mime type", attachment.ErrUnsupportedMimeType, CodeUnsupportedMimeType, http.StatusUnsupportedMediaType, true),
		Entry("too large", attachment.ErrFileTooLarge, CodeFileTooLarge, http.StatusRequestEntityTooLarge, true),
		Entry("storage", fmt.Errorf("%w: upload: %w", ErrStorage, errors.New("503")), CodeStorage, http.StatusBadGateway, false),
		Entry("delivery", ErrDelivery, CodeDelivery, http.StatusBadGateway, false),
		Entry("not found", ErrNotFound, CodeNotFound, http.StatusNotFound, true),
		Entry("anything else", errors.New("boom"), CodeInternal, http.StatusInternalServerError, false),
	)
})
