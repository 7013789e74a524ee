package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/billoapp/tabz-payments/internal"
	paymentpkg "github.com/billoapp/tabz-payments/internal/payment"
	"github.com/billoapp/tabz-payments/internal/transport"
)

type mockPaymentService struct {
	initiateError error
	retryError    error
	statusError   error
	response      *paymentpkg.InitiateResponse
	view          *paymentpkg.TransactionView

	initiateSourceIP string
	retryID          string
	statusID         string
}

func (m *mockPaymentService) Initiate(ctx context.Context, req *paymentpkg.InitiateRequest, sourceIP string) (*paymentpkg.InitiateResponse, error) {
	m.initiateSourceIP = sourceIP
	if m.initiateError != nil {
		return nil, m.initiateError
	}
	return m.response, nil
}

func (m *mockPaymentService) Retry(ctx context.Context, transactionID, sourceIP string) (*paymentpkg.InitiateResponse, error) {
	m.retryID = transactionID
	if m.retryError != nil {
		return nil, m.retryError
	}
	return m.response, nil
}

func (m *mockPaymentService) Status(ctx context.Context, transactionID string) (*paymentpkg.TransactionView, error) {
	m.statusID = transactionID
	if m.statusError != nil {
		return nil, m.statusError
	}
	return m.view, nil
}

var _ = Describe("Handler", func() {
	var (
		service *mockPaymentService
		router  *chi.Mux
	)

	BeforeEach(func() {
		service = &mockPaymentService{
			response: &paymentpkg.InitiateResponse{
				Success:           true,
				TransactionID:     "txn-1",
				CheckoutRequestID: "ws_CO_123",
				CustomerMessage:   "Success. Request accepted for processing",
			},
			view: &paymentpkg.TransactionView{
				ID:     "txn-1",
				TabID:  7,
				Amount: 1500,
				Status: "sent",
			},
		}

		lg := testLogger()
		handler := paymentpkg.NewHandler(transport.NewBaseHandler(lg), service, lg)

		router = chi.NewRouter()
		router.Post("/payments/initiate", handler.Initiate)
		router.Get("/payments/status/{transactionId}", handler.Status)
		router.Post("/payments/retry/{transactionId}", handler.Retry)
	})

	initiateBody := func() *bytes.Buffer {
		body, err := json.Marshal(map[string]interface{}{
			"tabId":       7,
			"phoneNumber": "254712345678",
			"amount":      1500,
		})
		Expect(err).NotTo(HaveOccurred())
		return bytes.NewBuffer(body)
	}

	Describe("Initiate", func() {
		It("should return the push response on success", func() {
			req := httptest.NewRequest(http.MethodPost, "/payments/initiate", initiateBody())
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var resp paymentpkg.InitiateResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Success).To(BeTrue())
			Expect(resp.TransactionID).To(Equal("txn-1"))
			Expect(resp.CheckoutRequestID).To(Equal("ws_CO_123"))
		})

		It("should pass the forwarded client address to the service", func() {
			req := httptest.NewRequest(http.MethodPost, "/payments/initiate", initiateBody())
			req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(service.initiateSourceIP).To(Equal("203.0.113.9"))
		})

		It("should return 400 for a malformed body", func() {
			req := httptest.NewRequest(http.MethodPost, "/payments/initiate", bytes.NewBufferString("{not json"))
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should map validation errors from the service to 400", func() {
			service.initiateError = apperrors.NewValidationFieldError("phone_number", "invalid phone number format", apperrors.ErrCodeInvalidPhone)

			req := httptest.NewRequest(http.MethodPost, "/payments/initiate", initiateBody())
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should map rate limiting to 429 with a Retry-After header", func() {
			service.initiateError = apperrors.NewRateLimitError("Too many payment attempts, try again shortly", 42)

			req := httptest.NewRequest(http.MethodPost, "/payments/initiate", initiateBody())
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusTooManyRequests))
			Expect(rec.Header().Get("Retry-After")).To(Equal("42"))
		})

		It("should hide unexpected errors behind a 500", func() {
			service.initiateError = context.DeadlineExceeded

			req := httptest.NewRequest(http.MethodPost, "/payments/initiate", initiateBody())
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(rec.Body.String()).NotTo(ContainSubstring("deadline"))
		})
	})

	Describe("Status", func() {
		It("should return the transaction snapshot", func() {
			req := httptest.NewRequest(http.MethodGet, "/payments/status/txn-1", nil)
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(service.statusID).To(Equal("txn-1"))
			var view paymentpkg.TransactionView
			Expect(json.Unmarshal(rec.Body.Bytes(), &view)).To(Succeed())
			Expect(view.ID).To(Equal("txn-1"))
			Expect(view.Status).To(Equal("sent"))
		})

		It("should map unknown transactions to 404", func() {
			service.statusError = apperrors.ErrTransactionNotFound

			req := httptest.NewRequest(http.MethodGet, "/payments/status/missing", nil)
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Retry", func() {
		It("should re-drive the push and return the new response", func() {
			req := httptest.NewRequest(http.MethodPost, "/payments/retry/txn-1", nil)
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(service.retryID).To(Equal("txn-1"))
			var resp paymentpkg.InitiateResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Success).To(BeTrue())
		})

		It("should map non-retryable states to 400", func() {
			service.retryError = apperrors.ErrRetryNotAllowed

			req := httptest.NewRequest(http.MethodPost, "/payments/retry/txn-1", nil)
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})
})
