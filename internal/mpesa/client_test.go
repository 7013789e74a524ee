package mpesa_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/billoapp/tabz-payments/internal"
	"github.com/billoapp/tabz-payments/internal/mpesa"
)

var _ = Describe("Client", func() {
	var (
		server *httptest.Server
		logger *slog.Logger
	)

	newClient := func(baseURL string) *mpesa.Client {
		return mpesa.NewClient(mpesa.ClientConfig{
			Environment: "sandbox",
			BaseURL:     baseURL,
			PushTimeout: 5 * time.Second,
			AuthTimeout: 2 * time.Second,
		}, logger)
	}

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	})

	AfterEach(func() {
		if server != nil {
			server.Close()
		}
	})

	Describe("Authenticate", func() {
		Context("when the provider accepts the credentials", func() {
			It("should return the token and its lifetime", func() {
				// Given
				server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					user, pass, ok := r.BasicAuth()
					Expect(ok).To(BeTrue())
					Expect(user).To(Equal("test-consumer-key"))
					Expect(pass).To(Equal("test-consumer-secret"))
					Expect(r.URL.Query().Get("grant_type")).To(Equal("client_credentials"))

					w.Header().Set("Content-Type", "application/json")
					json.NewEncoder(w).Encode(map[string]string{
						"access_token": "test-access-token",
						"expires_in":   "3599",
					})
				}))

				// When
				token, lifetime, err := newClient(server.URL).Authenticate(context.Background(), sandboxCredential())

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(token).To(Equal("test-access-token"))
				Expect(lifetime).To(Equal(3599 * time.Second))
			})
		})

		Context("when the provider rejects the credentials", func() {
			It("should classify as an authentication error, not retryable", func() {
				server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusUnauthorized)
				}))

				_, _, err := newClient(server.URL).Authenticate(context.Background(), sandboxCredential())

				Expect(err).To(HaveOccurred())
				appErr, ok := apperrors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Type).To(Equal(apperrors.ErrorTypeAuthentication))
				Expect(apperrors.IsRetryable(err)).To(BeFalse())
			})
		})

		Context("when the provider is unreachable", func() {
			It("should classify as a network error, retryable", func() {
				server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
				server.Close()

				_, _, err := newClient(server.URL).Authenticate(context.Background(), sandboxCredential())

				Expect(err).To(HaveOccurred())
				Expect(apperrors.IsRetryable(err)).To(BeTrue())
			})
		})

		Context("when the response is missing the token", func() {
			It("should fail rather than cache an empty token", func() {
				server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Type", "application/json")
					w.Write([]byte(`{"expires_in": "3599"}`))
				}))

				_, _, err := newClient(server.URL).Authenticate(context.Background(), sandboxCredential())

				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("STKPush", func() {
		validPush := func() *mpesa.STKPushRequest {
			push, err := mpesa.BuildSTKPush(sandboxCredential(), 1500, "254712345678", "TAB42", "Tab payment", time.Now())
			Expect(err).ToNot(HaveOccurred())
			return push
		}

		Context("when the provider accepts the push", func() {
			It("should return the checkout identifiers", func() {
				// Given
				server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					Expect(r.Header.Get("Authorization")).To(Equal("Bearer test-access-token"))
					Expect(r.Header.Get("Content-Type")).To(Equal("application/json"))

					var received mpesa.STKPushRequest
					Expect(json.NewDecoder(r.Body).Decode(&received)).To(Succeed())
					Expect(received.BusinessShortCode).To(Equal("174379"))

					w.Header().Set("Content-Type", "application/json")
					json.NewEncoder(w).Encode(mpesa.STKPushResponse{
						MerchantRequestID:   "29115-34620561-1",
						CheckoutRequestID:   "ws_CO_191220191020363925",
						ResponseCode:        "0",
						ResponseDescription: "Success. Request accepted for processing",
						CustomerMessage:     "Success. Request accepted for processing",
					})
				}))

				// When
				resp, err := newClient(server.URL).STKPush(context.Background(), "test-access-token", validPush())

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(resp.CheckoutRequestID).To(Equal("ws_CO_191220191020363925"))
				Expect(resp.MerchantRequestID).To(Equal("29115-34620561-1"))
			})
		})

		Context("when the provider returns a non-zero response code", func() {
			It("should classify as a validation error, not retryable", func() {
				server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Type", "application/json")
					json.NewEncoder(w).Encode(mpesa.STKPushResponse{
						ResponseCode:        "1",
						ResponseDescription: "Invalid PhoneNumber",
					})
				}))

				_, err := newClient(server.URL).STKPush(context.Background(), "test-access-token", validPush())

				Expect(err).To(HaveOccurred())
				appErr, ok := apperrors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Type).To(Equal(apperrors.ErrorTypeValidation))
				Expect(apperrors.IsRetryable(err)).To(BeFalse())
			})
		})

		Context("when the provider returns a 4xx status", func() {
			It("should classify as a validation error", func() {
				server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusBadRequest)
					w.Write([]byte(`{"errorCode": "400.002.02", "errorMessage": "Bad Request - Invalid Amount"}`))
				}))

				_, err := newClient(server.URL).STKPush(context.Background(), "test-access-token", validPush())

				Expect(apperrors.IsRetryable(err)).To(BeFalse())
			})
		})

		Context("when the provider returns a 5xx status", func() {
			It("should classify as a network error, retryable", func() {
				server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusServiceUnavailable)
				}))

				_, err := newClient(server.URL).STKPush(context.Background(), "test-access-token", validPush())

				Expect(apperrors.IsRetryable(err)).To(BeTrue())
			})
		})

		Context("when the bearer token is stale", func() {
			It("should classify 401 as an authentication error", func() {
				server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusUnauthorized)
				}))

				_, err := newClient(server.URL).STKPush(context.Background(), "stale-token", validPush())

				appErr, ok := apperrors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Type).To(Equal(apperrors.ErrorTypeAuthentication))
			})
		})
	})
})
