package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	callbackmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/callback"
	transactionmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/transaction"
	"github.com/billoapp/tabz-payments/internal/core/events"
	paymentPkg "github.com/billoapp/tabz-payments/internal/payment"
	"github.com/billoapp/tabz-payments/internal/retry"
	"github.com/billoapp/tabz-payments/internal/transport"
)

type mockCallbackAudit struct {
	mu        sync.Mutex
	events    []*callbackmodel.Event
	nextID    int64
	bumped    []int64
	flagged   []int64
	createErr error
}

func (m *mockCallbackAudit) Create(ctx context.Context, e *callbackmodel.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	e.ID = m.nextID
	m.events = append(m.events, e)
	return nil
}

func (m *mockCallbackAudit) IncrementAttempts(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bumped = append(m.bumped, id)
	return nil
}

func (m *mockCallbackAudit) MarkPermanentlyFailed(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flagged = append(m.flagged, id)
	return nil
}

func (m *mockCallbackAudit) dispositions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Disposition
	}
	return out
}

var _ = Describe("WebhookHandler", func() {
	const callbackToken = "shared-callback-token"

	var (
		repo    *mockTransactionRepository
		audit   *mockCallbackAudit
		bus     *events.EventBus
		queue   *retry.Queue
		handler *paymentPkg.WebhookHandler

		mu        sync.Mutex
		completed []*events.PaymentCompletedEvent
		failed    []*events.PaymentFailedEvent
	)

	completedEvents := func() []*events.PaymentCompletedEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]*events.PaymentCompletedEvent(nil), completed...)
	}

	failedEvents := func() []*events.PaymentFailedEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]*events.PaymentFailedEvent(nil), failed...)
	}

	seedSent := func(checkoutRequestID string) *transactionmodel.Transaction {
		txn := &transactionmodel.Transaction{
			ID:                 "txn-" + checkoutRequestID,
			TabID:              7,
			BarID:              3,
			CustomerIdentifier: "customer-1",
			PhoneNumber:        "254712345678",
			Amount:             1500,
			Environment:        "sandbox",
			Status:             transactionmodel.StatusSent,
			CheckoutRequestID:  &checkoutRequestID,
		}
		Expect(repo.Create(context.Background(), txn)).To(Succeed())
		repo.byCheckout[checkoutRequestID] = repo.transactions[txn.ID]
		return txn
	}

	post := func(token, body string) *httptest.ResponseRecorder {
		url := "/api/v1/payments/callback"
		if token != "" {
			url += "?token=" + token
		}
		req := httptest.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		handler.HandleCallback(rec, req)
		return rec
	}

	expectAck := func(rec *httptest.ResponseRecorder) {
		Expect(rec.Code).To(Equal(http.StatusOK))
		var ack map[string]interface{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &ack)).To(Succeed())
		Expect(ack["ResultCode"]).To(BeEquivalentTo(0))
		Expect(ack["ResultDesc"]).To(Equal("Success"))
	}

	successBody := func(checkoutRequestID string) string {
		return `{
			"Body": {
				"stkCallback": {
					"MerchantRequestID": "merchant-1",
					"CheckoutRequestID": "` + checkoutRequestID + `",
					"ResultCode": 0,
					"ResultDesc": "The service request is processed successfully.",
					"CallbackMetadata": {
						"Item": [
							{"Name": "Amount", "Value": 1500},
							{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
							{"Name": "TransactionDate", "Value": 20240115103000},
							{"Name": "PhoneNumber", "Value": 254712345678}
						]
					}
				}
			}
		}`
	}

	BeforeEach(func() {
		repo = newMockTransactionRepository()
		audit = &mockCallbackAudit{}
		bus = events.NewEventBus(testLogger())

		mu.Lock()
		completed = nil
		failed = nil
		mu.Unlock()

		bus.Subscribe(events.EventTypePaymentCompleted, func(ctx context.Context, event events.Event) error {
			mu.Lock()
			defer mu.Unlock()
			completed = append(completed, event.(*events.PaymentCompletedEvent))
			return nil
		})
		bus.Subscribe(events.EventTypePaymentFailed, func(ctx context.Context, event events.Event) error {
			mu.Lock()
			defer mu.Unlock()
			failed = append(failed, event.(*events.PaymentFailedEvent))
			return nil
		})

		queue = retry.NewQueue(retry.QueueConfig{
			Attempts:    3,
			BaseBackoff: time.Millisecond,
			BufferSize:  4,
		}, func(ctx context.Context, eventID int64, lastErr error) {
			_ = audit.MarkPermanentlyFailed(ctx, eventID)
		}, testLogger())
		queue.Start(context.Background(), 1)

		handler = paymentPkg.NewWebhookHandler(
			transport.NewBaseHandler(testLogger()),
			repo, audit, bus, queue, callbackToken, testLogger(),
		)
	})

	AfterEach(func() {
		queue.Stop()
	})

	Context("when a success callback arrives for a sent transaction", func() {
		It("should complete the transaction and notify tab sync", func() {
			txn := seedSent("ws_CO_1")

			rec := post(callbackToken, successBody("ws_CO_1"))

			expectAck(rec)

			stored, _ := repo.GetByID(context.Background(), txn.ID)
			Expect(stored.Status).To(Equal(transactionmodel.StatusCompleted))
			Expect(*stored.ReceiptNumber).To(Equal("NLJ7RT61SV"))
			Expect(*stored.ResultCode).To(Equal(0))
			Expect(stored.CompletedAt).ToNot(BeNil())

			Expect(completedEvents()).To(HaveLen(1))
			Expect(completedEvents()[0].TransactionID).To(Equal(txn.ID))
			Expect(completedEvents()[0].Amount).To(Equal(int64(1500)))
			Expect(completedEvents()[0].ReceiptNumber).To(Equal("NLJ7RT61SV"))

			Expect(audit.dispositions()).To(Equal([]string{callbackmodel.DispositionAccepted}))
		})

		It("should overwrite the initiation amount and phone with the settled values", func() {
			checkout := "ws_CO_settle"
			txn := &transactionmodel.Transaction{
				ID:                 "txn-" + checkout,
				TabID:              7,
				BarID:              3,
				CustomerIdentifier: "customer-1",
				PhoneNumber:        "254700000000",
				Amount:             2000,
				Environment:        "sandbox",
				Status:             transactionmodel.StatusSent,
				CheckoutRequestID:  &checkout,
			}
			Expect(repo.Create(context.Background(), txn)).To(Succeed())
			repo.byCheckout[checkout] = repo.transactions[txn.ID]

			post(callbackToken, successBody(checkout))

			stored, _ := repo.GetByID(context.Background(), txn.ID)
			Expect(stored.Status).To(Equal(transactionmodel.StatusCompleted))
			Expect(stored.Amount).To(Equal(int64(1500)))
			Expect(stored.PhoneNumber).To(Equal("254712345678"))
		})

		It("should store a redacted payload in the audit trail", func() {
			seedSent("ws_CO_1")

			post(callbackToken, successBody("ws_CO_1"))

			Expect(audit.events).To(HaveLen(1))
			Expect(string(audit.events[0].Payload)).ToNot(ContainSubstring("254712345678"))
		})
	})

	Context("when the customer cancelled the prompt", func() {
		It("should mark the transaction cancelled and publish a failed event", func() {
			txn := seedSent("ws_CO_2")

			body := `{
				"Body": {
					"stkCallback": {
						"CheckoutRequestID": "ws_CO_2",
						"ResultCode": 1032,
						"ResultDesc": "Request cancelled by user"
					}
				}
			}`
			rec := post(callbackToken, body)

			expectAck(rec)

			stored, _ := repo.GetByID(context.Background(), txn.ID)
			Expect(stored.Status).To(Equal(transactionmodel.StatusCancelled))

			Expect(failedEvents()).To(HaveLen(1))
			Expect(failedEvents()[0].Status).To(Equal(transactionmodel.StatusCancelled))
			Expect(completedEvents()).To(BeEmpty())
		})
	})

	Context("when the push failed on the handset", func() {
		It("should mark the transaction failed with the provider description", func() {
			txn := seedSent("ws_CO_3")

			body := `{
				"Body": {
					"stkCallback": {
						"CheckoutRequestID": "ws_CO_3",
						"ResultCode": 1037,
						"ResultDesc": "DS timeout user cannot be reached"
					}
				}
			}`
			post(callbackToken, body)

			stored, _ := repo.GetByID(context.Background(), txn.ID)
			Expect(stored.Status).To(Equal(transactionmodel.StatusFailed))
			Expect(*stored.FailureReason).To(Equal("DS timeout user cannot be reached"))
		})
	})

	Context("when the token is wrong", func() {
		It("should record a rejected event and still acknowledge", func() {
			txn := seedSent("ws_CO_4")

			rec := post("wrong-token", successBody("ws_CO_4"))

			expectAck(rec)

			stored, _ := repo.GetByID(context.Background(), txn.ID)
			Expect(stored.Status).To(Equal(transactionmodel.StatusSent))
			Expect(audit.dispositions()).To(Equal([]string{callbackmodel.DispositionRejected}))
			Expect(completedEvents()).To(BeEmpty())
		})

		It("should reject a missing token", func() {
			seedSent("ws_CO_4")

			rec := post("", successBody("ws_CO_4"))

			expectAck(rec)
			Expect(audit.dispositions()).To(Equal([]string{callbackmodel.DispositionRejected}))
		})
	})

	Context("when the payload is unparsable", func() {
		It("should record a rejected event and acknowledge", func() {
			rec := post(callbackToken, "not json at all")

			expectAck(rec)
			Expect(audit.dispositions()).To(Equal([]string{callbackmodel.DispositionRejected}))
		})
	})

	Context("when no transaction matches the checkout request", func() {
		It("should record an orphaned event and acknowledge", func() {
			rec := post(callbackToken, successBody("ws_CO_unknown"))

			expectAck(rec)
			Expect(audit.dispositions()).To(Equal([]string{callbackmodel.DispositionOrphaned}))
			Expect(completedEvents()).To(BeEmpty())
		})
	})

	Context("when the transaction is already terminal", func() {
		It("should record a duplicate and apply nothing", func() {
			txn := seedSent("ws_CO_5")
			receipt := "OLD-RECEIPT"
			repo.transactions[txn.ID].Status = transactionmodel.StatusCompleted
			repo.transactions[txn.ID].ReceiptNumber = &receipt

			rec := post(callbackToken, successBody("ws_CO_5"))

			expectAck(rec)

			stored, _ := repo.GetByID(context.Background(), txn.ID)
			Expect(stored.Status).To(Equal(transactionmodel.StatusCompleted))
			Expect(*stored.ReceiptNumber).To(Equal("OLD-RECEIPT"))
			Expect(audit.dispositions()).To(Equal([]string{callbackmodel.DispositionDuplicate}))
			Expect(completedEvents()).To(BeEmpty())
		})
	})

	Context("when tab sync fails transiently", func() {
		It("should retry through the queue without re-applying the transition", func() {
			txn := seedSent("ws_CO_6")

			var handlerCalls int
			bus.Subscribe(events.EventTypePaymentCompleted, func(ctx context.Context, event events.Event) error {
				mu.Lock()
				defer mu.Unlock()
				handlerCalls++
				if handlerCalls == 1 {
					return errors.New("tab store unavailable")
				}
				return nil
			})

			post(callbackToken, successBody("ws_CO_6"))

			Eventually(func() int {
				mu.Lock()
				defer mu.Unlock()
				return handlerCalls
			}, time.Second).Should(BeNumerically(">=", 2))

			stored, _ := repo.GetByID(context.Background(), txn.ID)
			Expect(stored.Status).To(Equal(transactionmodel.StatusCompleted))

			// the retry bumped the audit attempt counter
			Eventually(func() []int64 {
				audit.mu.Lock()
				defer audit.mu.Unlock()
				return append([]int64(nil), audit.bumped...)
			}, time.Second).Should(HaveLen(1))
		})
	})
})
