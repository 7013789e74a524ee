package payment_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	transactionmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/transaction"
	"github.com/billoapp/tabz-payments/internal/core/events"
	paymentPkg "github.com/billoapp/tabz-payments/internal/payment"
)

var _ = Describe("Sweeper", func() {
	var (
		repo    *mockTransactionRepository
		bus     *events.EventBus
		sweeper *paymentPkg.Sweeper

		mu       sync.Mutex
		timedOut []*events.PaymentFailedEvent
	)

	timeoutEvents := func() []*events.PaymentFailedEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]*events.PaymentFailedEvent(nil), timedOut...)
	}

	seed := func(id, status string, updatedAt time.Time) {
		checkout := "checkout-" + id
		repo.transactions[id] = &transactionmodel.Transaction{
			ID:                id,
			TabID:             7,
			BarID:             3,
			Amount:            1500,
			Environment:       "sandbox",
			Status:            status,
			CheckoutRequestID: &checkout,
			UpdatedAt:         updatedAt,
		}
	}

	BeforeEach(func() {
		repo = newMockTransactionRepository()
		bus = events.NewEventBus(testLogger())

		mu.Lock()
		timedOut = nil
		mu.Unlock()

		bus.Subscribe(events.EventTypePaymentFailed, func(ctx context.Context, event events.Event) error {
			mu.Lock()
			defer mu.Unlock()
			timedOut = append(timedOut, event.(*events.PaymentFailedEvent))
			return nil
		})

		sweeper = paymentPkg.NewSweeper(repo, bus, 5*time.Minute, 30*time.Second, testLogger())
	})

	Context("when a sent transaction is past the callback window", func() {
		It("should move it to timeout and publish a failed event", func() {
			seed("overdue", transactionmodel.StatusSent, time.Now().Add(-10*time.Minute))

			sweeper.Sweep(context.Background())

			Expect(repo.transactions["overdue"].Status).To(Equal(transactionmodel.StatusTimeout))

			Eventually(timeoutEvents, time.Second).Should(HaveLen(1))
			Expect(timeoutEvents()[0].Status).To(Equal(transactionmodel.StatusTimeout))
			Expect(timeoutEvents()[0].TransactionID).To(Equal("overdue"))
		})
	})

	Context("when a sent transaction is still inside the window", func() {
		It("should leave it alone", func() {
			seed("recent", transactionmodel.StatusSent, time.Now().Add(-1*time.Minute))

			sweeper.Sweep(context.Background())

			Expect(repo.transactions["recent"].Status).To(Equal(transactionmodel.StatusSent))
			Consistently(timeoutEvents, 50*time.Millisecond).Should(BeEmpty())
		})
	})

	Context("when transactions are not in sent", func() {
		It("should never touch pending or terminal records", func() {
			old := time.Now().Add(-time.Hour)
			seed("pending", transactionmodel.StatusPending, old)
			seed("completed", transactionmodel.StatusCompleted, old)
			seed("failed", transactionmodel.StatusFailed, old)

			sweeper.Sweep(context.Background())

			Expect(repo.transactions["pending"].Status).To(Equal(transactionmodel.StatusPending))
			Expect(repo.transactions["completed"].Status).To(Equal(transactionmodel.StatusCompleted))
			Expect(repo.transactions["failed"].Status).To(Equal(transactionmodel.StatusFailed))
		})
	})

	Context("when a callback lands between listing and sweeping", func() {
		It("should lose the conditional write quietly", func() {
			seed("raced", transactionmodel.StatusSent, time.Now().Add(-10*time.Minute))
			repo.forceConflict = true

			sweeper.Sweep(context.Background())

			Expect(repo.transactions["raced"].Status).To(Equal(transactionmodel.StatusSent))
			Consistently(timeoutEvents, 50*time.Millisecond).Should(BeEmpty())
		})
	})
})
