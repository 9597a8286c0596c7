package events_test

import (
	"io"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/shehryarbajwa/inapp-messaging/internal/events"
)

var _ = Describe("Bus", func() {
	var (
		bus *events.Bus
		at  time.Time
	)

	BeforeEach(func() {
		bus = events.NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
		at = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	})

	It("stamps events with unique ids", func() {
		a := events.NewEvent(events.KindMessageDisplayed, "s1", "u1", at)
		b := events.NewEvent(events.KindMessageDisplayed, "s1", "u1", at)

		Expect(a.ID).NotTo(BeEmpty())
		Expect(a.ID).NotTo(Equal(b.ID))
		Expect(a.Kind).To(Equal(events.KindMessageDisplayed))
		Expect(a.SessionID).To(Equal("s1"))
		Expect(a.Subject).To(Equal("u1"))
		Expect(a.Timestamp).To(Equal(at))
	})

	It("delivers to every subscriber", func() {
		var got1, got2 []events.Event
		bus.Subscribe(func(e events.Event) { got1 = append(got1, e) })
		bus.Subscribe(func(e events.Event) { got2 = append(got2, e) })

		e := events.NewEvent(events.KindActionClicked, "s1", "u1", at)
		bus.Publish(e)

		Expect(got1).To(ConsistOf(e))
		Expect(got2).To(ConsistOf(e))
	})

	It("stops delivering after unsubscribe", func() {
		calls := 0
		sub := bus.Subscribe(func(events.Event) { calls++ })
		Expect(bus.Len()).To(Equal(1))

		bus.Publish(events.NewEvent(events.KindMessageDisplayed, "s1", "u1", at))
		sub.Unsubscribe()
		sub.Unsubscribe()
		bus.Publish(events.NewEvent(events.KindMessageDisplayed, "s1", "u1", at))

		Expect(calls).To(Equal(1))
		Expect(bus.Len()).To(BeZero())
	})

	It("keeps delivering when a handler panics", func() {
		delivered := false
		bus.Subscribe(func(events.Event) { panic("boom") })
		bus.Subscribe(func(events.Event) { delivered = true })

		Expect(func() {
			bus.Publish(events.NewEvent(events.KindMessageDisplayed, "s1", "u1", at))
		}).NotTo(Panic())
		Expect(delivered).To(BeTrue())
	})

	It("is a no-op without subscribers", func() {
		Expect(func() {
			bus.Publish(events.NewEvent(events.KindMessageDisplayed, "s1", "u1", at))
		}).NotTo(Panic())
	})

	It("allows handlers to unsubscribe while publishing", func() {
		var sub *events.Subscription
		calls := 0
		sub = bus.Subscribe(func(events.Event) {
			calls++
			sub.Unsubscribe()
		})

		bus.Publish(events.NewEvent(events.KindMessageDisplayed, "s1", "u1", at))
		bus.Publish(events.NewEvent(events.KindMessageDisplayed, "s1", "u1", at))
		Expect(calls).To(Equal(1))
	})

	It("is safe for concurrent use", func() {
		var mu sync.Mutex
		count := 0
		bus.Subscribe(func(events.Event) {
			mu.Lock()
			count++
			mu.Unlock()
		})

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				sub := bus.Subscribe(func(events.Event) {})
				bus.Publish(events.NewEvent(events.KindActionClicked, "s1", "u1", at))
				sub.Unsubscribe()
			}()
		}
		wg.Wait()

		Expect(count).To(Equal(10))
		Expect(bus.Len()).To(Equal(1))
	})
})
