package processor_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pasturelabs/herdwatch/internal/processor"
	"github.com/pasturelabs/herdwatch/internal/telemetry"
	"github.com/pasturelabs/herdwatch/pkg/mq/mock"
)

var _ = Describe("Publisher", func() {
	var client *mock.MockClient

	BeforeEach(func() {
		client = mock.NewMockClient()
	})

	It("should deliver published records to the client", func() {
		pub := processor.NewPublisher(testLogger(), "alerts", client, 8, nil)

		ok := pub.Publish(telemetry.Alert{AlertID: "a-1", EntityID: "cow-001"})
		Expect(ok).To(BeTrue())

		Eventually(func() int {
			return len(client.PushedBodies())
		}, 2*time.Second).Should(Equal(1))

		var alert telemetry.Alert
		Expect(telemetry.Decode(client.PushedBodies()[0], &alert)).To(Succeed())
		Expect(alert.AlertID).To(Equal("a-1"))

		pub.Close()
	})

	It("should drop records when the buffer is full", func() {
		block := make(chan struct{})
		var once sync.Once
		client.PushFunc = func(context.Context, []byte) error {
			<-block
			return nil
		}
		defer once.Do(func() { close(block) })

		pub := processor.NewPublisher(testLogger(), "alerts", client, 1, nil)

		// First record is picked up by the drain goroutine and blocks; the
		// second fills the buffer; the third must be dropped.
		Expect(pub.Publish(telemetry.Alert{AlertID: "a-1"})).To(BeTrue())
		Eventually(func() int {
			return len(client.PushedBodies())
		}, 2*time.Second).Should(Equal(1))

		Expect(pub.Publish(telemetry.Alert{AlertID: "a-2"})).To(BeTrue())
		Expect(pub.Publish(telemetry.Alert{AlertID: "a-3"})).To(BeFalse())

		once.Do(func() { close(block) })
		pub.Close()
	})

	It("should survive push failures", func() {
		client.PushError = errors.New("broker unavailable")

		pub := processor.NewPublisher(testLogger(), "windows", client, 8, nil)

		Expect(pub.Publish(telemetry.WindowedMetrics{EntityID: "cow-001"})).To(BeTrue())
		Expect(pub.Publish(telemetry.WindowedMetrics{EntityID: "cow-002"})).To(BeTrue())

		Eventually(func() int {
			return len(client.PushedBodies())
		}, 2*time.Second).Should(Equal(2))

		pub.Close()
	})

	It("should drain buffered records before closing", func() {
		pub := processor.NewPublisher(testLogger(), "windows", client, 8, nil)

		for i := 0; i < 5; i++ {
			Expect(pub.Publish(telemetry.WindowedMetrics{EntityID: "cow-001"})).To(BeTrue())
		}
		pub.Close()

		Expect(client.PushedBodies()).To(HaveLen(5))
		Expect(client.CloseCalls).To(Equal(1))
	})
})
