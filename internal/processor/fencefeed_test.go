package processor_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pasturelabs/herdwatch/internal/fence"
	"github.com/pasturelabs/herdwatch/internal/geo"
	"github.com/pasturelabs/herdwatch/internal/processor"
	"github.com/pasturelabs/herdwatch/internal/telemetry"
	"github.com/pasturelabs/herdwatch/pkg/mq/mock"
)

var _ = Describe("FenceFeed", func() {
	var (
		feedClient       *mock.MockClient
		alerts           *mock.MockClient
		ingestDeliveries chan amqp.Delivery
		feedDeliveries   chan amqp.Delivery
		proc             *processor.Processor
		feed             *processor.FenceFeed
		cancel           context.CancelFunc
	)

	BeforeEach(func() {
		log := testLogger()

		ingest := mock.NewMockClient()
		ingestDeliveries = make(chan amqp.Delivery, 8)
		ingest.ConsumeFunc = func() (<-chan amqp.Delivery, error) {
			return ingestDeliveries, nil
		}

		alerts = mock.NewMockClient()

		var err error
		proc, err = processor.NewProcessor(&processor.Config{
			Logger:   log,
			Workers:  1,
			Enriched: processor.NewPublisher(log, "enriched", mock.NewMockClient(), 8, nil),
			Alerts:   processor.NewPublisher(log, "alerts", alerts, 8, nil),
			Windows:  processor.NewPublisher(log, "windows", mock.NewMockClient(), 8, nil),
		}, ingest)
		Expect(err).NotTo(HaveOccurred())

		feedClient = mock.NewMockClient()
		feedDeliveries = make(chan amqp.Delivery, 8)
		feedClient.ConsumeFunc = func() (<-chan amqp.Delivery, error) {
			return feedDeliveries, nil
		}

		feed, err = processor.NewFenceFeed(&processor.FenceFeedConfig{
			Logger:    log,
			Client:    feedClient,
			Processor: proc,
		})
		Expect(err).NotTo(HaveOccurred())

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		Expect(proc.Start(ctx)).To(Succeed())
		Expect(feed.Start(ctx)).To(Succeed())
	})

	AfterEach(func() {
		cancel()
		_ = feed.Stop()
		proc.Stop()
	})

	deliverFeed := func(msg fence.FeedMessage) {
		payload, err := telemetry.Encode(msg)
		Expect(err).NotTo(HaveOccurred())
		feedDeliveries <- amqp.Delivery{Acknowledger: fakeAck{}, Body: payload}
	}

	It("should register an upserted fence on the processor", func() {
		deliverFeed(fence.FeedMessage{Action: fence.FeedActionUpsert, Fence: paddock})

		// Once the upsert lands, a fix outside the paddock raises an alert.
		Eventually(func() int {
			ingestDeliveries <- amqp.Delivery{
				Acknowledger: fakeAck{},
				Body:         rawEvent("cow-101", time.Now().UTC(), 72, 47.99955, 11.0065),
			}
			return len(alerts.PushedBodies())
		}, 3*time.Second, 200*time.Millisecond).Should(BeNumerically(">=", 1))
	})

	It("should deactivate a fence on request", func() {
		deliverFeed(fence.FeedMessage{Action: fence.FeedActionUpsert, Fence: paddock})
		deliverFeed(fence.FeedMessage{Action: fence.FeedActionDeactivate, FenceID: paddock.FenceID})

		// Give the feed a moment to apply both messages in order.
		time.Sleep(500 * time.Millisecond)

		ingestDeliveries <- amqp.Delivery{
			Acknowledger: fakeAck{},
			Body:         rawEvent("cow-102", time.Now().UTC(), 72, 47.99955, 11.0065),
		}

		Consistently(func() int {
			return len(alerts.PushedBodies())
		}, time.Second).Should(BeZero())
	})

	It("should keep consuming after an invalid fence config", func() {
		deliverFeed(fence.FeedMessage{
			Action: fence.FeedActionUpsert,
			Fence: &fence.Config{
				FenceID:  "bad",
				Type:     fence.TypeContainment,
				Vertices: []geo.Vertex{{Lat: 48.0, Lon: 11.0}},
			},
		})
		deliverFeed(fence.FeedMessage{Action: fence.FeedActionUpsert, Fence: paddock})

		Eventually(func() int {
			ingestDeliveries <- amqp.Delivery{
				Acknowledger: fakeAck{},
				Body:         rawEvent("cow-103", time.Now().UTC(), 72, 47.99955, 11.0065),
			}
			return len(alerts.PushedBodies())
		}, 3*time.Second, 200*time.Millisecond).Should(BeNumerically(">=", 1))
	})

	It("should drop malformed feed payloads", func() {
		feedDeliveries <- amqp.Delivery{Acknowledger: fakeAck{}, Body: []byte("{nope")}
		deliverFeed(fence.FeedMessage{Action: fence.FeedActionUpsert, Fence: paddock})

		Eventually(func() int {
			ingestDeliveries <- amqp.Delivery{
				Acknowledger: fakeAck{},
				Body:         rawEvent("cow-104", time.Now().UTC(), 72, 47.99955, 11.0065),
			}
			return len(alerts.PushedBodies())
		}, 3*time.Second, 200*time.Millisecond).Should(BeNumerically(">=", 1))
	})
})
