package processor_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pasturelabs/herdwatch/internal/metadata"
	"github.com/pasturelabs/herdwatch/internal/processor"
	"github.com/pasturelabs/herdwatch/internal/telemetry"
)

type staticLister struct {
	entries map[string]telemetry.EntityMeta
}

func (l *staticLister) ListAll(context.Context) (map[string]telemetry.EntityMeta, error) {
	return l.entries, nil
}

func record(entityID string, ts time.Time) *telemetry.TelemetryRecord {
	hr := 72
	temp := 38.6
	activity := 3.0
	return &telemetry.TelemetryRecord{
		Timestamp:     ts,
		SensorID:      "collar-" + entityID,
		EntityID:      entityID,
		FarmID:        "farm-1",
		HeartRate:     &hr,
		Temperature:   &temp,
		ActivityLevel: &activity,
	}
}

var _ = Describe("Enricher", func() {
	var enricher *processor.Enricher

	BeforeEach(func() {
		cache, err := metadata.NewCache(testLogger(), &staticLister{
			entries: map[string]telemetry.EntityMeta{
				"cow-001": {
					FarmID:     "farm-1",
					EntityType: "animal",
					EntityName: "Bella",
					Species:    "cattle",
					Breed:      "fleckvieh",
					AgeMonths:  30,
					Known:      true,
				},
			},
		}, time.Minute)
		Expect(err).NotTo(HaveOccurred())

		enricher = processor.NewEnricher(testLogger(), cache)
	})

	It("should attach entity metadata for known entities", func() {
		out := enricher.Enrich(context.Background(), record("cow-001", time.Now()), 0)

		Expect(out.EntityName).To(Equal("Bella"))
		Expect(out.Species).To(Equal("cattle"))
		Expect(out.Breed).To(Equal("fleckvieh"))
		Expect(out.AgeMonths).To(Equal(30))
	})

	It("should enrich unknown entities with time features only", func() {
		out := enricher.Enrich(context.Background(), record("cow-999", time.Now()), 0)

		Expect(out.EntityName).To(BeEmpty())
		Expect(out.Time.DayOfWeek).NotTo(BeEmpty())
	})

	It("should derive time features from the record timestamp", func() {
		ts := time.Date(2026, 8, 24, 23, 30, 0, 0, time.UTC) // a Monday night
		out := enricher.Enrich(context.Background(), record("cow-001", ts), 0)

		Expect(out.Time.Hour).To(Equal(23))
		Expect(out.Time.DayOfWeek).To(Equal("Monday"))
		Expect(out.Time.IsNight).To(BeTrue())
	})

	It("should mark midday as not night", func() {
		ts := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
		out := enricher.Enrich(context.Background(), record("cow-001", ts), 0)

		Expect(out.Time.IsNight).To(BeFalse())
	})

	It("should carry the anomaly count through", func() {
		out := enricher.Enrich(context.Background(), record("cow-001", time.Now()), 2)
		Expect(out.AnomalyCount).To(Equal(2))
	})

	Describe("health score", func() {
		It("should score normal vitals near 100", func() {
			out := enricher.Enrich(context.Background(), record("cow-001", time.Now()), 0)

			Expect(out.HealthScore).NotTo(BeNil())
			Expect(*out.HealthScore).To(BeNumerically(">=", 95))
		})

		It("should penalize a fever", func() {
			rec := record("cow-001", time.Now())
			fever := 41.0
			rec.Temperature = &fever

			out := enricher.Enrich(context.Background(), rec, 0)

			Expect(out.HealthScore).NotTo(BeNil())
			Expect(*out.HealthScore).To(BeNumerically("<", 80))
		})

		It("should be absent when core vitals are missing", func() {
			rec := record("cow-001", time.Now())
			rec.HeartRate = nil

			out := enricher.Enrich(context.Background(), rec, 0)
			Expect(out.HealthScore).To(BeNil())
		})
	})
})
