package aggregate_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pasturelabs/herdwatch/internal/aggregate"
	"github.com/pasturelabs/herdwatch/internal/telemetry"
)

func reading(entity string, ts time.Time, hr int, steps int) *telemetry.TelemetryRecord {
	activity := 3.0
	temp := 38.5
	return &telemetry.TelemetryRecord{
		Timestamp:        ts,
		SensorID:         "collar-1",
		EntityID:         entity,
		FarmID:           "farm-1",
		HeartRate:        &hr,
		ActivityLevel:    &activity,
		Temperature:      &temp,
		StepCount:        &steps,
		DataQualityScore: 0.9,
	}
}

var _ = Describe("Aggregator", func() {
	var (
		agg   *aggregate.Aggregator
		base  time.Time
		clock time.Time
	)

	BeforeEach(func() {
		agg = aggregate.New(aggregate.DefaultConfig())
		base = time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
		clock = base
		agg.SetClock(func() time.Time { return clock })
	})

	Describe("count-based flushing", func() {
		It("flushes exactly one rollup after ten readings in one bucket", func() {
			var flushed []telemetry.WindowedMetrics
			for i := range 10 {
				ts := base.Add(time.Duration(i) * 20 * time.Second)
				flushed = agg.Add(reading("cow-1", ts, 70+i, 10), 0)
				if i < 9 {
					Expect(flushed).To(BeEmpty())
				}
			}

			Expect(flushed).To(HaveLen(1))
			m := flushed[0]
			Expect(m.RecordCount).To(Equal(10))
			Expect(m.EntityID).To(Equal("cow-1"))
			Expect(m.FarmID).To(Equal("farm-1"))
			Expect(m.WindowStart).To(Equal(base))
			Expect(m.WindowEnd).To(Equal(base.Add(5 * time.Minute)))
			Expect(m.MeanHeartRate).To(BeNumerically("~", 74.5, 1e-9))
			Expect(m.TotalSteps).To(Equal(100))
			Expect(m.MeanQualityScore).To(BeNumerically("~", 0.9, 1e-9))
			Expect(agg.OpenWindows()).To(BeZero())
		})

		It("floors timestamps into separate buckets", func() {
			agg.Add(reading("cow-1", base.Add(time.Minute), 70, 10), 0)
			agg.Add(reading("cow-1", base.Add(6*time.Minute), 70, 10), 0)
			Expect(agg.OpenWindows()).To(Equal(2))
		})

		It("keeps entities in separate windows", func() {
			agg.Add(reading("cow-1", base, 70, 10), 0)
			agg.Add(reading("cow-2", base, 70, 10), 0)
			Expect(agg.OpenWindows()).To(Equal(2))
		})
	})

	Describe("wall-clock flushing", func() {
		It("flushes a stale window of the same entity on the next event", func() {
			agg.Add(reading("cow-1", base, 70, 10), 0)

			// Next event arrives after the first window's end plus grace.
			clock = base.Add(7 * time.Minute)
			flushed := agg.Add(reading("cow-1", clock, 72, 10), 0)

			Expect(flushed).To(HaveLen(1))
			Expect(flushed[0].WindowStart).To(Equal(base))
			Expect(flushed[0].RecordCount).To(Equal(1))
			Expect(agg.OpenWindows()).To(Equal(1))
		})

		It("tolerates late arrivals within the grace period", func() {
			agg.Add(reading("cow-1", base, 70, 10), 0)

			// 5m30s: past the window end, inside the one-minute grace.
			clock = base.Add(5*time.Minute + 30*time.Second)
			flushed := agg.Add(reading("cow-1", base.Add(4*time.Minute), 72, 10), 0)
			Expect(flushed).To(BeEmpty())
			Expect(agg.OpenWindows()).To(Equal(1))
		})

		It("does not flush another entity's stale window on an event", func() {
			agg.Add(reading("cow-1", base, 70, 10), 0)

			clock = base.Add(10 * time.Minute)
			flushed := agg.Add(reading("cow-2", clock, 72, 10), 0)
			Expect(flushed).To(BeEmpty())
			Expect(agg.OpenWindows()).To(Equal(2))
		})
	})

	Describe("Sweep", func() {
		It("flushes lapsed windows across all entities", func() {
			agg.Add(reading("cow-1", base, 70, 10), 0)
			agg.Add(reading("cow-2", base, 80, 20), 1)

			Expect(agg.Sweep(base.Add(5 * time.Minute))).To(BeEmpty())

			flushed := agg.Sweep(base.Add(7 * time.Minute))
			Expect(flushed).To(HaveLen(2))
			Expect(agg.OpenWindows()).To(BeZero())
		})
	})

	Describe("Flush", func() {
		It("closes every open window regardless of age", func() {
			agg.Add(reading("cow-1", base, 70, 10), 0)
			agg.Add(reading("cow-2", base, 80, 20), 0)

			flushed := agg.Flush()
			Expect(flushed).To(HaveLen(2))
			Expect(agg.OpenWindows()).To(BeZero())
		})
	})

	Describe("metric accumulation", func() {
		It("counts anomalies per window", func() {
			agg.Add(reading("cow-1", base, 70, 10), 2)
			agg.Add(reading("cow-1", base.Add(time.Minute), 70, 10), 1)

			flushed := agg.Flush()
			Expect(flushed).To(HaveLen(1))
			Expect(flushed[0].AnomalyCount).To(Equal(3))
		})

		It("averages only over records that carried the field", func() {
			withHR := reading("cow-1", base, 60, 10)
			withoutHR := reading("cow-1", base.Add(time.Minute), 0, 10)
			withoutHR.HeartRate = nil

			agg.Add(withHR, 0)
			agg.Add(withoutHR, 0)

			flushed := agg.Flush()
			Expect(flushed).To(HaveLen(1))
			Expect(flushed[0].RecordCount).To(Equal(2))
			Expect(flushed[0].MeanHeartRate).To(BeNumerically("~", 60, 1e-9))
		})
	})
})
