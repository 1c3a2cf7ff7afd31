package anomaly_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pasturelabs/herdwatch/internal/anomaly"
	"github.com/pasturelabs/herdwatch/internal/telemetry"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func heartRateRecord(entity string, hr int) *telemetry.TelemetryRecord {
	return &telemetry.TelemetryRecord{
		Timestamp: time.Now().UTC(),
		SensorID:  "collar-1",
		EntityID:  entity,
		HeartRate: intPtr(hr),
	}
}

func byType(anomalies []anomaly.Anomaly, typ string) []anomaly.Anomaly {
	var out []anomaly.Anomaly
	for _, a := range anomalies {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

var _ = Describe("Detector", func() {
	var detector *anomaly.Detector

	BeforeEach(func() {
		detector = anomaly.NewDetector(anomaly.DefaultConfig())
	})

	Describe("range checks", func() {
		It("flags a heart rate above the maximum with high severity", func() {
			for range 10 {
				Expect(detector.Detect(heartRateRecord("cow-1", 70))).To(BeEmpty())
			}

			found := detector.Detect(heartRateRecord("cow-1", 300))
			ranges := byType(found, anomaly.TypeRangeViolation)
			Expect(ranges).To(HaveLen(1))
			Expect(ranges[0].Severity).To(Equal(telemetry.SeverityHigh))
			Expect(ranges[0].Metric).To(Equal(telemetry.MetricHeartRate))
			Expect(ranges[0].Value).To(Equal(300.0))
		})

		It("flags a temperature below the minimum", func() {
			rec := &telemetry.TelemetryRecord{
				Timestamp:   time.Now().UTC(),
				SensorID:    "collar-1",
				EntityID:    "cow-1",
				Temperature: floatPtr(30.0),
			}
			found := detector.Detect(rec)
			Expect(byType(found, anomaly.TypeRangeViolation)).To(HaveLen(1))
		})

		It("ignores in-range values", func() {
			Expect(detector.Detect(heartRateRecord("cow-1", 70))).To(BeEmpty())
		})
	})

	Describe("statistical checks", func() {
		It("flags an outlier once the window has enough history", func() {
			// Tight cluster around 70, sample stddev about 1.
			series := []int{69, 70, 71, 70, 69, 71, 70, 69, 71, 70}
			for _, hr := range series {
				Expect(detector.Detect(heartRateRecord("cow-1", hr))).To(BeEmpty())
			}

			found := detector.Detect(heartRateRecord("cow-1", 90))
			outliers := byType(found, anomaly.TypeStatisticalOutlier)
			Expect(outliers).To(HaveLen(1))
			Expect(outliers[0].Severity).To(Equal(telemetry.SeverityHigh))
			Expect(outliers[0].ZScore).To(BeNumerically(">", 4.0))
		})

		It("stays silent below the minimum sample count", func() {
			for range 9 {
				detector.Detect(heartRateRecord("cow-1", 70))
			}
			// Only 9 priors: in range, no statistical check yet.
			found := detector.Detect(heartRateRecord("cow-1", 95))
			Expect(byType(found, anomaly.TypeStatisticalOutlier)).To(BeEmpty())
		})

		It("skips the check when the window has zero deviation", func() {
			for range 20 {
				detector.Detect(heartRateRecord("cow-1", 70))
			}
			// stddev is 0; an in-range jump must not divide by zero.
			found := detector.Detect(heartRateRecord("cow-1", 95))
			Expect(byType(found, anomaly.TypeStatisticalOutlier)).To(BeEmpty())
		})

		It("never compares a value against itself", func() {
			cfg := anomaly.DefaultConfig()
			cfg.MinSamples = 1
			d := anomaly.NewDetector(cfg)
			// First value: window empty at check time, nothing to flag.
			Expect(d.Detect(heartRateRecord("cow-1", 190))).To(BeEmpty())
		})

		It("keeps windows separate per entity", func() {
			series := []int{69, 70, 71, 70, 69, 71, 70, 69, 71, 70}
			for _, hr := range series {
				detector.Detect(heartRateRecord("cow-1", hr))
			}
			// A different entity has no history; no outlier for it.
			found := detector.Detect(heartRateRecord("cow-2", 90))
			Expect(byType(found, anomaly.TypeStatisticalOutlier)).To(BeEmpty())
		})

		It("grades moderate outliers as medium", func() {
			// Alternate 60/80: sample stddev about 10.3 around mean 70.
			for i := range 20 {
				hr := 60
				if i%2 == 1 {
					hr = 80
				}
				detector.Detect(heartRateRecord("cow-1", hr))
			}
			// z about 3.4: above the 3.0 threshold, below the 4.0 cutoff.
			found := detector.Detect(heartRateRecord("cow-1", 105))
			outliers := byType(found, anomaly.TypeStatisticalOutlier)
			Expect(outliers).To(HaveLen(1))
			Expect(outliers[0].Severity).To(Equal(telemetry.SeverityMedium))
		})
	})

	Describe("window eviction", func() {
		It("caps the window at the configured size", func() {
			cfg := anomaly.DefaultConfig()
			cfg.WindowSize = 5
			d := anomaly.NewDetector(cfg)
			for range 12 {
				d.Detect(heartRateRecord("cow-1", 70))
			}
			Expect(d.WindowLen("cow-1", telemetry.MetricHeartRate)).To(Equal(5))
		})
	})

	Describe("behavioral checks", func() {
		It("detects prolonged inactivity after five quiet readings", func() {
			quiet := func() *telemetry.TelemetryRecord {
				return &telemetry.TelemetryRecord{
					Timestamp:     time.Now().UTC(),
					SensorID:      "collar-1",
					EntityID:      "cow-1",
					ActivityLevel: floatPtr(0.4),
				}
			}

			for range 4 {
				found := detector.Detect(quiet())
				Expect(byType(found, anomaly.TypeProlongedInactivity)).To(BeEmpty())
			}

			found := detector.Detect(quiet())
			inactive := byType(found, anomaly.TypeProlongedInactivity)
			Expect(inactive).To(HaveLen(1))
			Expect(inactive[0].Severity).To(Equal(telemetry.SeverityHigh))
		})

		It("resets the inactivity run when the animal moves", func() {
			mk := func(level float64) *telemetry.TelemetryRecord {
				return &telemetry.TelemetryRecord{
					Timestamp:     time.Now().UTC(),
					SensorID:      "collar-1",
					EntityID:      "cow-1",
					ActivityLevel: floatPtr(level),
				}
			}
			for range 4 {
				detector.Detect(mk(0.4))
			}
			detector.Detect(mk(5.0)) // movement breaks the run
			found := detector.Detect(mk(0.4))
			Expect(byType(found, anomaly.TypeProlongedInactivity)).To(BeEmpty())
		})

		It("detects a stress mismatch of high heart rate and low activity", func() {
			rec := &telemetry.TelemetryRecord{
				Timestamp:     time.Now().UTC(),
				SensorID:      "collar-1",
				EntityID:      "cow-1",
				HeartRate:     intPtr(135),
				ActivityLevel: floatPtr(1.2),
			}
			found := detector.Detect(rec)
			stress := byType(found, anomaly.TypeStressIndicator)
			Expect(stress).To(HaveLen(1))
			Expect(stress[0].Severity).To(Equal(telemetry.SeverityMedium))
		})

		It("does not flag a high heart rate during high activity", func() {
			rec := &telemetry.TelemetryRecord{
				Timestamp:     time.Now().UTC(),
				SensorID:      "collar-1",
				EntityID:      "cow-1",
				HeartRate:     intPtr(135),
				ActivityLevel: floatPtr(7.5),
			}
			found := detector.Detect(rec)
			Expect(byType(found, anomaly.TypeStressIndicator)).To(BeEmpty())
		})
	})

	Describe("records without metrics", func() {
		It("returns no anomalies for a location-only record", func() {
			rec := &telemetry.TelemetryRecord{
				Timestamp: time.Now().UTC(),
				SensorID:  "collar-1",
				EntityID:  "cow-1",
				Latitude:  floatPtr(48.0),
				Longitude: floatPtr(11.0),
			}
			Expect(detector.Detect(rec)).To(BeEmpty())
		})
	})
})
