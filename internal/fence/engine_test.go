package fence_test

import (
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pasturelabs/herdwatch/internal/fence"
	"github.com/pasturelabs/herdwatch/internal/geo"
	"github.com/pasturelabs/herdwatch/internal/telemetry"
)

// A roughly 1km x 1km square paddock. Latitude degree is ~111km, so 50m is
// about 0.00045 degrees.
var paddock = []geo.Vertex{
	{Lon: 11.000, Lat: 48.000},
	{Lon: 11.013, Lat: 48.000},
	{Lon: 11.013, Lat: 48.009},
	{Lon: 11.000, Lat: 48.009},
}

func containmentFence(delaySeconds int) *fence.Config {
	return &fence.Config{
		FenceID:                  "fence-north",
		Name:                     "north paddock",
		Vertices:                 paddock,
		Type:                     fence.TypeContainment,
		BufferMeters:             10,
		AlertOnExit:              true,
		NotificationDelaySeconds: delaySeconds,
		Active:                   true,
	}
}

func fix(entity string, lat, lon float64, ts time.Time) fence.AnimalLocation {
	return fence.AnimalLocation{
		EntityID:  entity,
		Timestamp: ts,
		Latitude:  lat,
		Longitude: lon,
	}
}

var _ = Describe("Engine", func() {
	var (
		engine *fence.Engine
		logger *slog.Logger
		base   time.Time
		clock  time.Time
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		engine = fence.NewEngine(logger, fence.NewRegistry(), nil)
		base = time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
		clock = base
		engine.SetClock(func() time.Time { return clock })
	})

	Describe("RegisterFence", func() {
		It("accepts a valid config", func() {
			Expect(engine.RegisterFence(containmentFence(30))).To(Succeed())
		})

		It("rejects fewer than three vertices", func() {
			cfg := containmentFence(30)
			cfg.Vertices = paddock[:2]
			Expect(engine.RegisterFence(cfg)).NotTo(Succeed())
		})

		It("rejects out-of-range coordinates", func() {
			cfg := containmentFence(30)
			cfg.Vertices = []geo.Vertex{
				{Lon: 11.0, Lat: 48.0},
				{Lon: 11.1, Lat: 95.0},
				{Lon: 11.2, Lat: 48.0},
			}
			err := engine.RegisterFence(cfg)
			Expect(err).To(MatchError(ContainSubstring("latitude")))
		})

		It("rejects an unknown fence type", func() {
			cfg := containmentFence(30)
			cfg.Type = "perimeter"
			Expect(engine.RegisterFence(cfg)).NotTo(Succeed())
		})

		It("does not evaluate a rejected fence", func() {
			cfg := containmentFence(30)
			cfg.Type = "perimeter"
			_ = engine.RegisterFence(cfg)
			events := engine.ProcessLocationUpdate(fix("cow-1", 47.9990, 11.0065, base))
			Expect(events).To(BeEmpty())
		})
	})

	Describe("containment violations", func() {
		BeforeEach(func() {
			Expect(engine.RegisterFence(containmentFence(30))).To(Succeed())
		})

		It("emits a critical exit for a fix 50m outside", func() {
			// ~50m south of the southern edge; 50 > 3x the 10m buffer.
			events := engine.ProcessLocationUpdate(fix("cow-1", 47.99955, 11.0065, base))
			Expect(events).To(HaveLen(1))

			ev := events[0]
			Expect(ev.Type).To(Equal(fence.ViolationExit))
			Expect(ev.FenceID).To(Equal("fence-north"))
			Expect(ev.Severity).To(Equal(telemetry.SeverityCritical))
			Expect(ev.DistanceMeters).To(BeNumerically(">", 0))
			Expect(ev.Confidence).To(BeNumerically(">=", 0))
			Expect(ev.Confidence).To(BeNumerically("<=", 1))
		})

		It("does not alert at the centroid", func() {
			lat, lon := geo.Centroid(paddock)
			events := engine.ProcessLocationUpdate(fix("cow-1", lat, lon, base))
			Expect(events).To(BeEmpty())
		})

		It("warns with an approach inside the buffer zone", func() {
			// ~5m inside the southern edge, well within the 10m buffer.
			events := engine.ProcessLocationUpdate(fix("cow-1", 48.000045, 11.0065, base))
			Expect(events).To(HaveLen(1))
			Expect(events[0].Type).To(Equal(fence.ViolationApproach))
			Expect(events[0].Severity).To(Equal(telemetry.SeverityLow))
			Expect(events[0].DistanceMeters).To(BeNumerically("<", 0))
		})

		It("suppresses repeats inside the cooldown and re-alerts after it", func() {
			outside := func(ts time.Time) fence.AnimalLocation {
				return fix("cow-1", 47.99955, 11.0065, ts)
			}

			Expect(engine.ProcessLocationUpdate(outside(base))).To(HaveLen(1))

			clock = base.Add(10 * time.Second)
			Expect(engine.ProcessLocationUpdate(outside(clock))).To(BeEmpty())

			clock = base.Add(31 * time.Second)
			Expect(engine.ProcessLocationUpdate(outside(clock))).To(HaveLen(1))
		})

		It("does not suppress a different entity", func() {
			Expect(engine.ProcessLocationUpdate(fix("cow-1", 47.99955, 11.0065, base))).To(HaveLen(1))
			clock = base.Add(time.Second)
			Expect(engine.ProcessLocationUpdate(fix("cow-2", 47.99955, 11.0065, clock))).To(HaveLen(1))
		})

		It("grades severity by buffer multiples", func() {
			// ~15m outside: beyond 1x the 10m buffer but not 2x.
			events := engine.ProcessLocationUpdate(fix("cow-1", 47.999865, 11.0065, base))
			Expect(events).To(HaveLen(1))
			Expect(events[0].Severity).To(Equal(telemetry.SeverityMedium))

			// ~25m outside on a fresh entity: beyond 2x but not 3x.
			events = engine.ProcessLocationUpdate(fix("cow-3", 47.999775, 11.0065, base))
			Expect(events).To(HaveLen(1))
			Expect(events[0].Severity).To(Equal(telemetry.SeverityHigh))
		})

		It("stays silent without the alert-on-exit flag", func() {
			cfg := containmentFence(30)
			cfg.FenceID = "fence-silent"
			cfg.AlertOnExit = false
			Expect(engine.RegisterFence(cfg)).To(Succeed())
			engine.DeactivateFence("fence-north")

			events := engine.ProcessLocationUpdate(fix("cow-1", 47.99955, 11.0065, base))
			Expect(events).To(BeEmpty())
		})
	})

	Describe("exclusion violations", func() {
		BeforeEach(func() {
			cfg := containmentFence(30)
			cfg.FenceID = "fence-pond"
			cfg.Type = fence.TypeExclusion
			cfg.AlertOnEntry = true
			cfg.AlertOnExit = false
			Expect(engine.RegisterFence(cfg)).To(Succeed())
		})

		It("emits an entry violation for a fix inside", func() {
			events := engine.ProcessLocationUpdate(fix("cow-1", 48.0045, 11.0065, base))
			Expect(events).To(HaveLen(1))
			Expect(events[0].Type).To(Equal(fence.ViolationEntry))
			Expect(events[0].DistanceMeters).To(BeNumerically("<", 0))
		})

		It("warns on approach from outside within the buffer", func() {
			// ~5m south of the boundary, outside the polygon.
			events := engine.ProcessLocationUpdate(fix("cow-1", 47.999955, 11.0065, base))
			Expect(events).To(HaveLen(1))
			Expect(events[0].Type).To(Equal(fence.ViolationApproach))
		})

		It("stays silent well clear of the fence", func() {
			events := engine.ProcessLocationUpdate(fix("cow-1", 47.990, 11.0065, base))
			Expect(events).To(BeEmpty())
		})
	})

	Describe("violation ids", func() {
		It("is deterministic for the same entity, fence and timestamp", func() {
			cfg := containmentFence(0) // no cooldown so the replay also emits
			Expect(engine.RegisterFence(cfg)).To(Succeed())

			loc := fix("cow-1", 47.99955, 11.0065, base)
			first := engine.ProcessLocationUpdate(loc)
			second := engine.ProcessLocationUpdate(loc)

			Expect(first).To(HaveLen(1))
			Expect(second).To(HaveLen(1))
			Expect(first[0].ViolationID).To(Equal(second[0].ViolationID))
		})

		It("differs across timestamps", func() {
			cfg := containmentFence(0)
			Expect(engine.RegisterFence(cfg)).To(Succeed())

			first := engine.ProcessLocationUpdate(fix("cow-1", 47.99955, 11.0065, base))
			second := engine.ProcessLocationUpdate(fix("cow-1", 47.99955, 11.0065, base.Add(time.Second)))
			Expect(first[0].ViolationID).NotTo(Equal(second[0].ViolationID))
		})
	})

	Describe("confidence scoring", func() {
		BeforeEach(func() {
			Expect(engine.RegisterFence(containmentFence(0))).To(Succeed())
		})

		It("starts at the base score with no accuracy or prior fix", func() {
			events := engine.ProcessLocationUpdate(fix("cow-1", 47.99955, 11.0065, base))
			Expect(events).To(HaveLen(1))
			Expect(events[0].Confidence).To(BeNumerically("~", 0.5, 1e-9))
		})

		It("adds the accuracy bonus for a tight GPS fix", func() {
			loc := fix("cow-1", 47.99955, 11.0065, base)
			acc := 4.0
			loc.AccuracyMeters = &acc
			events := engine.ProcessLocationUpdate(loc)
			Expect(events).To(HaveLen(1))
			Expect(events[0].Confidence).To(BeNumerically("~", 0.8, 1e-9))
		})

		It("adds the speed bonus for a plausible walk from the previous fix", func() {
			engine.ProcessLocationUpdate(fix("cow-1", 48.0045, 11.0065, base))
			// ~560m in 10 minutes is well under 25 km/h.
			events := engine.ProcessLocationUpdate(fix("cow-1", 47.99955, 11.0065, base.Add(10*time.Minute)))
			Expect(events).To(HaveLen(1))
			Expect(events[0].Confidence).To(BeNumerically("~", 0.7, 1e-9))
		})

		It("adds the proximity bonus near the boundary", func() {
			// ~12m outside: exit, no proximity tier... then ~8m outside gets +0.1.
			events := engine.ProcessLocationUpdate(fix("cow-1", 47.999928, 11.0065, base))
			Expect(events).To(HaveLen(1))
			Expect(events[0].Confidence).To(BeNumerically("~", 0.6, 1e-9))
		})
	})

	Describe("status projections", func() {
		BeforeEach(func() {
			Expect(engine.RegisterFence(containmentFence(30))).To(Succeed())
		})

		It("reports fence status", func() {
			st, ok := engine.FenceStatus("fence-north")
			Expect(ok).To(BeTrue())
			Expect(st.Type).To(Equal(fence.TypeContainment))
			Expect(st.VertexCount).To(Equal(4))
			Expect(st.Active).To(BeTrue())
			Expect(st.CentroidLat).To(BeNumerically("~", 48.0045, 1e-6))
		})

		It("reports false for an unknown fence", func() {
			_, ok := engine.FenceStatus("fence-unknown")
			Expect(ok).To(BeFalse())
		})

		It("reports animal status with per-fence state", func() {
			engine.ProcessLocationUpdate(fix("cow-1", 48.0045, 11.0065, base))
			st, ok := engine.AnimalStatus("cow-1")
			Expect(ok).To(BeTrue())
			Expect(st.HistoryLen).To(Equal(1))
			Expect(st.Fences).To(HaveLen(1))
			Expect(st.Fences[0].Inside).To(BeTrue())
			Expect(st.Fences[0].DistanceMeters).To(BeNumerically("<", 0))
		})

		It("reports false for an untracked entity", func() {
			_, ok := engine.AnimalStatus("cow-unknown")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("location history retention", func() {
		It("prunes fixes older than 24 hours", func() {
			engine.ProcessLocationUpdate(fix("cow-1", 48.0045, 11.0065, base.Add(-25*time.Hour)))
			engine.ProcessLocationUpdate(fix("cow-1", 48.0045, 11.0065, base.Add(-23*time.Hour)))
			engine.ProcessLocationUpdate(fix("cow-1", 48.0045, 11.0065, base))

			st, ok := engine.AnimalStatus("cow-1")
			Expect(ok).To(BeTrue())
			Expect(st.HistoryLen).To(Equal(2))
		})
	})

	Describe("deactivation", func() {
		It("stops evaluating a deactivated fence without forgetting it", func() {
			Expect(engine.RegisterFence(containmentFence(30))).To(Succeed())
			engine.DeactivateFence("fence-north")

			events := engine.ProcessLocationUpdate(fix("cow-1", 47.99955, 11.0065, base))
			Expect(events).To(BeEmpty())

			st, ok := engine.FenceStatus("fence-north")
			Expect(ok).To(BeTrue())
			Expect(st.Active).To(BeFalse())
		})
	})
})
