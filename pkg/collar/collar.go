// Package collar generates synthetic livestock collar telemetry for demos
// and end-to-end tests: herd movement inside a paddock, correlated vital
// signs with daily cycles, and scripted excursions that walk an animal
// through the paddock boundary.
package collar

import (
	"math"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/pasturelabs/herdwatch/internal/telemetry"
)

// Behavior states for a simulated animal.
const (
	behaviorGrazing   = "grazing"
	behaviorResting   = "resting"
	behaviorExcursion = "excursion"
	behaviorStressed  = "stressed"
)

// Identity is the gofakeit-populated identity of one simulated collar.
type Identity struct {
	CollarID   string `fake:"{uuid}"`
	EntityName string `fake:"{petname}"`
	Firmware   string `fake:"{appversion}"`
}

// Collar simulates one animal wearing one collar. All generation uses
// math/rand; weak randomness is acceptable for simulation data.
type Collar struct {
	Identity
	EntityID string
	FarmID   string

	// Paddock anchor the animal wanders around.
	centerLat float64
	centerLon float64

	lat float64
	lon float64

	behavior      string
	behaviorTicks int
	// excursionBearing is the walk-out direction while in excursion.
	excursionBearing float64

	baselineHeartRate float64
	baselineTemp      float64
	battery           float64
}

// NewCollar creates a simulated collar anchored to the given paddock center.
func NewCollar(entityID, farmID string, centerLat, centerLon float64) *Collar {
	c := &Collar{
		EntityID:          entityID,
		FarmID:            farmID,
		centerLat:         centerLat,
		centerLon:         centerLon,
		lat:               centerLat + (rand.Float64()-0.5)*0.002, // #nosec G404
		lon:               centerLon + (rand.Float64()-0.5)*0.002, // #nosec G404
		behavior:          behaviorGrazing,
		baselineHeartRate: 60 + rand.Float64()*20, // 60-80 bpm
		baselineTemp:      38.2 + rand.Float64()*0.6,
		battery:           70 + rand.Float64()*30,
	}
	if err := gofakeit.Struct(&c.Identity); err != nil {
		c.Identity = Identity{CollarID: gofakeit.UUID(), EntityName: "unnamed", Firmware: "1.0.0"}
	}
	return c
}

// NewHerd creates n collars for one farm around a shared paddock center.
func NewHerd(n int, farmID string, centerLat, centerLon float64) []*Collar {
	herd := make([]*Collar, 0, n)
	for i := 0; i < n; i++ {
		entityID := gofakeit.FarmAnimal() + "-" + gofakeit.DigitN(4)
		herd = append(herd, NewCollar(entityID, farmID, centerLat, centerLon))
	}
	return herd
}

// Reading produces the next raw event for the collar at time t, advancing the
// animal's position, behavior state and battery.
func (c *Collar) Reading(t time.Time) *telemetry.RawEvent {
	c.step(t)

	heartRate := c.heartRate(t)
	activity := c.activity(t)
	steps := c.stepCount(activity)
	temp := c.temperature(t)
	rumination := c.rumination(activity)

	c.battery -= 0.01 + rand.Float64()*0.01 // #nosec G404
	if c.battery < 5 {
		c.battery = 100 // collar swapped for a charged one
	}

	lat, lon := c.lat, c.lon
	accuracy := 2 + rand.Float64()*10 // #nosec G404
	battery := math.Round(c.battery*10) / 10
	signal := -60 - rand.Float64()*40 // #nosec G404
	quality := 0.8 + rand.Float64()*0.2

	return &telemetry.RawEvent{
		Timestamp:   t.UTC(),
		SensorID:    c.CollarID,
		EntityID:    c.EntityID,
		FarmID:      c.FarmID,
		Latitude:    &lat,
		Longitude:   &lon,
		GPSAccuracy: &accuracy,
		Metrics: telemetry.RawMetrics{
			HeartRate:      &heartRate,
			ActivityLevel:  &activity,
			StepCount:      &steps,
			RuminationTime: &rumination,
		},
		Temperature:      &temp,
		BatteryLevel:     &battery,
		SignalStrength:   &signal,
		DataQualityScore: &quality,
	}
}

// step advances behavior state and position. Excursions walk the animal
// outward on a fixed bearing so it eventually crosses the paddock boundary;
// afterwards it is pulled back toward the center.
func (c *Collar) step(t time.Time) {
	c.behaviorTicks--
	if c.behaviorTicks <= 0 {
		c.transition(t)
	}

	var stepMeters float64
	switch c.behavior {
	case behaviorResting:
		stepMeters = rand.Float64() * 2 // #nosec G404
	case behaviorGrazing:
		stepMeters = 2 + rand.Float64()*8 // #nosec G404
	case behaviorStressed:
		stepMeters = 10 + rand.Float64()*20 // #nosec G404
	case behaviorExcursion:
		stepMeters = 15 + rand.Float64()*15 // #nosec G404
	}

	bearing := rand.Float64() * 2 * math.Pi // #nosec G404
	if c.behavior == behaviorExcursion {
		bearing = c.excursionBearing
	} else {
		// Weak pull back toward the paddock center keeps the herd anchored.
		toCenter := math.Atan2(c.centerLon-c.lon, c.centerLat-c.lat)
		bearing = bearing*0.7 + toCenter*0.3
	}

	// ~111,320 m per degree of latitude.
	dLat := stepMeters * math.Cos(bearing) / 111320
	dLon := stepMeters * math.Sin(bearing) / (111320 * math.Cos(c.lat*math.Pi/180))
	c.lat += dLat
	c.lon += dLon
}

// transition rolls the next behavior. Night favors resting; excursions and
// stress episodes are rare.
func (c *Collar) transition(t time.Time) {
	roll := rand.Float64() // #nosec G404
	hour := t.Hour()
	night := hour >= 22 || hour < 6

	switch {
	case roll < 0.02:
		c.behavior = behaviorExcursion
		c.behaviorTicks = 10 + rand.Intn(10)              // #nosec G404
		c.excursionBearing = rand.Float64() * 2 * math.Pi // #nosec G404
	case roll < 0.05:
		c.behavior = behaviorStressed
		c.behaviorTicks = 5 + rand.Intn(5) // #nosec G404
	case night && roll < 0.7, !night && roll < 0.3:
		c.behavior = behaviorResting
		c.behaviorTicks = 6 + rand.Intn(12) // #nosec G404
	default:
		c.behavior = behaviorGrazing
		c.behaviorTicks = 6 + rand.Intn(12) // #nosec G404
	}
}

// heartRate follows the baseline with a daily cycle, elevated sharply while
// stressed and mildly while on an excursion.
func (c *Collar) heartRate(t time.Time) int {
	hour := float64(t.Hour())
	dailyCycle := 5 * math.Sin((hour-6)*math.Pi/12)
	noise := (rand.Float64() - 0.5) * 6 // #nosec G404

	hr := c.baselineHeartRate + dailyCycle + noise
	switch c.behavior {
	case behaviorStressed:
		hr += 50 + rand.Float64()*20 // #nosec G404
	case behaviorExcursion:
		hr += 15 + rand.Float64()*10 // #nosec G404
	case behaviorResting:
		hr -= 8
	}
	return int(math.Round(hr))
}

// activity on a 0-10 scale, tied to the behavior state.
func (c *Collar) activity(t time.Time) float64 {
	var base float64
	switch c.behavior {
	case behaviorResting:
		base = 0.2 + rand.Float64()*0.6 // #nosec G404
	case behaviorGrazing:
		base = 2.5 + rand.Float64()*2.5 // #nosec G404
	case behaviorStressed:
		base = 6 + rand.Float64()*3 // #nosec G404
	case behaviorExcursion:
		base = 5 + rand.Float64()*3 // #nosec G404
	}
	return math.Round(math.Min(10, base)*100) / 100
}

func (c *Collar) stepCount(activity float64) int {
	return int(activity * (20 + rand.Float64()*30)) // #nosec G404
}

// temperature is tightly regulated; fever spikes are rare.
func (c *Collar) temperature(t time.Time) float64 {
	hour := float64(t.Hour())
	dailyCycle := 0.2 * math.Sin((hour-8)*math.Pi/12)
	noise := (rand.Float64() - 0.5) * 0.2 // #nosec G404

	temp := c.baselineTemp + dailyCycle + noise
	if rand.Float64() < 0.01 { // #nosec G404
		temp += 1.5 + rand.Float64() // fever spike
	}
	return math.Round(temp*100) / 100
}

// rumination drops while active, minutes out of the reporting interval.
func (c *Collar) rumination(activity float64) int {
	base := 8 - activity*0.6
	if base < 0 {
		base = 0
	}
	return int(base + rand.Float64()*2) // #nosec G404
}
