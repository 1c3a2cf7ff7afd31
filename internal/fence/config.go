package fence

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/pasturelabs/herdwatch/internal/geo"
)

// Fence types. A containment fence is a boundary the animal should stay
// inside; an exclusion fence one it should stay outside.
const (
	TypeContainment = "containment"
	TypeExclusion   = "exclusion"
)

// Feed actions accepted on the fence-config control queue.
const (
	FeedActionUpsert     = "upsert"
	FeedActionDeactivate = "deactivate"
)

var validate = validator.New()

// Config is a named polygon boundary. Registered configs are owned read-only
// by the engine; updates arrive as whole replacement configs.
type Config struct {
	FenceID      string       `json:"fence_id"      validate:"required"`
	Name         string       `json:"name"`
	Vertices     []geo.Vertex `json:"vertices"      validate:"required,min=3"`
	Type         string       `json:"fence_type"    validate:"required,oneof=containment exclusion"`
	BufferMeters float64      `json:"buffer_meters" validate:"gte=0"`
	AlertOnEntry bool         `json:"alert_on_entry"`
	AlertOnExit  bool         `json:"alert_on_exit"`
	// NotificationDelaySeconds is the cooldown between repeat alerts for the
	// same (entity, fence) pair.
	NotificationDelaySeconds int  `json:"notification_delay_seconds" validate:"gte=0"`
	Active                   bool `json:"active"`
}

// Validate checks the config invariants: at least three vertices, every
// vertex inside WGS84 ranges, a known fence type. Invalid configs are
// rejected whole at registration time, never partially applied.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid fence config: %w", err)
	}
	for i, v := range c.Vertices {
		if v.Lat < -90 || v.Lat > 90 {
			return fmt.Errorf("invalid fence config: vertex %d latitude %.4f outside [-90, 90]", i, v.Lat)
		}
		if v.Lon < -180 || v.Lon > 180 {
			return fmt.Errorf("invalid fence config: vertex %d longitude %.4f outside [-180, 180]", i, v.Lon)
		}
	}
	return nil
}

// FeedMessage is one message on the fence-config control queue. Upserts carry
// a full Config; deactivations only need the fence id.
type FeedMessage struct {
	Action string  `json:"action"`
	Fence  *Config `json:"fence,omitempty"`
	// FenceID is used by deactivate messages.
	FenceID string `json:"fence_id,omitempty"`
}
