// Package metadata provides the relational herd registry: farms, animals and
// fence definitions, plus the TTL-cached read interface the stream processor
// enriches records with.
package metadata

import (
	"time"
)

// Farm is one farm in the registry.
type Farm struct {
	FarmID    string    `gorm:"uniqueIndex;not null"`
	Name      string    `gorm:"not null"`
	Region    string    `gorm:""`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
	ID        uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for the Farm model.
func (Farm) TableName() string {
	return "farms"
}

// Animal is one tracked entity. AnimalID is the entity id that appears on
// telemetry events.
type Animal struct {
	AnimalID   string    `gorm:"uniqueIndex;not null"`
	FarmID     string    `gorm:"index;not null"`
	EntityType string    `gorm:"not null;default:cattle"`
	Name       string    `gorm:""`
	Species    string    `gorm:""`
	Breed      string    `gorm:""`
	AgeMonths  int       `gorm:""`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
	ID         uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for the Animal model.
func (Animal) TableName() string {
	return "animals"
}

// FenceRecord is the persisted form of a fence configuration. Vertices are
// stored as the JSON array used on the wire; the engine re-validates on load.
type FenceRecord struct {
	FenceID                  string    `gorm:"uniqueIndex;not null"`
	Name                     string    `gorm:""`
	FenceType                string    `gorm:"not null"`
	VerticesJSON             string    `gorm:"column:vertices;type:text;not null"`
	BufferMeters             float64   `gorm:"not null"`
	AlertOnEntry             bool      `gorm:"not null"`
	AlertOnExit              bool      `gorm:"not null"`
	NotificationDelaySeconds int       `gorm:"not null"`
	Active                   bool      `gorm:"index;not null"`
	CreatedAt                time.Time `gorm:"autoCreateTime"`
	UpdatedAt                time.Time `gorm:"autoUpdateTime"`
	ID                       uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for the FenceRecord model.
func (FenceRecord) TableName() string {
	return "fence_configs"
}
