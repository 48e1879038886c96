// Package edge je most mezi MQTT a telemetry-store: přijímá zprávy vozidel,
// určí stav vozovky, skládá dávky a posílá je přes HTTP do store.
package edge

import (
	"math"

	"road-telemetry/internal/telemetry"
)

// Stavy vozovky.
const (
	RoadNormal  = "normal"
	RoadBump    = "bump"
	RoadPothole = "pothole"
)

// Classifier určí stav vozovky z odchylky osy z od klidové hodnoty.
type Classifier struct {
	Baseline         float64
	BumpThreshold    float64
	PotholeThreshold float64
}

// Classify vrací "pothole", "bump" nebo "normal". Hranice patří k vyššímu stavu.
func (c Classifier) Classify(a telemetry.AccelerometerSample) string {
	dev := math.Abs(a.Z - c.Baseline)
	switch {
	case dev >= c.PotholeThreshold:
		return RoadPothole
	case dev >= c.BumpThreshold:
		return RoadBump
	default:
		return RoadNormal
	}
}
