// Package telemetry obsahuje datové struktury, které putují celou pipeline:
// od čtení CSV souborů přes MQTT až po uložení do Postgres a websocket klienty.
package telemetry

import "time"

// AccelerometerSample je jeden surový vzorek akcelerometru (bez jednotek, tak jak je v datasetu).
type AccelerometerSample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// GpsSample je poloha vozidla.
type GpsSample struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ParkingSample je počet volných míst na parkovišti a jeho poloha.
type ParkingSample struct {
	EmptyCount float64   `json:"empty_count"`
	Gps        GpsSample `json:"gps"`
}

// AggregatedTelemetry je jedna zpráva na topicu s daty vozidla.
// Vzniká v jednom publish cyklu a po serializaci se zahazuje.
type AggregatedTelemetry struct {
	Accelerometer AccelerometerSample `json:"accelerometer"`
	Gps           GpsSample           `json:"gps"`
	Timestamp     time.Time           `json:"timestamp"` // RFC 3339, vždy UTC
	UserID        int64               `json:"user_id"`
}

// AggregatedParking je zpráva na parkovacím topicu. Nezávislý proud, stejná pravidla.
type AggregatedParking struct {
	Parking   ParkingSample `json:"parking"`
	Timestamp time.Time     `json:"timestamp"`
	UserID    int64         `json:"user_id"`
}

// ValidatedRecord je záznam, který prošel validací na vstupu API.
// Timestamp už je naparsovaný, služba pro ingestion ho nekontroluje.
type ValidatedRecord struct {
	RoadState     string
	Accelerometer AccelerometerSample
	Gps           GpsSample
	Timestamp     time.Time
}

// PersistedRecord odpovídá řádku tabulky processed_agent_data.
// ID přiděluje databáze při insertu.
type PersistedRecord struct {
	ID        int64     `json:"id"`
	RoadState string    `json:"road_state"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// FromValidated sestaví řádek (zatím bez ID) z validovaného záznamu.
func FromValidated(r ValidatedRecord) PersistedRecord {
	return PersistedRecord{
		RoadState: r.RoadState,
		X:         r.Accelerometer.X,
		Y:         r.Accelerometer.Y,
		Z:         r.Accelerometer.Z,
		Latitude:  r.Gps.Latitude,
		Longitude: r.Gps.Longitude,
		Timestamp: r.Timestamp,
	}
}

// AgentData je vnořený objekt v požadavku na ingestion.
// Timestamp zůstává string, parsuje ho až API vrstva.
type AgentData struct {
	Accelerometer AccelerometerSample `json:"accelerometer"`
	Gps           GpsSample           `json:"gps"`
	Timestamp     string              `json:"timestamp"`
}

// ProcessedAgentData je jedna položka pole, které přijímá POST /processed_agent_data/.
// Stejný tvar posílá hub do store.
type ProcessedAgentData struct {
	RoadState string    `json:"road_state"`
	AgentData AgentData `json:"agent_data"`
}
