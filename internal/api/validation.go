package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"road-telemetry/internal/telemetry"
)

// itemSchema popisuje jednu položku ProcessedAgentData.
// Navíc posílaná pole (např. user_id z MQTT zprávy) nevadí.
const itemSchema = `{
	"type": "object",
	"required": ["road_state", "agent_data"],
	"properties": {
		"road_state": {"type": "string", "minLength": 1},
		"agent_data": {
			"type": "object",
			"required": ["accelerometer", "gps", "timestamp"],
			"properties": {
				"accelerometer": {
					"type": "object",
					"required": ["x", "y", "z"],
					"properties": {
						"x": {"type": "number"},
						"y": {"type": "number"},
						"z": {"type": "number"}
					}
				},
				"gps": {
					"type": "object",
					"required": ["latitude", "longitude"],
					"properties": {
						"latitude": {"type": "number"},
						"longitude": {"type": "number"}
					}
				},
				"timestamp": {"type": "string", "minLength": 1}
			}
		}
	}
}`

var (
	itemValidator  = mustSchema(itemSchema)
	batchValidator = mustSchema(`{"type": "array", "items": ` + itemSchema + `}`)
)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("neplatné JSON schéma: %v", err))
	}
	return s
}

// Formáty timestampu: ISO-8601 s oddělovačem "T" nebo mezerou, s přesností na minuty
// i zlomky sekund, offset rozšířený (+02:00) nebo základní (+0200). Bez zóny = UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04-0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-0700",
	"2006-01-02 15:04Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	time.DateOnly,
}

// ParseTimestamp naparsuje ISO-8601 timestamp a vrátí ho v UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: timestamp %q není ISO-8601", ErrValidation, s)
}

// DecodeBatch zvaliduje tělo POST požadavku a převede ho na záznamy pro ingestion.
func DecodeBatch(body []byte) ([]telemetry.ValidatedRecord, error) {
	if err := validate(batchValidator, body); err != nil {
		return nil, err
	}

	var items []telemetry.ProcessedAgentData
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	out := make([]telemetry.ValidatedRecord, 0, len(items))
	for i, item := range items {
		rec, err := toValidated(item)
		if err != nil {
			return nil, fmt.Errorf("položka %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// DecodeItem zvaliduje jednu položku (tělo PUT).
func DecodeItem(body []byte) (telemetry.ValidatedRecord, error) {
	if err := validate(itemValidator, body); err != nil {
		return telemetry.ValidatedRecord{}, err
	}

	var item telemetry.ProcessedAgentData
	if err := json.Unmarshal(body, &item); err != nil {
		return telemetry.ValidatedRecord{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return toValidated(item)
}

func validate(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		// Tělo není vůbec JSON.
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
}

func toValidated(item telemetry.ProcessedAgentData) (telemetry.ValidatedRecord, error) {
	ts, err := ParseTimestamp(item.AgentData.Timestamp)
	if err != nil {
		return telemetry.ValidatedRecord{}, err
	}
	return telemetry.ValidatedRecord{
		RoadState:     item.RoadState,
		Accelerometer: item.AgentData.Accelerometer,
		Gps:           item.AgentData.Gps,
		Timestamp:     ts,
	}, nil
}
