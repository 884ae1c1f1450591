package application

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	catalog "factory-telemetry/internal/catalog/domain"
)

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
const epochMillisThreshold = 1e11

// Payload is a validated telemetry message body.
type Payload struct {
	// Values holds the numeric metrics; string metrics are discovered but not evaluated.
	Values map[string]float64
	Kinds  map[string]catalog.ValueKind
	// Snapshot is the metrics object exactly as received.
	Snapshot  json.RawMessage
	Timestamp time.Time
}

// HasTimestamp reports whether the message carried its own timestamp.
func (p *Payload) HasTimestamp() bool {
	return p != nil && !p.Timestamp.IsZero()
}

type rawPayload struct {
	Metrics   json.RawMessage `json:"metrics"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// ParsePayload validates {"metrics": {key: number|string}, "timestamp"?: RFC3339 | epoch}.
func ParsePayload(data []byte) (*Payload, error) {
	var raw rawPayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	metricsRaw := bytes.TrimSpace(raw.Metrics)
	if len(metricsRaw) == 0 || metricsRaw[0] != '{' {
		return nil, fmt.Errorf("%w: metrics must be an object", ErrMalformedPayload)
	}

	decoder := json.NewDecoder(bytes.NewReader(metricsRaw))
	decoder.UseNumber()
	var fields map[string]interface{}
	if err := decoder.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: metrics: %v", ErrMalformedPayload, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: metrics is empty", ErrMalformedPayload)
	}

	payload := &Payload{
		Values:   make(map[string]float64, len(fields)),
		Kinds:    make(map[string]catalog.ValueKind, len(fields)),
		Snapshot: append(json.RawMessage(nil), metricsRaw...),
	}
	for key, value := range fields {
		if strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("%w: empty metric key", ErrMalformedPayload)
		}
		switch v := value.(type) {
		case json.Number:
			f, err := v.Float64()
			if err != nil || math.IsInf(f, 0) {
				return nil, fmt.Errorf("%w: metric %q: value out of range", ErrMalformedPayload, key)
			}
			payload.Values[key] = f
			payload.Kinds[key] = numberKind(v)
		case string:
			payload.Kinds[key] = catalog.KindString
		default:
			return nil, fmt.Errorf("%w: metric %q must be a number or string", ErrMalformedPayload, key)
		}
	}

	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return nil, err
	}
	payload.Timestamp = ts
	return payload, nil
}

func numberKind(n json.Number) catalog.ValueKind {
	if strings.ContainsAny(n.String(), ".eE") {
		return catalog.KindFloat
	}
	if _, err := n.Int64(); err != nil {
		return catalog.KindFloat
	}
	return catalog.KindInt
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedPayload, err)
		}
		ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(text))
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp must be RFC3339: %v", ErrMalformedPayload, err)
		}
		return ts.UTC(), nil
	}
	epoch, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || epoch <= 0 || math.IsInf(epoch, 0) {
		return time.Time{}, fmt.Errorf("%w: timestamp must be RFC3339 or a positive epoch", ErrMalformedPayload)
	}
	if epoch >= epochMillisThreshold {
		return time.UnixMilli(int64(epoch)).UTC(), nil
	}
	sec, frac := math.Modf(epoch)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(), nil
}
