// Package health turns raw ring metrics into the natural-language
// context fed to the prompt builder. The narrative is deterministic:
// the same snapshot always renders the same string, with fragments in
// a fixed order.
package health

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Snapshot holds the most recent ring metrics for a session, keyed by
// metric name as delivered by the companion app. Values arrive from
// JSON, so numbers are float64. Unknown keys are ignored by the
// narrative and preserved for callers.
type Snapshot map[string]any

// Narrative sentinel strings for the empty and all-normal cases.
const (
	NarrativeNoData = "No recent health data available from the ring."
	NarrativeNormal = "Health metrics from ring are within normal ranges."
)

// number coerces a JSON-decoded value to float64. Returns false for
// non-numeric values.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// num formats a metric value the way it arrived: integral values
// render without a decimal point.
func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// grouped formats an integral value with comma thousands separators,
// e.g. 8432 renders as "8,432".
func grouped(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	intPart := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	neg := false
	if strings.HasPrefix(intPart, "-") {
		neg = true
		intPart = intPart[1:]
	}
	if len(intPart) > 3 {
		var b strings.Builder
		lead := len(intPart) % 3
		if lead > 0 {
			b.WriteString(intPart[:lead])
		}
		for i := lead; i < len(intPart); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(intPart[i : i+3])
		}
		intPart = b.String()
	}
	if neg {
		intPart = "-" + intPart
	}
	return intPart + frac
}

// first returns the first present, non-zero numeric value among the
// given keys. A zero reading is treated as absent, matching the
// companion app which never reports true zeros for these metrics.
func (s Snapshot) first(keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := s[k]; ok {
			if f, ok := number(v); ok && f != 0 {
				return f, true
			}
		}
	}
	return 0, false
}

// truthy reports whether a key holds a true boolean or non-zero number.
func (s Snapshot) truthy(key string) bool {
	v, ok := s[key]
	if !ok {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	if f, ok := number(v); ok {
		return f != 0
	}
	return false
}

// Narrative renders the snapshot as a short prose summary for the
// prompt. An empty snapshot yields NarrativeNoData; a snapshot whose
// metrics produce no fragments yields NarrativeNormal.
func (s Snapshot) Narrative() string {
	if len(s) == 0 {
		return NarrativeNoData
	}

	var parts []string

	if hr, ok := s.first("heart_rate", "hr"); ok {
		switch {
		case hr > 100:
			parts = append(parts, "Heart rate is elevated at "+num(hr)+" bpm")
		case hr < 60:
			parts = append(parts, "Heart rate is low at "+num(hr)+" bpm")
		default:
			parts = append(parts, "Heart rate is normal at "+num(hr)+" bpm")
		}
	}

	if spo2, ok := s.first("spo2", "oxygen"); ok {
		if spo2 < 95 {
			parts = append(parts, "Oxygen level is concerning at "+num(spo2)+"%")
		} else {
			parts = append(parts, "Oxygen level is good at "+num(spo2)+"%")
		}
	}

	if v, ok := s["sleep_hours"]; ok {
		if sleep, ok := number(v); ok {
			// Between 6 and 7 hours is unremarkable and adds nothing.
			switch {
			case sleep < 6:
				parts = append(parts, "Got only "+num(sleep)+" hours of sleep last night")
			case sleep >= 7:
				parts = append(parts, "Had "+num(sleep)+" hours of restful sleep")
			}
		}
	}

	if v, ok := s["sleep_quality"]; ok {
		if q, ok := number(v); ok {
			parts = append(parts, "Sleep quality score: "+num(q))
		}
	}

	if v, ok := s["steps"]; ok {
		if steps, ok := number(v); ok {
			parts = append(parts, "Walked "+grouped(steps)+" steps today")
		}
	}

	if v, ok := s["hrv"]; ok {
		if hrv, ok := number(v); ok {
			if hrv < 30 {
				parts = append(parts, "HRV indicates high stress ("+num(hrv)+"ms)")
			} else {
				parts = append(parts, "HRV looks healthy ("+num(hrv)+"ms)")
			}
		}
	}

	if s.truthy("fall_detected") {
		parts = append(parts, "ALERT: A fall was recently detected")
	}

	if v, ok := s["apnea_events"]; ok {
		if n, ok := number(v); ok && n > 0 {
			parts = append(parts, "Detected "+num(n)+" breathing pauses during sleep")
		}
	}

	if len(parts) == 0 {
		return NarrativeNormal
	}
	return "Current health data from ring: " + strings.Join(parts, "; ") + "."
}
