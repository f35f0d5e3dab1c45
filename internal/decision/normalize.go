package decision

import (
	"math"
	"strconv"
	"strings"

	"github.com/ShayCichocki/choicesim/pkg/models"
)

const (
	defaultConfidence = 0.5
	defaultReason     = "No reason provided"
)

// Normalize validates and repairs a raw decision. It performs no I/O.
func Normalize(d models.Decision) models.NormalizedDecision {
	out := models.NormalizedDecision{
		ChosenAlternativeID: models.NoChoice,
		Reason:              strings.TrimSpace(d.Reason),
		Confidence:          clamp01(parseConfidence(d.Confidence)),
		ReasonCodes:         []string{},
		Error:               d.Error,
	}

	if d.ChosenAlternativeID != nil {
		if id := strings.TrimSpace(*d.ChosenAlternativeID); id != "" {
			out.ChosenAlternativeID = id
		}
	}
	if out.Reason == "" {
		out.Reason = defaultReason
	}
	for _, rc := range d.ReasonCodes {
		if s, ok := rc.(string); ok {
			out.ReasonCodes = append(out.ReasonCodes, s)
		}
	}
	return out
}

// parseConfidence converts the untrusted confidence value to a float,
// falling back to 0.5 when it is missing or not a number.
func parseConfidence(v any) float64 {
	var f float64
	switch c := v.(type) {
	case float64:
		f = c
	case float32:
		f = float64(c)
	case int:
		f = float64(c)
	case int64:
		f = float64(c)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
		if err != nil {
			return defaultConfidence
		}
		f = parsed
	default:
		return defaultConfidence
	}
	if math.IsNaN(f) {
		return defaultConfidence
	}
	return f
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
