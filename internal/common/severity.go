package common

import "strings"

// Severity is the canonical severity of a threat record.
type Severity string

const (
	SeverityHigh    Severity = "high"
	SeverityMedium  Severity = "medium"
	SeverityLow     Severity = "low"
	SeverityUnknown Severity = "unknown"
)

// Classify maps a free-form severity label to a Severity. Matching is
// case-insensitive; anything that is not high, medium or low is unknown.
func Classify(label string) Severity {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "high":
		return SeverityHigh
	case "medium":
		return SeverityMedium
	case "low":
		return SeverityLow
	default:
		return SeverityUnknown
	}
}

// Rank is the display ordinal; higher ranks are drawn on top.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Color is a display token shared by the API and the map renderer.
type Color string

const (
	ColorRed   Color = "red"
	ColorAmber Color = "amber"
	ColorGreen Color = "green"
	ColorBlue  Color = "blue"
)

// ColorOf returns the marker color for a severity.
func ColorOf(s Severity) Color {
	switch s {
	case SeverityHigh:
		return ColorRed
	case SeverityMedium:
		return ColorAmber
	case SeverityLow:
		return ColorGreen
	default:
		return ColorBlue
	}
}

// Hex returns the hex value the dashboard paints for c.
func (c Color) Hex() string {
	switch c {
	case ColorRed:
		return "#dc2626"
	case ColorAmber:
		return "#f59e0b"
	case ColorGreen:
		return "#10b981"
	default:
		return "#3b82f6"
	}
}
