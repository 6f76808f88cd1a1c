package types

import (
	"fmt"
	"strings"
)

// Priority orders artifacts for eviction and admission. Higher values are
// more important; Critical artifacts are never evicted automatically. The
// zero value is Normal so descriptors that omit a priority default to it.
type Priority int

const (
	PriorityOptional Priority = iota - 1
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = [...]string{"optional", "normal", "high", "critical"}

func (p Priority) String() string {
	if p < PriorityOptional || p > PriorityCritical {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p-PriorityOptional]
}

// ParsePriority accepts the lower-case names used in catalogs. Empty means normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "optional":
		return PriorityOptional, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Category selects which loader handles an artifact.
type Category string

const (
	CategorySpeech   Category = "speech"
	CategoryLanguage Category = "language"
	CategoryVision   Category = "vision"
	CategoryGesture  Category = "gesture"
)
