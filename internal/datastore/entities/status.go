// Package entities defines the GORM models of the vocabstats record store.
package entities

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
)

// Learning-progress levels. Every computed aggregate carries all of them.
const (
	MinStatus = 1
	MaxStatus = 7
)

// StatusValue is the stored status of a word. The canonical form is the decimal
// string of a level in MinStatus..MaxStatus; unmigrated rows hold a legacy tag.
type StatusValue string

// NumericStatus returns the canonical StatusValue for level.
func NumericStatus(level int) StatusValue {
	return StatusValue(strconv.Itoa(level))
}

// NormalizeStatus trims raw and rewrites any decimal form of a number, such
// as "03" or "+3", as its canonical string. Other values are kept as given.
func NormalizeStatus(raw string) StatusValue {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		return NumericStatus(n)
	}
	return StatusValue(raw)
}

// IsNumeric reports whether the value is a number in canonical form.
// Non-canonical forms are not numeric, so the learner tally and the
// exact-match analysis counts agree on every stored value.
func (s StatusValue) IsNumeric() bool {
	n, err := strconv.Atoi(string(s))
	return err == nil && NumericStatus(n) == s
}

// Level returns the numeric level and whether the value is canonical and
// lies in MinStatus..MaxStatus.
func (s StatusValue) Level() (int, bool) {
	if !s.IsNumeric() {
		return 0, false
	}
	n, _ := strconv.Atoi(string(s))
	if !ValidLevel(n) {
		return 0, false
	}
	return n, true
}

// ValidLevel reports whether level is in MinStatus..MaxStatus.
func ValidLevel(level int) bool {
	return level >= MinStatus && level <= MaxStatus
}

// StatusCounts maps each level to the number of words holding it.
// It is stored as a JSON object; a nil map is stored as NULL.
type StatusCounts map[int]int64

// NewStatusCounts returns counts with every level present and zero.
func NewStatusCounts() StatusCounts {
	c := make(StatusCounts, MaxStatus)
	for level := MinStatus; level <= MaxStatus; level++ {
		c[level] = 0
	}
	return c
}

// Total returns the sum over all levels.
func (c StatusCounts) Total() int64 {
	var total int64
	for _, n := range c {
		total += n
	}
	return total
}

// Normalize returns a copy carrying all seven levels, dropping anything outside the range.
func (c StatusCounts) Normalize() StatusCounts {
	out := NewStatusCounts()
	for level, n := range c {
		if ValidLevel(level) {
			out[level] = n
		}
	}
	return out
}

// Clone returns an independent copy.
func (c StatusCounts) Clone() StatusCounts {
	if c == nil {
		return nil
	}
	return maps.Clone(c)
}

// Transition moves one word from oldLevel to newLevel. The old bucket never drops below zero.
func (c StatusCounts) Transition(oldLevel, newLevel int) {
	if c[oldLevel] > 0 {
		c[oldLevel]--
	} else {
		c[oldLevel] = 0
	}
	c[newLevel]++
}

// Value implements driver.Valuer.
func (c StatusCounts) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	b, err := json.Marshal(map[int]int64(c))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (c *StatusCounts) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*c = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported status counts type %T", value)
	}

	if len(raw) == 0 || string(raw) == "null" {
		*c = nil
		return nil
	}

	decoded := map[int]int64{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("failed to decode status counts: %w", err)
	}
	*c = StatusCounts(decoded)
	return nil
}
