// Package stage classifies messages into the five stages of the grief model.
package stage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Stage is one of the five grief-model phases.
type Stage string

const (
	Denial     Stage = "denial"
	Anger      Stage = "anger"
	Bargaining Stage = "bargaining"
	Depression Stage = "depression"
	Acceptance Stage = "acceptance"
)

// Count is the number of stages.
const Count = 5

// All lists the stages in canonical order. Index positions are stable and
// are used by the fixed-size count and density arrays.
var All = [Count]Stage{Denial, Anger, Bargaining, Depression, Acceptance}

var labels = [Count]string{"否认", "愤怒", "讨价还价", "抑郁", "接受"}

// UnknownLabel is displayed when no stage has been detected yet.
const UnknownLabel = "未知"

// Index returns the canonical position of s, or -1 for an unknown stage.
func (s Stage) Index() int {
	for i, st := range All {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the five stages.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// Label returns the display label for s.
func (s Stage) Label() string {
	if i := s.Index(); i >= 0 {
		return labels[i]
	}
	return UnknownLabel
}

// Parse converts a stage name into a Stage.
func Parse(name string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(name)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown stage %q", name)
	}
	return s, nil
}

// Densities holds one keyword density per stage, indexed canonically.
type Densities [Count]float64

// Get returns the density for s, or 0 for an unknown stage.
func (d Densities) Get(s Stage) float64 {
	if i := s.Index(); i >= 0 {
		return d[i]
	}
	return 0
}

// Map returns the densities keyed by stage. All five keys are always present.
func (d Densities) Map() map[Stage]float64 {
	m := make(map[Stage]float64, Count)
	for i, s := range All {
		m[s] = d[i]
	}
	return m
}

func (d Densities) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Map())
}

func (d *Densities) UnmarshalJSON(data []byte) error {
	var m map[Stage]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*d = Densities{}
	for s, v := range m {
		if i := s.Index(); i >= 0 {
			d[i] = v
		}
	}
	return nil
}
