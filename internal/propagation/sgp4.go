package propagation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/trackgo/internal/tle"
	"github.com/star/trackgo/internal/transform"
)

// SGP4 library: github.com/joshuaferrara/go-satellite.
//
// Propagate takes the Satellite by value and only whole seconds, so SGP4
// error codes never reach the caller. Failures are detected from the output
// (non-finite or implausible radius). The parser calls log.Fatal on bad
// numeric fields, so every field it reads is checked first in Validate.

// ErrInvalidElementSet is returned for element sets the SGP4 model cannot
// be initialised from.
var ErrInvalidElementSet = errors.New("invalid element set")

// Model is an initialised SGP4 model for one element set.
type Model struct {
	sat   satellite.Satellite
	satID int
}

// NewModel validates set and initialises the SGP4 model.
func NewModel(set tle.ElementSet) (*Model, error) {
	if err := Validate(set); err != nil {
		return nil, err
	}
	sat := satellite.TLEToSat(set.Line1, set.Line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("%w: sgp4 init for %d: code=%d %s", ErrInvalidElementSet, set.SatID, sat.Error, sat.ErrorStr)
	}
	return &Model{sat: sat, satID: set.SatID}, nil
}

// Validate checks the element set's structure and every numeric field the
// SGP4 parser reads.
func Validate(set tle.ElementSet) error {
	if _, err := tle.ParseElementSet(set.Name, set.Line1, set.Line2); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidElementSet, err)
	}
	l1, l2 := set.Line1, set.Line2

	fields := []struct {
		name string
		text string
	}{
		{"mean motion derivative", strip(l1[33:43])},
		{"mean motion second derivative", strip(l1[44:45] + "." + l1[45:50] + "e" + l1[50:52])},
		{"bstar", strip(l1[53:54] + "." + l1[54:59] + "e" + l1[59:61])},
		{"inclination", strip(l2[8:16])},
		{"right ascension", strip(l2[17:25])},
		{"eccentricity", "." + l2[26:33]},
		{"argument of perigee", strip(l2[34:42])},
		{"mean anomaly", strip(l2[43:51])},
		{"mean motion", strip(l2[52:63])},
	}
	for _, f := range fields {
		if _, err := strconv.ParseFloat(f.text, 64); err != nil {
			return fmt.Errorf("%w: satellite %d: %s %q", ErrInvalidElementSet, set.SatID, f.name, f.text)
		}
	}

	if n, _ := strconv.ParseFloat(strip(l2[52:63]), 64); n <= 0 {
		return fmt.Errorf("%w: satellite %d: mean motion %v must be positive", ErrInvalidElementSet, set.SatID, n)
	}
	return nil
}

// strip mirrors the parser's space removal for signed fields.
func strip(s string) string {
	return strings.Replace(s, " ", "", 2)
}

// SatID returns the catalog number the model was built from.
func (m *Model) SatID() int { return m.satID }

// StateAt propagates to t truncated to the whole second.
func (m *Model) StateAt(t time.Time) (transform.StateTEME, error) {
	t = t.UTC()
	pos, vel := satellite.Propagate(m.sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

	s := transform.StateTEME{
		Position: r3.Vec{X: pos.X, Y: pos.Y, Z: pos.Z},
		Velocity: r3.Vec{X: vel.X, Y: vel.Y, Z: vel.Z},
	}
	// Plausible works in meters.
	if !transform.Plausible(transform.StateECEF{Position: r3.Scale(1000, s.Position)}) {
		return transform.StateTEME{}, fmt.Errorf("sgp4 propagation failed for %d at %s: position %v km", m.satID, t.Format(time.RFC3339), s.Position)
	}
	return s, nil
}
