package tle

import (
	"strconv"
	"time"
)

// ElementSet is one satellite's two-line element set.
// It is immutable once ingested; updates replace it wholesale.
type ElementSet struct {
	SatID int
	Name  string
	Epoch time.Time
	Line1 string
	Line2 string
}

// Label returns the name when present, otherwise the catalog number.
func (e ElementSet) Label() string {
	if e.Name != "" {
		return e.Name
	}
	return "SAT-" + strconv.Itoa(e.SatID)
}
