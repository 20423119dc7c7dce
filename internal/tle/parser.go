package tle

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// LineLength is the fixed width of both element lines.
const LineLength = 69

// ErrMalformed is wrapped by every validation failure in this package.
var ErrMalformed = errors.New("malformed element set")

// Parse reads 2-line or 3-line NORAD element sets from r.
// Malformed entries are skipped with a warning log; checksum mismatches
// are logged but the entry is kept, since many published sets carry stale
// checksums after hand editing.
func Parse(r io.Reader, logger *slog.Logger) ([]ElementSet, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading element sets: %w", err)
	}

	var sets []ElementSet
	for i := 0; i < len(lines); {
		var name, line1, line2 string
		switch {
		case strings.HasPrefix(lines[i], "1 ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "2 "):
			line1, line2 = lines[i], lines[i+1]
			i += 2
		case i+2 < len(lines) && strings.HasPrefix(lines[i+1], "1 ") && strings.HasPrefix(lines[i+2], "2 "):
			name, line1, line2 = lines[i], lines[i+1], lines[i+2]
			i += 3
		default:
			logger.Warn("skipping malformed element set line", "line_index", i, "line", lines[i])
			i++
			continue
		}

		set, err := ParseElementSet(name, line1, line2)
		if err != nil {
			logger.Warn("skipping element set", "name", strings.TrimSpace(name), "error", err)
			continue
		}
		for n, l := range []string{set.Line1, set.Line2} {
			if err := VerifyChecksum(l); err != nil {
				logger.Warn("element set checksum mismatch", "sat_id", set.SatID, "line", n+1, "error", err)
			}
		}
		sets = append(sets, set)
	}

	return sets, nil
}

// ParseElementSet validates the two element lines and builds an ElementSet.
// Validation covers line width, line numbers, matching catalog numbers and
// the epoch field.
func ParseElementSet(name, line1, line2 string) (ElementSet, error) {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != LineLength {
		return ElementSet{}, fmt.Errorf("%w: line1 length %d, expected %d", ErrMalformed, len(line1), LineLength)
	}
	if len(line2) != LineLength {
		return ElementSet{}, fmt.Errorf("%w: line2 length %d, expected %d", ErrMalformed, len(line2), LineLength)
	}
	if line1[0] != '1' {
		return ElementSet{}, fmt.Errorf("%w: line1 must start with '1', got '%c'", ErrMalformed, line1[0])
	}
	if line2[0] != '2' {
		return ElementSet{}, fmt.Errorf("%w: line2 must start with '2', got '%c'", ErrMalformed, line2[0])
	}

	idStr := strings.TrimSpace(line1[2:7])
	satID, err := strconv.Atoi(idStr)
	if err != nil {
		return ElementSet{}, fmt.Errorf("%w: invalid catalog number %q", ErrMalformed, idStr)
	}
	if id2 := strings.TrimSpace(line2[2:7]); id2 != idStr {
		return ElementSet{}, fmt.Errorf("%w: catalog number mismatch %q vs %q", ErrMalformed, idStr, id2)
	}

	epochStr := strings.TrimSpace(line1[18:32])
	epoch, err := parseEpoch(epochStr)
	if err != nil {
		return ElementSet{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return ElementSet{
		SatID: satID,
		Name:  strings.TrimSpace(name),
		Epoch: epoch,
		Line1: line1,
		Line2: line2,
	}, nil
}

// VerifyChecksum checks the modulo-10 checksum in column 69.
// Digits count their value, '-' counts one, everything else zero.
func VerifyChecksum(line string) error {
	if len(line) != LineLength {
		return fmt.Errorf("%w: line length %d", ErrMalformed, len(line))
	}
	sum := 0
	for _, c := range line[:LineLength-1] {
		switch {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	want := line[LineLength-1]
	if want < '0' || want > '9' {
		return fmt.Errorf("%w: checksum column %q is not a digit", ErrMalformed, want)
	}
	if got := byte('0' + sum%10); got != want {
		return fmt.Errorf("%w: checksum %c, computed %c", ErrMalformed, want, got)
	}
	return nil
}

// parseEpoch converts an epoch string in YYDDD.DDDDDDDD format to time.Time.
// Year 00-56 → 2000s, 57-99 → 1900s.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}

	yearStr := s[:2]
	dayStr := s[2:]

	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year %q: %w", yearStr, err)
	}

	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(dayStr, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", dayStr, err)
	}
	if dayOfYear < 1 || dayOfYear >= 367 {
		return time.Time{}, fmt.Errorf("epoch day %v out of range", dayOfYear)
	}

	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	// dayOfYear is 1-based: day 1 = Jan 1.
	return t.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour))), nil
}
