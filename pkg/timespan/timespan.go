// Package timespan converts between relative duration tokens such as
// "PT15M" and absolute epoch-second ranges.
package timespan

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrMalformedDuration is returned for tokens outside the (P|PT)<n><unit> grammar.
var ErrMalformedDuration = errors.New("malformed duration")

// Placeholder replaces the magnitude in editable unit tokens, e.g. "PTnM".
const Placeholder = "n"

// DefaultToken is used when a document carries no usable relative time.
const DefaultToken = "PT15M"

// DefaultWindow is the span used to fill a missing absolute start bound.
const DefaultWindow = 15 * time.Minute

var tokenRe = regexp.MustCompile(`^(P|PT)(\d+)([MHDWY])$`)

// unitTokens are offered by views in this order.
var unitTokens = []string{"PTnM", "PTnH", "PnD", "PnW", "PnM", "PnY"}

// Span is an absolute time range in epoch seconds.
type Span struct {
	Start int64
	End   int64
}

// Resolver resolves tokens against an injectable clock.
type Resolver struct {
	Now func() time.Time
}

// NewResolver returns a Resolver using now, or the wall clock when now is nil.
func NewResolver(now func() time.Time) Resolver {
	return Resolver{Now: now}
}

func (r Resolver) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

// Resolve anchors token at the current time: End is now, Start is now minus the duration.
func (r Resolver) Resolve(token string) (Span, error) {
	d, err := Parse(token)
	if err != nil {
		return Span{}, err
	}
	end := r.now()
	return Span{Start: end.Add(-d).Unix(), End: end.Unix()}, nil
}

// ToEditableAbsolute fills missing bounds: end defaults to now and start to end minus 15 minutes.
func (r Resolver) ToEditableAbsolute(start, end *int64) (int64, int64) {
	e := r.now().Unix()
	if end != nil {
		e = *end
	}
	s := e - int64(DefaultWindow/time.Second)
	if start != nil {
		s = *start
	}
	return s, e
}

// Parse returns the duration described by token.
// "PT<n>M" means minutes while "P<n>M" means months of 30 days; years are 365 days.
func Parse(token string) (time.Duration, error) {
	mc := tokenRe.FindStringSubmatch(token)
	if mc == nil {
		return 0, errors.Wrapf(ErrMalformedDuration, "relative time %q", token)
	}
	n, err := strconv.ParseInt(mc[2], 10, 64)
	if err != nil || n <= 0 {
		return 0, errors.Wrapf(ErrMalformedDuration, "relative time %q: magnitude must be positive", token)
	}
	day := 24 * time.Hour
	var unit time.Duration
	switch mc[3] {
	case "M":
		if mc[1] == "PT" {
			unit = time.Minute
		} else {
			unit = 30 * day
		}
	case "H":
		unit = time.Hour
	case "D":
		unit = day
	case "W":
		unit = 7 * day
	case "Y":
		unit = 365 * day
	}
	if n > int64(1<<63-1)/int64(unit) {
		return 0, errors.Wrapf(ErrMalformedDuration, "relative time %q overflows", token)
	}
	return time.Duration(n) * unit, nil
}

// Validate reports whether token can be resolved.
func Validate(token string) error {
	_, err := Parse(token)
	return err
}

// ToEditableRelative splits token into a unit token carrying the placeholder and its magnitude.
// Absent or malformed tokens fall back to 15 minutes.
func ToEditableRelative(token string) (string, int) {
	mc := tokenRe.FindStringSubmatch(token)
	if mc == nil {
		return ToEditableRelative(DefaultToken)
	}
	n, err := strconv.Atoi(mc[2])
	if err != nil || n <= 0 {
		return ToEditableRelative(DefaultToken)
	}
	return mc[1] + Placeholder + mc[3], n
}

// ComposeRelative substitutes magnitude back into a unit token.
func ComposeRelative(unit string, magnitude int) string {
	return strings.Replace(unit, Placeholder, strconv.Itoa(magnitude), 1)
}

// Units lists the editable unit tokens.
func Units() []string {
	out := make([]string, len(unitTokens))
	copy(out, unitTokens)
	return out
}

// UnitLabel is a human readable name for a unit token.
func UnitLabel(unit string) string {
	switch unit {
	case "PTnM":
		return "minutes"
	case "PTnH", "PnH":
		return "hours"
	case "PnD", "PTnD":
		return "days"
	case "PnW", "PTnW":
		return "weeks"
	case "PnM":
		return "months"
	case "PnY", "PTnY":
		return "years"
	}
	return unit
}
