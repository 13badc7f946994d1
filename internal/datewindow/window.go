// Package datewindow computes search windows around a worklist reference
// time, e.g. "2017-03-01 12:00" with a delta of "-1d".
package datewindow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/custodia-labs/dixelkit/internal/core/domain"
)

var deltaPattern = regexp.MustCompile(`^([+-])(\d+)([smhdw])$`)

// layouts are tried in order before falling back to natural language.
var layouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006",
	"20060102150405",
	"20060102",
}

// Window is a closed time interval.
type Window struct {
	Earliest time.Time
	Latest   time.Time
}

// Parser resolves reference times relative to a clock.
type Parser struct {
	now  func() time.Time
	nlp  *when.Parser
	zone *time.Location
}

// NewParser creates a Parser. A nil now defaults to time.Now.
func NewParser(now func() time.Time) *Parser {
	if now == nil {
		now = time.Now
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Parser{now: now, nlp: w, zone: time.Local}
}

// ParseDelta parses "+/-N[s|m|h|d|w]".
func ParseDelta(s string) (time.Duration, error) {
	m := deltaPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("%w: delta %q must look like -1d or +12h", domain.ErrInvalidInput, s)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, fmt.Errorf("%w: delta %q: %v", domain.ErrInvalidInput, s, err)
	}

	var unit time.Duration
	switch m[3] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	case "w":
		unit = 7 * 24 * time.Hour
	}

	d := time.Duration(n) * unit
	if m[1] == "-" {
		d = -d
	}
	return d, nil
}

// ParseTime parses a reference time using known layouts, then natural
// language ("now", "yesterday 3pm") relative to the parser's clock.
func (p *Parser) ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty reference time", domain.ErrInvalidInput)
	}
	if strings.EqualFold(s, "now") {
		return p.now(), nil
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, p.zone); err == nil {
			return t, nil
		}
	}

	r, err := p.nlp.Parse(s, p.now())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: reference time %q: %v", domain.ErrInvalidInput, s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("%w: unrecognised reference time %q", domain.ErrInvalidInput, s)
	}
	return r.Time, nil
}

// Around returns ref+delta .. ref+delta2. With no delta2 the window is
// symmetric: a delta of "-1d" yields ref-1d .. ref+1d. The bounds are
// ordered so Earliest never follows Latest.
func (p *Parser) Around(ref, delta string, delta2 ...string) (Window, error) {
	t, err := p.ParseTime(ref)
	if err != nil {
		return Window{}, err
	}
	d1, err := ParseDelta(delta)
	if err != nil {
		return Window{}, err
	}
	d2 := -d1
	if len(delta2) > 0 && delta2[0] != "" {
		if d2, err = ParseDelta(delta2[0]); err != nil {
			return Window{}, err
		}
	}

	w := Window{Earliest: t.Add(d1), Latest: t.Add(d2)}
	if w.Latest.Before(w.Earliest) {
		w.Earliest, w.Latest = w.Latest, w.Earliest
	}
	return w, nil
}
