// Package temporal extracts date ranges from natural-language references such as
// "yesterday", "last month", "between March and May" or "summer 2023".
//
// Rules are tried in a fixed order and the first one that yields a range wins:
//
//   - yesterday / today / tomorrow
//   - last|past|next N days/weeks/months/years
//   - N days/weeks/months/years ago
//   - last|past|this|next week/month/year/season/<season name>
//   - between X and Y, since X, before X, after X
//   - explicit dates (2024-05-10, 05/10/2024, 5/10, May 10 2024, 10 May)
//   - month names, season names, explicit years
//
// Explicit dates are tried before month and year names because an ISO date
// also contains a bare year.
package temporal

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateRange is a day-aligned time window. A zero From or To leaves that side open.
type DateRange struct {
	From time.Time `json:"date_from,omitempty"`
	To   time.Time `json:"date_to,omitempty"`
}

// Contains reports whether t falls inside the range, bounds included.
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// IsZero reports whether neither bound is set.
func (r DateRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Parser resolves expressions relative to the instant it was built with.
// The reference "now" never moves; build a new Parser when "today" must be live.
type Parser struct {
	now   time.Time
	rules []rule
}

type rule struct {
	name   string
	re     *regexp.Regexp
	handle func(m []string) *DateRange
}

const (
	numberPattern = `(\d+|an?|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve)`
	unitPattern   = `(days?|weeks?|months?|years?)`
	seasonPattern = `(spring|summer|fall|autumn|winter)`
	endOfPhrase   = `(?:[?!;]|\.(?:\s|$)|$)`
)

var monthNames = []struct {
	name  string
	month time.Month
}{
	{"january", time.January}, {"february", time.February}, {"march", time.March},
	{"april", time.April}, {"may", time.May}, {"june", time.June},
	{"july", time.July}, {"august", time.August}, {"september", time.September},
	{"october", time.October}, {"november", time.November}, {"december", time.December},
	{"sept", time.September}, {"jan", time.January}, {"feb", time.February},
	{"mar", time.March}, {"apr", time.April}, {"jun", time.June}, {"jul", time.July},
	{"aug", time.August}, {"sep", time.September}, {"oct", time.October},
	{"nov", time.November}, {"dec", time.December},
}

var monthPattern = func() string {
	names := make([]string, 0, len(monthNames))
	for _, m := range monthNames {
		names = append(names, m.name)
	}
	return "(" + strings.Join(names, "|") + ")"
}()

var (
	reRelativeDay  = regexp.MustCompile(`\b(yesterday|today|tomorrow)\b`)
	reLastNext     = regexp.MustCompile(`\b(last|past|next)\s+` + numberPattern + `\s+` + unitPattern + `\b`)
	reAgo          = regexp.MustCompile(`\b` + numberPattern + `\s+` + unitPattern + `\s+ago\b`)
	reNamedPeriod  = regexp.MustCompile(`\b(last|past|this|next)\s+(week|month|year|season|spring|summer|fall|autumn|winter)\b`)
	reBetween      = regexp.MustCompile(`\bbetween\s+(.+?)\s+and\s+(.+?)` + endOfPhrase)
	reSince        = regexp.MustCompile(`\bsince\s+(.+?)` + endOfPhrase)
	reBeforeAfter  = regexp.MustCompile(`\b(before|after)\s+(.+?)` + endOfPhrase)
	reISODate      = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	reUSDate       = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	reShortDate    = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})\b`)
	reMonthDay     = regexp.MustCompile(`\b` + monthPattern + `\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?\b`)
	reDayMonth     = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?` + monthPattern + `(?:,?\s+(\d{4}))?\b`)
	reMonth        = regexp.MustCompile(`\b(?:(in|during|throughout|of|since)\s+)?` + monthPattern + `(?:\s+(?:of\s+)?(\d{4}))?\b`)
	reSeason       = regexp.MustCompile(`\b(?:(in|during|throughout|of|since)\s+(?:the\s+)?)?` + seasonPattern + `(?:\s+(?:of\s+)?(\d{4}))?\b`)
	reExplicitYear = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
)

// NewParser returns a parser whose "today" is the calendar day of now.
func NewParser(now time.Time) *Parser {
	p := &Parser{now: now}
	p.rules = []rule{
		{"relative_day", reRelativeDay, p.relativeDay},
		{"last_next_n", reLastNext, p.lastNextN},
		{"ago", reAgo, p.ago},
		{"named_period", reNamedPeriod, p.namedPeriod},
		{"between", reBetween, p.between},
		{"since", reSince, p.since},
		{"before_after", reBeforeAfter, p.beforeAfter},
		{"iso_date", reISODate, p.isoDate},
		{"us_date", reUSDate, p.usDate},
		{"short_date", reShortDate, p.shortDate},
		{"month_day", reMonthDay, p.monthDay},
		{"day_month", reDayMonth, p.dayMonth},
		{"month", reMonth, p.month},
		{"season", reSeason, p.season},
		{"year", reExplicitYear, p.year},
	}
	return p
}

// Now returns the parser's frozen reference instant.
func (p *Parser) Now() time.Time {
	return p.now
}

// Parse returns the first date range found in text, or nil when text carries no
// temporal reference.
func (p *Parser) Parse(text string) *DateRange {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return nil
	}
	for _, r := range p.rules {
		m := r.re.FindStringSubmatch(normalized)
		if m == nil {
			continue
		}
		if dr := r.handle(m); dr != nil {
			return dr
		}
	}
	return nil
}

// ---------- relative phrases ----------

func (p *Parser) relativeDay(m []string) *DateRange {
	switch m[1] {
	case "yesterday":
		return dayRange(p.now.AddDate(0, 0, -1))
	case "tomorrow":
		return dayRange(p.now.AddDate(0, 0, 1))
	default:
		return dayRange(p.now)
	}
}

func (p *Parser) lastNextN(m []string) *DateRange {
	n, ok := parseNumber(m[2])
	if !ok || n <= 0 {
		return nil
	}
	if m[1] == "next" {
		return &DateRange{From: startOfDay(p.now), To: endOfDay(shift(p.now, m[3], n))}
	}
	return &DateRange{From: startOfDay(shift(p.now, m[3], -n)), To: endOfDay(p.now)}
}

func (p *Parser) ago(m []string) *DateRange {
	n, ok := parseNumber(m[1])
	if !ok || n <= 0 {
		return nil
	}
	switch unitOf(m[2]) {
	case "day":
		return dayRange(p.now.AddDate(0, 0, -n))
	case "week":
		end := p.now.AddDate(0, 0, -7*n)
		return &DateRange{From: startOfDay(end.AddDate(0, 0, -6)), To: endOfDay(end)}
	case "month":
		return monthRange(p.now.Year(), p.now.Month()-time.Month(n), p.now.Location())
	case "year":
		return yearRange(p.now.Year()-n, p.now.Location())
	}
	return nil
}

func (p *Parser) namedPeriod(m []string) *DateRange {
	offset := map[string]int{"last": -1, "past": -1, "this": 0, "next": 1}[m[1]]
	loc := p.now.Location()

	switch m[2] {
	case "week":
		switch offset {
		case -1:
			end := p.now.AddDate(0, 0, -7)
			return &DateRange{From: startOfDay(end.AddDate(0, 0, -6)), To: endOfDay(end)}
		case 1:
			return &DateRange{From: startOfDay(p.now.AddDate(0, 0, 1)), To: endOfDay(p.now.AddDate(0, 0, 7))}
		default:
			return &DateRange{From: startOfDay(p.now.AddDate(0, 0, -6)), To: endOfDay(p.now)}
		}
	case "month":
		return monthRange(p.now.Year(), p.now.Month()+time.Month(offset), loc)
	case "year":
		return yearRange(p.now.Year()+offset, loc)
	case "season":
		s, y := seasonAt(p.now)
		s, y = shiftSeason(s, y, offset)
		return seasonRange(s, y, loc)
	default:
		s := canonicalSeason(m[2])
		switch offset {
		case -1:
			return p.lastSeason(s)
		case 1:
			return p.nextSeason(s)
		default:
			return seasonRange(s, seasonYear(s, p.now), loc)
		}
	}
}

// ---------- range constructs ----------

func (p *Parser) between(m []string) *DateRange {
	from := p.point(m[1])
	to := p.point(m[2])
	if from == nil || to == nil {
		return nil
	}
	if from.From.After(to.To) {
		from, to = to, from
	}
	return &DateRange{From: from.From, To: to.To}
}

func (p *Parser) since(m []string) *DateRange {
	start := p.point(m[1])
	if start == nil || start.From.IsZero() {
		return nil
	}
	return &DateRange{From: start.From, To: endOfDay(p.now)}
}

func (p *Parser) beforeAfter(m []string) *DateRange {
	ref := p.point(m[2])
	if ref == nil {
		return nil
	}
	if m[1] == "before" {
		if ref.From.IsZero() {
			return nil
		}
		return &DateRange{To: ref.From.Add(-time.Second)}
	}
	if ref.To.IsZero() {
		return nil
	}
	return &DateRange{From: ref.To.Add(time.Second)}
}

// point resolves the operand of a range construct ("march", "2024-01-05", "last week").
// The operand is read as if preceded by "in" so bare "may" or "fall" count as names.
func (p *Parser) point(phrase string) *DateRange {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return nil
	}
	phrase = "in " + phrase
	for _, r := range p.rules {
		switch r.name {
		case "between", "since", "before_after":
			continue
		}
		m := r.re.FindStringSubmatch(phrase)
		if m == nil {
			continue
		}
		if dr := r.handle(m); dr != nil {
			return dr
		}
	}
	return nil
}

// ---------- explicit dates ----------

func (p *Parser) isoDate(m []string) *DateRange {
	return p.exactDay(atoi(m[1]), atoi(m[2]), atoi(m[3]))
}

func (p *Parser) usDate(m []string) *DateRange {
	return p.exactDay(atoi(m[3]), atoi(m[1]), atoi(m[2]))
}

func (p *Parser) shortDate(m []string) *DateRange {
	return p.recentDay(atoi(m[1]), atoi(m[2]))
}

func (p *Parser) monthDay(m []string) *DateRange {
	month := lookupMonth(m[1])
	if m[3] != "" {
		return p.exactDay(atoi(m[3]), int(month), atoi(m[2]))
	}
	return p.recentDay(int(month), atoi(m[2]))
}

func (p *Parser) dayMonth(m []string) *DateRange {
	month := lookupMonth(m[2])
	if m[3] != "" {
		return p.exactDay(atoi(m[3]), int(month), atoi(m[1]))
	}
	return p.recentDay(int(month), atoi(m[1]))
}

func (p *Parser) exactDay(year, month, day int) *DateRange {
	if !validDate(year, month, day) {
		return nil
	}
	return dayRange(time.Date(year, time.Month(month), day, 0, 0, 0, 0, p.now.Location()))
}

// recentDay resolves a month/day without a year to its latest occurrence not after today.
func (p *Parser) recentDay(month, day int) *DateRange {
	// Four years back covers February 29.
	for year := p.now.Year(); year >= p.now.Year()-4; year-- {
		if !validDate(year, month, day) {
			continue
		}
		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, p.now.Location())
		if !t.After(p.now) {
			return dayRange(t)
		}
	}
	return nil
}

// ---------- names ----------

func (p *Parser) month(m []string) *DateRange {
	preposition, name, yearText := m[1], m[2], m[3]
	// "may" and the short forms are too ambiguous on their own.
	if preposition == "" && yearText == "" && (name == "may" || !isFullMonthName(name)) {
		return nil
	}
	month := lookupMonth(name)
	loc := p.now.Location()
	if yearText != "" {
		return monthRange(atoi(yearText), month, loc)
	}
	year := p.now.Year()
	if month > p.now.Month() {
		year--
	}
	return monthRange(year, month, loc)
}

func (p *Parser) season(m []string) *DateRange {
	preposition, name, yearText := m[1], m[2], m[3]
	if name == "fall" && preposition == "" && yearText == "" {
		return nil
	}
	s := canonicalSeason(name)
	if yearText != "" {
		return seasonRange(s, atoi(yearText), p.now.Location())
	}
	for year := p.now.Year(); year > p.now.Year()-2; year-- {
		r := seasonRange(s, year, p.now.Location())
		if !r.From.After(p.now) {
			return r
		}
	}
	return nil
}

func (p *Parser) year(m []string) *DateRange {
	return yearRange(atoi(m[1]), p.now.Location())
}

func (p *Parser) lastSeason(s string) *DateRange {
	for year := p.now.Year(); year > p.now.Year()-3; year-- {
		r := seasonRange(s, year, p.now.Location())
		if r.To.Before(p.now) {
			return r
		}
	}
	return nil
}

func (p *Parser) nextSeason(s string) *DateRange {
	for year := p.now.Year() - 1; year < p.now.Year()+3; year++ {
		r := seasonRange(s, year, p.now.Location())
		if r.From.After(p.now) {
			return r
		}
	}
	return nil
}

// ---------- calendar helpers ----------

var seasonOrder = []string{"spring", "summer", "fall", "winter"}

func canonicalSeason(name string) string {
	if name == "autumn" {
		return "fall"
	}
	return name
}

// seasonAt returns the season containing t and the year that season started in.
func seasonAt(t time.Time) (string, int) {
	switch t.Month() {
	case time.March, time.April, time.May:
		return "spring", t.Year()
	case time.June, time.July, time.August:
		return "summer", t.Year()
	case time.September, time.October, time.November:
		return "fall", t.Year()
	case time.December:
		return "winter", t.Year()
	default:
		return "winter", t.Year() - 1
	}
}

// seasonYear is the start year of the occurrence of s in the current season cycle.
func seasonYear(s string, t time.Time) int {
	if s == "winter" && t.Month() <= time.February {
		return t.Year() - 1
	}
	return t.Year()
}

func shiftSeason(s string, year, delta int) (string, int) {
	idx := 0
	for i, name := range seasonOrder {
		if name == s {
			idx = i
		}
	}
	linear := year*len(seasonOrder) + idx + delta
	return seasonOrder[linear%len(seasonOrder)], linear / len(seasonOrder)
}

func seasonRange(s string, year int, loc *time.Location) *DateRange {
	var start time.Time
	switch s {
	case "spring":
		start = time.Date(year, time.March, 1, 0, 0, 0, 0, loc)
	case "summer":
		start = time.Date(year, time.June, 1, 0, 0, 0, 0, loc)
	case "fall":
		start = time.Date(year, time.September, 1, 0, 0, 0, 0, loc)
	case "winter":
		start = time.Date(year, time.December, 1, 0, 0, 0, 0, loc)
	default:
		return nil
	}
	// Three months on, minus one day.
	end := time.Date(start.Year(), start.Month()+3, 0, 0, 0, 0, 0, loc)
	return &DateRange{From: start, To: endOfDay(end)}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location())
}

func dayRange(t time.Time) *DateRange {
	return &DateRange{From: startOfDay(t), To: endOfDay(t)}
}

func monthRange(year int, month time.Month, loc *time.Location) *DateRange {
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	last := time.Date(start.Year(), start.Month()+1, 0, 0, 0, 0, 0, loc)
	return &DateRange{From: start, To: endOfDay(last)}
}

func yearRange(year int, loc *time.Location) *DateRange {
	return &DateRange{
		From: time.Date(year, time.January, 1, 0, 0, 0, 0, loc),
		To:   time.Date(year, time.December, 31, 23, 59, 59, 0, loc),
	}
}

func shift(t time.Time, unit string, n int) time.Time {
	switch unitOf(unit) {
	case "week":
		return t.AddDate(0, 0, 7*n)
	case "month":
		return t.AddDate(0, n, 0)
	case "year":
		return t.AddDate(n, 0, 0)
	default:
		return t.AddDate(0, 0, n)
	}
}

func unitOf(unit string) string {
	return strings.TrimSuffix(unit, "s")
}

func validDate(year, month, day int) bool {
	if month < 1 || month > 12 || day < 1 {
		return false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return t.Day() == day && int(t.Month()) == month
}

func isFullMonthName(name string) bool {
	for _, m := range monthNames[:12] {
		if m.name == name {
			return true
		}
	}
	return false
}

func lookupMonth(name string) time.Month {
	for _, m := range monthNames {
		if m.name == name {
			return m.month
		}
	}
	return 0
}

var wordNumbers = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
}

func parseNumber(s string) (int, bool) {
	if n, ok := wordNumbers[s]; ok {
		return n, true
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
