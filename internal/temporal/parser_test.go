package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Saturday, May 10th 2025 around noon.
var refNow = time.Date(2025, time.May, 10, 12, 30, 0, 0, time.UTC)

func start(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func end(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}

func TestParse_Expressions(t *testing.T) {
	tests := []struct {
		input string
		from  time.Time
		to    time.Time
	}{
		{"what did I write yesterday?", start(2025, 5, 9), end(2025, 5, 9)},
		{"today", start(2025, 5, 10), end(2025, 5, 10)},
		{"tomorrow", start(2025, 5, 11), end(2025, 5, 11)},
		{"last week", start(2025, 4, 27), end(2025, 5, 3)},
		{"what happened the past week", start(2025, 4, 27), end(2025, 5, 3)},
		{"this week", start(2025, 5, 4), end(2025, 5, 10)},
		{"next week", start(2025, 5, 11), end(2025, 5, 17)},
		{"in the last 3 days", start(2025, 5, 7), end(2025, 5, 10)},
		{"over the past two weeks", start(2025, 4, 26), end(2025, 5, 10)},
		{"next 2 days", start(2025, 5, 10), end(2025, 5, 12)},
		{"two days ago", start(2025, 5, 8), end(2025, 5, 8)},
		{"2 weeks ago", start(2025, 4, 20), end(2025, 4, 26)},
		{"3 months ago", start(2025, 2, 1), end(2025, 2, 28)},
		{"a year ago", start(2024, 1, 1), end(2024, 12, 31)},
		{"last month", start(2025, 4, 1), end(2025, 4, 30)},
		{"this month", start(2025, 5, 1), end(2025, 5, 31)},
		{"next month", start(2025, 6, 1), end(2025, 6, 30)},
		{"last year", start(2024, 1, 1), end(2024, 12, 31)},
		{"past year", start(2024, 1, 1), end(2024, 12, 31)},
		{"this season", start(2025, 3, 1), end(2025, 5, 31)},
		{"last season", start(2024, 12, 1), end(2025, 2, 28)},
		{"last summer", start(2024, 6, 1), end(2024, 8, 31)},
		{"last winter", start(2024, 12, 1), end(2025, 2, 28)},
		{"between march and may", start(2025, 3, 1), end(2025, 5, 31)},
		{"since april", start(2025, 4, 1), end(2025, 5, 10)},
		{"2024-02-29", start(2024, 2, 29), end(2024, 2, 29)},
		{"on 05/10/2024", start(2024, 5, 10), end(2024, 5, 10)},
		{"on 5/20", start(2024, 5, 20), end(2024, 5, 20)},
		{"May 3rd", start(2025, 5, 3), end(2025, 5, 3)},
		{"May 20, 2023", start(2023, 5, 20), end(2023, 5, 20)},
		{"10 March 2023", start(2023, 3, 10), end(2023, 3, 10)},
		{"in march", start(2025, 3, 1), end(2025, 3, 31)},
		{"in december", start(2024, 12, 1), end(2024, 12, 31)},
		{"in May 2024", start(2024, 5, 1), end(2024, 5, 31)},
		{"during the summer", start(2024, 6, 1), end(2024, 8, 31)},
		{"summer 2023", start(2023, 6, 1), end(2023, 8, 31)},
		{"spring", start(2025, 3, 1), end(2025, 5, 31)},
		{"in 2024", start(2024, 1, 1), end(2024, 12, 31)},
	}

	p := NewParser(refNow)
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := p.Parse(tt.input)
			require.NotNil(t, got)
			assert.Equal(t, tt.from, got.From)
			assert.Equal(t, tt.to, got.To)
		})
	}
}

func TestParse_OpenEnded(t *testing.T) {
	p := NewParser(refNow)

	before := p.Parse("anything before 2024")
	require.NotNil(t, before)
	assert.True(t, before.From.IsZero())
	assert.Equal(t, end(2023, 12, 31), before.To)

	after := p.Parse("entries after march 2025")
	require.NotNil(t, after)
	assert.Equal(t, start(2025, 4, 1), after.From)
	assert.True(t, after.To.IsZero())
}

func TestParse_NoMatch(t *testing.T) {
	p := NewParser(refNow)
	for _, input := range []string{
		"",
		"hello world",
		"what may have happened",
		"I fall asleep quickly",
		"before bed I read",
	} {
		assert.Nil(t, p.Parse(input), input)
	}
}

func TestParse_FirstRuleWins(t *testing.T) {
	p := NewParser(refNow)
	got := p.Parse("yesterday I thought about 2019")
	require.NotNil(t, got)
	assert.Equal(t, start(2025, 5, 9), got.From)
}

func TestParse_InvalidExplicitDate(t *testing.T) {
	p := NewParser(refNow)
	assert.Nil(t, p.Parse("13/45"))
}

func TestParse_FrozenNow(t *testing.T) {
	p := NewParser(refNow)
	assert.Equal(t, refNow, p.Now())

	a := p.Parse("yesterday")
	b := p.Parse("yesterday")
	assert.Equal(t, a, b)
}

func TestDateRange_Contains(t *testing.T) {
	r := DateRange{From: start(2025, 5, 1), To: end(2025, 5, 31)}
	assert.True(t, r.Contains(start(2025, 5, 1)))
	assert.True(t, r.Contains(end(2025, 5, 31)))
	assert.False(t, r.Contains(start(2025, 6, 1)))

	open := DateRange{From: start(2025, 5, 1)}
	assert.True(t, open.Contains(start(2030, 1, 1)))
	assert.False(t, open.Contains(start(2025, 4, 30)))

	assert.True(t, DateRange{}.IsZero())
	assert.True(t, DateRange{}.Contains(refNow))
}
