// Package period parses and formats bonus period keys: ISO weeks ("2026-W41")
// for weekly bonuses and calendar months ("2026-10") for monthly ones. All
// periods are half-open UTC intervals [Start, End).
package period

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/vedagro/backend/internal/models"
)

// ErrInvalidPeriodKey is returned for keys that are malformed or name a period that does not exist
var ErrInvalidPeriodKey = errors.New("invalid period key")

// Kind distinguishes weekly and monthly periods
type Kind string

const (
	Week  Kind = "WEEK"
	Month Kind = "MONTH"
)

// Period is a closed-open time window identified by its key
type Period struct {
	Kind  Kind
	Key   string
	Start time.Time
	End   time.Time
}

func (p Period) String() string {
	return p.Key
}

var (
	weekKeyRe  = regexp.MustCompile(`^(\d{4})-W(\d{2})$`)
	monthKeyRe = regexp.MustCompile(`^(\d{4})-(\d{2})$`)
)

// ParseWeek parses an ISO week key such as "2026-W41"
func ParseWeek(key string) (Period, error) {
	m := weekKeyRe.FindStringSubmatch(key)
	if m == nil {
		return Period{}, fmt.Errorf("%w: %q is not YYYY-Www", ErrInvalidPeriodKey, key)
	}
	year, _ := strconv.Atoi(m[1])
	week, _ := strconv.Atoi(m[2])
	if week < 1 || week > weeksInYear(year) {
		return Period{}, fmt.Errorf("%w: %d has no week %d", ErrInvalidPeriodKey, year, week)
	}
	start := isoWeekOneMonday(year).AddDate(0, 0, (week-1)*7)
	return Period{Kind: Week, Key: key, Start: start, End: start.AddDate(0, 0, 7)}, nil
}

// ParseMonth parses a month key such as "2026-10"
func ParseMonth(key string) (Period, error) {
	m := monthKeyRe.FindStringSubmatch(key)
	if m == nil {
		return Period{}, fmt.Errorf("%w: %q is not YYYY-MM", ErrInvalidPeriodKey, key)
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return Period{}, fmt.Errorf("%w: month %d", ErrInvalidPeriodKey, month)
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return Period{Kind: Month, Key: key, Start: start, End: start.AddDate(0, 1, 0)}, nil
}

// WeekOf returns the ISO week containing t
func WeekOf(t time.Time) Period {
	year, week := t.UTC().ISOWeek()
	p, _ := ParseWeek(fmt.Sprintf("%04d-W%02d", year, week))
	return p
}

// MonthOf returns the calendar month containing t
func MonthOf(t time.Time) Period {
	t = t.UTC()
	p, _ := ParseMonth(fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month())))
	return p
}

// PreviousWeek returns the last fully closed ISO week before t
func PreviousWeek(t time.Time) Period {
	return WeekOf(WeekOf(t).Start.AddDate(0, 0, -1))
}

// PreviousMonth returns the last fully closed month before t
func PreviousMonth(t time.Time) Period {
	return MonthOf(MonthOf(t).Start.AddDate(0, 0, -1))
}

// ForBonus parses key with the period kind the bonus type is paid on
func ForBonus(t models.BonusType, key string) (Period, error) {
	if t.Weekly() {
		return ParseWeek(key)
	}
	return ParseMonth(key)
}

// CurrentFor returns the most recently closed period for a bonus type
func CurrentFor(t models.BonusType, now time.Time) Period {
	if t.Weekly() {
		return PreviousWeek(now)
	}
	return PreviousMonth(now)
}

// isoWeekOneMonday is the Monday of the week containing January 4th
func isoWeekOneMonday(year int) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	return jan4.AddDate(0, 0, -offset)
}

func weeksInYear(year int) int {
	_, week := time.Date(year, time.December, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
	return week
}
