package analytics

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/visitorpass-backend/pkg/db/models"
	"github.com/angelmondragon/visitorpass-backend/pkg/enums"
)

const (
	// UnknownHour labels visitors without a check-in time.
	UnknownHour = "Unknown"

	// TopRepeatVisitors caps the repeat-visitor ranking.
	TopRepeatVisitors = 5

	weekdayLayout = "Mon"
	hourLayout    = "03 PM"
)

// hourReference anchors hour labels to a fixed date so they can be parsed back.
const hourReference = "2000-01-01 "

// Compute derives the full dashboard from a visitor snapshot and the event log.
func Compute(visitors []models.Visitor, events []models.VisitEvent, loc *time.Location) Dashboard {
	return Dashboard{
		Occupancy:        CountOccupancy(visitors),
		WeekdayVolume:    WeekdayVolume(visitors, loc),
		HourlyCheckIns:   HourlyCheckIns(visitors, loc),
		RepeatVisitors:   RankRepeatVisitors(events),
		TypeDistribution: TypeDistribution(visitors),
	}
}

func CountOccupancy(visitors []models.Visitor) Occupancy {
	var out Occupancy
	for i := range visitors {
		out.Total++
		switch visitors[i].Status {
		case enums.VisitorStatusCheckedIn:
			out.CheckedIn++
		case enums.VisitorStatusCheckedOut:
			out.CheckedOut++
		default:
			out.Registered++
		}
	}
	return out
}

// WeekdayVolume groups visitors by the weekday of their creation time in loc.
// Weekdays with no visitors are absent.
func WeekdayVolume(visitors []models.Visitor, loc *time.Location) []LabelValue {
	loc = orUTC(loc)
	counter := newCounter()
	for i := range visitors {
		counter.add(visitors[i].CreatedAt.In(loc).Format(weekdayLayout))
	}
	return counter.buckets()
}

// HourlyCheckIns groups visitors by check-in hour using 12-hour labels, sorted
// by hour of day with Unknown last.
func HourlyCheckIns(visitors []models.Visitor, loc *time.Location) []LabelValue {
	loc = orUTC(loc)
	counter := newCounter()
	for i := range visitors {
		label := UnknownHour
		if ts := visitors[i].CheckInTime; ts != nil {
			label = ts.In(loc).Format(hourLayout)
		}
		counter.add(label)
	}
	out := counter.buckets()
	sort.SliceStable(out, func(i, j int) bool {
		return hourOf(out[i].Label) < hourOf(out[j].Label)
	})
	return out
}

func hourOf(label string) int {
	parsed, err := time.Parse("2006-01-02 "+hourLayout, hourReference+label)
	if err != nil {
		return 24
	}
	return parsed.Hour()
}

// RankRepeatVisitors counts events per visitor and returns the top visitors
// with more than one event, highest first. Ties keep first-appearance order.
func RankRepeatVisitors(events []models.VisitEvent) []RepeatVisitor {
	index := make(map[uuid.UUID]int)
	grouped := make([]RepeatVisitor, 0)
	for i := range events {
		ev := events[i]
		if pos, ok := index[ev.VisitorID]; ok {
			grouped[pos].Visits++
			continue
		}
		entry := RepeatVisitor{VisitorID: ev.VisitorID, Visits: 1}
		if ev.Visitor != nil {
			entry.Name = ev.Visitor.Name
			entry.Phone = ev.Visitor.Phone
		}
		index[ev.VisitorID] = len(grouped)
		grouped = append(grouped, entry)
	}

	out := make([]RepeatVisitor, 0, len(grouped))
	for _, entry := range grouped {
		if entry.Visits > 1 {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Visits > out[j].Visits
	})
	if len(out) > TopRepeatVisitors {
		out = out[:TopRepeatVisitors]
	}
	return out
}

// TypeDistribution counts visitors per visitor_type value as stored.
func TypeDistribution(visitors []models.Visitor) []LabelValue {
	counter := newCounter()
	for i := range visitors {
		counter.add(string(visitors[i].VisitorType))
	}
	return counter.buckets()
}

// counter keeps buckets in first-appearance order.
type counter struct {
	index map[string]int
	out   []LabelValue
}

func newCounter() *counter {
	return &counter{index: make(map[string]int), out: make([]LabelValue, 0)}
}

func (c *counter) add(label string) {
	if pos, ok := c.index[label]; ok {
		c.out[pos].Value++
		return
	}
	c.index[label] = len(c.out)
	c.out = append(c.out, LabelValue{Label: label, Value: 1})
}

func (c *counter) buckets() []LabelValue {
	return c.out
}

func orUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
