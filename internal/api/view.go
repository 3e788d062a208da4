package api

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"table-status-backend/internal/model"
)

// averageOccupancy is the assumed length of a visit used for wait estimates.
const averageOccupancy = 30 * time.Minute

// tableView is a table as presented to guests, with its estimated wait.
type tableView struct {
	model.Table
	WaitMinutes float64 `json:"waitMinutes"`
	WaitMessage string  `json:"waitMessage,omitempty"`
}

// estimatedWait returns how long until a busy table is expected to free up. Available
// tables, and busy tables without a start time, have no wait.
func estimatedWait(t model.Table, now time.Time) (time.Duration, bool) {
	var start *time.Time
	switch t.Status {
	case model.StatusOccupied:
		start = t.OccupiedAt
	case model.StatusClaimed:
		start = t.ClaimedAt
	}
	if start == nil {
		return 0, false
	}
	wait := averageOccupancy - now.Sub(*start)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

func waitMessage(t model.Table, now time.Time) string {
	if t.Status == model.StatusAvailable {
		return ""
	}
	if t.CustomWaitMessage != "" {
		return t.CustomWaitMessage
	}
	wait, ok := estimatedWait(t, now)
	if !ok {
		return ""
	}
	if wait > 0 {
		return fmt.Sprintf("Free in %d mins", int(math.Ceil(wait.Minutes())))
	}
	return "Free now"
}

func newTableView(t model.Table, now time.Time) tableView {
	wait, _ := estimatedWait(t, now)
	return tableView{Table: t, WaitMinutes: wait.Minutes(), WaitMessage: waitMessage(t, now)}
}

// listTables filters by capacity (0 keeps all) and sorts by name, capacity or waitTime.
func listTables(tables []model.Table, capacity int, sortBy string, now time.Time) ([]tableView, error) {
	views := make([]tableView, 0, len(tables))
	for _, t := range tables {
		if capacity > 0 && t.Capacity != capacity {
			continue
		}
		views = append(views, newTableView(t, now))
	}

	var less func(a, b tableView) bool
	switch sortBy {
	case "", "name":
		less = func(a, b tableView) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) }
	case "capacity":
		less = func(a, b tableView) bool { return a.Capacity < b.Capacity }
	case "waitTime":
		less = func(a, b tableView) bool { return a.WaitMinutes < b.WaitMinutes }
	default:
		return nil, fmt.Errorf("unknown sort %q", sortBy)
	}
	sort.SliceStable(views, func(i, j int) bool { return less(views[i], views[j]) })
	return views, nil
}

// occupancyStats summarizes how long the currently occupied tables have been in use.
type occupancyStats struct {
	AverageOccupancyMinutes int `json:"averageOccupancyMinutes"`
	OccupiedTables          int `json:"occupiedTables"`
	TotalTables             int `json:"totalTables"`
	QueuedGuests            int `json:"queuedGuests"`
}

func occupancy(tables []model.Table, now time.Time) occupancyStats {
	stats := occupancyStats{TotalTables: len(tables)}
	var total time.Duration
	for _, t := range tables {
		stats.QueuedGuests += len(t.Queue)
		if t.OccupiedAt == nil {
			continue
		}
		total += now.Sub(*t.OccupiedAt)
		stats.OccupiedTables++
	}
	if stats.OccupiedTables > 0 {
		avg := total / time.Duration(stats.OccupiedTables)
		stats.AverageOccupancyMinutes = int(math.Ceil(avg.Minutes()))
	}
	return stats
}
