// Package reports turns raw status observations into uptime/downtime
// figures and renders them as fleet-wide CSV reports.
package reports

import (
	"time"

	"storewatch/storage"
)

// Interpolate computes uptime and downtime for a single store over the
// window [start, end] from its chronologically ordered status log.
//
// Observations before start are dropped. Each consecutive pair (prev, cur)
// contributes cur-prev to one bucket, chosen by prev's status, but only when
// cur's local wall-clock time falls inside the store's declared hours for
// cur's local weekday. Days with no declared hours count as open all day.
// The final stretch end-last is attributed to the last observation's status
// unconditionally.
//
// An empty (or fully filtered) log yields zero for both buckets.
func Interpolate(log []storage.StatusLogRow, hours storage.HoursMap, start, end time.Time) (uptime, downtime time.Duration) {
	var filtered []storage.StatusLogRow
	for _, row := range log {
		if !row.TimestampUTC.Before(start) {
			filtered = append(filtered, row)
		}
	}
	if len(filtered) == 0 {
		return 0, 0
	}

	add := func(open bool, d time.Duration) {
		if open {
			uptime += d
		} else {
			downtime += d
		}
	}

	for i := 1; i < len(filtered); i++ {
		prev, cur := filtered[i-1], filtered[i]

		iv, ok := hours[storage.WeekdayIndex(cur.TimestampLocal.Weekday())]
		if !ok {
			iv = storage.AllDay
		}
		if !iv.Contains(storage.TimeOfDayFrom(cur.TimestampLocal)) {
			continue
		}

		add(prev.IsOpen, cur.TimestampUTC.Sub(prev.TimestampUTC))
	}

	last := filtered[len(filtered)-1]
	add(last.IsOpen, end.Sub(last.TimestampUTC))

	return uptime, downtime
}

// WindowCounts holds one store's interpolated figures for the three report
// windows, already converted to the units the report CSV uses.
type WindowCounts struct {
	UptimeLastHourMinutes   int64
	UptimeLastDayHours      int64
	UptimeLastWeekHours     int64
	DowntimeLastHourMinutes int64
	DowntimeLastDayHours    int64
	DowntimeLastWeekHours   int64
}

func minutesFloor(d time.Duration) int64 {
	return int64(d/time.Second) / 60
}

func hoursFloor(d time.Duration) int64 {
	return int64(d/time.Second) / 3600
}

// WindowsFor runs Interpolate over the last hour, day and week ending at
// now and converts the results to report units (minutes for the hour
// window, whole hours for the day and week windows, both floored).
func WindowsFor(log []storage.StatusLogRow, hours storage.HoursMap, now time.Time) WindowCounts {
	var wc WindowCounts

	up, down := Interpolate(log, hours, now.Add(-time.Hour), now)
	wc.UptimeLastHourMinutes = minutesFloor(up)
	wc.DowntimeLastHourMinutes = minutesFloor(down)

	up, down = Interpolate(log, hours, now.Add(-24*time.Hour), now)
	wc.UptimeLastDayHours = hoursFloor(up)
	wc.DowntimeLastDayHours = hoursFloor(down)

	up, down = Interpolate(log, hours, now.Add(-7*24*time.Hour), now)
	wc.UptimeLastWeekHours = hoursFloor(up)
	wc.DowntimeLastWeekHours = hoursFloor(down)

	return wc
}
