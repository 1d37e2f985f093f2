package evaluation

import (
	"github.com/lox/harmoclimate/internal/training"
)

const bucketCount = training.DaysPerNoLeapYear * training.HoursPerDay

// bucket maps a no-leap day (1..365) and UTC hour (0..23) to a flat index.
// Rows outside the grid, including the leap-day sentinel, have no bucket.
func bucket(day, hour int) (int, bool) {
	if day < 1 || day > training.DaysPerNoLeapYear || hour < 0 || hour >= training.HoursPerDay {
		return 0, false
	}
	return (day-1)*training.HoursPerDay + hour, true
}

// climatology accumulates per-bucket sums and counts.
type climatology struct {
	sum   [bucketCount]float64
	count [bucketCount]int
}

func (c *climatology) addYear(st training.YearlyDesignStats) {
	for i, y := range st.Y {
		if k, ok := bucket(st.UTCDayIndex[i], st.UTCHour[i]); ok {
			c.sum[k] += y
			c.count[k]++
		}
	}
}

func (c *climatology) merge(other *climatology) {
	for k := range c.sum {
		c.sum[k] += other.sum[k]
		c.count[k] += other.count[k]
	}
}

// meanExcluding returns the bucket mean over every year but the one held in
// held. ok is false when no other year observed the bucket.
func (c *climatology) meanExcluding(held *climatology, k int) (mean float64, ok bool) {
	n := c.count[k] - held.count[k]
	if n <= 0 {
		return 0, false
	}
	return (c.sum[k] - held.sum[k]) / float64(n), true
}
