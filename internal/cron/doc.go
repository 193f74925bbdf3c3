// Package cron persists recurring job definitions and runs the
// tick-driven loop that fires them.
//
// Jobs are matched against a 5-field schedule expression at minute
// granularity. The loop is one goroutine, so evaluation passes never
// overlap; per-minute dedup via lastRunAt keeps sub-minute ticks from
// refiring a job that stays due for its whole matching minute.
package cron
