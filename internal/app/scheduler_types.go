package app

import sch "sitewatch/internal/task/scheduler"

// Trigger names. They show up in logs, in the scheduler snapshot and in
// /healthz.
const (
	TriggerDailyCheck       = "daily_check"
	TriggerHourlyCheck      = "hourly_check"
	TriggerPageSpeedCheck   = "pagespeed_check"
	TriggerWordfenceSummary = "wordfence_daily_summary"
	TriggerMenuDailyCheck   = "menu_daily_check"
)

// cadence is one named trigger in the site timezone.
type cadence struct {
	name   string
	anchor string
	period sch.Period
}

// cadences lists every trigger the app registers. pagespeed_check runs one
// hour after the daily cycle so the two do not compete for the site.
var cadences = []cadence{
	{TriggerDailyCheck, "08:00", sch.Daily},
	{TriggerHourlyCheck, "00:00", sch.Hourly},
	{TriggerPageSpeedCheck, "09:00", sch.Daily},
	{TriggerWordfenceSummary, "08:00", sch.Daily},
	{TriggerMenuDailyCheck, "08:00", sch.Daily},
}
