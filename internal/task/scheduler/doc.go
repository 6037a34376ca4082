// Package scheduler registers named recurring triggers (daily or hourly at an
// anchor time) on robfig/cron in the site timezone.
//
// Triggers are idempotent by name: registering an existing name is a no-op.
// Trigger bodies should only enqueue work or run short cycles; long work
// belongs on a queue lane.
package scheduler
