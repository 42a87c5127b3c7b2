/*
Package scheduler runs the daemon's recurring jobs.

Jobs are registered by name with either a fixed interval (Every) or a daily
UTC wall time (DailyAt). A one-second tick loop dispatches due jobs to a
three-worker pool, so a slow collection for one appliance never delays the
queue processor or the cleanup job behind it.

# Firing semantics

At most one instance of a job runs at a time. Firings that come due while a
run is in flight stay pending and coalesce: when the job frees up it runs
once, not once per missed period. A firing that cannot start within its
misfire grace (60s unless the job overrides it) is skipped and counted as a
misfire rather than running arbitrarily late.

Interval jobs fire immediately on Start and then keep their original cadence;
daily jobs fire at the next wall-clock occurrence. Reschedule changes an
interval job in place, with the next firing one new interval out.

# Shutdown

Stop closes dispatch, lets queued and in-flight runs finish, and waits up to
30 seconds. If runs are still going after that, their contexts are canceled
and Stop returns an error, which the daemon surfaces as a non-zero exit.
*/
package scheduler
