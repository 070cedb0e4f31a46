/*
Package reconciler drives Docker containers on one computer toward the
state implied by the reservation table.

The loop runs on a fixed interval (10 seconds by default). Every tick
re-reads the store and applies four steps in order:

 1. Stop expired: active reservations past their end date lose their
    container and move to stopped. Cancellation is expressed as
    endDate := now, so cancelled reservations pass through here too.
 2. Start due: reserved reservations whose interval has begun are
    launched. A launch allocates host ports, materializes role mounts,
    pulls and runs the image, and sets the SSH password. Failures move
    the reservation to error with the cause recorded.
 3. Restart crashed: started reservations whose container has exited
    are restarted in place.
 4. Restart requested: reservations flagged with the restart status get
    their container bounced and settle back to started.

Every sixth tick a sweep removes running reservation containers that no
started reservation owns, once they are older than a grace period. This
catches containers left behind by crashes between a Docker run and the
status write.

Steps never abort the cycle; their errors are aggregated and logged.
Because each step re-reads the store, a tick repeated without external
change is a no-op.
*/
package reconciler
