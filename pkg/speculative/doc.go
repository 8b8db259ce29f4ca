// Package speculative implements a self-rescheduling hedge-request
// policy: a chain that issues a speculative request, reschedules with an
// exponentially growing, capped delay while the executor keeps returning
// true, and terminates absorbingly on false, failure, or a rejected
// submission.
package speculative
