package queue

import "expvar"

var (
	ticketsIssued      = expvar.NewInt("tickets_issued_total")
	ticketsCalled      = expvar.NewInt("tickets_called_total")
	callConflicts      = expvar.NewInt("call_next_conflicts_total")
	allocationFailures = expvar.NewInt("ticket_allocation_failures_total")
	printJobsQueued    = expvar.NewInt("print_jobs_queued_total")
	printJobsRequeued  = expvar.NewInt("print_jobs_requeued_total")
)
