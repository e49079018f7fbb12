package store

import "errors"

var (
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrNoWaitingTickets = errors.New("no waiting tickets")
	ErrConflict         = errors.New("ticket changed by another operator")
	ErrInvalidState     = errors.New("invalid ticket state")
	ErrAllocationFailed = errors.New("ticket number allocation failed")
	ErrPrintJobNotFound = errors.New("print job not found")
)
