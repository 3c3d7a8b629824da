package errcode

// Codes carried in worker notifications:
// - 0: no error
// - 4xxx: the work cannot continue for a recoverable reason (missing input)
// - 5xxx: system failure
const (
	OK              = 0
	ResourceMissing = 4004
	SystemError     = 5000
	SynopsisFailed  = 5002
)
