package weave

import "errors"

var (
	// ErrUnknownParent indicates that the causal parent of an atom is absent from the weave
	ErrUnknownParent = errors.New("unknown parent")

	// ErrInvalidPayload indicates malformed atom content; such atoms never enter the weave
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrNoSite indicates a local append on a weave that has no site id assigned yet
	ErrNoSite = errors.New("weave has no site id")

	// ErrSiteAlreadySet indicates an attempt to reassign the local site id
	ErrSiteAlreadySet = errors.New("site id already set")

	// ErrUnknownSite indicates a site id that was never allocated to any replica
	ErrUnknownSite = errors.New("unknown site")

	// ErrClockOverflow indicates that the local clock reached MaxTimestamp
	ErrClockOverflow = errors.New("clock overflow")

	// используются только внутри Merge
	errDuplicate    = errors.New("duplicate atom")
	errMissingCause = errors.New("missing cause")
	errSeqGap       = errors.New("missing predecessor")
	errSeqUsed      = errors.New("seq already used")
)
