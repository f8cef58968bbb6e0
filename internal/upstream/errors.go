package upstream

import "errors"

var (
	ErrNotFound    = errors.New("data not found for this ticker")
	ErrRateLimited = errors.New("rate limited by API")
	ErrTransient   = errors.New("transient upstream failure")
	ErrAuthFailed  = errors.New("authentication failed")
)

// Class groups upstream errors by how callers should react to them.
type Class int

const (
	ClassPermanent Class = iota
	ClassRateLimited
	ClassTransient
)

// Classify maps an error returned by the client to its retry class.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassPermanent
	case errors.Is(err, ErrRateLimited):
		return ClassRateLimited
	case errors.Is(err, ErrTransient):
		return ClassTransient
	default:
		return ClassPermanent
	}
}
