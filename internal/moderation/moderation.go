// Package moderation accepts or transforms submitted text before it reaches
// the post store. The two policies are mutually exclusive and selected by
// configuration at startup: the scorer consults an external classifier and may
// reject, the filter censors locally and always accepts.
package moderation

import "context"

// Status tags a Result. Callers must branch on the tag; a rejected Result
// carries a reason, an accepted one carries the (possibly transformed) text.
type Status int

const (
	StatusAccepted Status = iota
	StatusRejected
)

// Result is the tagged outcome of a moderation pass.
type Result struct {
	Status Status
	Text   string
	Reason string
}

// Accepted builds an accepting result carrying the text to store.
func Accepted(text string) Result {
	return Result{Status: StatusAccepted, Text: text}
}

// Rejected builds a rejecting result. The original text is never carried here;
// rejected content must not reach storage or broadcast.
func Rejected(reason string) Result {
	return Result{Status: StatusRejected, Reason: reason}
}

// Pipeline reviews submitted text. Review never returns an error: an internal
// or external failure degrades to a safe Result instead of raising into the
// dispatch path.
type Pipeline interface {
	Review(ctx context.Context, text string) Result
}
