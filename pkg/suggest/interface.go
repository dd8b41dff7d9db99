// Package suggest turns suggestion requests into ranked completions: it
// translates a request against an index, walks the index best first and
// merges the answers of several partitions.
package suggest

import "context"

// Completer is what the transports need from a suggestion engine.
type Completer interface {
	// Suggest returns ranked completions for req
	Suggest(ctx context.Context, req *Request) (*Response, error)

	// Stats returns statistics about the loaded partitions
	Stats() map[string]int
}

var _ Completer = (*Suggester)(nil)
