/*
Package server implements msgpack IPC for context-aware completion.

Clients write msgpack maps to stdin and read msgpack maps from stdout, one
response per request, in request order. Every message carries an "id" the
response echoes. Logs go to stderr.

# IPC

A suggest request names the input, and optionally the mode, size and
context filters:

	{"id": "q1", "p": "pizz", "l": 5, "ctx": {"category": [{"v": "food", "b": 2}]}}

The server answers with ranked completions, count and time taken in
microseconds:

	{"id": "q1", "s": [{"s": "pizza place", "w": 10, "b": 2, "r": 20}], "c": 1, "t": 87, "n": 4}

Partitions that failed or timed out are reported in "warn" and left out of
the merge. Fuzzy and regex requests set "m" and optionally "fz" or "rx":

	{"id": "q2", "p": "piza", "m": "fuzzy", "fz": {"k": 1, "pl": 1}}
	{"id": "q3", "p": "piz+a", "m": "regex"}

Geo contexts accept a geohash or a {"lat", "lon"} map, a precision and
neighbour precisions:

	{"v": {"lat": 52.52, "lon": 13.40}, "pr": 3, "nb": [4]}

Other commands use "cmd": "health", "stats" and "reload". "segments"
serves only the first "l" loaded segments, 0 restores all of them:

	{"id": "c1", "cmd": "segments", "l": 2}

A failed request yields an ErrorResponse with an http-like code: 400 for
malformed requests, 503 when no partition could answer.
*/
package server

// SuggestRequest is a suggestion query, or a command when Cmd is set.
type SuggestRequest struct {
	ID             string                    `msgpack:"id"`
	Cmd            string                    `msgpack:"cmd,omitempty"`
	Input          string                    `msgpack:"p"`
	Mode           string                    `msgpack:"m,omitempty"`
	Size           int                       `msgpack:"l,omitempty"`
	SkipDuplicates bool                      `msgpack:"skip,omitempty"`
	Fuzzy          *FuzzyParams              `msgpack:"fz,omitempty"`
	Regex          *RegexParams              `msgpack:"rx,omitempty"`
	Contexts       map[string][]ContextParam `msgpack:"ctx,omitempty"`
	Required       []string                  `msgpack:"req,omitempty"`
}

// FuzzyParams override the server's fuzzy defaults field by field.
type FuzzyParams struct {
	Fuzziness      *int  `msgpack:"k,omitempty"`
	PrefixLength   *int  `msgpack:"pl,omitempty"`
	MinLength      *int  `msgpack:"ml,omitempty"`
	Transpositions *bool `msgpack:"tr,omitempty"`
}

// RegexParams tune regex mode.
type RegexParams struct {
	MaxStates       int  `msgpack:"max,omitempty"`
	CaseInsensitive bool `msgpack:"i,omitempty"`
}

// ContextParam is one context value of a query.
type ContextParam struct {
	Value      any    `msgpack:"v"`
	Boost      uint32 `msgpack:"b,omitempty"`
	Prefix     bool   `msgpack:"prefix,omitempty"`
	Precision  int    `msgpack:"pr,omitempty"`
	Neighbours []int  `msgpack:"nb,omitempty"`
}

// Suggestion is one ranked completion.
type Suggestion struct {
	Surface string `msgpack:"s"`
	Weight  uint32 `msgpack:"w"`
	Boost   uint64 `msgpack:"b"`
	Score   uint64 `msgpack:"r"`
}

// SuggestResponse answers a SuggestRequest.
type SuggestResponse struct {
	ID          string       `msgpack:"id"`
	Suggestions []Suggestion `msgpack:"s"`
	Count       int          `msgpack:"c"`
	TimeTaken   int64        `msgpack:"t"`
	Partitions  int          `msgpack:"n"`
	Warnings    []string     `msgpack:"warn,omitempty"`
}

// StatusResponse answers health, stats and reload.
type StatusResponse struct {
	ID     string         `msgpack:"id"`
	Status string         `msgpack:"status"`
	Stats  map[string]int `msgpack:"stats,omitempty"`
}

// ErrorResponse holds basic error information of a failed request
type ErrorResponse struct {
	ID    string `msgpack:"id"`
	Error string `msgpack:"e"`
	Code  int    `msgpack:"code"`
}
