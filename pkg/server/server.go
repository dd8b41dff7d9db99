package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bastiangx/ctxserve/pkg/ctxmap"
	"github.com/bastiangx/ctxserve/pkg/suggest"
	"github.com/charmbracelet/log"
	"github.com/vmihailenco/msgpack/v5"
)

// Reloader is implemented by completers that can reload their data.
type Reloader interface {
	Reload(ctx context.Context) error
}

// SegmentLimiter is implemented by completers serving a subset of their segments.
type SegmentLimiter interface {
	SetSegmentLimit(n int) error
}

// Options bound what a client may ask for.
type Options struct {
	MaxLimit     int
	MinPrefix    int
	MaxPrefix    int
	DefaultSize  int
	Fuzzy        suggest.FuzzyOptions
	RequestLimit time.Duration // per request deadline, 0 for none
}

// DefaultOptions mirror the config defaults.
func DefaultOptions() Options {
	return Options{
		MaxLimit:    64,
		MinPrefix:   1,
		MaxPrefix:   60,
		DefaultSize: 10,
		Fuzzy:       suggest.DefaultFuzzyOptions(),
	}
}

// Server handles the IPC for completions
type Server struct {
	completer suggest.Completer
	opts      Options
	dec       *msgpack.Decoder
	enc       *msgpack.Encoder
	requests  int
}

// NewServer creates a completion server reading requests from r and
// writing responses to w, usually stdin and stdout.
func NewServer(completer suggest.Completer, opts Options, r io.Reader, w io.Writer) *Server {
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = DefaultOptions().MaxLimit
	}
	if opts.DefaultSize <= 0 {
		opts.DefaultSize = min(DefaultOptions().DefaultSize, opts.MaxLimit)
	}
	return &Server{
		completer: completer,
		opts:      opts,
		dec:       msgpack.NewDecoder(r),
		enc:       msgpack.NewEncoder(w),
	}
}

// Start serves requests until the input ends or ctx is done.
func (s *Server) Start(ctx context.Context) error {
	log.Debug("Starting Server.")
	if err := s.send(StatusResponse{Status: "ready"}); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var raw msgpack.RawMessage
		if err := s.dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				log.Debugf("Input closed after %d requests", s.requests)
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			log.Errorf("Reading request: %v", err)
			return fmt.Errorf("read request: %w", err)
		}
		s.requests++
		if err := s.send(s.handle(ctx, raw)); err != nil {
			return err
		}
	}
}

// handle decodes one message and returns the response to write.
func (s *Server) handle(ctx context.Context, raw msgpack.RawMessage) any {
	var req SuggestRequest
	if err := msgpack.Unmarshal(raw, &req); err != nil {
		log.Errorf("Unmarshaling request: %v", err)
		return ErrorResponse{Error: "invalid msgpack request", Code: 400}
	}

	switch strings.ToLower(req.Cmd) {
	case "", "suggest":
		return s.handleSuggest(ctx, &req)
	case "health":
		return StatusResponse{ID: req.ID, Status: "ok"}
	case "stats":
		return StatusResponse{ID: req.ID, Status: "ok", Stats: s.completer.Stats()}
	case "reload":
		return s.handleReload(ctx, &req)
	case "segments":
		return s.handleSegments(&req)
	default:
		return ErrorResponse{ID: req.ID, Error: fmt.Sprintf("unknown command: %s", req.Cmd), Code: 400}
	}
}

func (s *Server) handleReload(ctx context.Context, req *SuggestRequest) any {
	r, ok := s.completer.(Reloader)
	if !ok {
		return ErrorResponse{ID: req.ID, Error: "reload not supported", Code: 400}
	}
	if err := r.Reload(ctx); err != nil {
		log.Errorf("Reload failed: %v", err)
		return ErrorResponse{ID: req.ID, Error: err.Error(), Code: 500}
	}
	return StatusResponse{ID: req.ID, Status: "reloaded", Stats: s.completer.Stats()}
}

func (s *Server) handleSegments(req *SuggestRequest) any {
	sl, ok := s.completer.(SegmentLimiter)
	if !ok {
		return ErrorResponse{ID: req.ID, Error: "segment limit not supported", Code: 400}
	}
	if req.Size < 0 {
		return ErrorResponse{ID: req.ID, Error: "segment count must not be negative", Code: 400}
	}
	if err := sl.SetSegmentLimit(req.Size); err != nil {
		return ErrorResponse{ID: req.ID, Error: err.Error(), Code: 400}
	}
	log.Infof("Serving %d segments", req.Size)
	return StatusResponse{ID: req.ID, Status: "ok", Stats: s.completer.Stats()}
}

func (s *Server) handleSuggest(ctx context.Context, msg *SuggestRequest) any {
	req, err := s.translate(msg)
	if err != nil {
		log.Debugf("Rejected request %s: %v", msg.ID, err)
		return ErrorResponse{ID: msg.ID, Error: err.Error(), Code: 400}
	}

	if s.opts.RequestLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestLimit)
		defer cancel()
	}
	start := time.Now()
	resp, err := s.completer.Suggest(ctx, req)
	if err != nil {
		code := 503
		if suggest.IsRequestError(err) {
			code = 400
		}
		return ErrorResponse{ID: msg.ID, Error: err.Error(), Code: code}
	}

	out := SuggestResponse{
		ID:          msg.ID,
		Suggestions: make([]Suggestion, len(resp.Completions)),
		Count:       len(resp.Completions),
		TimeTaken:   time.Since(start).Microseconds(),
		Partitions:  resp.Partitions,
	}
	for i, c := range resp.Completions {
		out.Suggestions[i] = Suggestion{Surface: c.SurfaceForm, Weight: c.Weight, Boost: c.AppliedBoost, Score: c.Score}
	}
	for _, w := range resp.Warnings {
		out.Warnings = append(out.Warnings, w.String())
	}
	return out
}

// translate checks the server limits and builds the engine request.
func (s *Server) translate(msg *SuggestRequest) (*suggest.Request, error) {
	n := utf8.RuneCountInString(msg.Input)
	if n == 0 {
		return nil, errors.New("missing 'p' parameter")
	}
	if n < s.opts.MinPrefix {
		return nil, fmt.Errorf("input must be at least %d characters", s.opts.MinPrefix)
	}
	if s.opts.MaxPrefix > 0 && n > s.opts.MaxPrefix {
		return nil, fmt.Errorf("input exceeds maximum length of %d characters", s.opts.MaxPrefix)
	}
	mode, err := suggest.ParseMode(msg.Mode)
	if err != nil {
		return nil, err
	}

	size := msg.Size
	if size <= 0 {
		size = s.opts.DefaultSize
	}
	size = min(size, s.opts.MaxLimit)

	req := &suggest.Request{
		Input:          msg.Input,
		Mode:           mode,
		SkipDuplicates: msg.SkipDuplicates,
		Size:           size,
		Required:       msg.Required,
	}
	switch mode {
	case suggest.ModeFuzzy:
		fz := s.opts.Fuzzy
		if p := msg.Fuzzy; p != nil {
			if p.Fuzziness != nil {
				fz.Fuzziness = *p.Fuzziness
			}
			if p.PrefixLength != nil {
				fz.PrefixLength = *p.PrefixLength
			}
			if p.MinLength != nil {
				fz.MinLength = *p.MinLength
			}
			if p.Transpositions != nil {
				fz.Transpositions = *p.Transpositions
			}
		}
		req.Fuzzy = &fz
	case suggest.ModeRegex:
		if msg.Regex != nil {
			req.Regex = &suggest.RegexOptions{MaxStates: msg.Regex.MaxStates, CaseInsensitive: msg.Regex.CaseInsensitive}
		}
	}

	if len(msg.Contexts) > 0 {
		req.Contexts = make(map[string][]ctxmap.QueryContext, len(msg.Contexts))
		for name, params := range msg.Contexts {
			qcs := make([]ctxmap.QueryContext, len(params))
			for i, p := range params {
				qcs[i] = ctxmap.QueryContext{
					Value:      p.Value,
					Boost:      p.Boost,
					Prefix:     p.Prefix,
					Precision:  p.Precision,
					Neighbours: p.Neighbours,
				}
			}
			req.Contexts[name] = qcs
		}
	}
	return req, nil
}

func (s *Server) send(response any) error {
	if err := s.enc.Encode(response); err != nil {
		log.Errorf("Encoding response: %v", err)
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}
