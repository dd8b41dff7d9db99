// Package cli is an interactive debug console for ctxserve queries.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bastiangx/ctxserve/pkg/suggest"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

var (
	surfaceStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

// InputHandler reads queries line by line and prints the suggestions.
type InputHandler struct {
	completer       suggest.Completer
	minPrefixLength int
	maxPrefixLength int
	suggestLimit    int
	fuzzy           suggest.FuzzyOptions
	showScores      bool
	out             *log.Logger
	requestCount    int
}

// NewInputHandler creates a console printing to out.
func NewInputHandler(completer suggest.Completer, minLength, maxLength, limit int, fuzzy suggest.FuzzyOptions, showScores bool, out io.Writer) *InputHandler {
	return &InputHandler{
		completer:       completer,
		minPrefixLength: minLength,
		maxPrefixLength: maxLength,
		suggestLimit:    limit,
		fuzzy:           fuzzy,
		showScores:      showScores,
		out:             log.NewWithOptions(out, log.Options{Level: log.GetLevel()}),
	}
}

// Start runs the loop until in ends or ctx is done.
func (h *InputHandler) Start(ctx context.Context, in io.Reader) error {
	h.out.Print("ctxserve CLI [debug]")
	h.out.Print("query syntax: pizz @category=food^2 @location=u33db/3 ~1 !skip #5, /regex/ (Ctrl+C to exit)")
	scanner := bufio.NewScanner(in)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		h.out.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line {
		case ":stats":
			h.printStats()
			continue
		case ":quit", ":q":
			return nil
		}
		h.handleInput(ctx, line)
	}
}

func (h *InputHandler) handleInput(ctx context.Context, line string) {
	h.requestCount++
	req, err := ParseQuery(line, h.suggestLimit, h.fuzzy)
	if err != nil {
		h.out.Errorf("Bad query: %v", err)
		return
	}
	n := utf8.RuneCountInString(req.Input)
	if n < h.minPrefixLength {
		h.out.Errorf("Input too short: %q", req.Input)
		return
	}
	if h.maxPrefixLength > 0 && n > h.maxPrefixLength {
		h.out.Errorf("Input too long: %q", req.Input)
		return
	}

	log.Debug("Processing request", "input", req.Input, "mode", req.Mode)
	start := time.Now()
	resp, err := h.completer.Suggest(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		h.out.Errorf("Query failed: %v", err)
		return
	}
	log.Debugf("Took [ %v ] for %q", elapsed, req.Input)

	for _, w := range resp.Warnings {
		h.out.Warnf("%s", w)
	}
	if len(resp.Completions) == 0 {
		h.out.Warnf("No suggestions found for %q", req.Input)
		return
	}
	h.out.Printf("Found %d suggestions for %q (%s, %v):", len(resp.Completions), req.Input, req.Mode, elapsed)
	for i, c := range resp.Completions {
		line := fmt.Sprintf("%2d. %-40s", i+1, surfaceStyle.Render(c.SurfaceForm))
		if h.showScores {
			line += dimStyle.Render(fmt.Sprintf(" score %s (weight %s x%d)",
				formatWithCommas(c.Score), formatWithCommas(uint64(c.Weight)), c.AppliedBoost))
		}
		h.out.Print(line)
	}
}

func (h *InputHandler) printStats() {
	stats := h.completer.Stats()
	h.out.Printf("partitions %d, entries %s, keys %s, nodes %s",
		stats["partitions"],
		formatWithCommas(uint64(stats["entries"])),
		formatWithCommas(uint64(stats["keys"])),
		formatWithCommas(uint64(stats["nodes"])))
}

// formatWithCommas formats an integer with comma separators
func formatWithCommas(n uint64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}
	var b strings.Builder
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(char)
	}
	return b.String()
}
