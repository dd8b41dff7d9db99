package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bastiangx/ctxserve/pkg/ctxmap"
	"github.com/bastiangx/ctxserve/pkg/suggest"
)

// ParseQuery turns a line of the debug syntax into a request.
//
//	pizz @category=food^2 @location=u33db/3:4 +location ~1 !skip #5
//
// Words that are not directives form the input. An input wrapped in
// slashes is a regex (/piz+a/, /piz+a/i for case-insensitive).
//
//	@name=value   context value; ^n boost, /n geo precision, :n neighbour
//	              precision, a trailing * makes a category value a prefix,
//	              "lat,lon" is a geo point
//	+name         context name is required
//	~ or ~n       fuzzy mode, optionally with n edits
//	!skip         skip duplicate surface forms
//	#n            result size
func ParseQuery(line string, size int, fuzzy suggest.FuzzyOptions) (*suggest.Request, error) {
	req := &suggest.Request{Size: size}
	var words []string
	for _, tok := range strings.Fields(line) {
		var err error
		switch {
		case strings.HasPrefix(tok, "@"):
			err = parseContext(req, tok[1:])
		case strings.HasPrefix(tok, "+") && len(tok) > 1:
			req.Required = append(req.Required, tok[1:])
		case strings.HasPrefix(tok, "~"):
			fz := fuzzy
			if k := tok[1:]; k != "" {
				if fz.Fuzziness, err = strconv.Atoi(k); err != nil {
					err = fmt.Errorf("bad fuzziness %q", k)
				}
			}
			req.Mode = suggest.ModeFuzzy
			req.Fuzzy = &fz
		case tok == "!skip":
			req.SkipDuplicates = true
		case strings.HasPrefix(tok, "#") && len(tok) > 1:
			if req.Size, err = strconv.Atoi(tok[1:]); err != nil {
				err = fmt.Errorf("bad size %q", tok[1:])
			}
		default:
			words = append(words, tok)
		}
		if err != nil {
			return nil, err
		}
	}

	input := strings.Join(words, " ")
	if len(input) >= 2 && strings.HasPrefix(input, "/") {
		pattern, flags, ok := cutRegex(input)
		if !ok {
			return nil, fmt.Errorf("unterminated regex %q", input)
		}
		if req.Mode == suggest.ModeFuzzy {
			return nil, fmt.Errorf("a query is either fuzzy or regex")
		}
		req.Mode = suggest.ModeRegex
		req.Regex = &suggest.RegexOptions{CaseInsensitive: flags == "i"}
		input = pattern
	}
	req.Input = input
	return req, nil
}

func cutRegex(s string) (pattern, flags string, ok bool) {
	end := strings.LastIndex(s, "/")
	if end <= 0 {
		return "", "", false
	}
	return s[1:end], s[end+1:], true
}

func parseContext(req *suggest.Request, arg string) error {
	name, rest, ok := strings.Cut(arg, "=")
	if !ok || name == "" || rest == "" {
		return fmt.Errorf("context must be @name=value, got @%s", arg)
	}

	qc := ctxmap.QueryContext{}
	var err error
	if rest, qc.Neighbours, err = cutInts(rest, ":"); err != nil {
		return err
	}
	var prec []int
	if rest, prec, err = cutInts(rest, "/"); err != nil {
		return err
	}
	if len(prec) > 0 {
		qc.Precision = prec[0]
	}
	var boost []int
	if rest, boost, err = cutInts(rest, "^"); err != nil {
		return err
	}
	if len(boost) > 0 {
		if boost[0] < 0 {
			return fmt.Errorf("negative boost in @%s", arg)
		}
		qc.Boost = uint32(boost[0])
	}
	if v, found := strings.CutSuffix(rest, "*"); found {
		qc.Prefix = true
		rest = v
	}
	qc.Value = contextValue(rest)

	if req.Contexts == nil {
		req.Contexts = make(map[string][]ctxmap.QueryContext)
	}
	req.Contexts[name] = append(req.Contexts[name], qc)
	return nil
}

// cutInts splits "value<sep>n,n" into value and the numbers.
func cutInts(s, sep string) (string, []int, error) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, nil, nil
	}
	var out []int
	for _, f := range strings.Split(s[i+len(sep):], ",") {
		n, err := strconv.Atoi(f)
		if err != nil {
			return "", nil, fmt.Errorf("bad number %q after %s", f, sep)
		}
		out = append(out, n)
	}
	return s[:i], out, nil
}

func contextValue(s string) any {
	latStr, lonStr, ok := strings.Cut(s, ",")
	if !ok {
		return s
	}
	lat, errLat := strconv.ParseFloat(latStr, 64)
	lon, errLon := strconv.ParseFloat(lonStr, 64)
	if errLat != nil || errLon != nil {
		return s
	}
	return ctxmap.GeoPoint{Lat: lat, Lon: lon}
}
