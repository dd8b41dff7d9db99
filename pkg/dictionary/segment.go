package dictionary

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bastiangx/ctxserve/pkg/completion"
	"github.com/bastiangx/ctxserve/pkg/ctxmap"
	"github.com/vmihailenco/msgpack/v5"
)

// Record is one completion entry as stored in a segment file.
// Geo context values are geohash strings or {lat, lon} maps.
type Record struct {
	Surface  string           `msgpack:"s"`
	Weight   uint32           `msgpack:"w"`
	Contexts map[string][]any `msgpack:"c,omitempty"`
}

// Entry converts the record for the index builder.
func (r Record) Entry() (completion.Entry, error) {
	e := completion.Entry{SurfaceForm: r.Surface, Weight: r.Weight}
	if len(r.Contexts) == 0 {
		return e, nil
	}
	e.Contexts = make(map[string][]any, len(r.Contexts))
	for name, values := range r.Contexts {
		conv := make([]any, len(values))
		for i, v := range values {
			cv, err := contextValue(v)
			if err != nil {
				return e, fmt.Errorf("context %q: %w", name, err)
			}
			conv[i] = cv
		}
		e.Contexts[name] = conv
	}
	return e, nil
}

func contextValue(v any) (any, error) {
	switch t := v.(type) {
	case string, ctxmap.GeoPoint, *ctxmap.GeoPoint:
		return t, nil
	case map[string]any:
		return ctxmap.PointFromMap(t)
	}
	return nil, fmt.Errorf("unsupported context value %v (%T)", v, v)
}

// ReadSegment decodes every record of a segment file.
func ReadSegment(filename string) ([]Record, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment %s: %w", filename, err)
	}
	defer file.Close()
	return DecodeSegment(bufio.NewReader(file))
}

// DecodeSegment decodes a msgpack record array from r.
func DecodeSegment(r io.Reader) ([]Record, error) {
	dec := msgpack.NewDecoder(r)
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, fmt.Errorf("failed to read segment header: %w", err)
	}
	if n < 0 || n > MaxSegmentEntries {
		return nil, fmt.Errorf("invalid segment record count %d", n)
	}
	records := make([]Record, n)
	for i := range records {
		if err := dec.Decode(&records[i]); err != nil {
			return nil, fmt.Errorf("failed to read record #%d: %w", i, err)
		}
	}
	return records, nil
}

// SaveSegment writes records as a segment file, replacing it atomically.
func SaveSegment(filename string, records []Record) error {
	tmp, err := os.CreateTemp(filepath.Dir(filename), ".seg-*")
	if err != nil {
		return fmt.Errorf("failed to create segment %s: %w", filename, err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := encodeSegment(w, records); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode segment %s: %w", filename, err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filename)
}

func encodeSegment(w io.Writer, records []Record) error {
	enc := msgpack.NewEncoder(w)
	if err := enc.EncodeArrayLen(len(records)); err != nil {
		return err
	}
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return err
		}
	}
	return nil
}

// SegmentName returns the file name of segment id.
func SegmentName(id int) string {
	return fmt.Sprintf("seg_%04d.msgpack", id)
}

// ReadText parses tab separated records:
//
//	surface <TAB> weight [<TAB> name=value|value;name=value]
//
// A value of the form "lat,lon" becomes a geo point. Blank lines and lines
// starting with # are skipped.
func ReadText(r io.Reader) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: expected surface and weight", line)
		}
		weight, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad weight: %w", line, err)
		}
		rec := Record{Surface: fields[0], Weight: uint32(weight)}
		if len(fields) > 2 && fields[2] != "" {
			if rec.Contexts, err = parseTextContexts(fields[2]); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func parseTextContexts(s string) (map[string][]any, error) {
	out := make(map[string][]any)
	for _, part := range strings.Split(s, ";") {
		name, values, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, errors.New("contexts must be name=value pairs")
		}
		for _, v := range strings.Split(values, "|") {
			out[name] = append(out[name], textValue(strings.TrimSpace(v)))
		}
	}
	return out, nil
}

func textValue(v string) any {
	latStr, lonStr, ok := strings.Cut(v, ",")
	if !ok {
		return v
	}
	lat, errLat := strconv.ParseFloat(latStr, 64)
	lon, errLon := strconv.ParseFloat(lonStr, 64)
	if errLat != nil || errLon != nil {
		return v
	}
	return map[string]any{"lat": lat, "lon": lon}
}
