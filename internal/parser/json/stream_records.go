// Package json streams JSON records out of event and metadata files.
//
// The input corpus is messy: most files are newline-delimited JSON objects
// (one record per line), some are a root array of objects, and song-metadata
// files are typically a single object. StreamRecords handles all three
// without buffering whole files.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// EmitFn receives one decoded record. line is the 1-based logical record
// number within the file. Returning an error stops the stream.
type EmitFn func(line int, rec map[string]any) error

// StreamRecords parses JSON from r and emits records one-by-one.
//
// Streaming behavior:
//   - If the root is a JSON array, each object element is one record.
//   - If the root is an object, it is one record; any further objects in the
//     stream (NDJSON) are emitted as additional records.
//
// Numbers are decoded as json.Number so integer ids and epoch timestamps
// survive without float64 round-trips; coercion is the model package's job.
//
// onParseErr, when non-nil, observes decode failures before the error is
// returned; it exists so callers can attach file/line context to warnings.
func StreamRecords(ctx context.Context, r io.Reader, emit EmitFn, onParseErr func(line int, err error)) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	line := 0

	emitObject := func(obj map[string]any) error {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		return emit(line, obj)
	}

	// Peek the first token to distinguish a root array from object streams.
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		if onParseErr != nil {
			onParseErr(0, err)
		}
		return fmt.Errorf("json: read first token: %w", err)
	}

	d, ok := tok.(json.Delim)
	if !ok {
		return fmt.Errorf("json: unsupported root token %T (want object or array)", tok)
	}

	switch d {
	case '[':
		if err := streamArrayElements(dec, emitObject, onParseErr, &line); err != nil {
			return err
		}
		if end, err := dec.Token(); err != nil {
			return fmt.Errorf("json: read array end: %w", err)
		} else if end != json.Delim(']') {
			return fmt.Errorf("json: expected array end ']', got %v", end)
		}
		// Trailing NDJSON objects after the array are still records.
		return streamObjects(dec, emitObject, onParseErr, &line)

	case '{':
		obj, err := materializeObject(dec)
		if err != nil {
			if onParseErr != nil {
				onParseErr(line+1, err)
			}
			return err
		}
		if err := emitObject(obj); err != nil {
			return err
		}
		return streamObjects(dec, emitObject, onParseErr, &line)

	default:
		return fmt.Errorf("json: unsupported root delimiter %q", d)
	}
}

// streamObjects decodes whole objects until EOF (the NDJSON tail).
func streamObjects(dec *json.Decoder, emit func(map[string]any) error, onParseErr func(line int, err error), line *int) error {
	for {
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			if err == io.EOF {
				return nil
			}
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return fmt.Errorf("json: decode record: %w", err)
		}
		if err := emit(obj); err != nil {
			return err
		}
	}
}

// streamArrayElements streams elements of the current array (after '[' has
// been consumed). nil elements are skipped; non-object elements are an error.
func streamArrayElements(dec *json.Decoder, emit func(map[string]any) error, onParseErr func(line int, err error), line *int) error {
	for dec.More() {
		var raw any
		if err := dec.Decode(&raw); err != nil {
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return fmt.Errorf("json: decode array element: %w", err)
		}
		if raw == nil {
			continue
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			err := fmt.Errorf("json: array element not an object (got %T)", raw)
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return err
		}
		if err := emit(obj); err != nil {
			return err
		}
	}
	return nil
}

// materializeObject reads the remainder of the current object (after '{' has
// been consumed) into a map.
func materializeObject(dec *json.Decoder) (map[string]any, error) {
	obj := make(map[string]any)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("json: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("json: object key not a string (got %T)", keyTok)
		}
		var val any
		if err := dec.Decode(&val); err != nil {
			return nil, fmt.Errorf("json: decode value for %q: %w", key, err)
		}
		obj[key] = val
	}
	if end, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("json: read object end: %w", err)
	} else if end != json.Delim('}') {
		return nil, fmt.Errorf("json: expected object end '}', got %v", end)
	}
	return obj, nil
}
