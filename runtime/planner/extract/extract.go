// Package extract recovers JSON objects from free-form model output.
//
// Agents are asked to answer with a single JSON object but routinely wrap it
// in markdown fences or surround it with prose. Extract tries, in order, a
// direct parse, the body of a fenced code block, and the substring between
// the first '{' and the last '}'.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrMalformedOutput is matched by every MalformedOutputError.
var ErrMalformedOutput = errors.New("malformed structured output")

// MalformedOutputError reports text from which no JSON object could be
// recovered.
type MalformedOutputError struct {
	// Text is the input that was attempted.
	Text string
	// Cause is the decode error of the last attempt, if any.
	Cause error
}

var (
	jsonFence = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	bareFence = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")
)

// Error implements error.
func (e *MalformedOutputError) Error() string {
	preview := e.Text
	if len(preview) > 120 {
		preview = preview[:120] + "..."
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v (text %q)", ErrMalformedOutput, e.Cause, preview)
	}
	return fmt.Sprintf("%s (text %q)", ErrMalformedOutput, preview)
}

// Unwrap returns the decode error.
func (e *MalformedOutputError) Unwrap() error { return e.Cause }

// Is matches ErrMalformedOutput.
func (e *MalformedOutputError) Is(target error) bool { return target == ErrMalformedOutput }

// Object extracts a JSON object from text.
func Object(text string) (map[string]any, error) {
	var out map[string]any
	if err := Into(text, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, &MalformedOutputError{Text: text}
	}
	return out, nil
}

// Into decodes the JSON object embedded in text into v.
func Into(text string, v any) error {
	var lastErr error
	for _, candidate := range candidates(text) {
		err := json.Unmarshal([]byte(candidate), v)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return &MalformedOutputError{Text: text, Cause: lastErr}
}

// StripFences removes a surrounding markdown code fence, such as the
// "```markdown" wrapper models put around reports. Text without a leading
// fence is returned trimmed.
func StripFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[i+1:]
	} else {
		t = strings.TrimPrefix(t, "```")
	}
	t = strings.TrimSpace(t)
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}

func candidates(text string) []string {
	t := strings.TrimSpace(text)
	out := []string{t}
	if m := jsonFence.FindStringSubmatch(t); m != nil {
		out = append(out, m[1])
	} else if m := bareFence.FindStringSubmatch(t); m != nil {
		out = append(out, m[1])
	}
	if start, end := strings.IndexByte(t, '{'), strings.LastIndexByte(t, '}'); start >= 0 && end > start {
		out = append(out, t[start:end+1])
	}
	return out
}
