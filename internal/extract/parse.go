package extract

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrUnparseable is returned when the model's answer is not the expected
// JSON document.
var ErrUnparseable = eris.New("extract: unparseable model response")

// Response is the JSON document both extraction models are asked to return.
type Response struct {
	Ingredients []RawIngredient `json:"ingredients"`
	Steps       []string        `json:"steps"`
}

// RawIngredient is one unvalidated model proposal.
type RawIngredient struct {
	Name           string   `json:"name"`
	Amount         Scalar   `json:"amount"`
	Unit           string   `json:"unit"`
	EvidencePhrase string   `json:"evidence_phrase"`
	Group          string   `json:"group"`
	Confidence     *float64 `json:"confidence"`
}

// Scalar accepts a JSON string, number or null. Models return amounts like
// 2, "2" and "1/2" interchangeably.
type Scalar string

// UnmarshalJSON implements json.Unmarshaler.
func (s *Scalar) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = Scalar(str)
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return eris.Wrapf(err, "extract: amount %s", b)
	}
	*s = Scalar(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

// ParseResponse decodes a model answer, tolerating markdown fences, prose
// around the object and a truncated tail.
func ParseResponse(text string) (*Response, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return nil, eris.Wrap(ErrUnparseable, "empty response")
	}
	var out Response
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, eris.Wrap(ErrUnparseable, err.Error())
	}
	return &out, nil
}

// cleanJSON strips fences, cuts the outermost object and closes any
// brackets left open by a max-tokens stop.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}
	text = text[start:]
	if end := strings.LastIndex(text, "}"); end >= 0 && balanced(text[:end+1]) {
		text = text[:end+1]
	}
	return repairTruncatedJSON(strings.TrimSpace(text))
}

func balanced(text string) bool {
	stack, _ := openDelimiters(text)
	return len(stack) == 0
}

// openDelimiters returns the closers still owed at the end of text and, when
// text ends inside a string, the offset of that string's opening quote.
func openDelimiters(text string) ([]byte, int) {
	var (
		stack    []byte
		inString bool
		escape   bool
		strStart = -1
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
		if escape {
			escape = false
			continue
		}
		if c == '\\' && inString {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			if inString {
				strStart = i
			}
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if !inString {
		strStart = -1
	}
	return stack, strStart
}

func repairTruncatedJSON(text string) string {
	stack, strStart := openDelimiters(text)
	if strStart >= 0 {
		// A half-written string is dropped together with its key so a
		// truncated evidence phrase never survives.
		text = strings.TrimRight(text[:strStart], " \t\n\r")
		if strings.HasSuffix(text, ":") {
			text = strings.TrimRight(strings.TrimSuffix(text, ":"), " \t\n\r")
			if end := strings.LastIndex(text, `"`); end > 0 {
				if open := strings.LastIndex(text[:end], `"`); open >= 0 {
					text = text[:open]
				}
			}
		}
		// Drop an array element that was opened but never got a field.
		if t := strings.TrimRight(text, " \t\n\r"); strings.HasSuffix(t, "{") {
			if prev := strings.TrimRight(t[:len(t)-1], " \t\n\r"); strings.HasSuffix(prev, ",") {
				text = prev
			}
		}
		stack, _ = openDelimiters(text)
	}
	for i := len(stack) - 1; i >= 0; i-- {
		text = strings.TrimRight(text, " \t\n\r,")
		text += string(stack[i])
	}
	return text
}
