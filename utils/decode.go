package utils

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

const maxBodyBytes = 1 << 20

var (
	ErrInvalidBody  = errors.New("Invalid request body.")
	ErrEmptyBody    = errors.New("Invalid request body.")
	ErrBodyTooLarge = errors.New("Request body too large.")
)

// DecodeJSONBody decodes a JSON object into dst after rewriting every object
// key to snake_case, so camelCase and snake_case clients share one DTO.
// An empty body yields ErrEmptyBody, which callers with optional bodies
// may ignore.
func DecodeJSONBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return ErrEmptyBody
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return ErrInvalidBody
	}
	if len(body) > maxBodyBytes {
		return ErrBodyTooLarge
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return ErrEmptyBody
	}

	var raw interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return ErrInvalidBody
	}
	if _, ok := raw.(map[string]interface{}); !ok {
		return ErrInvalidBody
	}

	normalized, err := json.Marshal(snakeKeys(raw))
	if err != nil {
		return ErrInvalidBody
	}
	if err := json.Unmarshal(normalized, dst); err != nil {
		return ErrInvalidBody
	}
	return nil
}

// snakeKeys rewrites object keys at every depth. A key already in snake_case
// wins over a camelCase spelling of the same field.
func snakeKeys(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if ToSnake(k) == k {
				out[k] = snakeKeys(val)
			}
		}
		for k, val := range t {
			sk := ToSnake(k)
			if _, taken := out[sk]; !taken {
				out[sk] = snakeKeys(val)
			}
		}
		return out
	case []interface{}:
		for i := range t {
			t[i] = snakeKeys(t[i])
		}
		return t
	default:
		return v
	}
}

// ToSnake converts camelCase or PascalCase to snake_case. Acronyms stay
// together: "userID" is "user_id", "URLPath" is "url_path".
func ToSnake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && runes[i-1] != '_' {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
