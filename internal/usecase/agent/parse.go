package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/kaptinlin/jsonschema"
)

// replySchema describes a structured move reply.
const replySchema = `{
	"type": "object",
	"properties": {
		"move": {"type": "string", "minLength": 1}
	},
	"required": ["move"]
}`

var (
	codeFenceRe = regexp.MustCompile(`(?si)^` + "```" + `(?:json)?\s*(.*?)\s*` + "```" + `$`)

	compiledReplySchema = mustCompileReplySchema()
)

func mustCompileReplySchema() *jsonschema.Schema {
	schema, err := jsonschema.NewCompiler().Compile([]byte(replySchema))
	if err != nil {
		panic(fmt.Sprintf("compile reply schema: %v", err))
	}
	return schema
}

// parseStructuredReply extracts the move from a {"move": "..."} reply.
// ok is false when the reply is not a conforming JSON object.
func parseStructuredReply(reply string) (string, bool) {
	text := strings.TrimSpace(reply)
	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	if !strings.HasPrefix(text, "{") {
		return "", false
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return "", false
	}
	if !compiledReplySchema.Validate(data).IsValid() {
		return "", false
	}
	move, _ := data["move"].(string)
	return strings.TrimSpace(move), move != ""
}

// parseMove maps a free-text reply onto one of valid. Strategies, first hit
// wins: exact, case-insensitive, substring (case-sensitive then not), and
// finally each bare token of the reply.
func parseMove(reply string, valid []string) (string, bool) {
	text := strings.TrimSpace(reply)
	if text == "" || len(valid) == 0 {
		return "", false
	}

	for _, v := range valid {
		if v == text {
			return v, true
		}
	}
	for _, v := range valid {
		if strings.EqualFold(v, text) {
			return v, true
		}
	}

	if v, ok := longestContained(text, valid, func(s string) string { return s }); ok {
		return v, true
	}
	if v, ok := longestContained(text, valid, strings.ToLower); ok {
		return v, true
	}

	for _, tok := range tokenize(text) {
		for _, v := range valid {
			if strings.EqualFold(v, tok) {
				return v, true
			}
		}
	}
	return "", false
}

// longestContained returns the longest valid move found inside text after
// norm is applied to both. Preferring the longest keeps "e2e4" from losing
// to a shorter move that happens to be a prefix.
func longestContained(text string, valid []string, norm func(string) string) (string, bool) {
	haystack := norm(text)
	best := ""
	for _, v := range valid {
		if v == "" || len(v) <= len(best) {
			continue
		}
		if strings.Contains(haystack, norm(v)) {
			best = v
		}
	}
	return best, best != ""
}

// tokenize splits text into bare tokens. Letters, digits and the separators
// moves commonly use (',', '-', '+', '=', '#') stay inside a token.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
		switch r {
		case ',', '-', '+', '=', '#':
			return false
		}
		return true
	})

	var tokens []string
	for _, f := range fields {
		f = strings.Trim(f, ",-")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
