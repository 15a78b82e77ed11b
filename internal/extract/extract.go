// Package extract recovers a command envelope from free-form model output.
//
// Extraction is pure: it inspects exactly the chunk it is given, never
// buffers across chunks, and always returns a definite outcome. A JSON
// envelope split across chunks is a miss for each partial chunk, not an
// error.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"dogbridge/internal/schema"
)

var (
	// ErrNotFound means no candidate JSON object with an "actions" key
	// appeared anywhere in the chunk. Recoverable and silent: most model
	// output carries no command.
	ErrNotFound = errors.New("no command envelope in chunk")

	// ErrSchemaInvalid means a candidate was found but failed envelope
	// validation. Recoverable but reported, so a malformed command is
	// never dropped silently.
	ErrSchemaInvalid = errors.New("command envelope failed validation")
)

// fencedJSON matches ```json ... ``` blocks; fencedAny matches any fenced
// block regardless of tag.
var (
	fencedJSON = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")
	fencedAny  = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\s*(\\{.*?\\})\\s*```")
)

// Extract attempts to recover exactly one envelope from a text chunk,
// trying strategies in priority order:
//
//  1. the whole trimmed chunk parses as a JSON object with "actions",
//  2. a ```json fenced block contains such an object,
//  3. any fenced block contains such an object,
//  4. the first balanced-brace object anywhere in the chunk contains
//     "actions".
//
// The first strategy to yield an object with a top-level "actions" key
// wins; that object is then schema-validated. Think-style reasoning blocks
// are stripped before matching.
func Extract(text string) (schema.Envelope, error) {
	text = stripThink(text)

	candidate, ok := firstCandidate(text)
	if !ok {
		return schema.Envelope{}, ErrNotFound
	}

	var env schema.Envelope
	if err := json.Unmarshal([]byte(candidate), &env); err != nil {
		// The candidate decoded as a generic object with an "actions"
		// key but its shape does not fit the envelope.
		return schema.Envelope{}, fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	resolveSemantics(&env)
	if err := env.Validate(); err != nil {
		return schema.Envelope{}, fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	return env, nil
}

// resolveSemantics fills in the command code for actions that carry only a
// descriptive label. Models sometimes answer with the label they were
// prompted with instead of the raw code; an unknown label is left empty
// and caught by validation.
func resolveSemantics(env *schema.Envelope) {
	for i := range env.Actions {
		a := &env.Actions[i]
		if a.Code != "" || a.Semantic == "" {
			continue
		}
		if code, ok := schema.SemanticCode(a.Semantic); ok {
			a.Code = fmt.Sprintf("0x%08X", code)
		}
	}
}

// firstCandidate runs the matching strategies in order and returns the raw
// JSON text of the first object carrying an "actions" key.
func firstCandidate(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", false
	}

	// Strategy 1: the whole chunk is the object.
	if hasActionsKey(trimmed) {
		return trimmed, true
	}

	// Strategies 2 and 3: fenced code blocks, json-tagged first.
	for _, re := range []*regexp.Regexp{fencedJSON, fencedAny} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if hasActionsKey(m[1]) {
				return m[1], true
			}
		}
	}

	// Strategy 4: first syntactically complete top-level object.
	for _, obj := range jsonCandidates(text) {
		if hasActionsKey(obj) {
			return obj, true
		}
	}
	return "", false
}

// hasActionsKey reports whether raw parses as a JSON object with a
// top-level "actions" key. Value shape is deliberately not checked here:
// a present-but-malformed actions key is a schema failure, not a miss.
func hasActionsKey(raw string) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return false
	}
	_, ok := obj["actions"]
	return ok
}
