package extract

// jsonCandidates scans the input for top-level balanced-brace JSON object
// candidates, handling nested braces and string escaping so that braces
// inside string values do not break the balance count.
//
// A byte-level state machine is used instead of regex; it is safe to
// iterate bytes for the ASCII delimiters ({, }, ", \) because UTF-8
// guarantees ASCII bytes never occur inside a multi-byte sequence.
func jsonCandidates(s string) []string {
	var candidates []string
	var depth int
	start := -1
	var inString, escape bool

	for i := 0; i < len(s); i++ {
		b := s[i]

		if escape {
			escape = false
			continue
		}

		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					candidates = append(candidates, s[start:i+1])
					start = -1
				}
			}
		}
	}

	return candidates
}
