package extract

import "regexp"

// Reasoning models interleave chain-of-thought with their answer. Those
// blocks routinely contain example JSON that must not be mistaken for a
// command, so they are removed before any matching strategy runs.
var thinkBlocks = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile("(?is)```think.*?```"),
}

// stripThink removes reasoning blocks from the chunk. An unterminated
// block is left in place: truncating at an open tag could swallow a
// command that follows in the same chunk.
func stripThink(text string) string {
	for _, re := range thinkBlocks {
		text = re.ReplaceAllString(text, "")
	}
	return text
}
