package tts

import (
	"regexp"
	"strings"
	"unicode"
)

// boundaries end a speakable segment.
var boundaries = map[rune]bool{
	'，': true, ',': true, '。': true, '.': true, '！': true, '!': true,
	'？': true, '?': true, '；': true, ';': true, '：': true, ':': true,
	'“': true, '”': true, '"': true, '-': true, '－': true, '、': true,
	'[': true, ']': true, '【': true, '】': true, '~': true,
}

var emojiRanges = [][2]rune{
	{0x1F600, 0x1F64F},
	{0x1F300, 0x1F5FF},
	{0x1F680, 0x1F6FF},
	{0x1F900, 0x1F9FF},
	{0x1FA70, 0x1FAFF},
	{0x2600, 0x26FF},
	{0x2700, 0x27BF},
}

var emotions = map[rune]string{
	'😂': "laughing", '😭': "crying", '😠': "angry", '😔': "sad",
	'😍': "loving", '😲': "surprised", '😱': "shocked", '🤔': "thinking",
	'😌': "relaxed", '😴': "sleepy", '😜': "silly", '🙄': "confused",
	'😶': "neutral", '🙂': "happy", '😆': "laughing", '😳': "embarrassed",
	'😉': "winking", '😎': "cool", '🤤': "delicious", '😘': "kissy",
	'😏': "confident",
}

func IsEmoji(r rune) bool {
	for _, rg := range emojiRanges {
		if r >= rg[0] && r <= rg[1] {
			return true
		}
	}
	return false
}

// Emotion returns the first known emoji of text and its emotion name,
// defaulting to a smile.
func Emotion(text string) (emoji, emotion string) {
	for _, r := range text {
		if e, ok := emotions[r]; ok {
			return string(r), e
		}
	}
	return "🙂", "happy"
}

// StripEmoji removes emoji and newlines.
func StripEmoji(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || IsEmoji(r) {
			return -1
		}
		return r
	}, s)
}

func isEdge(r rune) bool {
	return unicode.IsSpace(r) || boundaries[r] || IsEmoji(r)
}

// TrimEdges drops spaces, punctuation and emoji from both ends.
func TrimEdges(s string) string {
	return strings.TrimFunc(s, isEdge)
}

var markdownRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile("(?s)```.*?```"), ""},
	{regexp.MustCompile(`(?m)^#+\s*`), ""},
	{regexp.MustCompile(`\*\*(.*?)\*\*`), "$1"},
	{regexp.MustCompile(`__(.*?)__`), "$1"},
	{regexp.MustCompile(`\*(\S(?:.*?\S)?)\*`), "$1"},
	{regexp.MustCompile(`!\[.*?\]\(.*?\)`), ""},
	{regexp.MustCompile(`\[(.*?)\]\(.*?\)`), "$1"},
	{regexp.MustCompile(`(?m)^\s*>+\s*`), ""},
	{regexp.MustCompile(`(?m)^\s*[*+-]\s+`), ""},
	{regexp.MustCompile(`(?s)\$\$.*?\$\$`), ""},
	{regexp.MustCompile(`\n{2,}`), "\n"},
}

// CleanMarkdown removes markup that should not be read aloud.
func CleanMarkdown(s string) string {
	for _, r := range markdownRules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return strings.TrimSpace(s)
}

// ForSpeech prepares a segment for the synthesizer. An empty result means
// there is nothing worth speaking.
func ForSpeech(s string) string {
	return TrimEdges(StripEmoji(CleanMarkdown(s)))
}

// segmenter accumulates streamed text and cuts it at punctuation.
type segmenter struct {
	buf       []rune
	processed int
}

func (g *segmenter) reset() {
	g.buf = g.buf[:0]
	g.processed = 0
}

func (g *segmenter) add(s string) { g.buf = append(g.buf, []rune(s)...) }

// next returns raw text up to the last boundary seen, or everything that is
// left when final is set.
func (g *segmenter) next(final bool) string {
	pending := g.buf[g.processed:]
	if len(pending) == 0 {
		return ""
	}
	if final {
		g.processed = len(g.buf)
		return string(pending)
	}
	cut := -1
	for i := len(pending) - 1; i >= 0; i-- {
		if boundaries[pending[i]] {
			cut = i
			break
		}
	}
	if cut < 0 {
		return ""
	}
	g.processed += cut + 1
	return string(pending[:cut+1])
}
