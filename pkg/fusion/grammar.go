// Package fusion merges the modality event streams into one ordered command
// stream: it classifies events into candidate commands, arbitrates conflicts
// inside a short window by source priority, debounces noisy channels, and
// suppresses navigation while a model query is outstanding.
package fusion

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/deckd/deckd/pkg/deck"
)

// Phrase buffer tuning. Recognizers deliver words piecemeal; words arriving
// within the window are joined into one phrase so multi-word triggers match
// across frames.
const (
	phraseCapacity = 10
	phraseWindow   = 3 * time.Second
)

// Intent is a recognized spoken command.
type Intent struct {
	Type deck.CommandType
	Args deck.Args
}

var jumpPattern = regexp.MustCompile(`go to slide (\d+)`)

// Grammar accumulates transcript words and matches them against the spoken
// command triggers. It is not safe for concurrent use; the fusion engine is
// its only caller.
type Grammar struct {
	words []phraseWord
}

type phraseWord struct {
	word string
	at   time.Time
}

// NewGrammar creates an empty grammar.
func NewGrammar() *Grammar {
	return &Grammar{}
}

// Feed appends the words of one final transcript fragment and reports the
// intent the accumulated phrase matches, if any. A match clears the buffer
// so the same utterance cannot trigger twice.
func (g *Grammar) Feed(text string, at time.Time) *Intent {
	for _, w := range strings.Fields(strings.ToLower(text)) {
		g.words = append(g.words, phraseWord{word: w, at: at})
	}
	g.trim(at)

	phrase := g.phrase()
	if phrase == "" {
		return nil
	}

	intent := matchPhrase(phrase)
	if intent != nil {
		g.words = g.words[:0]
	}
	return intent
}

// trim drops words older than the phrase window and caps the buffer.
func (g *Grammar) trim(now time.Time) {
	cut := 0
	for cut < len(g.words) && now.Sub(g.words[cut].at) > phraseWindow {
		cut++
	}
	if over := len(g.words) - cut - phraseCapacity; over > 0 {
		cut += over
	}
	if cut > 0 {
		g.words = append(g.words[:0], g.words[cut:]...)
	}
}

func (g *Grammar) phrase() string {
	if len(g.words) == 0 {
		return ""
	}
	parts := make([]string, len(g.words))
	for i, w := range g.words {
		parts[i] = w.word
	}
	return strings.Join(parts, " ")
}

// matchPhrase checks the accumulated phrase against the trigger table.
// More specific triggers are checked before their substrings ("next slide"
// before "next" is unnecessary, but "open presentation" must beat nothing
// and "go to slide N" must beat "slide").
func matchPhrase(phrase string) *Intent {
	if strings.Contains(phrase, "open presentation") {
		return &Intent{Type: deck.CommandOpen}
	}
	if m := jumpPattern.FindStringSubmatch(phrase); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			// Spoken slide numbers are one-based.
			return &Intent{Type: deck.CommandJumpTo, Args: deck.Args{Slide: n - 1}}
		}
	}
	if strings.Contains(phrase, "cancel") {
		return &Intent{Type: deck.CommandCancelQuery}
	}
	if idx := questionIndex(phrase); idx >= 0 {
		prompt := strings.TrimSpace(phrase[idx:])
		if prompt != "" {
			return &Intent{Type: deck.CommandAskModel, Args: deck.Args{Prompt: prompt}}
		}
	}
	if strings.Contains(phrase, "next") {
		return &Intent{Type: deck.CommandNextSlide}
	}
	if strings.Contains(phrase, "previous") || strings.Contains(phrase, "back") {
		return &Intent{Type: deck.CommandPrevSlide}
	}
	return nil
}

// questionIndex returns the offset of the question text after a "question"
// trigger word, or -1.
func questionIndex(phrase string) int {
	for _, trigger := range []string{"question ", "ask the model ", "ask "} {
		idx := strings.Index(phrase, trigger)
		if idx < 0 {
			continue
		}
		// Word boundary: "task" must not trigger "ask".
		if idx > 0 && phrase[idx-1] != ' ' {
			continue
		}
		return idx + len(trigger)
	}
	return -1
}
