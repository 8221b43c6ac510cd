// Package summarizer builds extractive summaries of conversation sessions.
package summarizer

import (
	"cmp"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"

	"flightrag/internal/domain"
)

var (
	tokenPattern    = regexp.MustCompile(`\p{L}[\p{L}\p{N}]*(?:['’-][\p{L}\p{N}]+)*`)
	sentencePattern = regexp.MustCompile(`[^.!?\n]+(?:[.!?]+|$)`)
)

// Summary describes a conversation session.
type Summary struct {
	UserID       string   `json:"user_id"`
	Turns        int      `json:"turns"`
	Questions    int      `json:"questions"`
	Topics       []string `json:"topics"`
	Highlights   string   `json:"highlights"`
	LastQuestion string   `json:"last_question,omitempty"`
}

// Frequency ranks sentences by normalised word frequency, stopwords excluded.
type Frequency struct {
	stopwords    map[string]struct{}
	maxSentences int
	maxTopics    int
}

func NewFrequency(maxSentences int) *Frequency {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return &Frequency{stopwords: defaultStopwords(), maxSentences: maxSentences, maxTopics: 5}
}

// Session summarises turns. Questions contribute to topics, answers to highlights.
func (f *Frequency) Session(userID string, turns []domain.Turn) Summary {
	sum := Summary{UserID: userID, Turns: len(turns), Topics: []string{}}
	var questions, answers strings.Builder
	for _, t := range turns {
		switch t.Role {
		case domain.RoleUser:
			sum.Questions++
			sum.LastQuestion = strings.TrimSpace(t.Text)
			questions.WriteString(t.Text)
			questions.WriteString("\n")
		case domain.RoleAssistant:
			answers.WriteString(t.Text)
			answers.WriteString("\n")
		}
	}
	sum.Topics = f.Keywords(questions.String()+answers.String(), f.maxTopics)
	sum.Highlights = f.Summarize(answers.String(), f.maxSentences)
	return sum
}

// String renders the summary as plain text.
func (s Summary) String() string {
	if s.Turns == 0 {
		return fmt.Sprintf("No conversation history for %s.", s.UserID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d turns, %d questions.", s.Turns, s.Questions)
	if len(s.Topics) > 0 {
		fmt.Fprintf(&b, " Topics: %s.", strings.Join(s.Topics, ", "))
	}
	if s.LastQuestion != "" {
		fmt.Fprintf(&b, " Last question: %q.", s.LastQuestion)
	}
	if s.Highlights != "" {
		fmt.Fprintf(&b, " %s", s.Highlights)
	}
	return b.String()
}

// Summarize returns up to maxSentences sentences of text in their original order.
func (f *Frequency) Summarize(text string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = f.maxSentences
	}
	var sentences []string
	for _, s := range sentencePattern.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}
	freq := f.frequencies(text)

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(sentences))
	for i, sent := range sentences {
		toks := f.tokens(sent)
		total := 0.0
		for _, tok := range toks {
			total += freq[tok]
		}
		// Long sentences would otherwise always win.
		if len(toks) > 0 {
			total /= math.Sqrt(float64(len(toks)))
		}
		scores[i] = scored{i, total}
	}
	slices.SortStableFunc(scores, func(a, b scored) int { return cmp.Compare(b.score, a.score) })
	n := min(maxSentences, len(scores))
	selected := make([]int, n)
	for i := range selected {
		selected[i] = scores[i].idx
	}
	slices.Sort(selected)
	out := make([]string, n)
	for i, idx := range selected {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " ")
}

// Keywords returns the n most frequent non-stopword tokens, ties alphabetical.
func (f *Frequency) Keywords(text string, n int) []string {
	counts := map[string]int{}
	for _, tok := range f.tokens(text) {
		if _, stop := f.stopwords[tok]; stop || len([]rune(tok)) < 3 {
			continue
		}
		counts[tok]++
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	slices.SortFunc(words, func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}

func (f *Frequency) frequencies(text string) map[string]float64 {
	freq := map[string]float64{}
	for _, tok := range f.tokens(text) {
		if _, ok := f.stopwords[tok]; ok {
			continue
		}
		freq[tok]++
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = max(maxF, v)
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}
	return freq
}

func (f *Frequency) tokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "its", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "how", "why", "when", "where", "who", "which", "does", "do", "did", "you", "your", "i", "me", "my", "we", "our", "tell", "please", "there", "their", "has", "have", "not", "also",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
