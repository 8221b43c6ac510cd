package summarizer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"flightrag/internal/domain"
)

func TestSummarize_KeepsOriginalOrder(t *testing.T) {
	f := NewFrequency(2)
	text := "Flight tracking uses ADS-B receivers. The weather was nice. ADS-B receivers feed flight tracking data to FlightAware."
	got := f.Summarize(text, 2)
	assert.Equal(t, "Flight tracking uses ADS-B receivers. ADS-B receivers feed flight tracking data to FlightAware.", got)
}

func TestSummarize_TextWithoutPunctuation(t *testing.T) {
	f := NewFrequency(1)
	assert.Equal(t, "what is foresight", f.Summarize("  what is foresight  ", 1))
	assert.Equal(t, "", f.Summarize("", 1))
}

func TestKeywords(t *testing.T) {
	f := NewFrequency(1)
	got := f.Keywords("Foresight predicts arrivals. Foresight uses ML. What is Firehose? Firehose streams.", 2)
	assert.Equal(t, []string{"firehose", "foresight"}, got)
}

func TestSession(t *testing.T) {
	f := NewFrequency(1)
	turns := []domain.Turn{
		{Role: domain.RoleUser, Text: "What is Foresight?"},
		{Role: domain.RoleAssistant, Text: "Foresight is predictive aviation technology. It estimates arrival times."},
		{Role: domain.RoleUser, Text: "How accurate is Foresight"},
		{Role: domain.RoleAssistant, Text: "Foresight accuracy is high for arrival predictions."},
	}
	s := f.Session("u1", turns)
	assert.Equal(t, 4, s.Turns)
	assert.Equal(t, 2, s.Questions)
	assert.Equal(t, "How accurate is Foresight", s.LastQuestion)
	assert.Equal(t, "foresight", s.Topics[0])
	assert.NotEmpty(t, s.Highlights)
	assert.Contains(t, s.String(), "4 turns, 2 questions.")
}

func TestSession_Empty(t *testing.T) {
	s := NewFrequency(3).Session("u1", nil)
	assert.Equal(t, "No conversation history for u1.", s.String())
	assert.Empty(t, s.Topics)
}
