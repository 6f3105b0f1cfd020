package narrative

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lox/kasselweather/internal/stats"
)

var ErrNoAPIKey = errors.New("narrative: OPENAI_API_KEY not set")

const systemPrompt = `Du bist ein Meteorologe, der Wetterstatistiken für Kassel in zwei bis drei kurzen, sachlichen Sätzen auf Deutsch zusammenfasst. Nenne nur Werte, die in den Daten vorkommen.`

// Narrator turns summary statistics into a short text.
type Narrator struct {
	client openai.Client
	model  openai.ChatModel
}

// New creates a narrator. An empty apiKey returns ErrNoAPIKey so callers can
// run without narratives.
func New(apiKey, model string) (*Narrator, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	m := openai.ChatModel(model)
	if model == "" {
		m = openai.ChatModelGPT4oMini
	}
	return &Narrator{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  m,
	}, nil
}

// Summarize describes the statistics for the given year range.
func (n *Narrator) Summarize(ctx context.Context, s stats.Summary, startYear, endYear int) (string, error) {
	prompt := BuildPrompt(s, startYear, endYear)
	if prompt == "" {
		return "", errors.New("narrative: no statistics to describe")
	}

	resp, err := n.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: n.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("narrative: no choices returned")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	log.Printf("narrative: generated %d chars for %d-%d", len(text), startYear, endYear)
	return text, nil
}

// BuildPrompt lists the available statistic groups. It returns "" when the
// summary has none.
func BuildPrompt(s stats.Summary, startYear, endYear int) string {
	var b strings.Builder
	if s.HasTemperature() {
		t := s.Temperature
		fmt.Fprintf(&b, "Temperatur: Mittel %.1f °C, Maximum %.1f °C am %s, Minimum %.1f °C am %s, Standardabweichung %.1f.\n",
			t.Mean, t.Hottest.Value, t.Hottest.Date.Format("02.01.2006"), t.Coldest.Value, t.Coldest.Date.Format("02.01.2006"), t.Std)
	}
	if s.HasPrecipitation() {
		p := s.Precipitation
		fmt.Fprintf(&b, "Niederschlag: Summe %.0f mm, %d Regentage, nassester Tag %s mit %.1f mm.\n",
			p.Total, p.RainyDays, p.Rainiest.Date.Format("02.01.2006"), p.Rainiest.Value)
	}
	if s.HasWind() {
		fmt.Fprintf(&b, "Wind: Mittel %.1f km/h, Maximum %.1f km/h.\n", s.Wind.Mean, s.Wind.Max)
	}
	if s.HasSunshine() {
		fmt.Fprintf(&b, "Sonnenschein: Summe %.0f Stunden.\n", s.Sunshine.Total/60)
	}
	if b.Len() == 0 {
		return ""
	}
	return fmt.Sprintf("Zeitraum %d bis %d, %d Tage.\n%s", startYear, endYear, s.Rows, b.String())
}
