package preheat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// The advisor's adjustment is clamped to this range no matter what the
// provider returns.
const (
	minAdjustment = -0.15
	maxAdjustment = 0.20
)

// Slot names one of the two fixed daily advisor runs.
type Slot string

const (
	SlotMorning Slot = "morning"
	SlotEvening Slot = "evening"
)

// Advice is an advisor's margin recommendation. MarginAdjustment is an
// additive delta on the safety margin.
type Advice struct {
	MarginAdjustment float64   `json:"margin_adjustment"`
	Confidence       float64   `json:"confidence"`
	Reasoning        string    `json:"reasoning"`
	Raw              string    `json:"-"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Timestamp        time.Time `json:"timestamp"`
}

// AdvisorRequest carries the zone context an advisor reasons over.
type AdvisorRequest struct {
	Zone     string
	Thermal  ThermalSummary
	Forecast *Forecast
	State    CurrentState
	Slot     Slot
}

// ThermalSummary is the model's aggregate view plus the most recent sessions.
type ThermalSummary struct {
	Inertia    Inertia
	HasInertia bool
	Recent     []HeatingSession
}

// CurrentState is the zone's instantaneous condition. Nil means unavailable.
type CurrentState struct {
	Indoor        *float64
	Outdoor       *float64
	Setpoint      *float64
	MarginPercent int
}

// Advisor supplies a margin adjustment, either heuristically or from a
// language model. Implementations must be safe to call with a short deadline.
type Advisor interface {
	Name() string
	Model() string
	Adjust(ctx context.Context, req AdvisorRequest) (Advice, error)
}

// AdvisorConfig selects and configures a provider backend.
type AdvisorConfig struct {
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	URL      string `mapstructure:"url"`
}

// NewAdvisor builds the provider named by cfg. Unknown or empty provider tags
// fall back to the dependency-free heuristic advisor.
func NewAdvisor(cfg AdvisorConfig) (Advisor, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIAdvisor(cfg.APIKey, cfg.Model)
	case "anthropic":
		return NewAnthropicAdvisor(cfg.APIKey, cfg.Model)
	case "ollama":
		return NewOllamaAdvisor(cfg.URL, cfg.Model)
	case "", "none", "heuristic":
		return NewHeuristicAdvisor(), nil
	default:
		return nil, fmt.Errorf("unknown advisor provider %q", cfg.Provider)
	}
}

func clampAdjustment(v float64) float64 {
	return min(maxAdjustment, max(minAdjustment, v))
}

// buildAdvisorPrompt renders the shared prompt used by all model-backed
// providers.
func buildAdvisorPrompt(req AdvisorRequest) string {
	var b strings.Builder

	b.WriteString("You are an expert in smart heating and thermal inertia.\n\n")

	if req.Slot == SlotMorning {
		b.WriteString("CONTEXT: morning analysis.\n" +
			"Plan the whole day. Be conservative, conditions may change. " +
			"If the forecast matches past sessions: little or no adjustment. " +
			"If unusually cold: raise the margin (+5 to +15%).\n\n")
	} else {
		b.WriteString("CONTEXT: evening adjustment.\n" +
			"Fine-tune for TONIGHT only. Current weather is known with " +
			"certainty; adjust the margin accordingly.\n\n")
	}

	fmt.Fprintf(&b, "ZONE %q DATA:\n", req.Zone)

	if req.Thermal.HasInertia {
		fmt.Fprintf(&b, "- Average heating speed: %.5f degC/min\n", req.Thermal.Inertia.AvgSpeed)
		fmt.Fprintf(&b, "- Minutes per degree: %.1f min\n", req.Thermal.Inertia.MinPerDeg)
		fmt.Fprintf(&b, "- Sessions collected: %d\n", req.Thermal.Inertia.Sessions)
	} else {
		b.WriteString("- No thermal data yet\n")
	}

	writeOptional(&b, "Indoor temperature", req.State.Indoor)
	writeOptional(&b, "Outdoor temperature", req.State.Outdoor)
	writeOptional(&b, "Current setpoint", req.State.Setpoint)
	fmt.Fprintf(&b, "- Base safety margin: %d%%\n", req.State.MarginPercent)

	b.WriteString("\nRECENT SESSIONS:\n")

	if len(req.Thermal.Recent) == 0 {
		b.WriteString("  none\n")
	}

	for _, s := range req.Thermal.Recent {
		fmt.Fprintf(&b, "  %s : %.1f->%.1f degC (%+.1f degC in %.0f min) outdoor %.1f degC\n",
			s.Date.Format("2006-01-02 15:04"), s.TempStart, s.TempEnd,
			s.Delta, s.DurationMin, s.OutdoorAvg)
	}

	b.WriteString("\nWEATHER FORECAST:\n")

	if req.Forecast == nil || len(req.Forecast.Entries) == 0 {
		b.WriteString("  unavailable\n")
	} else {
		for i, f := range req.Forecast.Entries {
			if i >= 6 {
				break
			}

			fmt.Fprintf(&b, "  %s : %s, %s-%s degC\n",
				f.Time, f.Condition, floatOr(f.Low, "?"), floatOr(f.High, "?"))
		}
	}

	b.WriteString("\nRespond ONLY with JSON (no markdown, no surrounding text):\n" +
		`{"margin_adjustment": <float between -0.15 and 0.20>, ` +
		`"confidence": <float 0.0-1.0>, ` +
		`"reasoning": "<short explanation, max 100 characters>"}` + "\n")

	return b.String()
}

func writeOptional(b *strings.Builder, label string, v *float64) {
	if v != nil {
		fmt.Fprintf(b, "- %s: %.1f degC\n", label, *v)
	} else {
		fmt.Fprintf(b, "- %s: unknown\n", label)
	}
}

func floatOr(v *float64, fallback string) string {
	if v == nil {
		return fallback
	}

	return fmt.Sprintf("%.0f", *v)
}

// parseAdvice decodes a model response, tolerating markdown fences around the
// JSON body. The adjustment and confidence are clamped to their valid ranges.
func parseAdvice(raw, provider, model string) (Advice, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var body struct {
		MarginAdjustment float64 `json:"margin_adjustment"`
		Confidence       float64 `json:"confidence"`
		Reasoning        string  `json:"reasoning"`
	}

	if err := json.Unmarshal([]byte(cleaned), &body); err != nil {
		return Advice{}, fmt.Errorf("parsing advisor response: %w", err)
	}

	reasoning := body.Reasoning
	if len(reasoning) > 200 {
		reasoning = reasoning[:200]
	}

	return Advice{
		MarginAdjustment: clampAdjustment(body.MarginAdjustment),
		Confidence:       min(1, max(0, body.Confidence)),
		Reasoning:        reasoning,
		Raw:              raw,
		Provider:         provider,
		Model:            model,
		Timestamp:        time.Now(),
	}, nil
}

// HeuristicAdvisor is the built-in, dependency-free default: a margin
// adjustment derived purely from outdoor temperature bands and forecasted snow
// or wind. It needs no network access and never fails.
type HeuristicAdvisor struct{}

func NewHeuristicAdvisor() *HeuristicAdvisor { return &HeuristicAdvisor{} }

func (*HeuristicAdvisor) Name() string  { return "heuristic" }
func (*HeuristicAdvisor) Model() string { return "algorithm" }

func (a *HeuristicAdvisor) Adjust(_ context.Context, req AdvisorRequest) (Advice, error) {
	outdoor := 10.0
	if req.State.Outdoor != nil {
		outdoor = *req.State.Outdoor
	}

	var (
		adj    float64
		reason string
	)

	switch {
	case outdoor < -5:
		adj, reason = 0.10, fmt.Sprintf("severe cold (%.1f degC), margin raised", outdoor)
	case outdoor < 0:
		adj, reason = 0.05, fmt.Sprintf("cold (%.1f degC), slight extra margin", outdoor)
	case outdoor < 5:
		adj, reason = 0, "normal winter conditions"
	case outdoor < 12:
		adj, reason = -0.03, fmt.Sprintf("mild (%.1f degC), margin reduced", outdoor)
	default:
		adj, reason = -0.05, fmt.Sprintf("warm (%.1f degC), minimal margin", outdoor)
	}

	if req.Forecast != nil {
		var snow, wind bool

		for i, f := range req.Forecast.Entries {
			if i >= 4 {
				break
			}

			switch f.Condition {
			case "snowy", "snowy-rainy":
				snow = true
			case "windy", "windy-variant":
				wind = true
			}
		}

		if snow {
			adj += 0.05
			reason += ", snow expected"
		} else if wind {
			adj += 0.03
			reason += ", wind expected"
		}
	}

	return Advice{
		MarginAdjustment: clampAdjustment(adj),
		Confidence:       0.6,
		Reasoning:        reason,
		Raw:              "algorithmic",
		Provider:         a.Name(),
		Model:            a.Model(),
		Timestamp:        time.Now(),
	}, nil
}
