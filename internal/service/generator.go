package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vision2viral/internal/apperror"
	"vision2viral/internal/model"

	"github.com/rs/zerolog"
)

// GenerationRequest is what the spend gate hands to the generation backend.
type GenerationRequest struct {
	Feature  model.Feature
	ImageURL string
	Params   model.GenerationParams
}

// Generator produces content for a paid request. Failures are UpstreamErrors.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (*model.GenerationOutput, error)
}

const (
	openAIResponsesEndpoint = "/responses"
	openAISchemaName        = "vision2viral_output"
	maxErrorBody            = 800
)

const systemPrompt = `You are an elite viral social strategist and conversion copywriter.
You generate platform-native content from an IMAGE plus brief context.
Return ONLY valid JSON in the exact schema requested. No markdown. No extra keys.`

// NormalizeParams fills defaults and clamps counts into their supported ranges.
func NormalizeParams(p model.GenerationParams) model.GenerationParams {
	if p.Platform == "" {
		p.Platform = "tiktok"
	}
	if p.Tone == "" {
		p.Tone = "confident"
	}
	if p.CTA == "" {
		p.CTA = "Follow for more"
	}
	if p.Audience == "" {
		p.Audience = "general"
	}
	p.HooksCount = clamp(p.HooksCount, 10, 5, 20)
	p.HashtagCount = clamp(p.HashtagCount, 18, 8, 30)
	p.VideoIdeasCount = clamp(p.VideoIdeasCount, 6, 3, 12)
	p.VideoLengthSeconds = clamp(p.VideoLengthSeconds, 30, 10, 60)
	return p
}

func clamp(v, def, lo, hi int) int {
	if v == 0 {
		v = def
	}
	return max(lo, min(hi, v))
}

// NormalizeHashtags trims tags and makes each start with a single '#'.
func NormalizeHashtags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimLeft(strings.TrimSpace(t), "#")
		if t == "" {
			continue
		}
		out = append(out, "#"+t)
	}
	return out
}

type openAIGenerator struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewOpenAIGenerator calls the OpenAI Responses API with a strict JSON schema.
func NewOpenAIGenerator(apiKey, model, baseURL string, timeout time.Duration, logger zerolog.Logger) Generator {
	return &openAIGenerator{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("service", "OpenAIGenerator").Logger(),
	}
}

func outputSchema() map[string]any {
	strList := map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"hooks":    strList,
			"caption":  map[string]any{"type": "string"},
			"hashtags": strList,
			"video_script": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"hook":           map[string]any{"type": "string"},
					"scene_by_scene": strList,
					"voiceover":      map[string]any{"type": "string"},
					"on_screen_text": strList,
					"cta":            map[string]any{"type": "string"},
				},
				"required": []string{"hook", "scene_by_scene", "voiceover", "on_screen_text", "cta"},
			},
			"video_ideas": strList,
		},
		"required": []string{"hooks", "caption", "hashtags", "video_script", "video_ideas"},
	}
}

func userPrompt(feature model.Feature, p model.GenerationParams) string {
	niche := p.Niche
	if niche == "" {
		niche = "general creator/business"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Create content for:\nPlatform: %s\nNiche: %s\nTone: %s\nAudience: %s\nCTA: %s\n", p.Platform, niche, p.Tone, p.Audience, p.CTA)
	fmt.Fprintf(&b, "Focus: %s\nRequirements:\n", feature)
	fmt.Fprintf(&b, "- Hooks: %d (short, punchy, platform-native)\n", p.HooksCount)
	b.WriteString("- Caption: 1 (ready-to-post, include subtle CTA)\n")
	fmt.Fprintf(&b, "- Hashtags: %d (mix: reach + niche + buyer intent; no spaces; include #)\n", p.HashtagCount)
	fmt.Fprintf(&b, "- Video script: %ds short-form script with hook (0-2s), scene-by-scene steps, voiceover, on-screen text and CTA close\n", p.VideoLengthSeconds)
	fmt.Fprintf(&b, "- Video ideas: %d (each a 1-sentence concept)\n", p.VideoIdeasCount)
	b.WriteString("Return ONLY JSON (no backticks).")
	return b.String()
}

type responsesOutput struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

func (r *responsesOutput) text() string {
	for _, o := range r.Output {
		for _, c := range o.Content {
			if c.Type == "output_text" && c.Text != "" {
				return c.Text
			}
		}
	}
	return r.OutputText
}

func (g *openAIGenerator) Generate(ctx context.Context, req GenerationRequest) (*model.GenerationOutput, error) {
	params := NormalizeParams(req.Params)
	userContent := []map[string]any{{"type": "input_text", "text": userPrompt(req.Feature, params)}}
	if req.ImageURL != "" {
		userContent = append(userContent, map[string]any{"type": "input_image", "image_url": req.ImageURL})
	}
	body := map[string]any{
		"model": g.model,
		"input": []map[string]any{
			{"role": "system", "content": []map[string]any{{"type": "input_text", "text": systemPrompt}}},
			{"role": "user", "content": userContent},
		},
		"text": map[string]any{
			"format": map[string]any{
				"type":   "json_schema",
				"name":   openAISchemaName,
				"schema": outputSchema(),
				"strict": true,
			},
		},
	}
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+openAIResponsesEndpoint, bytes.NewReader(bodyJSON))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, &apperror.UpstreamError{Service: "generation backend", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apperror.UpstreamError{Service: "generation backend", Err: fmt.Errorf("reading response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(raw)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		g.logger.Error().Int("status_code", resp.StatusCode).Str("body", snippet).Msg("OpenAI request failed")
		return nil, &apperror.UpstreamError{Service: "generation backend", Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	var parsed responsesOutput
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &apperror.UpstreamError{Service: "generation backend", Err: fmt.Errorf("decoding response: %w", err)}
	}
	text := parsed.text()
	if text == "" {
		return nil, &apperror.UpstreamError{Service: "generation backend", Err: errors.New("response missing output_text")}
	}
	var out model.GenerationOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, &apperror.UpstreamError{Service: "generation backend", Err: errors.New("output_text was not valid JSON")}
	}
	out.Hashtags = NormalizeHashtags(out.Hashtags)
	return &out, nil
}
