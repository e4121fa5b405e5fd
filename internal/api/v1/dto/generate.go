package dto

import "vision2viral/internal/model"

// GenerateRequest is the body of POST /v1/generate.
type GenerateRequest struct {
	Feature            string `json:"feature" validate:"required"`
	Platform           string `json:"platform" validate:"omitempty,max=40"`
	Niche              string `json:"niche" validate:"omitempty,max=200"`
	Tone               string `json:"tone" validate:"omitempty,max=80"`
	CTA                string `json:"cta" validate:"omitempty,max=200"`
	Audience           string `json:"audience" validate:"omitempty,max=200"`
	InputImagePath     string `json:"input_image_path" validate:"omitempty,max=512"`
	HooksCount         int    `json:"hooks_count" validate:"omitempty,min=0"`
	HashtagCount       int    `json:"hashtag_count" validate:"omitempty,min=0"`
	VideoIdeasCount    int    `json:"video_ideas_count" validate:"omitempty,min=0"`
	VideoLengthSeconds int    `json:"video_length_seconds" validate:"omitempty,min=0"`
}

// Params converts the request into generation parameters. Clamping happens in
// the generator.
func (r GenerateRequest) Params() model.GenerationParams {
	return model.GenerationParams{
		Platform:           r.Platform,
		Niche:              r.Niche,
		Tone:               r.Tone,
		CTA:                r.CTA,
		Audience:           r.Audience,
		InputImagePath:     r.InputImagePath,
		HooksCount:         r.HooksCount,
		HashtagCount:       r.HashtagCount,
		VideoIdeasCount:    r.VideoIdeasCount,
		VideoLengthSeconds: r.VideoLengthSeconds,
	}
}

type GenerateResponse struct {
	OK               bool                    `json:"ok"`
	GenerationID     string                  `json:"generation_id,omitempty"`
	Feature          string                  `json:"feature"`
	Output           *model.GenerationOutput `json:"output"`
	CreditsCost      int64                   `json:"credits_cost"`
	CreditsRemaining model.Balance           `json:"credits_remaining"`
	Plan             string                  `json:"plan"`
	Role             string                  `json:"role"`
	Warning          string                  `json:"warning,omitempty"`
}
