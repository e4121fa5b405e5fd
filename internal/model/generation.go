package model

import (
	"encoding/json"
	"sort"
	"time"
)

// Feature is a billable generation feature.
type Feature string

const (
	FeatureHooks      Feature = "hooks"
	FeatureCaption    Feature = "caption"
	FeatureHashtags   Feature = "hashtags"
	FeatureScript     Feature = "script"
	FeatureVideoIdeas Feature = "video_ideas"
	FeatureBundle     Feature = "bundle"
)

var featureCosts = map[Feature]int64{
	FeatureHooks:      1,
	FeatureCaption:    1,
	FeatureHashtags:   1,
	FeatureScript:     2,
	FeatureVideoIdeas: 1,
	FeatureBundle:     4,
}

// FeatureCost returns the credit cost of a feature and whether the feature exists.
func FeatureCost(f Feature) (int64, bool) {
	c, ok := featureCosts[f]
	return c, ok
}

// Features lists the known features in name order.
func Features() []Feature {
	out := make([]Feature, 0, len(featureCosts))
	for f := range featureCosts {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GenerationParams are the caller-supplied knobs for one generation.
type GenerationParams struct {
	Platform           string `json:"platform"`
	Niche              string `json:"niche,omitempty"`
	Tone               string `json:"tone,omitempty"`
	CTA                string `json:"cta,omitempty"`
	Audience           string `json:"audience,omitempty"`
	InputImagePath     string `json:"input_image_path,omitempty"`
	HooksCount         int    `json:"hooks_count,omitempty"`
	HashtagCount       int    `json:"hashtag_count,omitempty"`
	VideoIdeasCount    int    `json:"video_ideas_count,omitempty"`
	VideoLengthSeconds int    `json:"video_length_seconds,omitempty"`
}

// VideoScript is the short-form script section of a generation.
type VideoScript struct {
	Hook         string   `json:"hook"`
	SceneByScene []string `json:"scene_by_scene"`
	Voiceover    string   `json:"voiceover"`
	OnScreenText []string `json:"on_screen_text"`
	CTA          string   `json:"cta"`
}

// GenerationOutput is the structured output of the generation backend.
type GenerationOutput struct {
	Hooks       []string    `json:"hooks"`
	Caption     string      `json:"caption"`
	Hashtags    []string    `json:"hashtags"`
	VideoScript VideoScript `json:"video_script"`
	VideoIdeas  []string    `json:"video_ideas"`
}

// Generation records one completed, paid-for generation.
type Generation struct {
	ID             string          `db:"id" json:"id"`
	UserID         string          `db:"user_id" json:"user_id"`
	Feature        Feature         `db:"feature" json:"feature"`
	CostCharged    int64           `db:"cost_charged" json:"cost_charged"`
	Platform       string          `db:"platform" json:"platform"`
	InputImagePath string          `db:"input_image_path" json:"input_image_path,omitempty"`
	Payload        json.RawMessage `db:"payload" json:"payload"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}
