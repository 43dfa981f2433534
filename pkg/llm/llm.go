package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// SceneDraft is one scene proposed by the breakdown step.
type SceneDraft struct {
	VisualDescription string `json:"visual_description"`
	Voiceover         string `json:"voiceover"`
}

// Generator produces the text artifacts of the script and scene phases.
type Generator interface {
	GenerateScript(ctx context.Context, title string) (string, error)
	SplitScenes(ctx context.Context, script string) ([]SceneDraft, error)
}

// stripFences removes a surrounding markdown code fence, which models often
// add even when told not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "[{") {
		s = s[nl+1:]
	}
	return strings.TrimSpace(s)
}

// ParseScenes decodes a JSON scene array, dropping empty scenes.
func ParseScenes(raw string) ([]SceneDraft, error) {
	var drafts []SceneDraft
	if err := json.Unmarshal([]byte(stripFences(raw)), &drafts); err != nil {
		return nil, fmt.Errorf("parse scene breakdown: %w", err)
	}

	out := drafts[:0]
	for _, d := range drafts {
		d.VisualDescription = strings.TrimSpace(d.VisualDescription)
		d.Voiceover = strings.TrimSpace(d.Voiceover)
		if d.VisualDescription != "" {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("parse scene breakdown: no scenes")
	}
	return out, nil
}
