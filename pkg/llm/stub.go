package llm

import (
	"context"
	"fmt"
	"strings"
)

// StubGenerator is a deterministic Generator used when no API key is
// configured and in tests. Each paragraph of the script becomes one scene.
type StubGenerator struct {
	Paragraphs int
}

func (g StubGenerator) paragraphs() int {
	if g.Paragraphs <= 0 {
		return 3
	}
	return g.Paragraphs
}

func (g StubGenerator) GenerateScript(ctx context.Context, title string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	parts := make([]string, g.paragraphs())
	for i := range parts {
		parts[i] = fmt.Sprintf("Part %d of %s: the main character moves the story forward.", i+1, title)
	}
	return strings.Join(parts, "\n\n"), nil
}

func (g StubGenerator) SplitScenes(ctx context.Context, script string) ([]SceneDraft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var drafts []SceneDraft
	for _, p := range strings.Split(script, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			drafts = append(drafts, SceneDraft{VisualDescription: p, Voiceover: p})
		}
	}
	if len(drafts) == 0 {
		return nil, fmt.Errorf("script has no paragraphs")
	}
	return drafts, nil
}
