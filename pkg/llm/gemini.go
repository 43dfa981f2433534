package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

const scriptPromptTemplate = `You are a screenwriter for short AI-generated videos.
Write a narration script for a video titled "%s".

### Strict Requirements for Output:
1.  **Text Only**: Provide ONLY the script. No headings, explanations or markdown.
2.  **Length**: Between 150 and 300 words.
3.  **Visual**: Every paragraph must describe something that can be shown in a single still image.`

const scenesPromptTemplate = `You are a storyboard artist.
Break the following narration script into an ordered JSON array of scenes.
Each element must be an object with two string fields: "visual_description" (what the image shows, including the recurring main character) and "voiceover" (the narration spoken over it).
Ensure the entire response is a valid JSON array, with no additional text or formatting outside the array.

Example Response: [{"visual_description": "A lighthouse keeper climbs a spiral staircase at dusk.", "voiceover": "Every night, Elena climbed the two hundred steps."}]

Script to break down:
"%s"`

// GeminiService holds the Gemini AI client.
type GeminiService struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiService creates a new Gemini AI service instance.
func NewGeminiService(ctx context.Context, apiKey, modelName string) (*GeminiService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiService{client: client, model: client.GenerativeModel(modelName)}, nil
}

// GenerateScript writes the narration script for a video title.
func (s *GeminiService) GenerateScript(ctx context.Context, title string) (string, error) {
	log.Debugf("Generating script for title: %s", title)
	text, err := s.generate(ctx, fmt.Sprintf(scriptPromptTemplate, title))
	if err != nil {
		return "", err
	}
	log.Infof("Generated script for '%s' (%d chars)", title, len(text))
	return stripFences(text), nil
}

// SplitScenes breaks a script into ordered scenes.
func (s *GeminiService) SplitScenes(ctx context.Context, script string) ([]SceneDraft, error) {
	text, err := s.generate(ctx, fmt.Sprintf(scenesPromptTemplate, script))
	if err != nil {
		return nil, err
	}
	scenes, err := ParseScenes(text)
	if err != nil {
		log.Errorf("Failed to parse Gemini scene breakdown: %v", err)
		return nil, err
	}
	log.Infof("Split script into %d scenes.", len(scenes))
	return scenes, nil
}

func (s *GeminiService) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := s.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		log.Errorf("Error generating content: %v", err)
		return "", fmt.Errorf("gemini API call failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		log.Warn("Gemini returned no candidates or content.")
		return "", fmt.Errorf("gemini API returned no content")
	}

	part := resp.Candidates[0].Content.Parts[0]
	text, ok := part.(genai.Text)
	if !ok {
		log.Errorf("Gemini response part is not text: %v", part)
		return "", fmt.Errorf("gemini API returned non-text content")
	}
	log.Debugf("Gemini raw response: %s", text)
	return string(text), nil
}

// Close releases the underlying Gemini client.
func (s *GeminiService) Close() error {
	log.Info("Closing Gemini AI service client.")
	return s.client.Close()
}
