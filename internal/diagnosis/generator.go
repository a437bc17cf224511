package diagnosis

import (
	"context"
	"fmt"
	"strings"

	"fridgeclinic/internal/config"
	"fridgeclinic/internal/faults"
	"fridgeclinic/internal/models"
	"fridgeclinic/internal/remotefile"

	"google.golang.org/genai"
)

// GeminiGenerator runs prompts against an uploaded file through the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator shares the file API's transport policy. Without an API
// key the generator is returned unconfigured and every call fails with
// faults.ErrNotConfigured.
func NewGeminiGenerator(ctx context.Context, cfg config.RemoteFilesConfig, model string) (*GeminiGenerator, error) {
	if model == "" {
		model = config.DefaultDiagnosisModel
	}
	g := &GeminiGenerator{model: model}
	if config.IsPlaceholder(cfg.APIKey) {
		return g, nil
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: remotefile.NewHTTPClient(cfg),
	}
	if cfg.BaseURL != "" && cfg.BaseURL != config.DefaultRemoteBaseURL {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(cfg.BaseURL, "/") + "/"}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	g.client = client
	return g, nil
}

// Model names the model used for generation.
func (g *GeminiGenerator) Model() string { return g.model }

// Generate sends the file reference followed by prompt and returns the text answer.
func (g *GeminiGenerator) Generate(ctx context.Context, file models.RemoteFileHandle, prompt string) (string, error) {
	if g == nil || g.client == nil {
		return "", fmt.Errorf("%w: gemini api key missing", faults.ErrNotConfigured)
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromURI(file.URI, file.MimeType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", faults.ErrGenerationFailed, err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: empty response from %s", faults.ErrGenerationFailed, g.model)
	}
	return text, nil
}
