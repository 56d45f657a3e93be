package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/matsen/semlib/internal/record"
	"golang.org/x/time/rate"
)

const (
	// DefaultOllamaURL is the default Ollama API endpoint.
	DefaultOllamaURL = "http://localhost:11434"

	// DefaultModel is the default extraction model.
	DefaultModel = "llama3.1:8b"

	// DefaultTimeout allows for slow generation on CPU-only hosts.
	DefaultTimeout = 5 * time.Minute

	// DefaultRateLimit caps generation requests per second.
	DefaultRateLimit = 2.0

	apiPathGenerate = "/api/generate"

	// maxInputChars bounds the text sent to the model. Structured
	// extraction works from the front matter of a paper; sending the
	// bibliography wastes context.
	maxInputChars = 48000
)

// extractionPrompt asks the model for the fixed extraction schema as JSON.
const extractionPrompt = `You are given the text of a research paper titled %q.
Return a JSON object with these fields: abstract, thesis, contribution,
methodology (object with approach, datasets, evaluation, tools), findings
(array of strings), claims (array of strings), limitations (array of strings),
future_directions (array of strings), conclusions, confidence (number 0-1).
Use empty values for anything the text does not support. Respond with JSON only.

Paper text:
%s`

// OllamaExtractor derives extraction records with an Ollama generation model.
type OllamaExtractor struct {
	baseURL string
	model   string
	client  *http.Client
	limiter *rate.Limiter
}

// OllamaOption configures an OllamaExtractor.
type OllamaOption func(*OllamaExtractor)

// WithBaseURL sets the Ollama API base URL.
func WithBaseURL(url string) OllamaOption {
	return func(e *OllamaExtractor) {
		e.baseURL = url
	}
}

// WithModel sets the generation model.
func WithModel(model string) OllamaOption {
	return func(e *OllamaExtractor) {
		e.model = model
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) OllamaOption {
	return func(e *OllamaExtractor) {
		e.client.Timeout = timeout
	}
}

// NewOllamaExtractor creates an extractor backed by an Ollama model.
func NewOllamaExtractor(opts ...OllamaOption) *OllamaExtractor {
	e := &OllamaExtractor{
		baseURL: DefaultOllamaURL,
		model:   DefaultModel,
		client:  &http.Client{Timeout: DefaultTimeout},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract derives the structured record for one paper.
func (e *OllamaExtractor) Extract(ctx context.Context, paperID string, text string, paper *record.PaperRecord) (*record.ExtractionRecord, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: paper %s has no text", ErrExtraction, paperID)
	}
	if len(text) > maxInputChars {
		// Back off to a rune boundary so the cut never emits a broken
		// UTF-8 sequence.
		cut := maxInputChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqBody := ollamaGenerateRequest{
		Model:  e.model,
		Prompt: fmt.Sprintf(extractionPrompt, paper.Title, text),
		Format: "json",
		Stream: false,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+apiPathGenerate, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sending request: %v", ErrExtraction, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: ollama returned status %d", ErrExtraction, resp.StatusCode)
	}

	var genResp ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrExtraction, err)
	}

	var ext record.ExtractionRecord
	if err := json.Unmarshal([]byte(genResp.Response), &ext); err != nil {
		return nil, fmt.Errorf("%w: model returned malformed JSON: %v", ErrExtraction, err)
	}

	ext.PaperID = paperID
	if ext.Version == 0 {
		ext.Version = 1
	}
	if err := record.ValidateExtraction(&ext); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	return &ext, nil
}

// ollamaGenerateRequest is the request body for the Ollama generate API.
type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Format string `json:"format,omitempty"`
	Stream bool   `json:"stream"`
}

// ollamaGenerateResponse is the response from the Ollama generate API.
type ollamaGenerateResponse struct {
	Response string `json:"response"`
}
