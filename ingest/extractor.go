package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"bitbucket.org/cedarledger/statements_backend/config"
	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

// Generator is the external structuring function: one model call in, raw
// text out. Transient errors may be returned; the extractor owns retry and
// model fallback.
type Generator interface {
	Generate(ctx context.Context, modelId string, prompt string) (string, error)
}

// GeminiGenerator calls the Gemini API through the shared client handle. The
// client is resolved per call so the server can start before credentials are
// verified, same as the database connection.
type GeminiGenerator struct{}

func (g *GeminiGenerator) Generate(ctx context.Context, modelId string, prompt string) (string, error) {
	client, err := config.GetGenAIClient(ctx)
	if err != nil {
		return "", fmt.Errorf("gemini client unavailable: %w", err)
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(0.1)),
		ResponseMIMEType: "application/json",
	}

	result, err := client.Models.GenerateContent(ctx, modelId, genai.Text(prompt), genConfig)
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return "", errors.New("empty response from model")
	}
	return text, nil
}

// Extractor turns one raw chunk into typed account statements. Failures are
// diagnosable: the raw and cleaned responses go to the debug sink, never
// silently dropped.
type Extractor struct {
	Generator Generator
	Models    []string // primary first, then fallbacks
	Retry     RetryPolicy
	Debug     DebugSink
	Logger    *logrus.Logger
}

func NewExtractor(gen Generator, models []string, logger *logrus.Logger) *Extractor {
	return &Extractor{
		Generator: gen,
		Models:    models,
		Retry:     DefaultRetryPolicy(),
		Debug:     &LogDebugSink{Logger: logger},
		Logger:    logger,
	}
}

// ExtractChunk drives the model fallback chain for a single chunk. Every
// model gets Retry.MaxAttempts calls with exponential backoff before the
// next model is tried; when the whole chain fails the chunk fails.
func (e *Extractor) ExtractChunk(ctx context.Context, chunk RawChunk, totalChunks int, knownBanks []string) (*ChunkResult, error) {
	prompt := buildChunkPrompt(chunk, totalChunks, knownBanks)

	var raw string
	var lastErr error
	for _, modelId := range e.Models {
		err := e.Retry.Do(ctx, func() error {
			out, genErr := e.Generator.Generate(ctx, modelId, prompt)
			if genErr != nil {
				return genErr
			}
			raw = out
			return nil
		})
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		e.Logger.WithFields(logrus.Fields{
			"module":   "extractor.go",
			"model":    modelId,
			"sequence": chunk.SequenceNumber,
		}).Warnf("model failed after retries, trying next: %v", err)
	}
	if lastErr != nil {
		return nil, fmt.Errorf("all models failed for chunk %d: %w", chunk.SequenceNumber, lastErr)
	}

	payload, err := e.parseChunkResponse(ctx, raw, chunk)
	if err != nil {
		return nil, err
	}

	return &ChunkResult{
		SequenceNumber:    chunk.SequenceNumber,
		PageRange:         chunk.PageRange,
		AccountStatements: payload.AccountStatements,
	}, nil
}

func (e *Extractor) parseChunkResponse(ctx context.Context, raw string, chunk RawChunk) (*chunkPayload, error) {
	cleaned := cleanModelResponse(raw)

	var payload chunkPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err == nil {
		return &payload, nil
	}

	// Library repair handles unquoted keys, single quotes, stray commas.
	if repaired, repErr := jsonrepair.RepairJSON(cleaned); repErr == nil {
		if err := json.Unmarshal([]byte(repaired), &payload); err == nil {
			return &payload, nil
		}
	}

	// Last resort: a truncated response is missing closing braces.
	patched := appendMissingBraces(cleaned)
	if err := json.Unmarshal([]byte(patched), &payload); err == nil {
		return &payload, nil
	}

	e.Debug.Record(ctx, raw, map[string]string{
		"stage":      "chunk_parse",
		"page_range": chunk.PageRange,
		"sequence":   fmt.Sprint(chunk.SequenceNumber),
		"cleaned":    cleaned,
	})
	return nil, fmt.Errorf("chunk %d: model response is not parseable JSON", chunk.SequenceNumber)
}

var trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)

// cleanModelResponse strips markdown fences, trims to the first top-level
// JSON object (discarding chatty trailers) and removes trailing commas.
func cleanModelResponse(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return s
	}
	s = s[start:]

	// Scan forward counting brace depth, ignoring braces inside strings,
	// to find the matching top-level close. Anything after it is junk.
	depth := 0
	inString := false
	escaped := false
	for i, r := range s {
		if inString {
			if escaped {
				escaped = false
			} else if r == '\\' {
				escaped = true
			} else if r == '"' {
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				s = s[:i+1]
				return trailingCommaPattern.ReplaceAllString(s, "$1")
			}
		}
	}

	// Never closed: leave the truncated text for the repair path.
	return trailingCommaPattern.ReplaceAllString(s, "$1")
}

// appendMissingBraces balances a truncated object by appending the missing
// number of closing braces.
func appendMissingBraces(s string) string {
	opens := 0
	closes := 0
	inString := false
	escaped := false
	for _, r := range s {
		if inString {
			if escaped {
				escaped = false
			} else if r == '\\' {
				escaped = true
			} else if r == '"' {
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			opens++
		case '}':
			closes++
		}
	}
	if opens <= closes {
		return s
	}
	return s + strings.Repeat("}", opens-closes)
}
