// Package analyzer wraps the generative-text model behind a fixed prompt
// contract: transcript in, five-field structured record out.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"audio-insights-go/internal/logger"
)

// AnalysisError means the model produced no usable structured result.
type AnalysisError struct {
	Cause string
	Err   error
}

func (e *AnalysisError) Error() string { return "analysis failed: " + e.Cause }
func (e *AnalysisError) Unwrap() error { return e.Err }

// Result is the structured analysis record. Raw keeps the full JSON object as
// returned, for persistence next to the extracted fields.
type Result struct {
	SpeakerIdentification struct {
		Operator string `json:"operator"`
		Student  string `json:"student"`
	} `json:"speaker_identification"`
	Summary     string   `json:"summary"`
	Sentiment   string   `json:"sentiment"`
	MainTopic   string   `json:"main_topic"`
	ActionItems []string `json:"action_items"`

	Raw string `json:"-"`
}

type Analyzer struct {
	gatewayURL string
	apiKey     string
	model      string
	client     *http.Client
	log        *logrus.Entry
}

func New(gatewayURL, apiKey, model string, client *http.Client) *Analyzer {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Analyzer{
		gatewayURL: gatewayURL,
		apiKey:     apiKey,
		model:      model,
		client:     client,
		log:        logger.New().WithComponent("analyzer"),
	}
}

const promptTemplate = `You are a multi-agent AI system for conversation analysis. Analyze the following transcript and return a JSON object.

**Transcript:**
---
%s
---

**Agent tasks:**
1. **Identification agent:** Identify the "Operator" and the "Student". If unclear, use "Speaker 1" and "Speaker 2".
2. **Summary agent:** Write a concise executive summary of the conversation.
3. **Sentiment agent:** Classify the student's overall sentiment ("Positive", "Negative", "Neutral").
4. **Topic agent:** State the main topic of the conversation in 2-3 words.
5. **Action agent:** List up to 3 clear action items. If there are none, return an empty list.

**Mandatory output format (JSON ONLY):**
{
  "speaker_identification": {"operator": "...", "student": "..."},
  "summary": "...",
  "sentiment": "...",
  "main_topic": "...",
  "action_items": []
}`

// Analyze issues a single model call — no retries — and parses the JSON
// object embedded in the response text.
func (a *Analyzer) Analyze(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, &AnalysisError{Cause: "empty input"}
	}
	if a.gatewayURL == "" {
		return Result{}, &AnalysisError{Cause: "llm gateway not configured"}
	}

	reqBody := map[string]interface{}{
		"model": a.model,
		"messages": []map[string]string{
			{"role": "user", "content": fmt.Sprintf(promptTemplate, text)},
		},
		"temperature": 0.0,
	}
	payload, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		return Result{}, &AnalysisError{Cause: fmt.Sprintf("build request: %v", err), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{}, &AnalysisError{Cause: fmt.Sprintf("model call failed: %v", err), Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &AnalysisError{Cause: fmt.Sprintf("model returned http %d: %s", resp.StatusCode, body)}
	}

	content := contentFromChoices(body)
	if content == "" {
		// Some gateways return the model text directly.
		content = string(body)
	}

	raw, err := extractJSONObject(content)
	if err != nil {
		return Result{}, &AnalysisError{Cause: err.Error(), Err: err}
	}

	var out Result
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Result{}, &AnalysisError{Cause: fmt.Sprintf("parse model JSON: %v", err), Err: err}
	}
	out.Raw = raw

	a.log.WithFields(logrus.Fields{"sentiment": out.Sentiment, "topic": out.MainTopic}).Debug("analysis parsed")
	return out, nil
}

// contentFromChoices reads the OpenAI-style choices[0].message.content field.
func contentFromChoices(body []byte) string {
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Choices) == 0 {
		return ""
	}
	return parsed.Choices[0].Message.Content
}

// extractJSONObject returns the substring between the first '{' and the last
// '}'. Model output is not trusted to be pure JSON.
func extractJSONObject(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return "", fmt.Errorf("no JSON object found in model response")
	}
	return s[start : end+1], nil
}
