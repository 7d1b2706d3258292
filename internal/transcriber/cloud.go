package transcriber

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"audio-insights-go/internal/logger"
)

// CloudProvider calls the hosted speech endpoint synchronously: raw audio in,
// ordered recognition results out, optionally with per-word speaker tags.
type CloudProvider struct {
	endpoint string
	language string
	client   *http.Client
	log      *logrus.Entry
}

func NewCloudProvider(endpoint, language string, client *http.Client) *CloudProvider {
	return &CloudProvider{
		endpoint: endpoint,
		language: language,
		client:   client,
		log:      logger.New().WithComponent("transcriber.cloud"),
	}
}

type recognizeRequest struct {
	Language                   string `json:"language"`
	EnableAutomaticPunctuation bool   `json:"enable_automatic_punctuation"`
	EnableSpeakerDiarization   bool   `json:"enable_speaker_diarization"`
	MinSpeakerCount            int    `json:"min_speaker_count"`
	MaxSpeakerCount            int    `json:"max_speaker_count"`
	AudioContent               string `json:"audio_content"`
}

type recognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
			Words      []struct {
				Word       string `json:"word"`
				SpeakerTag int    `json:"speaker_tag"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"results"`
}

func (p *CloudProvider) Transcribe(ctx context.Context, job Job) (Result, error) {
	if p.endpoint == "" {
		return Result{}, &ProviderError{Cause: "cloud speech endpoint not configured"}
	}

	audio, err := os.ReadFile(job.Path)
	if err != nil {
		return Result{}, &ProviderError{Cause: fmt.Sprintf("read audio file: %v", err), Err: err}
	}

	payload, _ := json.Marshal(recognizeRequest{
		Language:                   p.language,
		EnableAutomaticPunctuation: true,
		EnableSpeakerDiarization:   true,
		MinSpeakerCount:            1,
		MaxSpeakerCount:            2,
		AudioContent:               base64.StdEncoding.EncodeToString(audio),
	})

	p.log.WithField("filename", job.Filename).Info("sending audio to cloud speech endpoint")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v1/recognize", bytes.NewReader(payload))
	if err != nil {
		return Result{}, &ProviderError{Cause: fmt.Sprintf("build recognize request: %v", err), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, &ProviderError{Cause: fmt.Sprintf("cloud speech request failed: %v", err), Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &ProviderError{Cause: fmt.Sprintf("cloud speech returned http %d: %s", resp.StatusCode, body)}
	}

	var parsed recognizeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, &ProviderError{Cause: fmt.Sprintf("decode cloud speech response: %v", err), Err: err}
	}
	if len(parsed.Results) == 0 {
		return Result{}, &ProviderError{Cause: "cloud speech endpoint returned no results"}
	}

	// Only the last result carries the final hypothesis; earlier entries are
	// partials and are discarded.
	last := parsed.Results[len(parsed.Results)-1]
	if len(last.Alternatives) == 0 {
		return Result{}, &ProviderError{Cause: "cloud speech result has no alternatives"}
	}
	alt := last.Alternatives[0]

	if len(alt.Words) == 0 {
		return Result{Dialogue: alt.Transcript, PlainText: alt.Transcript}, nil
	}

	var b strings.Builder
	currentSpeaker := -1
	for _, w := range alt.Words {
		if w.SpeakerTag != currentSpeaker {
			currentSpeaker = w.SpeakerTag
			fmt.Fprintf(&b, "\n\nSpeaker %d: ", currentSpeaker)
		}
		b.WriteString(w.Word)
		b.WriteString(" ")
	}
	return Result{Dialogue: strings.TrimSpace(b.String()), PlainText: alt.Transcript}, nil
}
