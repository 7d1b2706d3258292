package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"audio-insights-go/internal/logger"
)

// RemoteProvider submits the file as a job to the external transcription
// service and polls it to a terminal status, reporting progress on the way.
type RemoteProvider struct {
	baseURL      string
	language     string
	client       *http.Client
	pollInterval time.Duration
	pollTimeout  time.Duration
	log          *logrus.Entry
}

func NewRemoteProvider(baseURL, language string, client *http.Client, pollInterval, pollTimeout time.Duration) *RemoteProvider {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Minute
	}
	return &RemoteProvider{
		baseURL:      baseURL,
		language:     language,
		client:       client,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		log:          logger.New().WithComponent("transcriber.remote"),
	}
}

type jobCreatedResponse struct {
	JobsCreated []struct {
		JobID string `json:"job_id"`
	} `json:"jobs_created"`
}

type jobStatusResponse struct {
	Status   string   `json:"status"`
	Progress int      `json:"progress"`
	DebugLog []string `json:"debug_log"`
}

func (p *RemoteProvider) Transcribe(ctx context.Context, job Job) (Result, error) {
	log := p.log.WithFields(logrus.Fields{"filename": job.Filename, "model_id": job.ModelID})

	jobID, err := p.submit(job)
	if err != nil {
		return Result{}, err
	}
	log = log.WithField("job_id", jobID)
	log.Info("job submitted to transcription service")

	if err := p.poll(ctx, jobID, job, log); err != nil {
		return Result{}, err
	}

	dialogue, err := p.download(ctx, jobID, "transcription_dialogue_markdown")
	if err != nil {
		return Result{}, err
	}
	plain, err := p.download(ctx, jobID, "transcription_raw")
	if err != nil {
		return Result{}, err
	}
	log.Info("job artifacts downloaded")
	return Result{Dialogue: dialogue, PlainText: plain}, nil
}

// submit posts the file and returns the job id the service assigned.
func (p *RemoteProvider) submit(job Job) (string, error) {
	f, err := os.Open(job.Path)
	if err != nil {
		return "", &ProviderError{Cause: fmt.Sprintf("open audio file: %v", err), Err: err}
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("files", job.Filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("copy audio data: %w", err)
	}
	_ = w.WriteField("model_id", job.ModelID)
	_ = w.WriteField("session_id", uuid.New().String())
	_ = w.WriteField("language", p.language)
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	var created jobCreatedResponse
	if err := postForRetry(p.client, p.baseURL+"/jobs", w.FormDataContentType(), body.Bytes(), &created); err != nil {
		return "", &ConnectionError{Op: "job submission", Err: err}
	}
	if len(created.JobsCreated) == 0 || created.JobsCreated[0].JobID == "" {
		return "", &ProviderError{Cause: "transcription service did not return a job id"}
	}
	return created.JobsCreated[0].JobID, nil
}

// poll checks the job every pollInterval until it completes, fails or the
// configured cap expires. Each iteration forwards the reported percentage.
func (p *RemoteProvider) poll(ctx context.Context, jobID string, job Job, log *logrus.Entry) error {
	deadline := time.Now().Add(p.pollTimeout)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/jobs/"+jobID, nil)
		if err != nil {
			return fmt.Errorf("build status request: %w", err)
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return &ConnectionError{Op: "job status poll", Err: err}
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &ConnectionError{Op: "job status poll", Err: fmt.Errorf("http %d: %s", resp.StatusCode, body)}
		}

		var st jobStatusResponse
		if err := json.Unmarshal(body, &st); err != nil {
			return &ConnectionError{Op: "job status poll", Err: err}
		}

		if job.Progress != nil {
			job.Progress(st.Progress)
		}
		log.WithFields(logrus.Fields{"status": st.Status, "progress": st.Progress}).Debug("polled job")

		switch st.Status {
		case "completed":
			return nil
		case "failed", "cancelled":
			detail := "unknown service error"
			if len(st.DebugLog) > 0 {
				detail = st.DebugLog[len(st.DebugLog)-1]
			}
			return &ProviderError{Cause: fmt.Sprintf("remote job %s: %s", st.Status, detail)}
		}

		if time.Now().After(deadline) {
			return &ProviderError{Cause: fmt.Sprintf("remote job still %s after %s", st.Status, p.pollTimeout)}
		}

		select {
		case <-ctx.Done():
			return &ConnectionError{Op: "job status poll", Err: ctx.Err()}
		case <-time.After(p.pollInterval):
		}
	}
}

// download fetches one text artifact of the finished job.
func (p *RemoteProvider) download(ctx context.Context, jobID, textType string) (string, error) {
	u := fmt.Sprintf("%s/jobs/%s/download?%s", p.baseURL, jobID, url.Values{"text_type": {textType}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", &ConnectionError{Op: "artifact download", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ConnectionError{Op: "artifact download", Err: fmt.Errorf("http %d: %s", resp.StatusCode, body)}
	}
	return string(body), nil
}
