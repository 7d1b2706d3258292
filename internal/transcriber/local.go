package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"audio-insights-go/internal/logger"
)

// Segment is one timestamped chunk of a local transcription.
type Segment struct {
	Start float64 `json:"start"`
	Text  string  `json:"text"`
}

// Model is a loaded local speech-recognition model handle.
type Model interface {
	Run(ctx context.Context, audioPath string) ([]Segment, error)
}

// LoadFunc loads a model for a variant on a device. Loading is expensive;
// the cache guarantees it runs at most once per (variant, device) pair.
type LoadFunc func(v Variant, device string) (Model, error)

// ModelCache holds loaded model handles keyed by (model id, device).
// Concurrent first-use of the same key is collapsed into one load; unrelated
// keys load in parallel.
type ModelCache struct {
	load   LoadFunc
	group  singleflight.Group
	mu     sync.RWMutex
	models map[string]Model
}

func NewModelCache(load LoadFunc) *ModelCache {
	return &ModelCache{
		load:   load,
		models: make(map[string]Model),
	}
}

// Get returns the cached handle for (v, device), loading it on first use.
func (c *ModelCache) Get(v Variant, device string) (Model, error) {
	key := v.ID + "_" + device

	c.mu.RLock()
	m, ok := c.models[key]
	c.mu.RUnlock()
	if ok {
		return m, nil
	}

	loaded, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.RLock()
		m, ok := c.models[key]
		c.mu.RUnlock()
		if ok {
			return m, nil
		}
		m, err := c.load(v, device)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.models[key] = m
		c.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return loaded.(Model), nil
}

// LocalProvider runs in-process inference through cached model handles.
type LocalProvider struct {
	cache  *ModelCache
	device string
	log    *logrus.Entry
}

func NewLocalProvider(cache *ModelCache, device string) *LocalProvider {
	return &LocalProvider{
		cache:  cache,
		device: device,
		log:    logger.New().WithComponent("transcriber.local"),
	}
}

// For binds the provider to one catalog variant.
func (p *LocalProvider) For(v Variant) Provider {
	return &localRun{provider: p, variant: v}
}

type localRun struct {
	provider *LocalProvider
	variant  Variant
}

func (r *localRun) Transcribe(ctx context.Context, job Job) (Result, error) {
	p := r.provider
	model, err := p.cache.Get(r.variant, p.device)
	if err != nil {
		return Result{}, &ProviderError{Cause: fmt.Sprintf("load model '%s': %v", r.variant.ID, err), Err: err}
	}

	p.log.WithFields(logrus.Fields{"model_id": r.variant.ID, "device": p.device, "filename": job.Filename}).
		Info("running local transcription")

	segments, err := model.Run(ctx, job.Path)
	if err != nil {
		return Result{}, &ProviderError{Cause: fmt.Sprintf("local transcription with '%s' failed: %v", r.variant.ID, err), Err: err}
	}

	var dialogue, plain strings.Builder
	for i, s := range segments {
		if i > 0 {
			dialogue.WriteString("\n")
			plain.WriteString(" ")
		}
		fmt.Fprintf(&dialogue, "[%.1fs] %s", s.Start, strings.TrimSpace(s.Text))
		plain.WriteString(strings.TrimSpace(s.Text))
	}
	return Result{Dialogue: dialogue.String(), PlainText: plain.String()}, nil
}

// ExecLoader is the default production loader: it resolves a whisper CLI once
// per (model, device) and every inference execs it with the cached arguments.
func ExecLoader(v Variant, device string) (Model, error) {
	bin, err := exec.LookPath(whisperBinary())
	if err != nil {
		return nil, fmt.Errorf("whisper binary not found: %w", err)
	}
	return &execModel{bin: bin, variant: v, device: device}, nil
}

func whisperBinary() string {
	if b := strings.TrimSpace(os.Getenv("WHISPER_BIN")); b != "" {
		return b
	}
	return "whisper-cli"
}

type execModel struct {
	bin     string
	variant Variant
	device  string
}

func (m *execModel) Run(ctx context.Context, audioPath string) ([]Segment, error) {
	args := []string{
		"--model", m.variant.ModelName,
		"--device", m.device,
		"--output-format", "json",
		"--audio", audioPath,
	}
	if m.variant.ComputeType != "" {
		args = append(args, "--compute-type", m.variant.ComputeType)
	}
	cmd := exec.CommandContext(ctx, m.bin, args...)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("whisper failed: %s", strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("run whisper: %w", err)
	}
	var parsed struct {
		Segments []Segment `json:"segments"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("parse whisper output: %w", err)
	}
	return parsed.Segments, nil
}
