package transcriber

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"audio-insights-go/internal/logger"
)

// Kind tags the three provider variants.
type Kind string

const (
	KindCloud  Kind = "cloud"
	KindRemote Kind = "remote"
	KindLocal  Kind = "local"
)

// CloudModelID selects the synchronous cloud speech variant.
const CloudModelID = "google_chirp"

// Variant describes one selectable model: which strategy serves it and what
// it needs from the host.
type Variant struct {
	ID          string
	Kind        Kind
	DisplayName string
	RequiresGPU bool

	// Local-variant load parameters.
	ModelName   string
	ComputeType string
}

// localCatalog mirrors the in-process model table. GPU-only entries are
// filtered out on hosts without an accelerator.
var localCatalog = []Variant{
	{ID: "openai_medium", Kind: KindLocal, DisplayName: "Whisper medium", ModelName: "medium"},
	{ID: "openai_large-v3", Kind: KindLocal, DisplayName: "Whisper large-v3", ModelName: "large-v3"},
	{ID: "faster_medium_fp16", Kind: KindLocal, DisplayName: "Faster-Whisper medium fp16", ModelName: "medium", ComputeType: "float16", RequiresGPU: true},
	{ID: "faster_large-v3_fp16", Kind: KindLocal, DisplayName: "Faster-Whisper large-v3 fp16", ModelName: "large-v3", ComputeType: "float16", RequiresGPU: true},
	{ID: "faster_large-v3_int8", Kind: KindLocal, DisplayName: "Faster-Whisper large-v3 int8", ModelName: "large-v3", ComputeType: "int8"},
}

// DetectDevice returns the compute device for this process. An explicit
// override wins; otherwise the nvidia device node decides.
func DetectDevice(override string) string {
	if override != "" {
		return override
	}
	if _, err := os.Stat("/dev/nvidia0"); err == nil {
		return "cuda"
	}
	return "cpu"
}

// Options wires a Catalog.
type Options struct {
	RemoteAPIURL string
	SpeechAPIURL string
	Language     string
	Device       string
	PollInterval time.Duration
	PollTimeout  time.Duration
	HTTPClient   *http.Client
	LocalLoader  LoadFunc
}

// Catalog resolves model identifiers to concrete providers once, at intake
// time, and answers which identifiers the host can serve.
type Catalog struct {
	device string
	cloud  *CloudProvider
	remote *RemoteProvider
	local  *LocalProvider
	client *http.Client
	apiURL string
	log    *logrus.Entry
}

func NewCatalog(opts Options) *Catalog {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	device := DetectDevice(opts.Device)
	loader := opts.LocalLoader
	if loader == nil {
		loader = ExecLoader
	}
	return &Catalog{
		device: device,
		cloud:  NewCloudProvider(opts.SpeechAPIURL, opts.Language, client),
		remote: NewRemoteProvider(opts.RemoteAPIURL, opts.Language, client, opts.PollInterval, opts.PollTimeout),
		local:  NewLocalProvider(NewModelCache(loader), device),
		client: client,
		apiURL: opts.RemoteAPIURL,
		log:    logger.New().WithComponent("transcriber.catalog"),
	}
}

// Device reports the detected compute device.
func (c *Catalog) Device() string { return c.device }

// LocalVariants returns the in-process models this host can actually run.
func (c *Catalog) LocalVariants() []Variant {
	out := make([]Variant, 0, len(localCatalog))
	for _, v := range localCatalog {
		if v.RequiresGPU && c.device != "cuda" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func (c *Catalog) localVariant(modelID string) (Variant, bool) {
	for _, v := range c.LocalVariants() {
		if v.ID == modelID {
			return v, true
		}
	}
	return Variant{}, false
}

// AvailableModels merges local variants, the remote service's model list and
// the cloud identifier (always last, never duplicated). A dead remote service
// degrades to local+cloud with a warning.
func (c *Catalog) AvailableModels(ctx context.Context) []string {
	var ids []string
	for _, v := range c.LocalVariants() {
		ids = append(ids, v.ID)
	}

	var listing struct {
		AvailableModels []string `json:"available_models"`
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/models", nil)
	if err == nil {
		if err := getJSON(c.client, req, &listing); err != nil {
			c.log.WithError(err).Warn("remote transcription service unreachable, omitting its models")
		}
	}
	for _, id := range listing.AvailableModels {
		if id == CloudModelID || contains(ids, id) {
			continue
		}
		ids = append(ids, id)
	}

	return append(ids, CloudModelID)
}

// Resolve picks the provider serving modelID. Cloud and local identifiers are
// recognized directly; everything else is assumed to live on the remote
// service.
func (c *Catalog) Resolve(modelID string) (Provider, error) {
	if modelID == "" {
		return nil, fmt.Errorf("empty model identifier")
	}
	if modelID == CloudModelID {
		return c.cloud, nil
	}
	if v, ok := c.localVariant(modelID); ok {
		return c.local.For(v), nil
	}
	return c.remote, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
