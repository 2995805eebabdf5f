// Package serving talks to a TensorFlow Serving REST endpoint hosting the
// classifier. It discovers the serving signature from model metadata and
// runs batched predict calls.
package serving

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cegan09/PerchCPU/pkg/models"
)

const (
	DefaultBaseURL   = "http://localhost:8501"
	DefaultModel     = "perch_v2_cpu"
	DefaultSignature = "serving_default"
	DefaultTimeout   = 60 * time.Second

	// maxErrorBody caps how much of an error response ends up in messages.
	maxErrorBody = 4 << 10
)

// Config locates the served model.
type Config struct {
	BaseURL   string
	Model     string
	Version   string // empty selects the latest version
	Signature string // preferred signature; others are used if it is absent
	Timeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Signature == "" {
		c.Signature = DefaultSignature
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

// Client runs predictions against one model on a TF Serving instance.
type Client struct {
	cfg  Config
	http *http.Client
	sig  *Signature
}

// NewClient returns a client for cfg. Unset fields take package defaults.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Signature returns the resolved signature, or nil before Load.
func (c *Client) Signature() *Signature { return c.sig }

func (c *Client) modelURL() string {
	u := c.cfg.BaseURL + "/v1/models/" + url.PathEscape(c.cfg.Model)
	if c.cfg.Version != "" {
		u += "/versions/" + url.PathEscape(c.cfg.Version)
	}
	return u
}

// Load fetches model metadata and selects the signature and input name.
func (c *Client) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.modelURL()+"/metadata", nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetching model metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model metadata %s: %s", resp.Status, readErrorBody(resp.Body))
	}

	var meta metadataResponse
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return fmt.Errorf("decoding model metadata: %w", err)
	}

	sig, err := selectSignature(meta.Metadata.SignatureDef.SignatureDef, c.cfg.Signature)
	if err != nil {
		return fmt.Errorf("model %s: %w", c.cfg.Model, err)
	}
	c.sig = sig
	return nil
}

// Predict runs one batched inference. The input must be a 2-D
// (batch, samples) tensor. Load is called first if it has not been.
func (c *Client) Predict(ctx context.Context, in *models.Tensor) (models.Outputs, error) {
	if in == nil || in.Rank() != 2 {
		return nil, errors.New("predict: input must be a 2-D tensor")
	}
	if c.sig == nil {
		if err := c.Load(ctx); err != nil {
			return nil, err
		}
	}

	body, err := encodePredictRequest(c.sig.Name, c.sig.Input, in)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.modelURL()+":predict", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("predict %s: %s", resp.Status, readErrorBody(resp.Body))
	}

	out, err := decodePredictResponse(resp.Body, c.sig)
	if err != nil {
		return nil, fmt.Errorf("predict decode: %w", err)
	}
	return out, nil
}

func readErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(b))
}
