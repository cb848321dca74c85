package scaleway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vmware2scw/vmware2scw/internal/catalog"
	"github.com/vmware2scw/vmware2scw/internal/config"
)

const defaultBaseURL = "https://api.scaleway.com"

// Client is an HTTP implementation of API against the instance and block
// endpoints. Requests retry transparently on 429/5xx via retryablehttp.
type Client struct {
	baseURL      string
	secretKey    string
	projectID    string
	pollInterval time.Duration
	httpClient   *http.Client
}

var _ API = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at a different endpoint (tests).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

func NewClient(cfg config.ScalewayConfig, opts ...ClientOption) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 4
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 30 * time.Second
	rc.Logger = nil

	c := &Client{
		baseURL:      defaultBaseURL,
		secretKey:    cfg.SecretKey,
		projectID:    cfg.ProjectID,
		pollInterval: cfg.PollInterval.Duration,
		httpClient:   rc.StandardClient(),
	}
	if c.pollInterval == 0 {
		c.pollInterval = 10 * time.Second
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "creating request")
	}
	req.Header.Set("X-Auth-Token", c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "calling %s %s", method, path)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return errors.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decoding %s %s response", method, path)
	}
	return nil
}

type snapshotBody struct {
	Snapshot struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		State string `json:"state"`
	} `json:"snapshot"`
}

func (c *Client) CreateSnapshotFromObject(ctx context.Context, zone, name, bucket, key, volumeType string) (string, error) {
	req := map[string]interface{}{
		"name":        name,
		"project_id":  c.projectID,
		"volume_type": volumeType,
		"bucket":      bucket,
		"key":         key,
	}
	var out snapshotBody
	path := fmt.Sprintf("/instance/v1/zones/%s/snapshots", zone)
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return "", err
	}
	return out.Snapshot.ID, nil
}

func (c *Client) WaitSnapshot(ctx context.Context, zone, snapshotID string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	path := fmt.Sprintf("/instance/v1/zones/%s/snapshots/%s", zone, snapshotID)

	for {
		var out snapshotBody
		if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
			return "", err
		}
		switch out.Snapshot.State {
		case SnapshotAvailable:
			return SnapshotAvailable, nil
		case SnapshotError:
			return SnapshotError, errors.Errorf("snapshot %s import failed", snapshotID)
		}

		if time.Now().After(deadline) {
			return out.Snapshot.State, errors.Errorf("snapshot %s not ready after %s", snapshotID, timeout)
		}
		zap.S().Named("scaleway").Debugf("snapshot %s state %s, polling again in %s", snapshotID, out.Snapshot.State, c.pollInterval)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

type imageBody struct {
	Image struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		State string `json:"state"`
	} `json:"image"`
}

func (c *Client) CreateImage(ctx context.Context, zone, name, rootSnapshotID, arch string) (string, error) {
	req := map[string]interface{}{
		"name":        name,
		"project_id":  c.projectID,
		"root_volume": rootSnapshotID,
		"arch":        arch,
	}
	var out imageBody
	path := fmt.Sprintf("/instance/v1/zones/%s/images", zone)
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return "", err
	}
	return out.Image.ID, nil
}

func (c *Client) FindSnapshotByName(ctx context.Context, zone, name string) (string, error) {
	var out struct {
		Snapshots []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"snapshots"`
	}
	path := fmt.Sprintf("/instance/v1/zones/%s/snapshots?name=%s", zone, name)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	for _, s := range out.Snapshots {
		if s.Name == name {
			return s.ID, nil
		}
	}
	return "", nil
}

func (c *Client) FindImageByName(ctx context.Context, zone, name string) (string, error) {
	var out struct {
		Images []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"images"`
	}
	path := fmt.Sprintf("/instance/v1/zones/%s/images?name=%s", zone, name)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	for _, img := range out.Images {
		if img.Name == name {
			return img.ID, nil
		}
	}
	return "", nil
}

func (c *Client) GetImageStatus(ctx context.Context, zone, imageID string) (string, error) {
	var out imageBody
	path := fmt.Sprintf("/instance/v1/zones/%s/images/%s", zone, imageID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out.Image.State, nil
}

func (c *Client) ListInstanceTypes(ctx context.Context, zone string) ([]catalog.InstanceType, error) {
	var out struct {
		Servers map[string]struct {
			Ncpus               int     `json:"ncpus"`
			RAM                 int64   `json:"ram"`
			Arch                string  `json:"arch"`
			HourlyPrice         float64 `json:"hourly_price"`
			PerVolumeConstraint struct {
				LSSD struct {
					MaxSize int64 `json:"max_size"`
				} `json:"l_ssd"`
			} `json:"per_volume_constraint"`
		} `json:"servers"`
	}
	path := fmt.Sprintf("/instance/v1/zones/%s/products/servers", zone)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	types := make([]catalog.InstanceType, 0, len(out.Servers))
	for id, s := range out.Servers {
		types = append(types, catalog.InstanceType{
			ID:             id,
			VCPUs:          s.Ncpus,
			RAMGiB:         float64(s.RAM) / (1 << 30),
			HourlyPriceEUR: s.HourlyPrice,
			Arch:           s.Arch,
			BlockStorage:   true,
			LocalStorageGB: float64(s.PerVolumeConstraint.LSSD.MaxSize) / 1e9,
		})
	}
	return types, nil
}
