// Package apicurio is a client for the Apicurio Registry v3 REST API. The
// registry is the secondary store for configuration schemas; the relational
// store stays authoritative, so every operation here is safe to retry or
// skip.
package apicurio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// DefaultGroup is the registry group all platform config schemas live under.
const DefaultGroup = "ai.pipestream.schemas"

// Artifact is the result of a successful create-or-update call.
type Artifact struct {
	ArtifactID string
	GlobalID   int64
	Version    string
}

// ArtifactMetadata is the artifact-level record the registry keeps.
type ArtifactMetadata struct {
	GroupID      string    `json:"groupId"`
	ArtifactID   string    `json:"artifactId"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	ArtifactType string    `json:"artifactType"`
	Owner        string    `json:"owner"`
	CreatedOn    time.Time `json:"createdOn"`
	ModifiedOn   time.Time `json:"modifiedOn"`
}

// SearchedArtifact is one entry of a group listing.
type SearchedArtifact struct {
	GroupID      string `json:"groupId"`
	ArtifactID   string `json:"artifactId"`
	Name         string `json:"name"`
	ArtifactType string `json:"artifactType"`
}

// Client talks to one registry instance. It is stateless and safe for
// concurrent use.
type Client struct {
	baseURL string
	group   string
	http    *http.Client
	log     *zap.Logger
}

// NewClient builds a client for the given base URL (including the
// /apis/registry/v3 prefix). Transient failures and 5xx responses are
// retried with exponential backoff.
func NewClient(baseURL string, log *zap.Logger) *Client {
	retry := retryablehttp.NewClient()
	retry.RetryMax = 3
	retry.RetryWaitMin = 500 * time.Millisecond
	retry.RetryWaitMax = 5 * time.Second
	retry.Logger = leveledLogger{log.Sugar()}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		group:   DefaultGroup,
		http:    retry.StandardClient(),
		log:     log,
	}
}

type createArtifactRequest struct {
	ArtifactID   string         `json:"artifactId"`
	ArtifactType string         `json:"artifactType"`
	FirstVersion *createVersion `json:"firstVersion,omitempty"`
}

type createVersion struct {
	Content versionContent `json:"content"`
	Version string         `json:"version,omitempty"`
}

type versionContent struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
}

type versionMetadata struct {
	ArtifactID string `json:"artifactId"`
	GlobalID   int64  `json:"globalId"`
	Version    string `json:"version"`
}

type createArtifactResponse struct {
	Version *versionMetadata `json:"version"`
}

// CreateOrUpdate registers schema content under the versioned artifact id
// for (serviceName, version). The call uses ifExists=FIND_OR_CREATE_VERSION,
// so repeating it with identical content is a no-op and a new version of the
// same artifact is created when the content differs.
func (c *Client) CreateOrUpdate(ctx context.Context, serviceName, version, jsonSchema string) (*Artifact, error) {
	artifactID := VersionedArtifactID(serviceName, version)

	body, err := json.Marshal(createArtifactRequest{
		ArtifactID:   artifactID,
		ArtifactType: "JSON",
		FirstVersion: &createVersion{
			Content: versionContent{Content: jsonSchema, ContentType: "application/json"},
			Version: version,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode artifact request: %w", err)
	}

	u := fmt.Sprintf("%s/groups/%s/artifacts?ifExists=FIND_OR_CREATE_VERSION",
		c.baseURL, url.PathEscape(c.group))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var created createArtifactResponse
	if err := c.do(req, &created); err != nil {
		c.log.Error("Failed to register schema",
			zap.String("service_name", serviceName),
			zap.String("version", version),
			zap.String("artifact_id", artifactID),
			zap.Error(err))
		return nil, err
	}
	if created.Version == nil {
		return nil, fmt.Errorf("registry returned no version metadata for %s", artifactID)
	}

	c.log.Info("Successfully registered schema",
		zap.String("service_name", serviceName),
		zap.String("version", version),
		zap.Int64("global_id", created.Version.GlobalID))

	return &Artifact{
		ArtifactID: artifactID,
		GlobalID:   created.Version.GlobalID,
		Version:    created.Version.Version,
	}, nil
}

// GetSchema fetches schema content. An empty version resolves the latest
// version expression.
func (c *Client) GetSchema(ctx context.Context, serviceName, version string) (string, error) {
	artifactID := VersionedArtifactID(serviceName, version)
	expr := version
	if expr == "" {
		expr = "latest"
	}

	u := fmt.Sprintf("%s/groups/%s/artifacts/%s/versions/%s/content",
		c.baseURL, url.PathEscape(c.group), url.PathEscape(artifactID), url.PathEscape(expr))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// GetArtifactMetadata returns artifact-level metadata for the service's
// config artifact, or nil when the registry does not know it.
func (c *Client) GetArtifactMetadata(ctx context.Context, serviceName string) (*ArtifactMetadata, error) {
	artifactID := serviceName + "-config"

	u := fmt.Sprintf("%s/groups/%s/artifacts/%s",
		c.baseURL, url.PathEscape(c.group), url.PathEscape(artifactID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.log.Debug("No metadata for artifact", zap.String("artifact_id", artifactID))
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var meta ArtifactMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

type searchResults struct {
	Artifacts []SearchedArtifact `json:"artifacts"`
	Count     int                `json:"count"`
}

// ListArtifacts enumerates the artifacts of the default group, for
// reconciliation sweeps.
func (c *Client) ListArtifacts(ctx context.Context) ([]SearchedArtifact, error) {
	u := fmt.Sprintf("%s/search/artifacts?groupId=%s&limit=500&offset=0",
		c.baseURL, url.QueryEscape(c.group))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var results searchResults
	if err := c.do(req, &results); err != nil {
		c.log.Error("Failed to list artifacts", zap.Error(err))
		return nil, err
	}
	return results.Artifacts, nil
}

// DeleteArtifact removes the service's config artifact. Failures are logged
// and reported as false.
func (c *Client) DeleteArtifact(ctx context.Context, serviceName string) bool {
	artifactID := serviceName + "-config"

	u := fmt.Sprintf("%s/groups/%s/artifacts/%s",
		c.baseURL, url.PathEscape(c.group), url.PathEscape(artifactID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		c.log.Error("Failed to delete artifact", zap.String("artifact_id", artifactID), zap.Error(err))
		return false
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("Failed to delete artifact", zap.String("artifact_id", artifactID), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		c.log.Error("Failed to delete artifact",
			zap.String("artifact_id", artifactID),
			zap.Int("status", resp.StatusCode))
		return false
	}
	c.log.Info("Successfully deleted artifact", zap.String("artifact_id", artifactID))
	return true
}

// IsHealthy probes the system-info endpoint. Any failure reads as unhealthy.
func (c *Client) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/system/info", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("Health check failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// VersionedArtifactID derives the registry artifact id for a schema version:
// ("splitter", "1.0.0") -> "splitter-config-v1_0_0". A blank version maps to
// "v1".
func VersionedArtifactID(serviceName, version string) string {
	safe := "v1"
	if strings.TrimSpace(version) != "" {
		safe = "v" + strings.ReplaceAll(version, ".", "_")
	}
	return serviceName + "-config-" + safe
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("registry returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// leveledLogger routes retryablehttp's internal logging into zap.
type leveledLogger struct {
	log *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Infow(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warnw(msg, keysAndValues...)
}
