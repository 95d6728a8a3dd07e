// Package aas implements the Asset Administration Shell HTTP client: shell
// and submodel retrieval, base64url id encoding, and the recursive
// property-path resolution algorithm used both by the interface cache and
// the behavior tree's AAS provider.
package aas

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aausmartlab/btorchestrator/internal/common/apperrors"
)

const defaultTimeout = 10 * time.Second

// Client talks to an AAS registry (shell-descriptors) and repository
// (shells/submodels) pair of HTTP endpoints.
type Client struct {
	registryURL string
	serverURL   string
	httpClient  *http.Client
}

// New returns a Client bound to the given registry and repository base
// URLs (no trailing slash expected).
func New(registryURL, serverURL string) *Client {
	return &Client{
		registryURL: strings.TrimRight(registryURL, "/"),
		serverURL:   strings.TrimRight(serverURL, "/"),
		httpClient:  &http.Client{Timeout: defaultTimeout},
	}
}

// EncodeID base64url-encodes id with padding stripped, as required by the
// AAS HTTP API's path segments.
func EncodeID(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

// get performs a GET against url and decodes the JSON body into out,
// following the teacher's pat_client.go shape: status check, limited error
// body read, %w-wrapped errors.
func (c *Client) get(ctx context.Context, op, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apperrors.DiscoveryHTTPError(op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.DiscoveryHTTPError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperrors.DiscoveryHTTPError(op, fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.DiscoveryHTTPError(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// FetchShell retrieves a raw shell document by shell id.
func (c *Client) FetchShell(ctx context.Context, shellID string) (map[string]any, error) {
	var out map[string]any
	url := fmt.Sprintf("%s/shells/%s", c.serverURL, EncodeID(shellID))
	if err := c.get(ctx, "aas.FetchShell", url, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchSubmodelByID retrieves a raw submodel document by submodel id.
func (c *Client) FetchSubmodelByID(ctx context.Context, submodelID string) (map[string]any, error) {
	var out map[string]any
	url := fmt.Sprintf("%s/submodels/%s", c.serverURL, EncodeID(submodelID))
	if err := c.get(ctx, "aas.FetchSubmodelByID", url, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// shellDescriptor is the minimal shape read out of /shell-descriptors.
type shellDescriptor struct {
	ID              string           `json:"id"`
	GlobalAssetID   string           `json:"globalAssetId"`
	SubmodelRefs    []map[string]any `json:"submodelDescriptors"`
}

// LookupShellIDFromAssetID scans /shell-descriptors for the shell whose
// globalAssetId equals assetID.
func (c *Client) LookupShellIDFromAssetID(ctx context.Context, assetID string) (string, error) {
	var list struct {
		Result []shellDescriptor `json:"result"`
	}
	url := fmt.Sprintf("%s/shell-descriptors", c.registryURL)
	if err := c.get(ctx, "aas.LookupShellIDFromAssetID", url, &list); err != nil {
		return "", err
	}
	for _, d := range list.Result {
		if d.GlobalAssetID == assetID {
			return d.ID, nil
		}
	}
	return "", apperrors.DiscoveryStructureError("aas.LookupShellIDFromAssetID",
		fmt.Sprintf("no shell descriptor with globalAssetId %q", assetID))
}

// FetchSubmodelData looks up asset's shell, finds the first submodel
// reference whose last key contains submodelIDShort, and returns that
// submodel's document.
func (c *Client) FetchSubmodelData(ctx context.Context, assetID, submodelIDShort string) (map[string]any, error) {
	shell, err := c.FetchShell(ctx, assetID)
	if err != nil {
		return nil, err
	}

	refs, _ := shell["submodels"].([]any)
	for _, r := range refs {
		ref, ok := r.(map[string]any)
		if !ok {
			continue
		}
		keys, _ := ref["keys"].([]any)
		if len(keys) == 0 {
			continue
		}
		last, _ := keys[len(keys)-1].(map[string]any)
		value, _ := last["value"].(string)
		if strings.Contains(value, submodelIDShort) {
			return c.FetchSubmodelByID(ctx, value)
		}
	}
	return nil, apperrors.DiscoveryStructureError("aas.FetchSubmodelData",
		fmt.Sprintf("no submodel reference matching %q on shell %q", submodelIDShort, assetID))
}

// FetchRequiredCapabilities returns the process AAS's RequiredCapabilities
// submodel.
func (c *Client) FetchRequiredCapabilities(ctx context.Context, processID string) (map[string]any, error) {
	return c.FetchSubmodelData(ctx, processID, "RequiredCapabilities")
}

// FetchProcessInformation returns the process AAS's ProcessInformation
// submodel.
func (c *Client) FetchProcessInformation(ctx context.Context, processID string) (map[string]any, error) {
	return c.FetchSubmodelData(ctx, processID, "ProcessInformation")
}

// FetchPolicyBTURL returns the behavior-tree XML URL named by the process
// AAS's Policy submodel.
func (c *Client) FetchPolicyBTURL(ctx context.Context, processID string) (string, error) {
	policy, err := c.FetchSubmodelData(ctx, processID, "Policy")
	if err != nil {
		return "", err
	}
	v, err := ResolvePropertyPath(policy, []string{"TreeUrl"})
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", apperrors.DiscoveryStructureError("aas.FetchPolicyBTURL", "TreeUrl is not a string")
	}
	return s, nil
}

// FetchProperty recursively resolves a property path inside a submodel.
func (c *Client) FetchProperty(ctx context.Context, assetID, submodelIDShort string, path []string) (any, error) {
	sm, err := c.FetchSubmodelData(ctx, assetID, submodelIDShort)
	if err != nil {
		return nil, err
	}
	return ResolvePropertyPath(sm, path)
}

// FetchBody fetches an arbitrary URL (a schema or tree XML document) and
// returns its raw bytes.
func (c *Client) FetchBody(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.DiscoveryHTTPError("aas.FetchBody", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.DiscoveryHTTPError("aas.FetchBody", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.DiscoveryHTTPError("aas.FetchBody", fmt.Errorf("status %d fetching %s", resp.StatusCode, url))
	}
	return io.ReadAll(resp.Body)
}
