package sloref

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/MikeSquared-Agency/Weightage/internal/weighting"
)

const KindSimple = "Simple"

// SLO is the registry's view of a service level objective.
type SLO struct {
	Identifier        string `json:"identifier"`
	Name              string `json:"name"`
	Kind              string `json:"type"` // Simple, Composite
	AccountID         string `json:"accountId"`
	OrgIdentifier     string `json:"orgIdentifier"`
	ProjectIdentifier string `json:"projectIdentifier"`
}

type Client interface {
	// GetSLO returns nil, nil when the SLO does not exist.
	GetSLO(ctx context.Context, scope weighting.Scope, identifier string) (*SLO, error)
	ListSLOs(ctx context.Context, scope weighting.Scope) ([]SLO, error)
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

var errNotFound = errors.New("not found")

func (c *HTTPClient) doReq(ctx context.Context, method, path string, scope weighting.Scope) ([]byte, error) {
	q := url.Values{}
	q.Set("accountId", scope.AccountID)
	if scope.OrgIdentifier != "" {
		q.Set("orgIdentifier", scope.OrgIdentifier)
	}
	if scope.ProjectIdentifier != "" {
		q.Set("projectIdentifier", scope.ProjectIdentifier)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotFound
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("slo registry %s %s: %d %s", method, path, resp.StatusCode, string(body))
	}
	return body, nil
}

func (c *HTTPClient) GetSLO(ctx context.Context, scope weighting.Scope, identifier string) (*SLO, error) {
	data, err := c.doReq(ctx, http.MethodGet, "/api/v1/slos/"+url.PathEscape(identifier), scope)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var slo SLO
	if err := json.Unmarshal(data, &slo); err != nil {
		return nil, fmt.Errorf("decode slo %s: %w", identifier, err)
	}
	return &slo, nil
}

func (c *HTTPClient) ListSLOs(ctx context.Context, scope weighting.Scope) ([]SLO, error) {
	data, err := c.doReq(ctx, http.MethodGet, "/api/v1/slos", scope)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var slos []SLO
	if err := json.Unmarshal(data, &slos); err != nil {
		return nil, fmt.Errorf("decode slo list: %w", err)
	}
	return slos, nil
}

// SelectionScope is the scope a selection's SLO is looked up in: its own org
// and project when it carries them, otherwise the composite's.
func SelectionScope(s weighting.Selection, composite weighting.Scope) weighting.Scope {
	scope := composite
	if s.OrgIdentifier != "" || s.ProjectIdentifier != "" {
		scope.OrgIdentifier = s.OrgIdentifier
		scope.ProjectIdentifier = s.ProjectIdentifier
	}
	if s.AccountID != "" {
		scope.AccountID = s.AccountID
	}
	return scope
}
