package git

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient talks to a GitHub-style REST API. Any server exposing the
// /repos and /orgs/{org}/repos shape works, which keeps tests on httptest.
type HTTPClient struct {
	base  string
	token string
	http  *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		base:  baseURL,
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

var _ RepositoryAPI = (*HTTPClient)(nil)

// repoPayload is the wire shape; description and private are pointers so a
// PATCH only carries the fields being changed.
type repoPayload struct {
	Name          string   `json:"name,omitempty"`
	Description   *string  `json:"description,omitempty"`
	Private       *bool    `json:"private,omitempty"`
	Visibility    string   `json:"visibility,omitempty"`
	DefaultBranch string   `json:"default_branch,omitempty"`
	HTMLURL       string   `json:"html_url,omitempty"`
	Topics        []string `json:"topics,omitempty"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
}

func (p *repoPayload) toRepo() *Repo {
	repo := &Repo{
		Owner:         p.Owner.Login,
		Name:          p.Name,
		Visibility:    p.Visibility,
		DefaultBranch: p.DefaultBranch,
		HTMLURL:       p.HTMLURL,
		Topics:        p.Topics,
	}
	if p.Description != nil {
		repo.Description = *p.Description
	}
	return repo
}

func (c *HTTPClient) Get(ctx context.Context, owner, name string) (*Repo, error) {
	var payload repoPayload
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s", owner, name), nil, &payload)
	if err != nil {
		return nil, err
	}
	return payload.toRepo(), nil
}

func (c *HTTPClient) Create(ctx context.Context, repo Repo) (*Repo, error) {
	body := repoPayload{
		Name:        repo.Name,
		Description: &repo.Description,
		Visibility:  repo.Visibility,
		Topics:      repo.Topics,
	}
	private := repo.Visibility != "public"
	body.Private = &private

	var payload repoPayload
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/orgs/%s/repos", repo.Owner), &body, &payload)
	if err != nil {
		return nil, err
	}
	created := payload.toRepo()
	if created.Owner == "" {
		created.Owner = repo.Owner
	}
	return created, nil
}

func (c *HTTPClient) Edit(ctx context.Context, owner, name string, repo Repo) (*Repo, error) {
	body := repoPayload{
		Description: &repo.Description,
		Visibility:  repo.Visibility,
		Topics:      repo.Topics,
	}

	var payload repoPayload
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/repos/%s/%s", owner, name), &body, &payload)
	if err != nil {
		return nil, err
	}
	edited := payload.toRepo()
	if edited.Owner == "" {
		edited.Owner = owner
	}
	return edited, nil
}

func (c *HTTPClient) Delete(ctx context.Context, owner, name string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/repos/%s/%s", owner, name), nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return ErrAlreadyExists
	case resp.StatusCode >= 400:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
