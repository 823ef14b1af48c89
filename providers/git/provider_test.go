package git

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/reconcilr-io/reconcilr/internal/lifecycle"
	"github.com/reconcilr-io/reconcilr/internal/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI is an in-memory RepositoryAPI keyed by owner/name.
type fakeAPI struct {
	repos map[string]*Repo
	calls map[string]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{repos: make(map[string]*Repo), calls: make(map[string]int)}
}

func (f *fakeAPI) Get(ctx context.Context, owner, name string) (*Repo, error) {
	f.calls["Get"]++
	repo, ok := f.repos[owner+"/"+name]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *repo
	return &copied, nil
}

func (f *fakeAPI) Create(ctx context.Context, repo Repo) (*Repo, error) {
	f.calls["Create"]++
	key := repo.Owner + "/" + repo.Name
	if _, ok := f.repos[key]; ok {
		return nil, ErrAlreadyExists
	}
	repo.DefaultBranch = "main"
	repo.HTMLURL = "https://git.example.com/" + key
	f.repos[key] = &repo
	copied := repo
	return &copied, nil
}

func (f *fakeAPI) Edit(ctx context.Context, owner, name string, repo Repo) (*Repo, error) {
	f.calls["Edit"]++
	key := owner + "/" + name
	existing, ok := f.repos[key]
	if !ok {
		return nil, ErrNotFound
	}
	existing.Description = repo.Description
	existing.Visibility = repo.Visibility
	existing.Topics = repo.Topics
	copied := *existing
	return &copied, nil
}

func (f *fakeAPI) Delete(ctx context.Context, owner, name string) error {
	f.calls["Delete"]++
	key := owner + "/" + name
	if _, ok := f.repos[key]; !ok {
		return ErrNotFound
	}
	delete(f.repos, key)
	return nil
}

func repoSpec(inputs map[string]any) resource.Spec {
	return resource.Spec{Type: TypeName, Name: "app", Inputs: inputs}
}

func TestCheck_DefaultsAndValidation(t *testing.T) {
	c := New(newFakeAPI())

	_, err := c.Check(map[string]any{"name": "app"})
	assert.Error(t, err, "missing owner")

	inputs, err := c.Check(map[string]any{"owner": "acme", "name": "app"})
	require.NoError(t, err)
	assert.Equal(t, "private", inputs["visibility"], "visibility defaults to private")

	_, err = c.Check(map[string]any{"owner": "acme", "name": "app", "visibility": "hidden"})
	assert.Error(t, err)
}

func TestCreate_Preview_NoAPICalls(t *testing.T) {
	api := newFakeAPI()
	c := New(api)

	outcome, state, err := c.Create(context.Background(), repoSpec(map[string]any{
		"owner": "acme", "name": "app", "visibility": "private",
	}), true)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Created, outcome)
	assert.Equal(t, "acme/app", state.ID)
	assert.Empty(t, api.calls)
}

func TestCreate_AdoptsExisting(t *testing.T) {
	api := newFakeAPI()
	c := New(api)
	ctx := context.Background()
	spec := repoSpec(map[string]any{"owner": "acme", "name": "app", "visibility": "private"})

	outcome, first, err := c.Create(ctx, spec, false)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Created, outcome)
	assert.Equal(t, "main", first.Outputs["defaultBranch"])

	outcome, second, err := c.Create(ctx, spec, false)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.AlreadyExists, outcome)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, api.repos, 1)
}

func TestUpdate_PreservesServerOutputs(t *testing.T) {
	api := newFakeAPI()
	c := New(api)
	ctx := context.Background()

	_, created, err := c.Create(ctx, repoSpec(map[string]any{
		"owner": "acme", "name": "app", "visibility": "private",
	}), false)
	require.NoError(t, err)

	updated, err := c.Update(ctx, created.ID, created, repoSpec(map[string]any{
		"owner": "acme", "name": "app", "visibility": "public", "description": "the app",
	}), false)
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "the app", updated.Outputs["description"])
	assert.Equal(t, "public", updated.Outputs["visibility"])
	assert.Equal(t, created.Outputs["htmlUrl"], updated.Outputs["htmlUrl"], "url survives the update")
}

func TestDelete_ToleratesAbsent(t *testing.T) {
	c := New(newFakeAPI())

	outcome, err := c.Delete(context.Background(), "acme/ghost", resource.State{ID: "acme/ghost"})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.AlreadyAbsent, outcome)
}

func TestDiff_RenameForcesDeleteBeforeReplace(t *testing.T) {
	c := New(newFakeAPI())

	res, err := c.Diff(
		map[string]any{"owner": "acme", "name": "app"},
		map[string]any{"owner": "acme", "name": "app2"},
	)
	require.NoError(t, err)
	assert.True(t, res.RequiresReplace)
	assert.True(t, res.DeleteBeforeReplace)

	res, err = c.Diff(
		map[string]any{"owner": "acme", "name": "app", "description": "a"},
		map[string]any{"owner": "acme", "name": "app", "description": "b"},
	)
	require.NoError(t, err)
	assert.False(t, res.RequiresReplace)
}

// newTestServer serves just enough of the REST surface for the HTTP client.
func newTestServer(t *testing.T) (*httptest.Server, map[string]map[string]any) {
	t.Helper()
	repos := make(map[string]map[string]any)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /orgs/{org}/repos", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		org := r.PathValue("org")
		key := org + "/" + body["name"].(string)
		if _, ok := repos[key]; ok {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		body["default_branch"] = "main"
		body["owner"] = map[string]any{"login": org}
		repos[key] = body
		w.WriteHeader(http.StatusCreated)
		require.NoError(t, json.NewEncoder(w).Encode(body))
	})
	mux.HandleFunc("/repos/{owner}/{name}", func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("owner") + "/" + r.PathValue("name")
		repo, ok := repos[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			require.NoError(t, json.NewEncoder(w).Encode(repo))
		case http.MethodPatch:
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			for k, v := range body {
				repo[k] = v
			}
			require.NoError(t, json.NewEncoder(w).Encode(repo))
		case http.MethodDelete:
			delete(repos, key)
			w.WriteHeader(http.StatusNoContent)
		}
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, repos
}

func TestHTTPClient_Lifecycle(t *testing.T) {
	server, repos := newTestServer(t)
	client := NewHTTPClient(server.URL, "test-token")
	ctx := context.Background()

	// 1. Create.
	created, err := client.Create(ctx, Repo{Owner: "acme", Name: "app", Description: "the app", Visibility: "private"})
	require.NoError(t, err)
	assert.Equal(t, "acme", created.Owner)
	assert.Equal(t, "main", created.DefaultBranch)
	assert.Len(t, repos, 1)

	// 2. Colliding create surfaces the sentinel.
	_, err = client.Create(ctx, Repo{Owner: "acme", Name: "app"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// 3. Get round-trips.
	got, err := client.Get(ctx, "acme", "app")
	require.NoError(t, err)
	assert.Equal(t, "the app", got.Description)

	// 4. Edit changes visibility.
	edited, err := client.Edit(ctx, "acme", "app", Repo{Visibility: "public"})
	require.NoError(t, err)
	assert.Equal(t, "public", edited.Visibility)

	// 5. Delete, then deleting again reports not found.
	require.NoError(t, client.Delete(ctx, "acme", "app"))
	assert.ErrorIs(t, client.Delete(ctx, "acme", "app"), ErrNotFound)
}

func TestHTTPClient_SendsAuthHeader(t *testing.T) {
	var seen string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	client := NewHTTPClient(server.URL, "secret")
	_, err := client.Get(context.Background(), "acme", "app")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, strings.HasPrefix(seen, "Bearer "), "token goes out as a bearer header")
}
