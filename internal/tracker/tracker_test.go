package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rogers-F/turngov/internal/domain"
)

func TestParseIssueRef(t *testing.T) {
	ref, ok := ParseIssueRef("acme/widgets#123")
	require.True(t, ok)
	assert.Equal(t, IssueRef{Owner: "acme", Repo: "widgets", Number: 123}, ref)
	assert.Equal(t, "acme/widgets#123", ref.String())

	ref, ok = ParseIssueRef("#7")
	require.True(t, ok)
	assert.Equal(t, IssueRef{Number: 7}, ref)
	assert.Equal(t, "#7", ref.String())

	_, ok = ParseIssueRef("acme/widgets")
	assert.False(t, ok)
	_, ok = ParseIssueRef("acme/widgets#12x")
	assert.False(t, ok)
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	ref := IssueRef{Number: 5}

	_, err := m.Labels(ctx, ref)
	assert.True(t, errors.Is(err, domain.ErrTrackerUnavailable))

	m.Seed(5, "bug")
	require.NoError(t, m.AddLabels(ctx, ref, PhaseLabel("FETCH"), "bug"))
	labels, err := m.Labels(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []string{"bug", "phase:FETCH"}, labels)

	require.NoError(t, m.RemoveLabel(ctx, ref, "phase:FETCH"))
	require.NoError(t, m.RemoveLabel(ctx, ref, "phase:absent"))
	labels, err = m.Labels(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []string{"bug"}, labels)

	m.FailAdd = errors.New("boom")
	assert.EqualError(t, m.AddLabels(ctx, ref, "x"), "boom")
}

type fakeGitHub struct {
	mu     sync.Mutex
	labels map[string][]string
}

func newFakeGitHub(t *testing.T) (*httptest.Server, *fakeGitHub) {
	t.Helper()
	f := &fakeGitHub{labels: map[string][]string{"/repos/acme/widgets/issues/9/labels": {"bug", "phase:INV"}}}

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/issues/9/labels", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			writeLabels(w, f.labels[r.URL.Path])
		case http.MethodPost:
			var add []string
			if err := json.NewDecoder(r.Body).Decode(&add); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f.labels[r.URL.Path] = append(f.labels[r.URL.Path], add...)
			writeLabels(w, f.labels[r.URL.Path])
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/repos/acme/widgets/issues/9/labels/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		key := "/repos/acme/widgets/issues/9/labels"
		name := r.URL.Path[len(key)+1:]
		var kept []string
		found := false
		for _, l := range f.labels[key] {
			if l == name {
				found = true
				continue
			}
			kept = append(kept, l)
		}
		if !found {
			http.Error(w, `{"message":"Label does not exist"}`, http.StatusNotFound)
			return
		}
		f.labels[key] = kept
		writeLabels(w, kept)
	})
	mux.HandleFunc("/repos/acme/widgets/issues/404/labels", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, f
}

func writeLabels(w http.ResponseWriter, names []string) {
	type label struct {
		Name string `json:"name"`
	}
	out := make([]label, 0, len(names))
	for _, n := range names {
		out = append(out, label{Name: n})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func TestGitHub_Labels(t *testing.T) {
	srv, f := newFakeGitHub(t)
	ctx := context.Background()

	gh, err := NewGitHub(ctx, GitHubConfig{Token: "t", Owner: "acme", Repo: "widgets", BaseURL: srv.URL, RequestsPerSecond: 100}, nil)
	require.NoError(t, err)

	ref := IssueRef{Number: 9}
	labels, err := gh.Labels(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []string{"bug", "phase:INV"}, labels)

	require.NoError(t, gh.RemoveLabel(ctx, ref, "phase:INV"))
	require.NoError(t, gh.RemoveLabel(ctx, ref, "phase:INV"), "removing an absent label is not an error")
	require.NoError(t, gh.AddLabels(ctx, ref, "phase:ANA"))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{"bug", "phase:ANA"}, f.labels["/repos/acme/widgets/issues/9/labels"])
}

func TestGitHub_Errors(t *testing.T) {
	srv, _ := newFakeGitHub(t)
	ctx := context.Background()

	_, err := NewGitHub(ctx, GitHubConfig{}, nil)
	assert.Error(t, err)

	gh, err := NewGitHub(ctx, GitHubConfig{Token: "t", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = gh.Labels(ctx, IssueRef{Number: 9})
	assert.True(t, errors.Is(err, domain.ErrTrackerUnavailable), "missing repository")

	_, err = gh.Labels(ctx, IssueRef{Owner: "acme", Repo: "widgets", Number: 404})
	assert.True(t, errors.Is(err, domain.ErrTrackerUnavailable))
}
