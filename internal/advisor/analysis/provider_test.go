package analysis

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "gap-advisor/internal/common/errors"
	httpclient "gap-advisor/internal/common/http"
	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

// fakeES serves the handful of endpoints the provider touches.
type fakeES struct {
	mu      sync.Mutex
	docs    map[string]string
	failGet bool
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/" {
		_, _ = io.WriteString(w, `{"version":{"number":"8.11.0","build_flavor":"default"},"tagline":"You Know, for Search"}`)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/analyses/_doc/")
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		if f.failGet {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":"unavailable"}`)
			return
		}
		src, ok := f.docs[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"_index":"analyses","_id":"`+id+`","found":false}`)
			return
		}
		_, _ = io.WriteString(w, `{"_index":"analyses","_id":"`+id+`","found":true,"_source":`+src+`}`)
	case http.MethodPut, http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		f.docs[id] = string(body)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"_index":"analyses","_id":"`+id+`","result":"created"}`)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newProvider(t *testing.T, es *fakeES, genai http.Handler) *ESProvider {
	esSrv := httptest.NewServer(es)
	t.Cleanup(esSrv.Close)
	genSrv := httptest.NewServer(genai)
	t.Cleanup(genSrv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{esSrv.URL}})
	require.NoError(t, err)

	p := NewESProvider(client, "", httpclient.NewClient(5*time.Second).WithBaseURL(genSrv.URL), logger.NewTestLogger(t))
	p.now = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }
	return p
}

const baseDoc = `{"id":"a-1","userId":"u-1","title":"Meal kits","score":71,"parameters":{"market":"US","budget":"$50k"}}`

// ==========================
// GetAnalysis
// ==========================

func TestGetAnalysis(t *testing.T) {
	p := newProvider(t, &fakeES{docs: map[string]string{"a-1": baseDoc}}, http.NotFoundHandler())

	a, err := p.GetAnalysis(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, "Meal kits", a.Title)
	assert.Equal(t, "US", a.Parameters[models.ParamMarket])

	_, err = p.GetAnalysis(context.Background(), "missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))

	_, err = p.GetAnalysis(context.Background(), "")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidInput))
}

func TestGetAnalysis_Unavailable(t *testing.T) {
	p := newProvider(t, &fakeES{docs: map[string]string{}, failGet: true}, http.NotFoundHandler())

	_, err := p.GetAnalysis(context.Background(), "a-1")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeAnalysisUnavailable))
}

// ==========================
// CreateAnalysis
// ==========================

func TestCreateAnalysis_MergesAndIndexes(t *testing.T) {
	es := &fakeES{docs: map[string]string{"a-1": baseDoc}}
	var got generateRequest
	genai := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/analysis/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"id":"a-2","title":"Meal kits (Japan)","score":64}`)
	})
	p := newProvider(t, es, genai)

	a, err := p.CreateAnalysis(context.Background(), "a-1", map[string]string{models.ParamMarket: "Japan"})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"market": "Japan", "budget": "$50k"}, got.Parameters)
	assert.Equal(t, "u-1", got.UserID)
	assert.Equal(t, "a-2", a.ID)
	assert.Equal(t, "a-1", a.BaseAnalysisID)
	assert.Equal(t, "u-1", a.UserID)
	assert.Equal(t, "Japan", a.Parameters[models.ParamMarket])

	indexed, err := p.GetAnalysis(context.Background(), "a-2")
	require.NoError(t, err)
	assert.Equal(t, "a-1", indexed.BaseAnalysisID)
	assert.Equal(t, 64.0, indexed.Score)
}

func TestCreateAnalysis_Errors(t *testing.T) {
	t.Run("unknown base", func(t *testing.T) {
		p := newProvider(t, &fakeES{docs: map[string]string{}}, http.NotFoundHandler())
		_, err := p.CreateAnalysis(context.Background(), "nope", map[string]string{"market": "EU"})
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
	})

	t.Run("generator down", func(t *testing.T) {
		genai := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		p := newProvider(t, &fakeES{docs: map[string]string{"a-1": baseDoc}}, genai)
		_, err := p.CreateAnalysis(context.Background(), "a-1", map[string]string{"market": "EU"})
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeAnalysisUnavailable))
	})
}
