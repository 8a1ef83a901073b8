package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const submissionsJSON = `{
	"cik": "320193",
	"name": "Apple Inc.",
	"filings": {
		"recent": {
			"accessionNumber": ["0000320193-24-000001", "0000320193-23-000106", "0000320193-23-000077", "0000320193-23-000064", "0000320193-23-000010"],
			"filingDate": ["2024-02-02", "2023-11-03", "2023-08-04", "2023-05-05", "2023-02-03"],
			"form": ["8-K", "10-K", "10-Q", "10-Q", "10-Q"],
			"primaryDocument": ["a8k.htm", "aapl-20230930.htm", "aapl-20230701.htm", "aapl-20230401.htm", "aapl-20221231.htm"]
		}
	}
}`

type edgarServer struct {
	*httptest.Server
	mu         sync.Mutex
	paths      []string
	userAgents []string
}

func newEdgarServer(t *testing.T) *edgarServer {
	s := &edgarServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.paths = append(s.paths, r.URL.Path)
		s.userAgents = append(s.userAgents, r.Header.Get("User-Agent"))
		s.mu.Unlock()

		switch r.URL.Path {
		case "/submissions/CIK0000320193.json":
			_, _ = fmt.Fprint(w, submissionsJSON)
		case "/submissions/CIK0000789019.json":
			http.Error(w, "not found", http.StatusNotFound)
		case "/archive/320193/000032019323000077/aapl-20230701.htm":
			http.Error(w, "server error", http.StatusInternalServerError)
		default:
			_, _ = fmt.Fprintf(w, "<html><body><p>Filing %s</p><p>Provision for income taxes</p></body></html>", r.URL.Path)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func TestEdgarSource(t *testing.T) {
	t.Run("Fetch recent filings per form", func(t *testing.T) {
		srv := newEdgarServer(t)
		source := NewEdgarSource(EdgarConfig{
			DataURL:           srv.URL,
			ArchiveURL:        srv.URL + "/archive",
			UserAgent:         "test-agent admin@example.com",
			Companies:         []Company{{Name: "Apple Inc.", CIK: "320193"}},
			FormTypes:         []string{"10-K", "10-Q"},
			PerForm:           2,
			RequestsPerSecond: 1000,
		}, nil)

		docs, err := source.Fetch(context.Background())

		require.NoError(t, err)
		// one 10-K and two 10-Q selected, the first 10-Q fails and is skipped
		require.Len(t, docs, 2)

		assert.Equal(t, "0000320193-23-000106", docs[0].ID)
		assert.Equal(t, "Apple Inc.", docs[0].Metadata.CompanyName)
		assert.Equal(t, "0000320193", docs[0].Metadata.CompanyCIK)
		assert.Equal(t, "10-K", docs[0].Metadata.FormType)
		assert.Equal(t, "2023-11-03", docs[0].Metadata.FilingDate)
		assert.Equal(t, "aapl-20230930.htm", docs[0].Metadata.Extra["primary_document"])
		assert.Equal(t, "Filing /archive/320193/000032019323000106/aapl-20230930.htm\nProvision for income taxes", docs[0].Content)

		assert.Equal(t, "0000320193-23-000064", docs[1].ID)
		assert.Equal(t, "10-Q", docs[1].Metadata.FormType)

		for _, ua := range srv.userAgents {
			assert.Equal(t, "test-agent admin@example.com", ua)
		}
		assert.NotContains(t, srv.paths, "/archive/320193/000032019324000001/a8k.htm", "Expected 8-K to be filtered")
	})

	t.Run("Failing company is skipped", func(t *testing.T) {
		srv := newEdgarServer(t)
		source := NewEdgarSource(EdgarConfig{
			DataURL:           srv.URL,
			ArchiveURL:        srv.URL + "/archive",
			Companies:         []Company{{Name: "Microsoft Corporation", CIK: "0000789019"}, {CIK: "0000320193"}},
			FormTypes:         []string{"10-K"},
			RequestsPerSecond: 1000,
		}, nil)

		docs, err := source.Fetch(context.Background())

		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "Apple Inc.", docs[0].Metadata.CompanyName, "Expected the name from the submissions")
		assert.Equal(t, DefaultEdgarUserAgent, srv.userAgents[0])
	})

	t.Run("Cancelled context", func(t *testing.T) {
		srv := newEdgarServer(t)
		source := NewEdgarSource(EdgarConfig{DataURL: srv.URL, ArchiveURL: srv.URL}, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := source.Fetch(ctx)

		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Defaults", func(t *testing.T) {
		source := NewEdgarSource(EdgarConfig{}, nil)

		assert.Equal(t, DefaultCompanies, source.config.Companies)
		assert.Equal(t, DefaultFormTypes, source.config.FormTypes)
		assert.Equal(t, 2, source.config.PerForm)
		assert.Equal(t, float64(DefaultEdgarRequestsPerSecond), source.config.RequestsPerSecond)
	})
}

func TestPadCIK(t *testing.T) {
	assert.Equal(t, "0000320193", padCIK("320193"))
	assert.Equal(t, "0000320193", padCIK("0000320193"))
	assert.Equal(t, "abc", padCIK("abc"))
}
