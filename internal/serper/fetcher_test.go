package serper_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leadgrid/places-pipeline/internal/mockserper"
	"github.com/leadgrid/places-pipeline/internal/serper"
)

func TestSearchTerm(t *testing.T) {
	t.Parallel()

	row := serper.QueryRow{Query: "Café", City: "São Paulo", Zip: " 01000 "}
	if got, want := serper.SearchTerm(row), "Cafe in Sao Paulo 01000"; got != want {
		t.Fatalf("SearchTerm = %q, want %q", got, want)
	}

	noZip := serper.QueryRow{Query: "plumber", City: "Austin"}
	if got, want := serper.SearchTerm(noZip), "plumber in Austin"; got != want {
		t.Fatalf("SearchTerm = %q, want %q", got, want)
	}
}

func newFetcher(t *testing.T, srv *httptest.Server) (*serper.Fetcher, *serper.Client) {
	t.Helper()
	c, err := serper.NewClient(serper.ClientOptions{
		Endpoint:       srv.URL + "/places",
		APIKey:         "k",
		RequestTimeout: 2 * time.Second,
		MaxRetries:     0,
		BackoffInitial: time.Millisecond,
		HTTPClient:     srv.Client(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return &serper.Fetcher{Client: c, MaxPages: 100, Logf: t.Logf}, c
}

func TestFetchRow_PaginatesUntilEmptyPage(t *testing.T) {
	t.Parallel()

	mock := mockserper.New()
	mock.Script("plumber in Austin 78701",
		mockserper.Page{{"title": "A", "cid": 1}, {"title": "B", "cid": 2}},
		mockserper.Page{{"title": "C", "cid": 3}},
	)
	srv := httptest.NewServer(mock.Handler())
	defer srv.Close()

	f, c := newFetcher(t, srv)
	recs, err := f.FetchRow(context.Background(), serper.QueryRow{Query: "plumber", City: "Austin", Zip: "78701"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	// Two result pages plus the terminating empty page.
	if got := c.Calls(); got != 3 {
		t.Fatalf("Calls() = %d, want 3", got)
	}

	first := recs[0]
	for _, key := range []string{"query", "city", "zip", "search_term", "page"} {
		if first[key] == "" {
			t.Errorf("record missing stamp %q: %v", key, first)
		}
	}
	if first["page"] != "1" || recs[2]["page"] != "2" {
		t.Fatalf("records out of page order: %v", recs)
	}
	if first["search_term"] != "plumber in Austin 78701" {
		t.Fatalf("unexpected search_term %q", first["search_term"])
	}
}

func TestFetchRow_FailureKeepsEarlierPages(t *testing.T) {
	t.Parallel()

	mock := mockserper.New()
	term := "roofer in Boise 83702"
	mock.Script(term,
		mockserper.Page{{"title": "First", "cid": 10}},
		mockserper.Page{{"title": "Never seen"}},
	)
	mock.FailPage(term, 2, 500, -1)
	srv := httptest.NewServer(mock.Handler())
	defer srv.Close()

	f, _ := newFetcher(t, srv)
	recs, err := f.FetchRow(context.Background(), serper.QueryRow{Query: "roofer", City: "Boise", Zip: "83702"})
	if err == nil {
		t.Fatal("expected page 2 failure to surface")
	}
	if len(recs) != 1 || recs[0]["title"] != "First" {
		t.Fatalf("page 1 records should survive: %v", recs)
	}
}

func TestFetchRow_StopsAtPageCeiling(t *testing.T) {
	t.Parallel()

	// A server that never returns an empty page.
	srv := httptest.NewServer(httpHandlerAlwaysOnePlace())
	defer srv.Close()

	f, c := newFetcher(t, srv)
	f.MaxPages = 5
	recs, err := f.FetchRow(context.Background(), serper.QueryRow{Query: "x", City: "y"})
	if err != nil {
		t.Fatalf("ceiling stop is not a failure: %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("expected 5 records, got %d", len(recs))
	}
	if got := c.Calls(); got != 5 {
		t.Fatalf("Calls() = %d, want 5", got)
	}
}

func httpHandlerAlwaysOnePlace() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"places":[{"title":"endless"}]}`))
	})
}

func TestFetchRow_NormalizesFields(t *testing.T) {
	t.Parallel()

	mock := mockserper.New()
	mock.Script("cafe in Sao Paulo",
		mockserper.Page{{"title": "Café São Paulo", "cid": 42, "open": true}},
	)
	srv := httptest.NewServer(mock.Handler())
	defer srv.Close()

	f, _ := newFetcher(t, srv)
	recs, err := f.FetchRow(context.Background(), serper.QueryRow{Query: "cafe", City: "São Paulo"})
	if err != nil {
		t.Fatal(err)
	}
	if recs[0]["title"] != "Cafe Sao Paulo" {
		t.Fatalf("title not normalized: %q", recs[0]["title"])
	}
	if recs[0]["cid"] != "42" || recs[0]["open"] != "true" {
		t.Fatalf("non-string fields should flatten to text: %v", recs[0])
	}
}
