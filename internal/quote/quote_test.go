package quote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLatestParsesChartResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v8/finance/chart/ACME" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"chart":{"result":[{"meta":{
			"symbol":"ACME",
			"regularMarketPrice":101.5,
			"regularMarketDayHigh":103.0,
			"regularMarketDayLow":99.25,
			"regularMarketVolume":123456,
			"regularMarketTime":1724580000
		}}],"error":null}}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	q, err := c.Latest(context.Background(), "ACME")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if q.Price != 101.5 || q.High != 103.0 || q.Low != 99.25 {
		t.Fatalf("quote = %+v", q)
	}
	if q.Volume != 123456 || q.Timestamp != 1724580000 {
		t.Fatalf("quote = %+v", q)
	}
}

func TestLatestReportsAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":[],"error":{"code":"Not Found","description":"No data found"}}}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	if _, err := c.Latest(context.Background(), "NOPE"); err == nil {
		t.Fatal("Latest: expected error, got nil")
	}
}

func TestLatestEmptySymbol(t *testing.T) {
	t.Parallel()

	c := NewClient()
	if _, err := c.Latest(context.Background(), ""); err == nil {
		t.Fatal("Latest(\"\"): expected error, got nil")
	}
}
