package ctgov

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/trialsync/internal/fetcher"
	"github.com/sells-group/trialsync/internal/model"
	"github.com/sells-group/trialsync/internal/parser"
	"github.com/sells-group/trialsync/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func studyResponse(nctID string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<FullStudiesResponse>
  <NStudiesFound>1</NStudiesFound>
  <FullStudies>
    <FullStudy Rank="1">
      <Struct Name="Study">
        <Struct Name="ProtocolSection">
          <Struct Name="IdentificationModule">
            <Field Name="NCTId">%s</Field>
          </Struct>
          <Struct Name="StatusModule">
            <Field Name="OverallStatus">Recruiting</Field>
          </Struct>
        </Struct>
      </Struct>
    </FullStudy>
  </FullStudies>
</FullStudiesResponse>`, nctID)
}

const emptyResponse = `<?xml version="1.0" encoding="UTF-8"?>
<FullStudiesResponse><NStudiesFound>0</NStudiesFound><FullStudies></FullStudies></FullStudiesResponse>`

func testClient(srv *httptest.Server, attempts int, timeout time.Duration) *Client {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{MaxRetries: 1, DefaultRate: 1000})
	retry := resilience.FromAttempts(attempts)
	retry.InitialBackoff = time.Millisecond
	retry.MaxBackoff = 5 * time.Millisecond
	return NewClient(f, Options{
		BaseURL:   srv.URL + "/api/query/full_studies",
		SearchURL: srv.URL + "/ct2/results/download_fields",
		Timeout:   timeout,
		Retry:     retry,
	})
}

func TestFetchStudy(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, studyResponse(r.URL.Query().Get("expr")))
	}))
	defer srv.Close()

	data, err := testClient(srv, 3, time.Second).FetchStudy(context.Background(), "NCT04437511")
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "expr=NCT04437511")
	assert.Contains(t, gotQuery, "fmt=xml")
	assert.Contains(t, gotQuery, "max_rnk=1")

	doc, err := parser.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "NCT04437511", doc.NCTID)
}

func TestFetchStudy_RetriesEmptyResult(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			fmt.Fprint(w, emptyResponse)
			return
		}
		fmt.Fprint(w, studyResponse("NCT00000001"))
	}))
	defer srv.Close()

	data, err := testClient(srv, 5, time.Second).FetchStudy(context.Background(), "NCT00000001")
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchStudy_EmptyResultExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, emptyResponse)
	}))
	defer srv.Close()

	_, err := testClient(srv, 2, time.Second).FetchStudy(context.Background(), "NCT00000001")
	require.Error(t, err)

	var rte *model.RetrievalTransientError
	require.True(t, errors.As(err, &rte))
	assert.Equal(t, "NCT00000001", rte.NCTID)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchStudy_TimeoutIsRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
			return
		}
		fmt.Fprint(w, studyResponse("NCT00000001"))
	}))
	defer srv.Close()

	data, err := testClient(srv, 3, 50*time.Millisecond).FetchStudy(context.Background(), "NCT00000001")
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchStudy_NotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(srv, 5, time.Second).FetchStudy(context.Background(), "NCT00000001")
	require.Error(t, err)

	var rte *model.RetrievalTransientError
	assert.False(t, errors.As(err, &rte))
	var se *fetcher.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchStudy_UnboundedStopsWithContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, emptyResponse)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := testClient(srv, 0, time.Second).FetchStudy(ctx, "NCT00000001")
	require.Error(t, err)
	assert.Error(t, ctx.Err())
}

func TestFetchAll_OrderAndFailures(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)

		id := r.URL.Query().Get("expr")
		if id == "NCT00000003" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, studyResponse(id))
	}))
	defer srv.Close()

	ids := []string{"NCT00000001", "NCT00000002", "NCT00000003", "NCT00000004", "NCT00000005", "NCT00000006"}
	results, err := testClient(srv, 1, time.Second).FetchAll(context.Background(), ids, 2)
	require.NoError(t, err)
	require.Len(t, results, len(ids))

	for i, r := range results {
		assert.Equal(t, ids[i], r.NCTID)
		if r.NCTID == "NCT00000003" {
			assert.Error(t, r.Err)
			continue
		}
		require.NoError(t, r.Err)
		assert.Contains(t, string(r.Data), r.NCTID)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestFetchAll_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, studyResponse(r.URL.Query().Get("expr")))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := testClient(srv, 1, time.Second).FetchAll(ctx, []string{"NCT00000001", "NCT00000002"}, 0)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Error(t, r.Err)
	}
}

func TestSearchURL(t *testing.T) {
	c := NewClient(nil, Options{SearchURL: "https://example.test/ct2/results/download_fields"})
	from := time.Date(2021, time.March, 3, 0, 0, 0, 0, time.UTC)
	to := time.Date(2021, time.April, 15, 0, 0, 0, 0, time.UTC)

	raw, err := c.SearchURL(SearchQuery{From: &from, To: &to})
	require.NoError(t, err)
	assert.Contains(t, raw, "lupd_s=03%2F03%2F2021")
	assert.Contains(t, raw, "lupd_e=04%2F15%2F2021")
	assert.Contains(t, raw, "down_fmt=csv")
	assert.Contains(t, raw, "flds=a&flds=b&flds=y")
	assert.NotContains(t, raw, "term=")
}

func TestDownloadSearchCSV(t *testing.T) {
	var gotStart string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotStart = r.URL.Query().Get("lupd_s")
		fmt.Fprint(w, "Rank,NCT Number\n1,NCT00000001\n2,NCT00000002\n")
	}))
	defer srv.Close()

	from := time.Date(2021, time.March, 3, 0, 0, 0, 0, time.UTC)
	body, err := testClient(srv, 2, time.Second).DownloadSearchCSV(context.Background(), SearchQuery{From: &from})
	require.NoError(t, err)
	defer body.Close() //nolint:errcheck

	ids, err := parser.NCTIDs(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, []string{"NCT00000001", "NCT00000002"}, ids)
	assert.Equal(t, "03/03/2021", gotStart)
}

func buildZIP(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDownloadArchive(t *testing.T) {
	archive := buildZIP(t, map[string]string{
		"NCT0000xxxx/NCT00000001.xml": "<clinical_study/>",
		"NCT0000xxxx/NCT00000002.xml": "<clinical_study/>",
		"Contents.txt":                "index",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(archive) //nolint:errcheck
	}))
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "studies")
	files, err := testClient(srv, 1, time.Second).DownloadArchive(context.Background(), srv.URL+"/AllPublicXML.zip", dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, f := range files {
		assert.True(t, strings.HasSuffix(f, ".xml"))
		_, err := os.Stat(f)
		assert.NoError(t, err)
	}

	_, err = os.Stat(filepath.Join(dir, "studies.zip"))
	assert.True(t, os.IsNotExist(err))
}
