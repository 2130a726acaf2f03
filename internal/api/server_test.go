package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/agnosticeng/agnostic-sql-proxy/internal/engine"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/errs"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/marshal"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/session"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/statement"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type client struct {
	t   *testing.T
	srv *httptest.Server
}

func newClient(t *testing.T) *client {
	t.Helper()

	var (
		registry = session.NewRegistry(session.Config{})
		cache    = statement.NewCache()
		e        = engine.NewEngine(registry, cache, engine.Config{})
		srv      = httptest.NewServer(NewServer(e, Config{}).Handler())
	)

	registry.OnClose(cache.CloseSession)

	t.Cleanup(func() {
		srv.Close()
		registry.CloseAll(context.Background())
	})

	return &client{t: t, srv: srv}
}

func (c *client) post(path string, body any) *http.Response {
	c.t.Helper()

	var buf bytes.Buffer
	require.NoError(c.t, json.NewEncoder(&buf).Encode(body))

	resp, err := http.Post(c.srv.URL+path, "application/json", &buf)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (c *client) call(path string, body any, status int, out any) {
	c.t.Helper()

	var resp = c.post(path, body)

	require.Equal(c.t, status, resp.StatusCode, "POST %s", path)

	if out != nil {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
}

func (c *client) connect() string {
	c.t.Helper()

	var resp ConnectResponse

	c.call("/v1/connect", ConnectRequest{
		Driver:     "sqlite",
		Database:   filepath.Join(c.t.TempDir(), "api.db"),
		Properties: map[string]string{"journal_mode": "WAL", "busy_timeout": "5000"},
		PoolSize:   2,
	}, http.StatusOK, &resp)

	require.NotEmpty(c.t, resp.SessionID)
	assert.Contains(c.t, resp.ServerVersion, "SQLite")
	return resp.SessionID
}

func readStream(t *testing.T, resp *http.Response) ([]engine.Batch, *ErrorResponse) {
	t.Helper()

	var (
		scanner = bufio.NewScanner(resp.Body)
		batches []engine.Batch
	)

	for scanner.Scan() {
		var line map[string]json.RawMessage

		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))

		if _, ok := line["error"]; ok {
			var e ErrorResponse
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
			return batches, &e
		}

		var b engine.Batch
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &b))
		batches = append(batches, b)
	}

	require.NoError(t, scanner.Err())
	return batches, nil
}

func TestSessionLifecycle(t *testing.T) {
	var (
		c  = newClient(t)
		id = c.connect()
	)

	var ping PingResponse
	c.call("/v1/ping", SessionRequest{SessionID: id}, http.StatusOK, &ping)
	assert.True(t, ping.Alive)
	assert.GreaterOrEqual(t, ping.LatencyMs, int64(0))

	var stats StatsResponse
	resp, err := http.Get(c.srv.URL + "/v1/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Sessions)
	assert.GreaterOrEqual(t, stats.Pool.Total, 1)

	c.call("/v1/disconnect", SessionRequest{SessionID: id}, http.StatusOK, nil)

	var errResp ErrorResponse
	c.call("/v1/disconnect", SessionRequest{SessionID: id}, http.StatusNotFound, &errResp)
	assert.Equal(t, errs.CodeHandleNotFound, errResp.Code)

	c.call("/v1/ping", SessionRequest{SessionID: id}, http.StatusNotFound, &ping)
	assert.False(t, ping.Alive)
	assert.Equal(t, int64(-1), ping.LatencyMs)
}

func TestConnectFailure(t *testing.T) {
	var (
		c       = newClient(t)
		errResp ErrorResponse
	)

	c.call("/v1/connect", ConnectRequest{Driver: "oracle", Database: "x"}, http.StatusBadRequest, &errResp)
	assert.Equal(t, errs.CodeInvalidArgument, errResp.Code)

	c.call("/v1/connect", ConnectRequest{Driver: "sqlite"}, http.StatusBadGateway, &errResp)
	assert.Equal(t, errs.CodeConnectFailed, errResp.Code)
}

func TestMalformedBody(t *testing.T) {
	var c = newClient(t)

	resp, err := http.Post(c.srv.URL+"/v1/query", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	defer resp.Body.Close()

	var errResp ErrorResponse
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	assert.Equal(t, errs.CodeInvalidArgument, errResp.Code)
}

func TestQueryStreamsNDJSON(t *testing.T) {
	var (
		c  = newClient(t)
		id = c.connect()
	)

	var counts BatchResponse
	c.call("/v1/batch", engine.BatchRequest{
		SessionID: id,
		Statements: []string{
			"CREATE TABLE t (v INTEGER)",
			"INSERT INTO t VALUES (1), (2), (3), (4), (5)",
		},
	}, http.StatusOK, &counts)
	assert.Equal(t, []int64{0, 5}, counts.Counts)

	var resp = c.post("/v1/query", engine.QueryRequest{SessionID: id, SQL: "SELECT v FROM t ORDER BY v", FetchSize: 2})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	batches, streamErr := readStream(t, resp)

	require.Nil(t, streamErr)
	require.Len(t, batches, 3)
	assert.Equal(t, "v", batches[0].Columns[0].Name)
	assert.True(t, batches[1].HasMore)
	assert.False(t, batches[2].HasMore)
	assert.Equal(t, int64(5), batches[2].TotalRows)
	assert.Equal(t, marshal.Int(5), batches[2].Rows[0].Values[0])
}

func TestQueryErrorBeforeFirstBatch(t *testing.T) {
	var (
		c       = newClient(t)
		id      = c.connect()
		errResp ErrorResponse
	)

	c.call("/v1/query", engine.QueryRequest{SessionID: id, SQL: "SELECT * FROM nowhere"}, http.StatusBadGateway, &errResp)
	assert.Equal(t, errs.CodeExecution, errResp.Code)

	c.call("/v1/query", engine.QueryRequest{SessionID: "conn_0", SQL: "SELECT 1"}, http.StatusNotFound, &errResp)
	assert.Equal(t, errs.CodeHandleNotFound, errResp.Code)
}

func TestQueryErrorAfterFirstBatches(t *testing.T) {
	var (
		c  = newClient(t)
		id = c.connect()
	)

	var counts BatchResponse
	c.call("/v1/batch", engine.BatchRequest{
		SessionID: id,
		Statements: []string{
			"CREATE TABLE t (v INTEGER)",
			"WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i + 1 FROM n WHERE i < 20) INSERT INTO t SELECT i FROM n",
		},
	}, http.StatusOK, &counts)
	assert.Equal(t, []int64{0, 20}, counts.Counts)

	var resp = c.post("/v1/query", engine.QueryRequest{
		SessionID: id,
		SQL:       "SELECT v, CASE WHEN v > 12 THEN abs(-9223372036854775807-1) ELSE v END FROM t",
		FetchSize: 5,
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)

	batches, streamErr := readStream(t, resp)

	require.Len(t, batches, 2)
	assert.Equal(t, int64(10), batches[1].TotalRows)
	assert.True(t, batches[1].HasMore)

	require.NotNil(t, streamErr)
	assert.Equal(t, errs.CodeExecution, streamErr.Code)
	assert.Contains(t, streamErr.Error, "overflow")
}

func TestUpdateFailureReportsMinusOne(t *testing.T) {
	var (
		c    = newClient(t)
		id   = c.connect()
		resp UpdateResponse
	)

	c.call("/v1/update", engine.UpdateRequest{SessionID: id, SQL: "DELETE FROM nowhere"}, http.StatusBadGateway, &resp)
	assert.Equal(t, int64(-1), resp.RowsAffected)
	assert.Equal(t, errs.CodeExecution, resp.Code)
	assert.NotEmpty(t, resp.Error)
}

func TestPreparedAndTransactions(t *testing.T) {
	var (
		c  = newClient(t)
		id = c.connect()
	)

	c.call("/v1/update", engine.UpdateRequest{SessionID: id, SQL: "CREATE TABLE t (v INTEGER)"}, http.StatusOK, nil)

	c.call("/v1/begin", BeginRequest{SessionID: id, IsolationLevel: "READ_COMMITTED"}, http.StatusOK, nil)

	var errResp ErrorResponse
	c.call("/v1/begin", BeginRequest{SessionID: id}, http.StatusConflict, &errResp)
	assert.Equal(t, errs.CodeTransactionState, errResp.Code)

	var update UpdateResponse
	c.call("/v1/update", engine.UpdateRequest{
		SessionID:  id,
		SQL:        "INSERT INTO t VALUES (?)",
		Parameters: []marshal.Parameter{{LongValue: lo.ToPtr(int64(42))}},
	}, http.StatusOK, &update)
	assert.Equal(t, int64(1), update.RowsAffected)

	c.call("/v1/commit", SessionRequest{SessionID: id}, http.StatusOK, nil)
	c.call("/v1/rollback", SessionRequest{SessionID: id}, http.StatusConflict, &errResp)

	var prepared PrepareResponse
	c.call("/v1/prepare", PrepareRequest{SessionID: id, SQL: "SELECT v FROM t WHERE v = ?"}, http.StatusOK, &prepared)
	assert.Regexp(t, `^stmt_\d+$`, prepared.StatementID)
	assert.Equal(t, 1, prepared.ParameterCount)

	var resp = c.post("/v1/execute-prepared", engine.ExecutePreparedRequest{
		StatementID: prepared.StatementID,
		Parameters:  []marshal.Parameter{{LongValue: lo.ToPtr(int64(42))}},
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)

	batches, streamErr := readStream(t, resp)

	require.Nil(t, streamErr)
	require.Len(t, batches, 1)
	assert.Equal(t, int64(1), batches[0].TotalRows)

	c.call("/v1/close-prepared", ClosePreparedRequest{StatementID: prepared.StatementID}, http.StatusOK, nil)
	c.call("/v1/close-prepared", ClosePreparedRequest{StatementID: prepared.StatementID}, http.StatusOK, nil)
	c.call("/v1/execute-prepared", engine.ExecutePreparedRequest{StatementID: prepared.StatementID}, http.StatusNotFound, nil)
}

func TestMetadataEndpoint(t *testing.T) {
	var (
		c    = newClient(t)
		id   = c.connect()
		resp MetadataResponse
	)

	c.call("/v1/update", engine.UpdateRequest{SessionID: id, SQL: "CREATE TABLE people (name TEXT NOT NULL)"}, http.StatusOK, nil)
	c.call("/v1/metadata", engine.MetadataRequest{SessionID: id, TableName: "people"}, http.StatusOK, &resp)

	require.Len(t, resp.Tables, 1)
	assert.Equal(t, "people", resp.Tables[0].Name)
	require.Len(t, resp.Tables[0].Columns, 1)
	assert.False(t, resp.Tables[0].Columns[0].Nullable)
}

func TestPanicIsRecovered(t *testing.T) {
	var h = wrap("boom", func(w http.ResponseWriter, r *http.Request) error {
		panic("boom")
	})

	var (
		rec = httptest.NewRecorder()
		req = httptest.NewRequest(http.MethodPost, "/boom", nil)
	)

	h.ServeHTTP(rec, req)

	var errResp ErrorResponse

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
	assert.Equal(t, errs.CodeInternal, errResp.Code)
}

func TestStatusMapping(t *testing.T) {
	var tests = []struct {
		code   errs.Code
		status int
	}{
		{errs.CodeHandleNotFound, http.StatusNotFound},
		{errs.CodeTransactionState, http.StatusConflict},
		{errs.CodeInvalidArgument, http.StatusBadRequest},
		{errs.CodePoolTimeout, http.StatusServiceUnavailable},
		{errs.CodePoolClosed, http.StatusServiceUnavailable},
		{errs.CodeConnectFailed, http.StatusBadGateway},
		{errs.CodeExecution, http.StatusBadGateway},
		{errs.CodeCanceled, http.StatusInternalServerError},
		{errs.CodeInternal, http.StatusInternalServerError},
	}

	for _, test := range tests {
		assert.Equal(t, test.status, statusOf(test.code), string(test.code))
	}
}
