package api

import (
	"github.com/agnosticeng/agnostic-sql-proxy/internal/engine"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/errs"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/pool"
)

type ErrorResponse struct {
	Error string    `json:"error,omitempty"`
	Code  errs.Code `json:"code,omitempty"`
}

type ConnectRequest struct {
	Driver     string            `json:"driver,omitempty"`
	Host       string            `json:"host"`
	Port       int               `json:"port,omitempty"`
	Database   string            `json:"database"`
	Username   string            `json:"username,omitempty"`
	Password   string            `json:"password,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	PoolSize   int               `json:"pool_size,omitempty"`
}

type ConnectResponse struct {
	SessionID     string `json:"session_id"`
	ServerVersion string `json:"server_version"`
}

type SessionRequest struct {
	SessionID string `json:"session_id"`
}

type BeginRequest struct {
	SessionID      string `json:"session_id"`
	IsolationLevel string `json:"isolation_level,omitempty"`
}

type PrepareRequest struct {
	SessionID string `json:"session_id"`
	SQL       string `json:"sql"`
}

type PrepareResponse struct {
	StatementID    string `json:"statement_id"`
	ParameterCount int    `json:"parameter_count"`
}

type ClosePreparedRequest struct {
	StatementID string `json:"statement_id"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type UpdateResponse struct {
	RowsAffected int64 `json:"rows_affected"`
	ErrorResponse
}

type BatchResponse struct {
	Counts []int64 `json:"counts"`
}

type PingResponse struct {
	Alive     bool  `json:"alive"`
	LatencyMs int64 `json:"latency_ms"`
	ErrorResponse
}

type MetadataResponse struct {
	Tables []engine.TableInfo `json:"tables"`
}

type StatsResponse struct {
	Sessions   int        `json:"sessions"`
	Statements int        `json:"statements"`
	Pool       pool.Stats `json:"pool"`
}
