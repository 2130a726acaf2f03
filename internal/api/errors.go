package api

import (
	"encoding/json"
	"net/http"

	"github.com/agnosticeng/agnostic-sql-proxy/internal/errs"
)

var statuses = map[errs.Code]int{
	errs.CodeHandleNotFound:   http.StatusNotFound,
	errs.CodeTransactionState: http.StatusConflict,
	errs.CodeInvalidArgument:  http.StatusBadRequest,
	errs.CodePoolTimeout:      http.StatusServiceUnavailable,
	errs.CodePoolClosed:       http.StatusServiceUnavailable,
	errs.CodeConnectFailed:    http.StatusBadGateway,
	errs.CodeExecution:        http.StatusBadGateway,
}

func statusOf(code errs.Code) int {
	if status, ok := statuses[code]; ok {
		return status
	}

	return http.StatusInternalServerError
}

func errorResponse(err error) ErrorResponse {
	return ErrorResponse{Error: err.Error(), Code: errs.CodeOf(err)}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) error {
	var resp = errorResponse(err)
	return writeJSON(w, statusOf(resp.Code), resp)
}
