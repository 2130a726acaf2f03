package errs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"session not found", SessionNotFound("conn_1"), CodeHandleNotFound},
		{"statement not found", StatementNotFound("stmt_1"), CodeHandleNotFound},
		{"no transaction", NoActiveTransaction(), CodeTransactionState},
		{"already open", TransactionAlreadyOpen(), CodeTransactionState},
		{"execution", Execution(sql.ErrNoRows), CodeExecution},
		{"connect", ConnectFailed(errors.New("refused")), CodeConnectFailed},
		{"invalid", InvalidArgument("parameter %d", 2), CodeInvalidArgument},
		{"pool timeout", fmt.Errorf("%w: %w", ErrPoolTimeout, context.DeadlineExceeded), CodePoolTimeout},
		{"canceled", context.Canceled, CodeCanceled},
		{"unknown", errors.New("boom"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestExecutionKeepsCause(t *testing.T) {
	var err = Execution(sql.ErrConnDone)

	assert.ErrorIs(t, err, ErrExecution)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.Same(t, err, Execution(err))
	assert.Nil(t, Execution(nil))
}

func TestHandleNotFoundIsNotExecution(t *testing.T) {
	var err = SessionNotFound("conn_42")

	assert.NotErrorIs(t, err, ErrExecution)
	assert.Contains(t, err.Error(), "conn_42")
}
