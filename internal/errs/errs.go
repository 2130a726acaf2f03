// Package errs holds the error taxonomy shared by the proxy packages. Every
// failure surfaced to a client is classified into exactly one Code.
package errs

import (
	"context"
	"errors"
	"fmt"
)

type Code string

const (
	CodeHandleNotFound   Code = "HANDLE_NOT_FOUND"
	CodeConnectFailed    Code = "CONNECT_FAILED"
	CodeTransactionState Code = "TRANSACTION_STATE"
	CodeExecution        Code = "EXECUTION"
	CodePoolTimeout      Code = "POOL_TIMEOUT"
	CodePoolClosed       Code = "POOL_CLOSED"
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeCanceled         Code = "CANCELED"
	CodeInternal         Code = "INTERNAL"
)

var (
	ErrHandleNotFound   = errors.New("handle not found")
	ErrConnectFailed    = errors.New("connect failed")
	ErrTransactionState = errors.New("invalid transaction state")
	ErrExecution        = errors.New("execution failed")
	ErrPoolTimeout      = errors.New("timed out waiting for a connection")
	ErrPoolClosed       = errors.New("pool closed")
	ErrInvalidArgument  = errors.New("invalid argument")
)

var codes = []struct {
	err  error
	code Code
}{
	{ErrHandleNotFound, CodeHandleNotFound},
	{ErrConnectFailed, CodeConnectFailed},
	{ErrTransactionState, CodeTransactionState},
	{ErrPoolTimeout, CodePoolTimeout},
	{ErrPoolClosed, CodePoolClosed},
	{ErrInvalidArgument, CodeInvalidArgument},
	{ErrExecution, CodeExecution},
}

// CodeOf classifies err. Sentinels are checked before context errors so that a
// pool timeout wrapping context.DeadlineExceeded keeps its own code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCanceled
	}

	return CodeInternal
}

func SessionNotFound(id string) error {
	return fmt.Errorf("session %q: %w", id, ErrHandleNotFound)
}

func StatementNotFound(id string) error {
	return fmt.Errorf("prepared statement %q: %w", id, ErrHandleNotFound)
}

func NoActiveTransaction() error {
	return fmt.Errorf("no active transaction: %w", ErrTransactionState)
}

func TransactionAlreadyOpen() error {
	return fmt.Errorf("transaction already open: %w", ErrTransactionState)
}

// Execution marks err as a database-side failure. The original error stays
// reachable through errors.As.
func Execution(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrExecution) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrExecution, err)
}

func ConnectFailed(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrConnectFailed, err)
}

func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
