package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/agnosticeng/agnostic-sql-proxy/internal/dialect"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/engine"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/errs"
	"github.com/agnosticeng/agnostic-sql-proxy/internal/session"
	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/sync/errgroup"
)

func decode[T any](r *http.Request) (T, error) {
	var req T

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, errs.InvalidArgument("malformed request body: %v", err)
	}

	return req, nil
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) error {
	req, err := decode[ConnectRequest](r)

	if err != nil {
		return err
	}

	sess, err := s.engine.Connect(r.Context(), session.ConnectParams{
		Driver:   req.Driver,
		PoolSize: req.PoolSize,
		Params: dialect.Params{
			Host:       req.Host,
			Port:       req.Port,
			Database:   req.Database,
			Username:   req.Username,
			Password:   req.Password,
			Properties: req.Properties,
		},
	})

	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, ConnectResponse{
		SessionID:     sess.ID(),
		ServerVersion: sess.ServerVersion(),
	})
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) error {
	req, err := decode[SessionRequest](r)

	if err != nil {
		return err
	}

	if err := s.engine.Disconnect(r.Context(), req.SessionID); err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) ping(w http.ResponseWriter, r *http.Request) error {
	req, err := decode[SessionRequest](r)

	if err != nil {
		return err
	}

	latency, err := s.engine.Ping(r.Context(), req.SessionID)

	if err != nil {
		var resp = errorResponse(err)

		return writeJSON(w, statusOf(resp.Code), PingResponse{
			Alive:         false,
			LatencyMs:     -1,
			ErrorResponse: resp,
		})
	}

	return writeJSON(w, http.StatusOK, PingResponse{Alive: true, LatencyMs: latency.Milliseconds()})
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) error {
	req, err := decode[engine.QueryRequest](r)

	if err != nil {
		return err
	}

	return stream(w, r, func(ctx context.Context, outchan chan<- *engine.Batch) error {
		return s.engine.Query(ctx, req, outchan)
	})
}

func (s *Server) executePrepared(w http.ResponseWriter, r *http.Request) error {
	req, err := decode[engine.ExecutePreparedRequest](r)

	if err != nil {
		return err
	}

	return stream(w, r, func(ctx context.Context, outchan chan<- *engine.Batch) error {
		return s.engine.ExecutePrepared(ctx, req, outchan)
	})
}

// stream writes one NDJSON line per batch. A failure before the first batch
// is returned as a regular error response; a later one becomes a terminal
// error line since the status is already sent.
func stream(
	w http.ResponseWriter,
	r *http.Request,
	run func(context.Context, chan<- *engine.Batch) error,
) error {
	var (
		logger          = slogctx.FromCtx(r.Context())
		group, groupCtx = errgroup.WithContext(r.Context())
		outchan         = make(chan *engine.Batch)
		rc              = http.NewResponseController(w)
		enc             = json.NewEncoder(w)
		started         bool
	)

	group.Go(func() error {
		return run(groupCtx, outchan)
	})

	group.Go(func() error {
		for batch := range outchan {
			if !started {
				w.Header().Set("Content-Type", "application/x-ndjson")
				w.WriteHeader(http.StatusOK)
				started = true
			}

			if err := enc.Encode(batch); err != nil {
				return err
			}

			if err := rc.Flush(); err != nil {
				return err
			}
		}

		return nil
	})

	var err = group.Wait()

	if err == nil {
		return nil
	}

	if !started {
		return err
	}

	if err := enc.Encode(errorResponse(err)); err != nil {
		logger.Debug("failed to write terminal error line", "error", err.Error())
	}

	return nil
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) error {
	req, err := decode[engine.UpdateRequest](r)

	if err != nil {
		return err
	}

	n, err := s.engine.Update(r.Context(), req)

	if err != nil {
		var resp = errorResponse(err)

		return writeJSON(w, statusOf(resp.Code), UpdateResponse{
			RowsAffected:  -1,
			ErrorResponse: resp,
		})
	}

	return writeJSON(w, http.StatusOK, UpdateResponse{RowsAffected: n})
}

func (s *Server) batch(w http.ResponseWriter, r *http.Request) error {
	req, err := decode[engine.BatchRequest](r)

	if err != nil {
		return err
	}

	counts, err := s.engine.Batch(r.Context(), req)

	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, BatchResponse{Counts: counts})
}

func (s *Server) prepare(w http.ResponseWriter, r *http.Request) error {
	req, err := decode[PrepareRequest](r)

	if err != nil {
		return err
	}

	st, err := s.engine.Prepare(r.Context(), req.SessionID, req.SQL)

	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, PrepareResponse{
		StatementID:    st.ID(),
		ParameterCount: st.ParameterCount(),
	})
}

func (s *Server) closePrepared(w http.ResponseWriter, r *http.Request) error {
	req, err := decode[ClosePreparedRequest](r)

	if err != nil {
		return err
	}

	if err := s.engine.ClosePrepared(r.Context(), req.StatementID); err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) begin(w http.ResponseWriter, r *http.Request) error {
	req, err := decode[BeginRequest](r)

	if err != nil {
		return err
	}

	if err := s.engine.Begin(r.Context(), req.SessionID, req.IsolationLevel); err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) commit(w http.ResponseWriter, r *http.Request) error {
	return s.finishTransaction(w, r, s.engine.Commit)
}

func (s *Server) rollback(w http.ResponseWriter, r *http.Request) error {
	return s.finishTransaction(w, r, s.engine.Rollback)
}

func (s *Server) finishTransaction(
	w http.ResponseWriter,
	r *http.Request,
	fn func(context.Context, string) error,
) error {
	req, err := decode[SessionRequest](r)

	if err != nil {
		return err
	}

	if err := fn(r.Context(), req.SessionID); err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) metadata(w http.ResponseWriter, r *http.Request) error {
	req, err := decode[engine.MetadataRequest](r)

	if err != nil {
		return err
	}

	tables, err := s.engine.Metadata(r.Context(), req)

	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, MetadataResponse{Tables: tables})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, StatsResponse{
		Sessions:   s.engine.Sessions().Len(),
		Statements: s.engine.Statements().Len(),
		Pool:       s.engine.Stats(),
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
