package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/KaramelBytes/agentviz-cli/internal/backend"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	errEmptyResponse  = errors.New("empty response")
	errMissingSession = errors.New("missing session_id")
)

// run is one ProcessData or SubmitQuery invocation.
type run struct {
	id     string
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
}

// ProcessData uploads the selected file, fetches the dataset-level charts and,
// when query text was set beforehand, runs the query pipeline on the new
// session. Chart failures after upload are absorbed: the charts are marked
// unavailable and no error is surfaced.
func (c *Controller) ProcessData(ctx context.Context) error {
	c.mu.Lock()
	if c.busy {
		return c.rejectBusyLocked()
	}
	if c.file == nil || c.file.IsEmpty() {
		c.errMsg = msgNoFile
		v := c.viewLocked()
		c.mu.Unlock()
		c.notify(v)
		return &ValidationError{Reason: "no file"}
	}
	r := c.beginLocked(ctx, "process")
	file := *c.file
	query := strings.TrimSpace(c.query)
	c.cur = nil
	c.state = Uploading
	v := c.viewLocked()
	c.mu.Unlock()
	c.notify(v)
	defer c.finish(r)

	sessionID, err := c.stageUpload(r, file)
	if err != nil {
		return err
	}
	if err := c.stageUploadCharts(r, sessionID); err != nil {
		return err
	}
	if query == "" {
		return nil
	}
	return c.runQuery(r, sessionID, query)
}

// SubmitQuery runs query → code conversion → validation → charts against the
// live session. Only a failed query halts the pipeline; later stages degrade
// their own output and surface a message but keep what came before.
func (c *Controller) SubmitQuery(ctx context.Context, query string) error {
	q := strings.TrimSpace(query)
	c.mu.Lock()
	if c.busy {
		return c.rejectBusyLocked()
	}
	if c.cur == nil || !c.state.CanQuery() {
		c.errMsg = msgNoSession
		v := c.viewLocked()
		c.mu.Unlock()
		c.notify(v)
		return ErrNoSession
	}
	if q == "" {
		c.errMsg = msgNoQuery
		v := c.viewLocked()
		c.mu.Unlock()
		c.notify(v)
		return &ValidationError{Reason: "empty query"}
	}
	c.query = query
	r := c.beginLocked(ctx, "query")
	sessionID := c.cur.session.ID
	c.mu.Unlock()
	defer c.finish(r)

	return c.runQuery(r, sessionID, q)
}

func (c *Controller) runQuery(r *run, sessionID, query string) error {
	if err := c.commit(r, func() { c.state = Querying }); err != nil {
		return err
	}
	result, err := c.stageQuery(r, sessionID, query)
	if err != nil {
		return err
	}
	if err := c.stageConvertCode(r, sessionID, query); err != nil {
		return err
	}
	if err := c.stageValidate(r, sessionID, query); err != nil {
		return err
	}
	if err := c.stageQueryCharts(r, sessionID, query, result); err != nil {
		return err
	}
	return c.commit(r, func() { c.state = QueryReady })
}

func (c *Controller) stageUpload(r *run, file SourceFile) (string, error) {
	ctx, done := c.stageContext(r, StageUpload)
	resp, err := c.api.Upload(ctx, file.Name, file.Content)
	if err == nil && (resp == nil || resp.SessionID == "") {
		err = &backend.MalformedResponseError{Route: backend.RouteUpload, Err: errMissingSession}
	}
	done(err)
	if err != nil {
		msg := userMessage(err, msgUploadFailed)
		if cerr := c.commit(r, func() {
			c.state = UploadFailed
			c.errMsg = msg
		}); cerr != nil {
			return "", cerr
		}
		return "", &StageError{Stage: StageUpload, Message: msg, Err: err}
	}
	if err := c.commit(r, func() { c.cur = newLive(resp) }); err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

func (c *Controller) stageUploadCharts(r *run, sessionID string) error {
	ctx, done := c.stageContext(r, StageUploadCharts)
	resp, err := c.api.Visualize(ctx, backend.VisualizeRequest{SessionID: sessionID})
	done(err)
	charts := chartsFrom("", resp)
	if err != nil {
		charts = unavailableCharts("", err.Error())
	}
	return c.commit(r, func() {
		c.cur.charts = charts
		c.state = SessionReady
	})
}

func (c *Controller) stageQuery(r *run, sessionID, query string) (backend.ResultPayload, error) {
	ctx, done := c.stageContext(r, StageQuery)
	resp, err := c.api.Query(ctx, backend.QueryRequest{SessionID: sessionID, Query: query})
	if err == nil && resp == nil {
		err = &backend.MalformedResponseError{Route: backend.RouteQuery, Err: errEmptyResponse}
	}
	done(err)
	if err != nil {
		msg := userMessage(err, msgQueryFailed)
		if cerr := c.commit(r, func() {
			c.state = QueryFailed
			c.errMsg = msg
		}); cerr != nil {
			return nil, cerr
		}
		return nil, &StageError{Stage: StageQuery, Message: msg, Err: err}
	}
	rec := &Analysis{
		Query: query,
		Result: QueryResult{
			Payload:       resp.Result.Clone(),
			Justification: resp.Justification,
			ExecutedCode:  resp.ExecutedCode,
		},
	}
	if err := c.commit(r, func() { c.cur.analysis = rec }); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func (c *Controller) stageConvertCode(r *run, sessionID, query string) error {
	ctx, done := c.stageContext(r, StageConvertCode)
	resp, err := c.api.ConvertCode(ctx, backend.QueryRequest{SessionID: sessionID, Query: query})
	if err == nil && resp == nil {
		err = &backend.MalformedResponseError{Route: backend.RouteConvertCode, Err: errEmptyResponse}
	}
	done(err)
	return c.commit(r, func() {
		if err != nil {
			msg := stageMessage(err, msgConvertFailed)
			c.cur.analysis.CodeErr = msg
			c.errMsg = msg
			return
		}
		c.cur.analysis.Code = &GeneratedCode{Python: resp.PythonCode, SQL: resp.SQLCode}
	})
}

func (c *Controller) stageValidate(r *run, sessionID, query string) error {
	ctx, done := c.stageContext(r, StageValidate)
	resp, err := c.api.Validate(ctx, backend.QueryRequest{SessionID: sessionID, Query: query})
	if err == nil && resp == nil {
		err = &backend.MalformedResponseError{Route: backend.RouteValidate, Err: errEmptyResponse}
	}
	done(err)
	return c.commit(r, func() {
		if err != nil {
			msg := stageMessage(err, msgValidateFailed)
			c.cur.analysis.VerdictErr = msg
			c.errMsg = msg
			return
		}
		c.cur.analysis.Verdict = &ValidationVerdict{Message: resp.ValidationMessage, Justification: resp.Justification}
	})
}

func (c *Controller) stageQueryCharts(r *run, sessionID, query string, result backend.ResultPayload) error {
	ctx, done := c.stageContext(r, StageQueryCharts)
	resp, err := c.api.Visualize(ctx, backend.VisualizeRequest{SessionID: sessionID, Query: query, Result: result})
	done(err)
	return c.commit(r, func() {
		if err != nil {
			c.cur.charts = unavailableCharts(query, err.Error())
			c.errMsg = msgChartsFailed
			return
		}
		c.cur.charts = chartsFrom(query, resp)
	})
}

// beginLocked starts a run: it advances the generation, marks the controller
// busy and clears the previous error. c.mu must be held.
func (c *Controller) beginLocked(parent context.Context, op string) *run {
	c.gen++
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	c.busy = true
	c.errMsg = ""
	id := uuid.NewString()
	return &run{
		id:     id,
		gen:    c.gen,
		ctx:    ctx,
		cancel: cancel,
		log:    c.logger.With(zap.String("run_id", id), zap.String("op", op), zap.Uint64("generation", c.gen)),
	}
}

// rejectBusyLocked reports ErrBusy through the error message. The message is
// cleared when the running pipeline finishes. c.mu must be held; it is
// released.
func (c *Controller) rejectBusyLocked() error {
	c.errMsg = msgBusy
	v := c.viewLocked()
	c.mu.Unlock()
	c.notify(v)
	return ErrBusy
}

// finish releases the busy flag unless the run was already overtaken.
func (c *Controller) finish(r *run) {
	r.cancel()
	c.mu.Lock()
	if r.gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.busy = false
	if c.errMsg == msgBusy {
		c.errMsg = ""
	}
	c.cancel = nil
	v := c.viewLocked()
	c.mu.Unlock()
	c.notify(v)
}

// commit applies fn if r is still the current run. Otherwise the result is
// dropped and ErrSuperseded returned.
func (c *Controller) commit(r *run, fn func()) error {
	c.mu.Lock()
	if r.gen != c.gen {
		current := c.gen
		c.mu.Unlock()
		r.log.Debug("discarding stale result", zap.Uint64("current_generation", current))
		return ErrSuperseded
	}
	fn()
	v := c.viewLocked()
	c.mu.Unlock()
	c.notify(v)
	return nil
}

// stageContext derives the per-stage context and returns a completion hook
// that logs the outcome.
func (c *Controller) stageContext(r *run, stage Stage) (context.Context, func(error)) {
	ctx, cancel := context.WithTimeout(r.ctx, c.stageTimeout)
	start := time.Now()
	r.log.Debug("stage start", zap.String("stage", string(stage)))
	return ctx, func(err error) {
		cancel()
		fields := []zap.Field{zap.String("stage", string(stage)), zap.Duration("elapsed", time.Since(start))}
		if err != nil {
			r.log.Info("stage failed", append(fields, zap.Error(err))...)
			return
		}
		r.log.Debug("stage done", fields...)
	}
}

func userMessage(err error, fallback string) string {
	if msg, ok := backend.UserMessage(err); ok {
		return msg
	}
	return fallback
}

// stageMessage prefixes the backend's message with the stage label, for stages
// whose failure leaves the rest of the run standing.
func stageMessage(err error, label string) string {
	if msg, ok := backend.UserMessage(err); ok {
		return label + ": " + msg
	}
	return label
}
