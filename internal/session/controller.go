// Package session drives one analysis session against the backend: upload,
// dataset charts, query, code conversion, validation and query charts.
//
// A Controller serializes pipeline runs. Operations block until their run
// finishes; a second ProcessData or SubmitQuery while one is in flight is
// rejected with ErrBusy. Every run is stamped with a generation number and
// SelectFile advances it, so results from a run that was overtaken are
// dropped instead of overwriting newer state.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/KaramelBytes/agentviz-cli/internal/backend"
	"go.uber.org/zap"
)

// DefaultStageTimeout bounds a single backend round trip.
const DefaultStageTimeout = 120 * time.Second

// User-facing messages.
const (
	msgNoFile         = "Please upload a file."
	msgNoQuery        = "Please enter a query."
	msgNoSession      = "Process a file before submitting a query."
	msgUploadFailed   = "File upload failed"
	msgQueryFailed    = "Query failed"
	msgConvertFailed  = "Code conversion failed"
	msgValidateFailed = "Validation failed"
	msgChartsFailed   = "Visualization failed"
	msgBusy           = "A request is already in progress."
)

// Backend is the subset of the analysis service the controller drives.
// *backend.Client implements it.
type Backend interface {
	Upload(ctx context.Context, filename string, content []byte) (*backend.UploadResponse, error)
	Visualize(ctx context.Context, req backend.VisualizeRequest) (*backend.VisualizeResponse, error)
	Query(ctx context.Context, req backend.QueryRequest) (*backend.QueryResponse, error)
	ConvertCode(ctx context.Context, req backend.QueryRequest) (*backend.CodeResponse, error)
	Validate(ctx context.Context, req backend.QueryRequest) (*backend.ValidationResponse, error)
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger for stage tracing.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithStageTimeout bounds every backend call; expiry fails that stage.
func WithStageTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.stageTimeout = d
		}
	}
}

// WithObserver registers fn to receive a View after every state change.
// fn runs on the goroutine that made the change, outside the controller lock.
func WithObserver(fn func(View)) Option {
	return func(c *Controller) { c.observer = fn }
}

// Controller owns all client-side state for one analysis session.
type Controller struct {
	api          Backend
	logger       *zap.Logger
	stageTimeout time.Duration
	observer     func(View)

	mu     sync.Mutex
	state  State
	file   *SourceFile
	query  string
	cur    *live
	errMsg string
	busy   bool
	gen    uint64
	cancel context.CancelFunc
}

// New returns an Idle controller that talks to api.
func New(api Backend, opts ...Option) *Controller {
	c := &Controller{
		api:          api,
		logger:       zap.NewNop(),
		stageTimeout: DefaultStageTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SelectFile replaces the pending file and discards the session and every
// derived entity. Any run still in flight is cancelled and its results will
// be ignored. Allowed from every state.
func (c *Controller) SelectFile(f SourceFile) {
	c.mu.Lock()
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.busy = false
	c.file = &SourceFile{Name: f.Name, Content: append([]byte(nil), f.Content...)}
	c.cur = nil
	c.errMsg = ""
	c.state = FileSelected
	v := c.viewLocked()
	c.mu.Unlock()

	c.logger.Debug("file selected", zap.String("file", f.Name), zap.Uint64("generation", v.Generation))
	c.notify(v)
}

// Reset returns the controller to Idle, dropping the file, the query text and
// the session.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.busy = false
	c.file = nil
	c.query = ""
	c.cur = nil
	c.errMsg = ""
	c.state = Idle
	v := c.viewLocked()
	c.mu.Unlock()
	c.notify(v)
}

// SetQuery stores the query text used by the next ProcessData. SubmitQuery
// also stores its text, so the last submitted query runs again when the file
// is re-processed; SetQuery("") stops that.
func (c *Controller) SetQuery(text string) {
	c.mu.Lock()
	c.query = text
	c.mu.Unlock()
}

// State returns the current workflow state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether a pipeline run is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Err returns the current user-facing error message, or "".
func (c *Controller) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

// Generation returns the current generation number.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Snapshot returns a deep copy of the controller's state.
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() View {
	v := View{
		State:      c.state,
		Busy:       c.busy,
		Error:      c.errMsg,
		Generation: c.gen,
		Query:      c.query,
	}
	if c.file != nil {
		v.File = c.file.Name
	}
	if c.cur != nil {
		s := c.cur.session
		v.Session = &s
		ds := DatasetSnapshot{
			Overview:   c.cur.dataset.Overview,
			SampleRows: cloneRows(c.cur.dataset.SampleRows),
			Columns:    append([]string(nil), c.cur.dataset.Columns...),
		}
		v.Dataset = &ds
		v.Analysis = c.cur.analysis.clone()
		v.Charts = c.cur.charts.clone()
	}
	return v
}

func (c *Controller) notify(v View) {
	if c.observer != nil {
		c.observer(v)
	}
}
