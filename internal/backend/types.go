package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// UploadResponse is the body returned by POST /upload.
type UploadResponse struct {
	SessionID     string           `json:"session_id"`
	FileOverview  string           `json:"file_overview"`
	DataframeHead []map[string]any `json:"dataframe_head"`
	Columns       []string         `json:"columns"`
}

// QueryRequest is the body shared by /query, /convert_code and /validate.
type QueryRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

// QueryResponse is the body returned by POST /query.
type QueryResponse struct {
	Result        ResultPayload `json:"result"`
	Justification string        `json:"justification"`
	ExecutedCode  string        `json:"executed_code,omitempty"`
}

// CodeResponse is the body returned by POST /convert_code.
type CodeResponse struct {
	PythonCode string `json:"python_code"`
	SQLCode    string `json:"sql_code"`
}

// ValidationResponse is the body returned by POST /validate.
type ValidationResponse struct {
	ValidationMessage string `json:"validation_message"`
	Justification     string `json:"justification"`
}

// VisualizeRequest is the body for POST /visualize. Result is sent as JSON null
// when empty, which is what the upload-time call uses.
type VisualizeRequest struct {
	SessionID string        `json:"session_id"`
	Query     string        `json:"query"`
	Result    ResultPayload `json:"result"`
}

// VisualizeResponse is the body returned by POST /visualize.
type VisualizeResponse struct {
	Visualizations []Visualization `json:"visualizations"`
}

// Visualization kinds.
const (
	KindPlotly = "plotly"
	KindRaster = "raster"
)

// Visualization is one chart. Plotly charts carry a spec; everything else is a
// base64-encoded raster image.
type Visualization struct {
	Type        string          `json:"type"`
	Spec        json.RawMessage `json:"spec,omitempty"`
	ImageBase64 string          `json:"image_base64,omitempty"`
}

// Kind reports whether the chart is rendered from a Plotly spec or an image.
func (v Visualization) Kind() string {
	if v.Type == KindPlotly && len(v.Spec) > 0 && !bytes.Equal(bytes.TrimSpace(v.Spec), []byte("null")) {
		return KindPlotly
	}
	return KindRaster
}

// ResultPayload holds a query result exactly as the backend sent it: either a
// JSON string or a sequence of records.
type ResultPayload json.RawMessage

// TextResult wraps plain text as a payload.
func TextResult(s string) ResultPayload {
	b, _ := json.Marshal(s)
	return ResultPayload(b)
}

// RecordsResult wraps records as a payload.
func RecordsResult(rows []map[string]any) (ResultPayload, error) {
	b, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("marshal records: %w", err)
	}
	return ResultPayload(b), nil
}

// MarshalJSON emits null for an empty payload.
func (p ResultPayload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return []byte(p), nil
}

// UnmarshalJSON keeps a copy of the raw value.
func (p *ResultPayload) UnmarshalJSON(b []byte) error {
	if p == nil {
		return fmt.Errorf("result payload: nil receiver")
	}
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*p = nil
		return nil
	}
	*p = append((*p)[:0], b...)
	return nil
}

// IsEmpty reports whether no result was produced.
func (p ResultPayload) IsEmpty() bool { return len(p) == 0 }

// Text returns the payload as a string when it is a JSON string.
func (p ResultPayload) Text() (string, bool) {
	if len(p) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(p, &s); err != nil {
		return "", false
	}
	return s, true
}

// Records returns the payload as rows when it is a JSON array of objects.
func (p ResultPayload) Records() ([]map[string]any, bool) {
	if len(p) == 0 {
		return nil, false
	}
	var rows []map[string]any
	if err := json.Unmarshal(p, &rows); err != nil {
		return nil, false
	}
	return rows, true
}

// String renders the payload for display. Strings are returned verbatim,
// anything else as compact JSON.
func (p ResultPayload) String() string {
	if s, ok := p.Text(); ok {
		return s
	}
	return string(p)
}

// Clone returns an independent copy.
func (p ResultPayload) Clone() ResultPayload {
	if p == nil {
		return nil
	}
	out := make(ResultPayload, len(p))
	copy(out, p)
	return out
}
