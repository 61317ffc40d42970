package session

import (
	"encoding/json"

	"github.com/KaramelBytes/agentviz-cli/internal/backend"
)

// Session identifies one uploaded dataset on the backend.
type Session struct {
	ID string `json:"session_id" yaml:"session_id"`
}

// DatasetSnapshot is what the backend reports about an uploaded file.
type DatasetSnapshot struct {
	Overview   string           `json:"overview" yaml:"overview"`
	SampleRows []map[string]any `json:"sample_rows" yaml:"sample_rows"`
	Columns    []string         `json:"columns" yaml:"columns"`
}

// QueryResult is the backend's answer to one query.
type QueryResult struct {
	Payload       backend.ResultPayload `json:"result" yaml:"-"`
	Justification string                `json:"justification" yaml:"justification"`
	ExecutedCode  string                `json:"executed_code,omitempty" yaml:"executed_code,omitempty"`
}

// GeneratedCode holds Python and SQL renditions of a query.
type GeneratedCode struct {
	Python string `json:"python_code" yaml:"python_code"`
	SQL    string `json:"sql_code" yaml:"sql_code"`
}

// ValidationVerdict is the backend's check of a query's answer.
type ValidationVerdict struct {
	Message       string `json:"validation_message" yaml:"validation_message"`
	Justification string `json:"justification" yaml:"justification"`
}

// Analysis groups everything derived from one submitted query. Code and
// Verdict are nil when their stage failed; the matching *Err field then holds
// the surfaced message. Keeping them in one record means a result can never be
// shown next to code or a verdict computed for a different query.
type Analysis struct {
	Query      string             `json:"query" yaml:"query"`
	Result     QueryResult        `json:"result" yaml:"result"`
	Code       *GeneratedCode     `json:"code,omitempty" yaml:"code,omitempty"`
	CodeErr    string             `json:"code_error,omitempty" yaml:"code_error,omitempty"`
	Verdict    *ValidationVerdict `json:"validation,omitempty" yaml:"validation,omitempty"`
	VerdictErr string             `json:"validation_error,omitempty" yaml:"validation_error,omitempty"`
}

// ChartStatus distinguishes "no charts requested yet", "charts delivered
// (possibly zero)" and "the visualize call failed".
type ChartStatus int

const (
	ChartsNotRequested ChartStatus = iota
	ChartsAvailable
	ChartsUnavailable
)

func (s ChartStatus) String() string {
	switch s {
	case ChartsAvailable:
		return "available"
	case ChartsUnavailable:
		return "unavailable"
	default:
		return "not_requested"
	}
}

// MarshalText renders the status by name.
func (s ChartStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Chart is one visualization: either a Plotly spec or a base64 raster image.
type Chart struct {
	Kind        string          `json:"kind" yaml:"kind"`
	Type        string          `json:"type,omitempty" yaml:"type,omitempty"`
	Spec        json.RawMessage `json:"spec,omitempty" yaml:"-"`
	ImageBase64 string          `json:"image_base64,omitempty" yaml:"-"`
}

// Charts is the most recently requested visualization set. Query is empty for
// the dataset-level set produced right after upload.
type Charts struct {
	Status ChartStatus `json:"status" yaml:"status"`
	Query  string      `json:"query,omitempty" yaml:"query,omitempty"`
	Items  []Chart     `json:"items" yaml:"items"`
	Err    string      `json:"error,omitempty" yaml:"error,omitempty"`
}

// View is a read-only copy of everything a front end renders.
type View struct {
	State      State            `json:"state" yaml:"state"`
	Busy       bool             `json:"busy" yaml:"busy"`
	Error      string           `json:"error,omitempty" yaml:"error,omitempty"`
	Generation uint64           `json:"generation" yaml:"generation"`
	File       string           `json:"file,omitempty" yaml:"file,omitempty"`
	Query      string           `json:"query_text,omitempty" yaml:"query_text,omitempty"`
	Session    *Session         `json:"session,omitempty" yaml:"session,omitempty"`
	Dataset    *DatasetSnapshot `json:"dataset,omitempty" yaml:"dataset,omitempty"`
	Analysis   *Analysis        `json:"analysis,omitempty" yaml:"analysis,omitempty"`
	Charts     Charts           `json:"charts" yaml:"charts"`
}

// live is the state that exists only while a backend session does. The
// controller holds it behind a single pointer so no derived entity can
// outlive the session it belongs to.
type live struct {
	session  Session
	dataset  DatasetSnapshot
	charts   Charts
	analysis *Analysis
}

func newLive(resp *backend.UploadResponse) *live {
	return &live{
		session: Session{ID: resp.SessionID},
		dataset: DatasetSnapshot{
			Overview:   resp.FileOverview,
			SampleRows: cloneRows(resp.DataframeHead),
			Columns:    append([]string(nil), resp.Columns...),
		},
	}
}

func chartsFrom(query string, resp *backend.VisualizeResponse) Charts {
	out := Charts{Status: ChartsAvailable, Query: query, Items: []Chart{}}
	if resp == nil {
		return out
	}
	for _, v := range resp.Visualizations {
		c := Chart{Kind: v.Kind(), Type: v.Type}
		if c.Kind == backend.KindPlotly {
			c.Spec = append(json.RawMessage(nil), v.Spec...)
		} else {
			c.ImageBase64 = v.ImageBase64
		}
		out.Items = append(out.Items, c)
	}
	return out
}

func unavailableCharts(query, msg string) Charts {
	return Charts{Status: ChartsUnavailable, Query: query, Items: []Chart{}, Err: msg}
}

func (c Charts) clone() Charts {
	out := c
	if c.Items != nil {
		out.Items = make([]Chart, len(c.Items))
		for i, it := range c.Items {
			it.Spec = append(json.RawMessage(nil), it.Spec...)
			out.Items[i] = it
		}
	}
	return out
}

func (a *Analysis) clone() *Analysis {
	if a == nil {
		return nil
	}
	out := *a
	out.Result.Payload = a.Result.Payload.Clone()
	if a.Code != nil {
		code := *a.Code
		out.Code = &code
	}
	if a.Verdict != nil {
		v := *a.Verdict
		out.Verdict = &v
	}
	return &out
}

func cloneRows(rows []map[string]any) []map[string]any {
	if rows == nil {
		return nil
	}
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		m := make(map[string]any, len(r))
		for k, v := range r {
			m[k] = v
		}
		out[i] = m
	}
	return out
}
