package session

// State is the controller's position in the analysis workflow.
type State int

const (
	Idle State = iota
	FileSelected
	Uploading
	UploadFailed
	SessionReady
	Querying
	QueryFailed
	QueryReady
)

var stateNames = [...]string{
	Idle:         "Idle",
	FileSelected: "FileSelected",
	Uploading:    "Uploading",
	UploadFailed: "UploadFailed",
	SessionReady: "SessionReady",
	Querying:     "Querying",
	QueryFailed:  "QueryFailed",
	QueryReady:   "QueryReady",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// CanQuery reports whether a query may be submitted from this state.
func (s State) CanQuery() bool {
	return s == SessionReady || s == QueryReady || s == QueryFailed
}

// Failed reports whether the last attempt ended in a hard failure.
func (s State) Failed() bool {
	return s == UploadFailed || s == QueryFailed
}

// MarshalText lets State render by name in JSON and YAML output.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
