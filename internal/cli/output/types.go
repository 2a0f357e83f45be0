package output

// JSON documents written by --output json.

// DAGOutput is the variable graph.
type DAGOutput struct {
	Levels     []DAGLevel `json:"levels"`
	TotalNodes int        `json:"total_nodes"`
	TotalEdges int        `json:"total_edges"`
}

// DAGLevel groups nodes whose dependencies are all on earlier levels.
type DAGLevel struct {
	Level int       `json:"level"`
	Nodes []DAGNode `json:"nodes"`
}

// DAGNode is one compiled variable.
type DAGNode struct {
	ID         string   `json:"id"`
	Kind       string   `json:"kind"`
	Combinator string   `json:"combinator"`
	Returning  string   `json:"returning,omitempty"`
	Parent     string   `json:"parent,omitempty"`
	Output     bool     `json:"output"`
	DependsOn  []string `json:"depends_on"`
	UsedBy     []string `json:"used_by"`
}

// RunOutput summarises a run or a generate command.
type RunOutput struct {
	RunID      string  `json:"run_id,omitempty"`
	Study      string  `json:"study"`
	Dummy      bool    `json:"dummy"`
	Evaluated  int64   `json:"evaluated"`
	Included   int64   `json:"included"`
	Columns    int     `json:"columns"`
	Output     string  `json:"output"`
	DurationMS float64 `json:"duration_ms"`
}

// GenerateOutput summarises a generate command.
type GenerateOutput struct {
	Study      string  `json:"study"`
	Patients   int     `json:"patients"`
	Seed       uint64  `json:"seed"`
	Target     string  `json:"target"`
	Database   string  `json:"database"`
	DurationMS float64 `json:"duration_ms"`
}

// RunRecord is one entry of the run history.
type RunRecord struct {
	ID          string `json:"id"`
	Study       string `json:"study"`
	Dummy       bool   `json:"dummy"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
	Evaluated   int64  `json:"evaluated"`
	Included    int64  `json:"included"`
	Error       string `json:"error,omitempty"`
}

// CodelistInfo describes one loaded codelist.
type CodelistInfo struct {
	Name       string   `json:"name"`
	Systems    []string `json:"systems"`
	Codes      int      `json:"codes"`
	Categories []string `json:"categories,omitempty"`
}

// SeedInfo reports one loaded seed file.
type SeedInfo struct {
	Table string `json:"table"`
	Path  string `json:"path"`
}

// SeedOutput summarises a seed command.
type SeedOutput struct {
	Seeds []SeedInfo `json:"seeds"`
}
