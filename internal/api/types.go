package api

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ActionResponse acknowledges a maintenance action.
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ServerInfo is one entry of /api/servers.
type ServerInfo struct {
	Name string `json:"name"`
	Host string `json:"host"`
}

// SetupStatus is returned by /api/status. A local dashboard is never in its
// first-run state and has no join token.
type SetupStatus struct {
	FirstRun     bool    `json:"firstRun"`
	ServerCount  int     `json:"serverCount"`
	JoinCommand  *string `json:"joinCommand"`
	HasJoinToken bool    `json:"hasJoinToken"`
}

// ControlResult reports a process control attempt on one server.
type ControlResult struct {
	Server  string `json:"server"`
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ControlAllResponse reports a control action fanned out to every server.
type ControlAllResponse struct {
	Action  string          `json:"action"`
	Results []ControlResult `json:"results"`
}
