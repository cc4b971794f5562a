package backend

type ChatRequest struct {
	Task   string `json:"task"`
	Stream bool   `json:"stream,omitempty"`
}

type ChatResponse struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	Data      ChatData `json:"data"`
	Timestamp string   `json:"timestamp"`
}

type ChatData struct {
	Task   string `json:"task"`
	Result string `json:"result"`
	Steps  int    `json:"steps"`
}

// AgentNode describes one agent as the orchestrator reports it. Team
// supervisors list the teams they coordinate in Members.
type AgentNode struct {
	Name        string               `json:"name"`
	Role        string               `json:"role,omitempty"`
	Description string               `json:"description,omitempty"`
	Layer       int                  `json:"layer"`
	Tools       []string             `json:"tools,omitempty"`
	Members     map[string]AgentNode `json:"members,omitempty"`
}

type AgentLayer struct {
	Name  string               `json:"name"`
	Nodes map[string]AgentNode `json:"nodes"`
}

// AgentDirectory is keyed by layer ("layer_1", "layer_2", ...).
type AgentDirectory map[string]AgentLayer

type Health struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}
