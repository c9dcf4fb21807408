package config

// TrustLevel determines how much an agent's requests are gated by the policy
// engine and task router before execution (§3, §4.1, §4.8).
type TrustLevel string

const (
	// TrustLevelSupervised requires human approval for every gated action.
	TrustLevelSupervised TrustLevel = "supervised"
	// TrustLevelSemiAutonomous auto-approves low-risk actions, still gates high-risk ones.
	TrustLevelSemiAutonomous TrustLevel = "semi_autonomous"
	// TrustLevelMonitoredAutonomous runs without approval gates but under full audit logging.
	TrustLevelMonitoredAutonomous TrustLevel = "monitored_autonomous"
)

// IsValid checks if the trust level is one of the three recognized levels.
func (t TrustLevel) IsValid() bool {
	switch t {
	case TrustLevelSupervised, TrustLevelSemiAutonomous, TrustLevelMonitoredAutonomous:
		return true
	default:
		return false
	}
}

// WorkerRuntime selects how the supervisor isolates an agent process (§4.6).
type WorkerRuntime string

const (
	// WorkerRuntimeLocal runs the agent as a child OS process with pipe IPC.
	WorkerRuntimeLocal WorkerRuntime = "local"
	// WorkerRuntimeContainer runs the agent inside a container via an external runtime binary.
	WorkerRuntimeContainer WorkerRuntime = "container"
)

// IsValid checks if the worker runtime is valid (empty string defaults to local).
func (r WorkerRuntime) IsValid() bool {
	switch r {
	case "", WorkerRuntimeLocal, WorkerRuntimeContainer:
		return true
	default:
		return false
	}
}

// TransportType defines MCP server transport types
type TransportType string

const (
	// TransportTypeStdio uses subprocess communication via stdin/stdout
	TransportTypeStdio TransportType = "stdio"
	// TransportTypeHTTP uses HTTP/HTTPS JSON-RPC
	TransportTypeHTTP TransportType = "http"
	// TransportTypeSSE uses Server-Sent Events
	TransportTypeSSE TransportType = "sse"
)

// IsValid checks if the transport type is valid
func (t TransportType) IsValid() bool {
	return t == TransportTypeStdio || t == TransportTypeHTTP || t == TransportTypeSSE
}

// LLMProviderType defines supported LLM providers
type LLMProviderType string

const (
	// LLMProviderTypeGoogle is Google Gemini API
	LLMProviderTypeGoogle LLMProviderType = "google"
	// LLMProviderTypeOpenAI is OpenAI API
	LLMProviderTypeOpenAI LLMProviderType = "openai"
	// LLMProviderTypeAnthropic is Anthropic Claude API
	LLMProviderTypeAnthropic LLMProviderType = "anthropic"
	// LLMProviderTypeXAI is xAI Grok API
	LLMProviderTypeXAI LLMProviderType = "xai"
	// LLMProviderTypeVertexAI is Google Vertex AI
	LLMProviderTypeVertexAI LLMProviderType = "vertexai"
)

// IsValid checks if the LLM provider type is valid
func (t LLMProviderType) IsValid() bool {
	switch t {
	case LLMProviderTypeGoogle,
		LLMProviderTypeOpenAI,
		LLMProviderTypeAnthropic,
		LLMProviderTypeXAI,
		LLMProviderTypeVertexAI:
		return true
	default:
		return false
	}
}

// CircuitState is the observable state of a reliability circuit breaker (§4.4).
type CircuitState string

const (
	CircuitStateClosed   CircuitState = "closed"
	CircuitStateOpen     CircuitState = "open"
	CircuitStateHalfOpen CircuitState = "half_open"
)

// DegradationLevel is the gateway-wide service level reported by the degradation manager (§4.11).
type DegradationLevel string

const (
	DegradationLevelNormal    DegradationLevel = "normal"
	DegradationLevelDegraded  DegradationLevel = "degraded"
	DegradationLevelEmergency DegradationLevel = "emergency"
)

// IsValid reports whether the level is one of the three recognized levels.
func (l DegradationLevel) IsValid() bool {
	switch l {
	case DegradationLevelNormal, DegradationLevelDegraded, DegradationLevelEmergency:
		return true
	default:
		return false
	}
}
