package config

// TransportType defines the transport mechanism used to reach a tool server
type TransportType string

const (
	// TransportTypeStdio launches the server as a child process and speaks
	// over stdin/stdout
	TransportTypeStdio TransportType = "stdio"

	// TransportTypeHTTP uses streamable HTTP
	TransportTypeHTTP TransportType = "http"

	// TransportTypeSSE uses server-sent events (legacy servers)
	TransportTypeSSE TransportType = "sse"
)

// IsValid checks if the transport type is supported
func (t TransportType) IsValid() bool {
	return t == TransportTypeStdio || t == TransportTypeHTTP || t == TransportTypeSSE
}

// UIPriority is the closed set of priorities a UI request may declare.
// Requests at UIPriorityUrgent are additionally pushed through the Slack
// notifier so someone outside the dashboard notices them.
type UIPriority string

const (
	UIPriorityLow    UIPriority = "low"
	UIPriorityMedium UIPriority = "medium"
	UIPriorityHigh   UIPriority = "high"
	UIPriorityUrgent UIPriority = "urgent"
)

// IsValid checks if the priority is one of the declared levels
func (p UIPriority) IsValid() bool {
	switch p {
	case UIPriorityLow, UIPriorityMedium, UIPriorityHigh, UIPriorityUrgent:
		return true
	}
	return false
}

// UITemplateKind is the closed enumeration of UI request shapes an agent
// may emit. The semantic payload carries the agent's intent (field list,
// choices, prompt); the kind tells the front-end renderer which template
// family to use without any presentation encoding leaking into events.
type UITemplateKind string

const (
	UITemplateKindForm         UITemplateKind = "form"
	UITemplateKindConfirmation UITemplateKind = "confirmation"
	UITemplateKindSelection    UITemplateKind = "selection"
	UITemplateKindUpload       UITemplateKind = "upload"
	UITemplateKindProgress     UITemplateKind = "progress"
	UITemplateKindError        UITemplateKind = "error"
	UITemplateKindSuccess      UITemplateKind = "success"
	UITemplateKindWaiting      UITemplateKind = "waiting"
)

// IsValid checks if the template kind is part of the closed enumeration
func (k UITemplateKind) IsValid() bool {
	switch k {
	case UITemplateKindForm, UITemplateKindConfirmation, UITemplateKindSelection,
		UITemplateKindUpload, UITemplateKindProgress, UITemplateKindError,
		UITemplateKindSuccess, UITemplateKindWaiting:
		return true
	}
	return false
}
