package chat

// ErrorResponse is the JSON body of every failed relay or API call.
type ErrorResponse struct {
	Error string `json:"error"`
}

// TurnPayload is the JSON body a client posts to start a turn on the relay.
type TurnPayload struct {
	Message   string         `json:"message"`
	SessionID string         `json:"session_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// TurnRequest converts p into a TurnRequest.
func (p TurnPayload) TurnRequest() TurnRequest {
	return TurnRequest{
		SessionID: p.SessionID,
		UserID:    p.UserID,
		AgentID:   p.AgentID,
		Message:   p.Message,
		Context:   p.Context,
	}
}

// TurnResponse is the reply of the relay's non-streaming chat endpoint.
type TurnResponse struct {
	Response  string         `json:"response"`
	SessionID string         `json:"session_id"`
	MessageID string         `json:"message_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
