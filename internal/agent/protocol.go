package agent

// Frame is one JSON message on the agent WebSocket. Requests carry a type of
// check, dispatch, await or retrieve and a correlation id; replies use
// "<type>.ok" or "error" with the same id. Progress frames are unsolicited.
type Frame struct {
	Type     string           `json:"type"`
	ID       string           `json:"id,omitempty"`
	Ticket   string           `json:"ticket,omitempty"`
	Message  string           `json:"message,omitempty"`
	Error    string           `json:"error,omitempty"`
	Agent    string           `json:"agent,omitempty"`
	Dispatch *DispatchRequest `json:"dispatch,omitempty"`
	Result   *Result          `json:"result,omitempty"`
}

const (
	frameCheck    = "check"
	frameDispatch = "dispatch"
	frameAwait    = "await"
	frameRetrieve = "retrieve"
	frameProgress = "progress"
	frameError    = "error"
	okSuffix      = ".ok"
)
