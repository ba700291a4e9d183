package core

// FunctionCall describes a tool/function invocation request.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`        // Optional stable id (can be supplied later)
	Name      string `json:"name"`                // Tool / function name
	Arguments string `json:"arguments,omitempty"` // Serialized argument payload (e.g. JSON)
}

// FunctionResponse describes the outcome of a function call.
type FunctionResponse struct {
	ID       string `json:"id,omitempty"`    // Matches originating FunctionCall ID
	Name     string `json:"name"`            // Function name
	Response Value  `json:"response"`        // Successful result (any JSON-like shape)
	Error    string `json:"error,omitempty"` // Populated on failure
}

// Part is one segment of role-based content. Exactly one of Text,
// FunctionCall or FunctionResponse is expected to be set; the struct form
// keeps parts serializable by every backend without type registries.
type Part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

// TextPart builds a plain text part.
func TextPart(text string) Part { return Part{Text: text} }

// FunctionCallPart wraps a FunctionCall.
func FunctionCallPart(fc FunctionCall) Part { return Part{FunctionCall: &fc} }

// FunctionResponsePart wraps a FunctionResponse.
func FunctionResponsePart(fr FunctionResponse) Part { return Part{FunctionResponse: &fr} }

// Content holds role + ordered parts. It is the conversational payload of
// an event and is opaque to the session store.
type Content struct {
	Role  string `json:"role,omitempty"` // Conversation role (user, assistant, tool, system,...)
	Parts []Part `json:"parts"`          // Ordered parts
}

// Text concatenates all text parts.
func (c Content) Text() string {
	var out string
	for _, p := range c.Parts {
		out += p.Text
	}
	return out
}

// Clone returns a deep copy.
func (c Content) Clone() Content {
	parts := make([]Part, len(c.Parts))
	for i, p := range c.Parts {
		cp := Part{Text: p.Text}
		if p.FunctionCall != nil {
			fc := *p.FunctionCall
			cp.FunctionCall = &fc
		}
		if p.FunctionResponse != nil {
			fr := *p.FunctionResponse
			fr.Response = p.FunctionResponse.Response.Clone()
			cp.FunctionResponse = &fr
		}
		parts[i] = cp
	}
	return Content{Role: c.Role, Parts: parts}
}
