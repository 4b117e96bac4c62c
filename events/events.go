// Package events defines the typed stream events a chat request emits:
// thread identification, content fragments, retrieval tool activity, the
// stream-completion summary with its usage snapshot, and errors. Events
// marshal to the JSON payloads carried on the SSE wire and on broker
// subjects.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/dealcoach/gateway/usage"
	"github.com/go-openapi/strfmt"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	threadInfoJSON     = []byte(`{"type":"thread_info"}`)
	contentJSON        = []byte(`{"type":"content"}`)
	functionCallJSON   = []byte(`{"type":"function_call"}`)
	functionResultJSON = []byte(`{"type":"function_result"}`)
	streamCompleteJSON = []byte(`{"type":"stream_complete"}`)
	errorJSON          = []byte(`{"type":"error"}`)
)

// Event is a single occurrence in a chat request's stream.
type Event interface {
	// Kind is the SSE event name for this event.
	Kind() string
	event()
}

// ThreadInfo announces the resolved thread identifier, sent once at the
// start of a stream so clients can carry the identifier into follow-ups.
type ThreadInfo struct {
	ThreadID  string          `json:"thread_id"`
	AgentName string          `json:"agent_name,omitempty"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (ThreadInfo) Kind() string { return "thread_info" }
func (ThreadInfo) event()       {}

// Content carries one streamed fragment of the assistant's reply.
type Content struct {
	ThreadID  string          `json:"thread_id"`
	Content   string          `json:"content"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (Content) Kind() string { return "content" }
func (Content) event()       {}

// FunctionCall reports that the assistant invoked a retrieval tool.
type FunctionCall struct {
	ThreadID  string          `json:"thread_id"`
	Name      string          `json:"function_name"`
	Arguments string          `json:"arguments"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (FunctionCall) Kind() string { return "function_call" }
func (FunctionCall) event()       {}

// FunctionResult reports the outcome of a retrieval tool invocation.
type FunctionResult struct {
	ThreadID  string          `json:"thread_id"`
	Name      string          `json:"function_name"`
	Result    string          `json:"result"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (FunctionResult) Kind() string { return "function_result" }
func (FunctionResult) event()       {}

// StreamComplete terminates a stream and carries the thread's cumulative
// usage snapshot after the request's accounting settled.
type StreamComplete struct {
	ThreadID  string          `json:"thread_id"`
	Usage     usage.Usage     `json:"usage"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (StreamComplete) Kind() string { return "stream_complete" }
func (StreamComplete) event()       {}

// Error reports a failure to the stream consumer. The stream ends after it.
type Error struct {
	ThreadID  string          `json:"thread_id"`
	Err       error           `json:"error"`
	Timestamp strfmt.DateTime `json:"timestamp,omitempty"`
}

func (Error) Kind() string { return "error" }
func (Error) event()       {}

func (e Error) Error() string {
	return fmt.Sprintf("thread_id: %s, error: %v", e.ThreadID, e.Err)
}

// MarshalJSON implements custom JSON marshaling for ThreadInfo.
func (e ThreadInfo) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(threadInfoJSON, "thread_id", e.ThreadID)
	if err != nil {
		return nil, err
	}
	if e.AgentName != "" {
		if result, err = sjson.SetBytes(result, "agent_name", e.AgentName); err != nil {
			return nil, err
		}
	}
	return setTimestamp(result, e.Timestamp)
}

// UnmarshalJSON implements custom JSON unmarshaling for ThreadInfo.
func (e *ThreadInfo) UnmarshalJSON(data []byte) error {
	fields, err := parseEvent(data, "thread_info", "thread_id")
	if err != nil {
		return err
	}
	e.ThreadID = fields.Get("thread_id").String()
	e.AgentName = fields.Get("agent_name").String()
	e.Timestamp, err = parseTimestamp(fields)
	return err
}

// MarshalJSON implements custom JSON marshaling for Content.
func (e Content) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(contentJSON, "thread_id", e.ThreadID)
	if err != nil {
		return nil, err
	}
	if result, err = sjson.SetBytes(result, "content", e.Content); err != nil {
		return nil, err
	}
	return setTimestamp(result, e.Timestamp)
}

// UnmarshalJSON implements custom JSON unmarshaling for Content.
func (e *Content) UnmarshalJSON(data []byte) error {
	fields, err := parseEvent(data, "content", "content")
	if err != nil {
		return err
	}
	e.ThreadID = fields.Get("thread_id").String()
	e.Content = fields.Get("content").String()
	e.Timestamp, err = parseTimestamp(fields)
	return err
}

// MarshalJSON implements custom JSON marshaling for FunctionCall.
func (e FunctionCall) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(functionCallJSON, "thread_id", e.ThreadID)
	if err != nil {
		return nil, err
	}
	if result, err = sjson.SetBytes(result, "function_name", e.Name); err != nil {
		return nil, err
	}
	if result, err = sjson.SetBytes(result, "arguments", e.Arguments); err != nil {
		return nil, err
	}
	return setTimestamp(result, e.Timestamp)
}

// UnmarshalJSON implements custom JSON unmarshaling for FunctionCall.
func (e *FunctionCall) UnmarshalJSON(data []byte) error {
	fields, err := parseEvent(data, "function_call", "function_name")
	if err != nil {
		return err
	}
	e.ThreadID = fields.Get("thread_id").String()
	e.Name = fields.Get("function_name").String()
	e.Arguments = fields.Get("arguments").String()
	e.Timestamp, err = parseTimestamp(fields)
	return err
}

// MarshalJSON implements custom JSON marshaling for FunctionResult.
func (e FunctionResult) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(functionResultJSON, "thread_id", e.ThreadID)
	if err != nil {
		return nil, err
	}
	if result, err = sjson.SetBytes(result, "function_name", e.Name); err != nil {
		return nil, err
	}
	if result, err = sjson.SetBytes(result, "result", e.Result); err != nil {
		return nil, err
	}
	return setTimestamp(result, e.Timestamp)
}

// UnmarshalJSON implements custom JSON unmarshaling for FunctionResult.
func (e *FunctionResult) UnmarshalJSON(data []byte) error {
	fields, err := parseEvent(data, "function_result", "function_name")
	if err != nil {
		return err
	}
	e.ThreadID = fields.Get("thread_id").String()
	e.Name = fields.Get("function_name").String()
	e.Result = fields.Get("result").String()
	e.Timestamp, err = parseTimestamp(fields)
	return err
}

// MarshalJSON implements custom JSON marshaling for StreamComplete.
func (e StreamComplete) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(streamCompleteJSON, "thread_id", e.ThreadID)
	if err != nil {
		return nil, err
	}
	if result, err = sjson.SetBytes(result, "usage.input_tokens", e.Usage.InputTokens); err != nil {
		return nil, err
	}
	if result, err = sjson.SetBytes(result, "usage.output_tokens", e.Usage.OutputTokens); err != nil {
		return nil, err
	}
	if result, err = sjson.SetBytes(result, "usage.total_tokens", e.Usage.TotalTokens); err != nil {
		return nil, err
	}
	return setTimestamp(result, e.Timestamp)
}

// UnmarshalJSON implements custom JSON unmarshaling for StreamComplete.
func (e *StreamComplete) UnmarshalJSON(data []byte) error {
	fields, err := parseEvent(data, "stream_complete", "usage")
	if err != nil {
		return err
	}
	e.ThreadID = fields.Get("thread_id").String()
	e.Usage = usage.Usage{
		InputTokens:  fields.Get("usage.input_tokens").Int(),
		OutputTokens: fields.Get("usage.output_tokens").Int(),
		TotalTokens:  fields.Get("usage.total_tokens").Int(),
	}
	e.Timestamp, err = parseTimestamp(fields)
	return err
}

// MarshalJSON implements custom JSON marshaling for Error.
func (e Error) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(errorJSON, "thread_id", e.ThreadID)
	if err != nil {
		return nil, err
	}
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if result, err = sjson.SetBytes(result, "error", msg); err != nil {
		return nil, err
	}
	return setTimestamp(result, e.Timestamp)
}

// UnmarshalJSON implements custom JSON unmarshaling for Error.
func (e *Error) UnmarshalJSON(data []byte) error {
	fields, err := parseEvent(data, "error", "error")
	if err != nil {
		return err
	}
	e.ThreadID = fields.Get("thread_id").String()
	e.Err = errors.New(fields.Get("error").String())
	e.Timestamp, err = parseTimestamp(fields)
	return err
}

func setTimestamp(result []byte, ts strfmt.DateTime) ([]byte, error) {
	if time.Time(ts).IsZero() {
		return result, nil
	}
	return sjson.SetBytes(result, "timestamp", ts.String())
}

func parseTimestamp(fields gjson.Result) (strfmt.DateTime, error) {
	raw := fields.Get("timestamp")
	if !raw.Exists() || raw.String() == "" {
		return strfmt.DateTime{}, nil
	}
	return strfmt.ParseDateTime(raw.String())
}

func parseEvent(data []byte, kind string, required string) (gjson.Result, error) {
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("invalid json: %s", data)
	}
	fields := gjson.ParseBytes(data)
	if fields.Get("type").String() != kind {
		return gjson.Result{}, fmt.Errorf("missing or mismatched type, expected %q", kind)
	}
	if !fields.Get(required).Exists() {
		return gjson.Result{}, fmt.Errorf("missing required field %q", required)
	}
	return fields, nil
}

// ToJSON marshals an event for transport on a broker subject.
func ToJSON(event Event) ([]byte, error) {
	switch e := event.(type) {
	case ThreadInfo:
		return e.MarshalJSON()
	case Content:
		return e.MarshalJSON()
	case FunctionCall:
		return e.MarshalJSON()
	case FunctionResult:
		return e.MarshalJSON()
	case StreamComplete:
		return e.MarshalJSON()
	case Error:
		return e.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown event type: %T", event)
	}
}

// FromJSON reconstructs an event from its transport payload, dispatching on
// the embedded type discriminator.
func FromJSON(data []byte) (Event, error) {
	switch kind := gjson.GetBytes(data, "type").String(); kind {
	case "thread_info":
		var e ThreadInfo
		err := e.UnmarshalJSON(data)
		return e, err
	case "content":
		var e Content
		err := e.UnmarshalJSON(data)
		return e, err
	case "function_call":
		var e FunctionCall
		err := e.UnmarshalJSON(data)
		return e, err
	case "function_result":
		var e FunctionResult
		err := e.UnmarshalJSON(data)
		return e, err
	case "stream_complete":
		var e StreamComplete
		err := e.UnmarshalJSON(data)
		return e, err
	case "error":
		var e Error
		err := e.UnmarshalJSON(data)
		return e, err
	default:
		return nil, fmt.Errorf("unknown event type: %q", kind)
	}
}
