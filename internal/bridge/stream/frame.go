package stream

import (
	"bytes"
	"fmt"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/state"
)

// FrameKind classifies a text frame of the telemetry stream.
type FrameKind int

const (
	// FrameEmpty is an empty JSON value, sent as a keep-alive.
	FrameEmpty FrameKind = iota
	// FrameStatus carries an _httpStatus answer to a client message.
	FrameStatus
	// FrameError carries an _error object. The stream is unusable afterwards.
	FrameError
	// FrameData carries a partial state document under _data.
	FrameData
	// FrameOther is any other JSON content.
	FrameOther
)

var frameKindNames = [...]string{"empty", "status", "error", "data", "other"}

func (k FrameKind) String() string {
	if int(k) < len(frameKindNames) {
		return frameKindNames[k]
	}
	return fmt.Sprintf("FrameKind(%d)", int(k))
}

// Frame is one decoded text frame.
type Frame struct {
	Kind FrameKind
	// Status is the _httpStatus value of a FrameStatus.
	Status int
	// Body is the _data or _error payload, or the whole frame for FrameOther.
	Body *state.Node
}

// Classify decodes a text frame.
func Classify(raw []byte) (Frame, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Frame{Kind: FrameEmpty}, nil
	}
	n, err := state.Parse(raw)
	if err != nil {
		return Frame{}, fmt.Errorf("decoding stream frame: %w", err)
	}
	if n.IsNull() || ((n.IsObject() || n.IsArray()) && n.Len() == 0) {
		return Frame{Kind: FrameEmpty}, nil
	}

	switch {
	case n.Has("_httpStatus"):
		code, ok := n.Get("_httpStatus").Float64()
		if !ok {
			return Frame{}, fmt.Errorf("stream frame has non-numeric _httpStatus: %s", n.Get("_httpStatus"))
		}
		return Frame{Kind: FrameStatus, Status: int(code), Body: n}, nil
	case n.Has("_error"):
		return Frame{Kind: FrameError, Body: n.Get("_error")}, nil
	case n.Has("_data"):
		return Frame{Kind: FrameData, Body: n.Get("_data")}, nil
	}
	return Frame{Kind: FrameOther, Body: n}, nil
}
