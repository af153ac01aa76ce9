package marionette

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// MaxMessageSize is the maximum accepted payload of a single frame (16 MiB).
const MaxMessageSize = 16 << 20

// maxLengthDigits bounds the decimal length prefix read before the colon.
const maxLengthDigits = 10

// Message type markers in the first element of a packet.
const (
	msgTypeCommand  = 0
	msgTypeResponse = 1
)

// Command names used by this client.
const (
	CmdNewSession         = "WebDriver:NewSession"
	CmdDeleteSession      = "WebDriver:DeleteSession"
	CmdSetTimeouts        = "WebDriver:SetTimeouts"
	CmdExecuteAsyncScript = "WebDriver:ExecuteAsyncScript"
	CmdSetContext         = "Marionette:SetContext"
	CmdQuit               = "Marionette:Quit"
)

// Error names reported by the server that callers branch on.
const (
	ErrNameScriptTimeout = "script timeout"
	ErrNameJavaScript    = "javascript error"
)

// Greeting is the first frame the server sends on a new connection.
type Greeting struct {
	ApplicationType    string `json:"applicationType"`
	MarionetteProtocol int    `json:"marionetteProtocol"`
}

// SupportedProtocol is the minimum protocol level this client speaks.
const SupportedProtocol = 3

// ProtocolError is an error object returned by the server in a response.
type ProtocolError struct {
	Name       string `json:"error"`
	Message    string `json:"message"`
	Stacktrace string `json:"stacktrace,omitempty"`
}

func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// WriteMessage writes v as a "<length>:<json>" frame.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	frame := make([]byte, 0, len(data)+maxLengthDigits+1)
	frame = strconv.AppendInt(frame, int64(len(data)), 10)
	frame = append(frame, ':')
	frame = append(frame, data...)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadMessage reads one "<length>:<json>" frame from r and decodes it into v.
func ReadMessage(r *bufio.Reader, v any) error {
	data, err := readFrame(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}
	return nil
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	var length int
	digits := 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("read length prefix: %w", err)
		}
		if b == ':' {
			break
		}
		if b < '0' || b > '9' {
			return nil, fmt.Errorf("invalid byte %q in length prefix", b)
		}
		digits++
		if digits > maxLengthDigits {
			return nil, fmt.Errorf("length prefix longer than %d digits", maxLengthDigits)
		}
		length = length*10 + int(b-'0')
	}
	if digits == 0 {
		return nil, fmt.Errorf("empty length prefix")
	}
	if length > MaxMessageSize {
		return nil, fmt.Errorf("message size %d exceeds maximum %d", length, MaxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return data, nil
}

// response is a decoded [1, id, error, result] packet.
type response struct {
	id     uint32
	err    *ProtocolError
	result json.RawMessage
}

func decodeResponse(packet []json.RawMessage) (response, error) {
	if len(packet) != 4 {
		return response{}, fmt.Errorf("response has %d elements, want 4", len(packet))
	}

	var typ int
	if err := json.Unmarshal(packet[0], &typ); err != nil {
		return response{}, fmt.Errorf("decode message type: %w", err)
	}
	if typ != msgTypeResponse {
		return response{}, fmt.Errorf("unexpected message type %d", typ)
	}

	var resp response
	if err := json.Unmarshal(packet[1], &resp.id); err != nil {
		return response{}, fmt.Errorf("decode message id: %w", err)
	}
	if string(packet[2]) != "null" {
		resp.err = &ProtocolError{}
		if err := json.Unmarshal(packet[2], resp.err); err != nil {
			return response{}, fmt.Errorf("decode error object: %w", err)
		}
	}
	resp.result = packet[3]
	return resp, nil
}
