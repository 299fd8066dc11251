// Package wire implements the viewer<->session websocket protocol:
// a JSON envelope whose Data field is base64 of an inner JSON document.
package wire

// Message types exchanged between a viewer and the session it is attached to.
const (
	TypeWrite    = "Write"
	TypeWinSize  = "WinSize"
	TypeReadOnly = "ReadOnly"
	TypeHeadless = "Headless"
)

// Envelope is the outer, transport-neutral text frame.
type Envelope struct {
	Type string `json:"Type"`
	Data string `json:"Data"` // base64 of the inner JSON document
}

// WriteFrame carries raw bytes in both directions: PTY output (server→client)
// or keystrokes (client→server).
type WriteFrame struct {
	Size int    `json:"Size"`
	Data string `json:"Data"` // base64 of the raw byte payload

	// Compressed is set when Data is zstd-compressed before base64 encoding.
	// Decoders must branch on this before treating Data as raw bytes.
	Compressed bool `json:"Compressed,omitempty"`
}

// WinSizeMsg carries a terminal size, either a client hint (headless mode)
// or a server-authoritative broadcast.
type WinSizeMsg struct {
	Cols int `json:"Cols"`
	Rows int `json:"Rows"`
}

// ReadOnlyMsg announces the session's read-only flag.
type ReadOnlyMsg struct {
	ReadOnly bool `json:"ReadOnly"`
}

// HeadlessMsg announces the session's headless flag.
type HeadlessMsg struct {
	Headless bool `json:"Headless"`
}
