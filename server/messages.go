package server

// Request and response messages of the engine service. Images travel as
// raw .ilm bytes.

// VerifyRequest asks for one method, or every method of the image when
// Method is empty, to be verified.
type VerifyRequest struct {
	Image  []byte `cbor:"1,keyasint"`
	Method string `cbor:"2,keyasint,omitempty"`
}

// Target is the stack shape at a jump target.
type Target struct {
	Offset int      `cbor:"1,keyasint"`
	Stack  []string `cbor:"2,keyasint,omitempty"`
}

// MethodResult is the verification outcome of one method.
type MethodResult struct {
	Method   string   `cbor:"1,keyasint"`
	OK       bool     `cbor:"2,keyasint"`
	Error    string   `cbor:"3,keyasint,omitempty"`
	Restarts int      `cbor:"4,keyasint,omitempty"`
	Targets  []Target `cbor:"5,keyasint,omitempty"`
}

// VerifyResponse lists results in declaration order.
type VerifyResponse struct {
	Results []MethodResult `cbor:"1,keyasint"`
}

// RunRequest invokes a static method with textual arguments.
type RunRequest struct {
	Image         []byte   `cbor:"1,keyasint"`
	Method        string   `cbor:"2,keyasint"`
	Args          []string `cbor:"3,keyasint,omitempty"`
	TimeoutMillis int64    `cbor:"4,keyasint,omitempty"`
}

// Exception describes an exception that escaped the invoked method.
type Exception struct {
	Class      string     `cbor:"1,keyasint"`
	Message    string     `cbor:"2,keyasint,omitempty"`
	StackTrace string     `cbor:"3,keyasint,omitempty"`
	Inner      *Exception `cbor:"4,keyasint,omitempty"`
}

// RunResponse carries the return value and everything written to the
// console.
type RunResponse struct {
	Return      string     `cbor:"1,keyasint,omitempty"`
	Output      string     `cbor:"2,keyasint,omitempty"`
	Exception   *Exception `cbor:"3,keyasint,omitempty"`
	Conversions int64      `cbor:"4,keyasint"`
}

// DisassembleRequest lists one method, or the whole image when Method is
// empty.
type DisassembleRequest struct {
	Image  []byte `cbor:"1,keyasint"`
	Method string `cbor:"2,keyasint,omitempty"`
}

// DisassembleResponse is the listing.
type DisassembleResponse struct {
	Listing string `cbor:"1,keyasint"`
}
