// Package protocol defines the Scaffolding frame format exchanged between a
// lobby host and its guests over the virtual network.
//
// Request:  [u8 typeLen][type][u32 bodyLen][body]
// Response: [u8 typeLen][type][u16 status][u32 bodyLen][body]
//
// All integers are big-endian. The response echoes the request type so a
// reader can detect a mis-associated reply.
package protocol

// Request type tags understood by the host.
const (
	TypePing              = "c:ping"
	TypeProtocols         = "c:protocols"
	TypeServerPort        = "c:server_port"
	TypePlayerPing        = "c:player_ping"
	TypePlayerProfileList = "c:player_profile_list"
)

// Response status codes.
const (
	StatusOK             uint16 = 200
	StatusBadRequest     uint16 = 400
	StatusInternalError  uint16 = 500
	StatusNotImplemented uint16 = 501
	// StatusNotRunning answers c:server_port while no game server is open.
	StatusNotRunning uint16 = 503
)

// Frame layout constants.
const (
	MaxTypeLen     = 255
	lenFieldSize   = 4
	statusSize     = 2
	maxBodyLen     = 1<<31 - 1
	requestHeader  = 1 + lenFieldSize
	responseHeader = 1 + statusSize + lenFieldSize
)

// Request is one client-to-host message.
type Request struct {
	Type string
	Body []byte
}

// Response is the host's reply to a Request.
type Response struct {
	Type   string
	Status uint16
	Body   []byte
}

// OK reports whether the response carries StatusOK.
func (r Response) OK() bool { return r.Status == StatusOK }

// Reply builds a response to req with the given status and body.
func Reply(req Request, status uint16, body []byte) Response {
	return Response{Type: req.Type, Status: status, Body: body}
}
