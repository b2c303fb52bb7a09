package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/PCL-Community/PCL.Core-sub001/internal/util"
)

// ErrIncomplete means the buffer ends before the frame does. More bytes may
// complete it, so callers should read on rather than treat it as corruption.
var ErrIncomplete = errors.New("incomplete frame")

// FrameError is a protocol violation inside an otherwise complete header.
type FrameError struct {
	Reason string
}

func (e *FrameError) Error() string { return "malformed frame: " + e.Reason }

func frameErr(format string, args ...any) *FrameError {
	return &FrameError{Reason: fmt.Sprintf(format, args...)}
}

// validateType rejects type tags that are not printable UTF-8.
func validateType(t []byte) error {
	if !utf8.Valid(t) {
		return frameErr("type tag is not valid UTF-8")
	}
	for _, r := range string(t) {
		if unicode.IsControl(r) {
			return frameErr("type tag contains control character %U", r)
		}
	}
	return nil
}

func checkTypeLen(t string) error {
	if len(t) > MaxTypeLen {
		return frameErr("type tag is %d bytes (max %d)", len(t), MaxTypeLen)
	}
	return validateType([]byte(t))
}

// EncodeRequest serializes a request frame.
func EncodeRequest(req Request) ([]byte, error) {
	if err := checkTypeLen(req.Type); err != nil {
		return nil, err
	}
	if len(req.Body) > maxBodyLen {
		return nil, frameErr("body is %d bytes", len(req.Body))
	}

	buf := make([]byte, 0, requestHeader+len(req.Type)+len(req.Body))
	buf = append(buf, byte(len(req.Type)))
	buf = append(buf, req.Type...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(req.Body)))
	buf = append(buf, req.Body...)
	return buf, nil
}

// EncodeResponse serializes a response frame.
func EncodeResponse(resp Response) ([]byte, error) {
	if err := checkTypeLen(resp.Type); err != nil {
		return nil, err
	}
	if len(resp.Body) > maxBodyLen {
		return nil, frameErr("body is %d bytes", len(resp.Body))
	}

	buf := make([]byte, 0, responseHeader+len(resp.Type)+len(resp.Body))
	buf = append(buf, byte(len(resp.Type)))
	buf = append(buf, resp.Type...)
	buf = binary.BigEndian.AppendUint16(buf, resp.Status)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(resp.Body)))
	buf = append(buf, resp.Body...)
	return buf, nil
}

// DecodeRequest decodes the first request frame in data and returns the
// number of bytes it occupied. A short buffer yields ErrIncomplete.
func DecodeRequest(data []byte) (Request, int, error) {
	if len(data) < 1 {
		return Request{}, 0, ErrIncomplete
	}
	typeLen := int(data[0])
	if len(data) < requestHeader+typeLen {
		return Request{}, 0, ErrIncomplete
	}

	typ := data[1 : 1+typeLen]
	if err := validateType(typ); err != nil {
		return Request{}, 0, err
	}

	bodyLen := binary.BigEndian.Uint32(data[1+typeLen : requestHeader+typeLen])
	if bodyLen > maxBodyLen {
		return Request{}, 0, frameErr("body length %d exceeds int32", bodyLen)
	}

	total := requestHeader + typeLen + int(bodyLen)
	if len(data) < total {
		return Request{}, 0, ErrIncomplete
	}

	body := make([]byte, bodyLen)
	copy(body, data[requestHeader+typeLen:total])
	return Request{Type: string(typ), Body: body}, total, nil
}

// DecodeResponse decodes the first response frame in data and returns the
// number of bytes it occupied. A short buffer yields ErrIncomplete.
func DecodeResponse(data []byte) (Response, int, error) {
	if len(data) < 1 {
		return Response{}, 0, ErrIncomplete
	}
	typeLen := int(data[0])
	if len(data) < responseHeader+typeLen {
		return Response{}, 0, ErrIncomplete
	}

	typ := data[1 : 1+typeLen]
	if err := validateType(typ); err != nil {
		return Response{}, 0, err
	}

	off := 1 + typeLen
	status := binary.BigEndian.Uint16(data[off : off+statusSize])
	off += statusSize
	bodyLen := binary.BigEndian.Uint32(data[off : off+lenFieldSize])
	if bodyLen > maxBodyLen {
		return Response{}, 0, frameErr("body length %d exceeds int32", bodyLen)
	}

	total := responseHeader + typeLen + int(bodyLen)
	if len(data) < total {
		return Response{}, 0, ErrIncomplete
	}

	body := make([]byte, bodyLen)
	copy(body, data[responseHeader+typeLen:total])
	return Response{Type: string(typ), Status: status, Body: body}, total, nil
}

// UnmarshalRequest decodes a buffer expected to hold exactly one frame.
// Trailing bytes are reported as a warning and otherwise ignored.
func UnmarshalRequest(data []byte) (Request, error) {
	req, n, err := DecodeRequest(data)
	if err != nil {
		return Request{}, err
	}
	if n < len(data) {
		util.LogWarning("[protocol] %d trailing bytes after %s request frame", len(data)-n, req.Type)
	}
	return req, nil
}

// UnmarshalResponse decodes a buffer expected to hold exactly one frame.
// Trailing bytes are reported as a warning and otherwise ignored.
func UnmarshalResponse(data []byte) (Response, error) {
	resp, n, err := DecodeResponse(data)
	if err != nil {
		return Response{}, err
	}
	if n < len(data) {
		util.LogWarning("[protocol] %d trailing bytes after %s response frame", len(data)-n, resp.Type)
	}
	return resp, nil
}
