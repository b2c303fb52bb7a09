package protocol

import (
	"encoding/binary"
	"io"
)

// Body size limits for stream readers. StreamBodyLimit is the default so a
// hostile peer cannot make us allocate gigabytes; MaxBodyLen is the largest
// body the frame format can carry.
const (
	StreamBodyLimit = 16 << 20
	MaxBodyLen      = maxBodyLen
)

// ReadRequest reads exactly one request frame from r. A stream closed
// before the first byte returns io.EOF; a stream closed mid-frame returns
// io.ErrUnexpectedEOF.
func ReadRequest(r io.Reader) (Request, error) {
	return ReadRequestLimit(r, StreamBodyLimit)
}

// ReadRequestLimit is ReadRequest with a body size limit. A limit of zero
// or less means StreamBodyLimit; limits above MaxBodyLen are clamped.
func ReadRequestLimit(r io.Reader, limit int) (Request, error) {
	typ, err := readType(r)
	if err != nil {
		return Request{}, err
	}
	body, err := readBody(r, limit)
	if err != nil {
		return Request{}, err
	}
	return Request{Type: typ, Body: body}, nil
}

// ReadResponse reads exactly one response frame from r.
func ReadResponse(r io.Reader) (Response, error) {
	return ReadResponseLimit(r, StreamBodyLimit)
}

// ReadResponseLimit is ReadResponse with a body size limit, interpreted as
// in ReadRequestLimit.
func ReadResponseLimit(r io.Reader, limit int) (Response, error) {
	typ, err := readType(r)
	if err != nil {
		return Response{}, err
	}
	var status [statusSize]byte
	if _, err := io.ReadFull(r, status[:]); err != nil {
		return Response{}, unexpected(err)
	}
	body, err := readBody(r, limit)
	if err != nil {
		return Response{}, err
	}
	return Response{Type: typ, Status: binary.BigEndian.Uint16(status[:]), Body: body}, nil
}

// WriteRequest encodes req and writes it with a single Write call.
func WriteRequest(w io.Writer, req Request) error {
	data, err := EncodeRequest(req)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// WriteResponse encodes resp and writes it with a single Write call.
func WriteResponse(w io.Writer, resp Response) error {
	data, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func readType(r io.Reader) (string, error) {
	var lenBuf [1]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	typ := make([]byte, lenBuf[0])
	if _, err := io.ReadFull(r, typ); err != nil {
		return "", unexpected(err)
	}
	if err := validateType(typ); err != nil {
		return "", err
	}
	return string(typ), nil
}

func readBody(r io.Reader, limit int) ([]byte, error) {
	switch {
	case limit <= 0:
		limit = StreamBodyLimit
	case limit > MaxBodyLen:
		limit = MaxBodyLen
	}

	var lenBuf [lenFieldSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, unexpected(err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if uint64(length) > uint64(limit) {
		return nil, frameErr("body length %d exceeds limit %d", length, limit)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, unexpected(err)
	}
	return body, nil
}

// unexpected turns a clean EOF in the middle of a frame into ErrUnexpectedEOF.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
