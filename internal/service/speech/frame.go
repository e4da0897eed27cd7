package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// 火山引擎双向流式语音合成使用的二进制帧格式:
// 4 字节头 | [sequence] | [event | session id] | [error code] | payload size | payload

const frameProtocolVersion = 0b0001

type frameType uint8

const (
	frameFullClientRequest  frameType = 0b0001
	frameFullServerResponse frameType = 0b1001
	frameAudioOnlyResponse  frameType = 0b1011
	frameError              frameType = 0b1111
)

type frameFlags uint8

const (
	flagNoSequence       frameFlags = 0b0000
	flagPositiveSequence frameFlags = 0b0001
	flagLastNoSequence   frameFlags = 0b0010
	flagNegativeSequence frameFlags = 0b0011
	flagWithEvent        frameFlags = 0b0100
)

type frameSerialization uint8

const (
	serializationNone frameSerialization = 0b0000
	serializationJSON frameSerialization = 0b0001
)

type frameCompression uint8

const (
	compressionNone frameCompression = 0b0000
	compressionGzip frameCompression = 0b0001
)

// 服务端事件编号，仅列出合成链路会遇到的事件
const (
	eventStartConnection    int32 = 1
	eventFinishConnection   int32 = 2
	eventConnectionStarted  int32 = 50
	eventConnectionFailed   int32 = 51
	eventConnectionFinished int32 = 52
	eventSessionFinished    int32 = 152
)

type frame struct {
	kind          frameType
	flags         frameFlags
	serialization frameSerialization
	compression   frameCompression

	sequence  int32
	event     int32
	sessionID string
	connectID string
	errorCode uint32
	payload   []byte
}

func newClientRequestFrame(payload []byte) *frame {
	return &frame{
		kind:          frameFullClientRequest,
		flags:         flagNoSequence,
		serialization: serializationJSON,
		compression:   compressionNone,
		payload:       payload,
	}
}

func (f *frame) hasSequence() bool {
	switch f.flags & 0b0011 {
	case flagPositiveSequence, flagNegativeSequence:
		return true
	}
	return false
}

func (f *frame) hasEvent() bool {
	return f.flags&flagWithEvent == flagWithEvent
}

// isLast reports whether the server marked this frame as the final packet.
func (f *frame) isLast() bool {
	switch f.flags & 0b0011 {
	case flagLastNoSequence, flagNegativeSequence:
		return true
	}
	return false
}

func eventCarriesSessionID(event int32) bool {
	switch event {
	case eventStartConnection, eventFinishConnection,
		eventConnectionStarted, eventConnectionFailed, eventConnectionFinished:
		return false
	}
	return true
}

func eventCarriesConnectID(event int32) bool {
	switch event {
	case eventConnectionStarted, eventConnectionFailed, eventConnectionFinished:
		return true
	}
	return false
}

func encodeFrame(f *frame) []byte {
	var buf bytes.Buffer
	buf.WriteByte(frameProtocolVersion<<4 | 0b0001)
	buf.WriteByte(uint8(f.kind)<<4 | uint8(f.flags))
	buf.WriteByte(uint8(f.serialization)<<4 | uint8(f.compression))
	buf.WriteByte(0)

	if f.hasSequence() {
		writeUint32(&buf, uint32(f.sequence))
	}
	if f.hasEvent() {
		writeUint32(&buf, uint32(f.event))
		if eventCarriesSessionID(f.event) {
			writeSized(&buf, []byte(f.sessionID))
		}
		if eventCarriesConnectID(f.event) {
			writeSized(&buf, []byte(f.connectID))
		}
	}
	if f.kind == frameError {
		writeUint32(&buf, f.errorCode)
	}
	writeSized(&buf, f.payload)
	return buf.Bytes()
}

func decodeFrame(data []byte) (*frame, error) {
	r := bytes.NewReader(data)

	head := make([]byte, 4)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	if version := head[0] >> 4; version != frameProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", version)
	}
	if extra := int(head[0]&0x0F)*4 - 4; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(extra)); err != nil {
			return nil, fmt.Errorf("read extended header: %w", err)
		}
	}

	f := &frame{
		kind:          frameType(head[1] >> 4),
		flags:         frameFlags(head[1] & 0x0F),
		serialization: frameSerialization(head[2] >> 4),
		compression:   frameCompression(head[2] & 0x0F),
	}

	if f.hasSequence() {
		seq, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read sequence: %w", err)
		}
		f.sequence = int32(seq)
	}

	if f.hasEvent() {
		event, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read event: %w", err)
		}
		f.event = int32(event)
		if eventCarriesSessionID(f.event) {
			session, err := readSized(r)
			if err != nil {
				return nil, fmt.Errorf("read session id: %w", err)
			}
			f.sessionID = string(session)
		}
		if eventCarriesConnectID(f.event) {
			connect, err := readSized(r)
			if err != nil {
				return nil, fmt.Errorf("read connect id: %w", err)
			}
			f.connectID = string(connect)
		}
	}

	if f.kind == frameError {
		code, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read error code: %w", err)
		}
		f.errorCode = code
	}

	payload, err := readSized(r)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	f.payload = payload
	return f, nil
}

// body returns the payload with the frame's compression removed.
func (f *frame) body() ([]byte, error) {
	switch f.compression {
	case compressionNone:
		return f.payload, nil
	case compressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(f.payload))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("gzip read: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", f.compression)
	}
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeSized(buf *bytes.Buffer, data []byte) {
	writeUint32(buf, uint32(len(data)))
	buf.Write(data)
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readSized(r io.Reader) ([]byte, error) {
	size, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("expected %d bytes: %w", size, err)
	}
	return data, nil
}
