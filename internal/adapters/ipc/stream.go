// Package ipc carries worker messages over a process's standard streams.
package ipc

import (
	"bufio"
	"errors"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

// Stream is a bidirectional msgpack message stream. Send may be called concurrently with Recv.
type Stream struct {
	sendMu sync.Mutex
	w      *bufio.Writer
	enc    *msgpack.Encoder

	recvMu sync.Mutex
	dec    *msgpack.Decoder
}

// NewStream creates a stream that reads from r and writes to w.
func NewStream(r io.Reader, w io.Writer) *Stream {
	bw := bufio.NewWriter(w)
	return &Stream{
		w:   bw,
		enc: msgpack.NewEncoder(bw),
		dec: msgpack.NewDecoder(bufio.NewReader(r)),
	}
}

// Send encodes msg and flushes it.
func (s *Stream) Send(msg domain.Message) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := s.enc.Encode(&msg); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to encode message"), "event", msg.Event)
	}
	if err := s.w.Flush(); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to write message"), "event", msg.Event)
	}
	return nil
}

// Recv decodes the next message. It returns io.EOF once the peer has closed the stream.
func (s *Stream) Recv() (domain.Message, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	var msg domain.Message
	if err := s.dec.Decode(&msg); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return domain.Message{}, io.EOF
		}
		return domain.Message{}, zerr.Wrap(domain.ErrWorkerProtocol, err.Error())
	}
	return msg, nil
}
