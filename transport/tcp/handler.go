// Package tcp implements the packet-level send/receive contract on top of
// one connected transport.Conn: outbound packets are queued FIFO and
// drained respecting partial-write backpressure, inbound bytes are
// reassembled into at most one in-progress packet at a time.
package tcp

import (
	"log/slog"

	"gamewire/lib/ds/queue"
	"gamewire/packet"
	"gamewire/transport"

	"github.com/pkg/errors"
)

// SendState is the outcome of one SendPackets pass.
type SendState uint8

const (
	// SendClosed means the connection got closed.
	SendClosed SendState = iota
	// SendNoneSent means the transport is full; nothing went out.
	SendNoneSent
	// SendPartlySent means some bytes went out but packets remain queued.
	SendPartlySent
	// SendAllSent means the queue is empty.
	SendAllSent
)

// CloseState distinguishes a clean shutdown from an error-triggered one.
type CloseState uint8

const (
	CloseDone CloseState = iota
	CloseError
)

type Options struct {
	// RecvLimit caps the frame size a peer may declare.
	// Zero means packet.DefaultLimit.
	RecvLimit int
}

// SocketHandler exclusively owns one connected socket.
type SocketHandler struct {
	conn transport.Conn

	sendQueue queue.Queue[*packet.Packet]
	recv      *packet.Packet // partially received packet, if any

	recvLimit int
	logger    *slog.Logger

	closed     bool
	closeState CloseState
}

func NewSocketHandler(conn transport.Conn, logger *slog.Logger, opts Options) *SocketHandler {
	if opts.RecvLimit == 0 {
		opts.RecvLimit = packet.DefaultLimit
	}

	return &SocketHandler{
		conn:      conn,
		sendQueue: queue.NewNaive[*packet.Packet](0),
		recvLimit: opts.RecvLimit,
		logger:    logger,
	}
}

// IsConnected reports whether the handler still owns a live socket.
func (h *SocketHandler) IsConnected() bool { return h.conn != nil && !h.closed }

// HasSendQueue reports whether outbound packets are awaiting delivery.
func (h *SocketHandler) HasSendQueue() bool { return h.sendQueue.Len() > 0 }

// CanSendReceive probes whether attempting SendPackets or ReceivePacket
// this tick can make progress. Purely advisory; it saves syscalls, nothing
// depends on it being called.
func (h *SocketHandler) CanSendReceive() bool {
	if !h.IsConnected() {
		return false
	}

	readable, writable, err := h.conn.Ready()
	if err != nil {
		return false
	}
	return readable || writable
}

// SendPacket seals p and appends it to the send queue. Never blocks; the
// queue is unbounded at this layer.
func (h *SocketHandler) SendPacket(p *packet.Packet) {
	if !h.IsConnected() {
		h.logger.Debug("dropping packet for closed connection")
		return
	}

	p.Seal()
	h.sendQueue.Enqueue(p)
}

// SendPackets writes as much of the queue as the transport accepts in one
// non-blocking pass. A fully written packet is popped; a partially written
// one keeps the head with its cursor advanced. With closingDown set, a
// write error is swallowed instead of re-closing the connection.
func (h *SocketHandler) SendPackets(closingDown bool) SendState {
	if !h.IsConnected() {
		return SendClosed
	}

	sentAny := false
	for h.sendQueue.Len() > 0 {
		p, _ := h.sendQueue.Peek()

		for p.Remaining() > 0 {
			n, err := h.conn.Write(p.Unsent())
			if n > 0 {
				p.MarkSent(n)
				sentAny = true
			}
			if err == nil {
				continue
			}

			if errors.Is(err, transport.ErrWouldBlock) {
				if sentAny {
					return SendPartlySent
				}
				return SendNoneSent
			}

			if !closingDown {
				h.logger.Debug("send failed, closing connection", "err", err)
				h.CloseConnection(true)
			}
			return SendClosed
		}

		_, _ = h.sendQueue.Dequeue()
	}

	return SendAllSent
}

// ReceivePacket pulls available bytes into the in-progress inbound packet.
// It returns (nil, nil) while the packet's declared length is not yet
// satisfied. A graceful close from the peer closes the handler cleanly and
// returns transport.ErrConnClosed; transport and framing errors close it
// as an error.
func (h *SocketHandler) ReceivePacket() (*packet.Packet, error) {
	if !h.IsConnected() {
		return nil, transport.ErrConnClosed
	}

	if h.recv == nil {
		h.recv = packet.NewInbound(h.recvLimit)
	}
	p := h.recv

	for !p.Complete() {
		n, err := h.conn.Read(p.Writable())
		if n > 0 {
			if perr := p.Advance(n); perr != nil {
				// Corrupt framing cannot be resynchronized mid-stream.
				h.logger.Debug("framing error, closing connection", "err", perr)
				h.CloseConnection(true)
				return nil, perr
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrWouldBlock):
				return nil, nil
			case errors.Is(err, transport.ErrConnClosed):
				h.CloseConnection(false)
				return nil, transport.ErrConnClosed
			default:
				h.logger.Debug("receive failed, closing connection", "err", err)
				h.CloseConnection(true)
				return nil, err
			}
		}
	}

	h.recv = nil
	p.PrepareToRead()
	return p, nil
}

// CloseConnection releases the socket and drops all queued outbound
// packets. Idempotent; later calls report the state recorded by the first.
func (h *SocketHandler) CloseConnection(isError bool) CloseState {
	if h.closed {
		return h.closeState
	}

	h.closed = true
	h.closeState = CloseDone
	if isError {
		h.closeState = CloseError
	}

	h.sendQueue.Clear()
	h.recv = nil

	if h.conn != nil {
		if err := h.conn.Close(); err != nil {
			h.logger.Debug("closing socket", "err", err)
		}
	}

	return h.closeState
}
