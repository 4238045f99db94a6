package dispersy

import (
	"net"

	"github.com/dispersy-go/dispersy/log"
)

// maxPacketBytes bounds one read from the UDP socket; larger datagrams
// are truncated by the kernel before reaching us regardless.
const maxPacketBytes = 65507

// UDPTransport is the default Transport: one unconnected UDP socket
// shared by every community's traffic, demultiplexed downstream by the
// packet's cid prefix.
type UDPTransport struct {
	conn   *net.UDPConn
	logger *log.Logger
}

// ListenUDP opens a UDP socket on addr (host:port) for both sending and
// receiving.
func ListenUDP(addr string) (*UDPTransport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &UDPTransport{conn: conn, logger: log.Default().Module("dispersy")}, nil
}

// Send implements Transport.
func (t *UDPTransport) Send(addr string, packet []byte) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	_, err = t.conn.WriteToUDP(packet, raddr)
	return err
}

// Close releases the underlying socket.
func (t *UDPTransport) Close() error { return t.conn.Close() }

// Serve reads packets until the socket is closed, handing each to
// d.OnIncomingPacket. Errors from an individual packet (drop/delay) are
// logged at Debug and do not stop the loop; only a socket-level read
// error does.
func (t *UDPTransport) Serve(d *Dispatcher) error {
	buf := make([]byte, maxPacketBytes)
	for {
		n, raddr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		packet := append([]byte(nil), buf[:n]...)
		if err := d.OnIncomingPacket(raddr.String(), packet); err != nil {
			t.logger.Debug("incoming packet not applied", "addr", raddr.String(), "err", err)
		}
	}
}
