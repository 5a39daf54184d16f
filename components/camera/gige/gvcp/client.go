package gvcp

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/stereo/components/camera/gige"
	"go.viam.com/stereo/logging"
)

// Bootstrap register addresses.
const (
	RegHeartbeatTimeout  uint32 = 0x0938
	RegControlPrivilege  uint32 = 0x0A00
	RegStreamPacketSize  uint32 = 0x0D04
	RegStreamPacketDelay uint32 = 0x0D08
)

const discoveryAckLen = 248

// DiscoveryAck is the identity a camera returns to a discovery command.
type DiscoveryAck struct {
	MAC              net.HardwareAddr
	IP               net.IP
	Subnet           net.IP
	Gateway          net.IP
	Manufacturer     string
	Model            string
	Version          string
	ManufacturerInfo string
	SerialNumber     string
	UserName         string
}

// DeviceInfo converts the acknowledge into a transport device description.
func (a DiscoveryAck) DeviceInfo(index int) gige.DeviceInfo {
	return gige.DeviceInfo{
		Index:           index,
		DeviceClass:     "GigE",
		SerialNumber:    a.SerialNumber,
		ModelName:       a.Model,
		VendorName:      a.Manufacturer,
		DeviceVersion:   a.Version,
		IPAddress:       a.IP.String(),
		MACAddress:      a.MAC.String(),
		FriendlyName:    fmt.Sprintf("%s %s (%s)", a.Manufacturer, a.Model, a.SerialNumber),
		UserDefinedName: a.UserName,
	}
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func putString(dst []byte, s string) {
	copy(dst[:len(dst)-1], s)
}

// ParseDiscoveryAck decodes the payload of a discovery acknowledge.
func ParseDiscoveryAck(data []byte) (DiscoveryAck, error) {
	if len(data) < discoveryAckLen {
		return DiscoveryAck{}, errors.Errorf("discovery ack too short: %d bytes", len(data))
	}
	mac := make(net.HardwareAddr, 6)
	copy(mac, data[10:16])
	return DiscoveryAck{
		MAC:              mac,
		IP:               net.IP(append([]byte(nil), data[36:40]...)),
		Subnet:           net.IP(append([]byte(nil), data[52:56]...)),
		Gateway:          net.IP(append([]byte(nil), data[68:72]...)),
		Manufacturer:     cString(data[72:104]),
		Model:            cString(data[104:136]),
		Version:          cString(data[136:168]),
		ManufacturerInfo: cString(data[168:216]),
		SerialNumber:     cString(data[216:232]),
		UserName:         cString(data[232:248]),
	}, nil
}

// Marshal encodes the acknowledge payload. Cameras are the only real senders; this is used to
// emulate one.
func (a DiscoveryAck) Marshal() []byte {
	data := make([]byte, discoveryAckLen)
	binary.BigEndian.PutUint16(data[0:2], 2) // protocol version 2.0
	copy(data[10:16], a.MAC)
	copy(data[36:40], a.IP.To4())
	copy(data[52:56], a.Subnet.To4())
	copy(data[68:72], a.Gateway.To4())
	putString(data[72:104], a.Manufacturer)
	putString(data[104:136], a.Model)
	putString(data[136:168], a.Version)
	putString(data[168:216], a.ManufacturerInfo)
	putString(data[216:232], a.SerialNumber)
	putString(data[232:248], a.UserName)
	return data
}

// Discover broadcasts a discovery command to addr (usually "255.255.255.255:3956") and collects
// acknowledges until timeout or ctx is done.
func Discover(ctx context.Context, addr string, timeout time.Duration, logger logging.Logger) ([]DiscoveryAck, error) {
	dst, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, errors.Wrap(err, "opening discovery socket")
	}
	defer conn.Close()

	pkt, err := Encode(&GVCP{Flags: FlagAckRequired | FlagAllowBroadcastAck, Code: CmdDiscovery, RequestID: 1})
	if err != nil {
		return nil, err
	}
	if _, err := conn.WriteToUDP(pkt, dst); err != nil {
		return nil, errors.Wrap(err, "sending discovery")
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	var found []DiscoveryAck
	seen := map[string]bool{}
	buf := make([]byte, 1500)
	for {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		if !time.Now().Before(deadline) {
			return found, nil
		}
		step := time.Now().Add(100 * time.Millisecond)
		if step.After(deadline) {
			step = deadline
		}
		if err := conn.SetReadDeadline(step); err != nil {
			return found, err
		}
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return found, err
		}
		g, err := Decode(buf[:n])
		if err != nil || !g.Ack || g.Code != AckDiscovery || g.Status != StatusSuccess {
			logger.Debugw("ignoring packet", "from", from.String(), "error", err)
			continue
		}
		ack, err := ParseDiscoveryAck(g.Data)
		if err != nil {
			logger.Debugw("bad discovery ack", "from", from.String(), "error", err)
			continue
		}
		key := ack.MAC.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		found = append(found, ack)
	}
}

// StatusError is a non-success acknowledge status.
type StatusError struct {
	Status uint16
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("camera returned status 0x%04X", e.Status)
}

// Client sends register commands to one camera.
type Client struct {
	mu      sync.Mutex
	conn    *net.UDPConn
	reqID   uint16
	Timeout time.Duration
	Retries int
}

// Dial connects to the camera control port at addr ("ip" or "ip:port").
func Dial(addr string) (*Client, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, fmt.Sprint(Port))
	}
	raddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, Timeout: 500 * time.Millisecond, Retries: 2}, nil
}

// Close closes the socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// ReadRegisters reads several registers in one command.
func (c *Client) ReadRegisters(ctx context.Context, addrs ...uint32) ([]uint32, error) {
	payload := make([]byte, 4*len(addrs))
	for i, a := range addrs {
		binary.BigEndian.PutUint32(payload[4*i:], a)
	}
	ack, err := c.transact(ctx, CmdReadReg, AckReadReg, payload)
	if err != nil {
		return nil, err
	}
	if len(ack.Data) < len(payload) {
		return nil, errors.Errorf("read ack has %d bytes, expected %d", len(ack.Data), len(payload))
	}
	values := make([]uint32, len(addrs))
	for i := range values {
		values[i] = binary.BigEndian.Uint32(ack.Data[4*i:])
	}
	return values, nil
}

// ReadRegister reads one register.
func (c *Client) ReadRegister(ctx context.Context, addr uint32) (uint32, error) {
	values, err := c.ReadRegisters(ctx, addr)
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

// WriteRegister writes one register. Most registers require control privilege first.
func (c *Client) WriteRegister(ctx context.Context, addr, value uint32) error {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[0:4], addr)
	binary.BigEndian.PutUint32(payload[4:8], value)
	_, err := c.transact(ctx, CmdWriteReg, AckWriteReg, payload)
	return err
}

// Bootstrap holds the stream tuning registers of a camera.
type Bootstrap struct {
	PacketSize       uint32 `json:"packet_size"`
	PacketDelay      uint32 `json:"packet_delay"`
	HeartbeatTimeout uint32 `json:"heartbeat_timeout_ms"`
}

// ReadBootstrap reads the stream channel 0 packet size and delay and the heartbeat timeout.
func (c *Client) ReadBootstrap(ctx context.Context) (Bootstrap, error) {
	v, err := c.ReadRegisters(ctx, RegStreamPacketSize, RegStreamPacketDelay, RegHeartbeatTimeout)
	if err != nil {
		return Bootstrap{}, err
	}
	// the upper half of the packet size register holds flags
	return Bootstrap{PacketSize: v[0] & 0xFFFF, PacketDelay: v[1], HeartbeatTimeout: v[2]}, nil
}

func (c *Client) transact(ctx context.Context, code, ackCode uint16, payload []byte) (*GVCP, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqID++
	if c.reqID == 0 {
		c.reqID = 1
	}
	id := c.reqID
	pkt, err := Encode(&GVCP{Flags: FlagAckRequired, Code: code, RequestID: id, Data: payload})
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 1500)
	var lastErr error
	for try := 0; try <= c.Retries; try++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := c.conn.Write(pkt); err != nil {
			return nil, errors.Wrap(err, "sending command")
		}
		deadline := time.Now().Add(c.Timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		for {
			n, err := c.conn.Read(buf)
			if err != nil {
				lastErr = err
				break
			}
			ack, err := Decode(buf[:n])
			if err != nil || !ack.Ack || ack.RequestID != id {
				continue
			}
			if ack.Status != StatusSuccess {
				return nil, &StatusError{Status: ack.Status}
			}
			if ack.Code != ackCode {
				return nil, errors.Errorf("unexpected ack 0x%04X for command 0x%04X", ack.Code, code)
			}
			return ack, nil
		}
	}
	return nil, errors.Wrapf(lastErr, "no answer after %d attempt(s)", c.Retries+1)
}
