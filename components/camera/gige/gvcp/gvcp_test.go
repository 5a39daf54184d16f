package gvcp

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/stereo/logging"
)

const statusInvalidAddress = 0x8003

// camera answers control commands from a register map.
type camera struct {
	conn     *net.UDPConn
	ack      DiscoveryAck
	mu       sync.Mutex
	regs     map[uint32]uint32
	dropNext int
	received int
}

func newCamera(t *testing.T) *camera {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	test.That(t, err, test.ShouldBeNil)
	c := &camera{
		conn: conn,
		ack: DiscoveryAck{
			MAC:          net.HardwareAddr{0x00, 0x30, 0x53, 0x01, 0x02, 0x03},
			IP:           net.IPv4(192, 168, 1, 10),
			Subnet:       net.IPv4(255, 255, 255, 0),
			Gateway:      net.IPv4(192, 168, 1, 1),
			Manufacturer: "Basler",
			Model:        "acA1300-60gc",
			Version:      "106755-16",
			SerialNumber: "23456789",
			UserName:     "left",
		},
		regs: map[uint32]uint32{
			RegStreamPacketSize:  0x40000000 | 1500,
			RegStreamPacketDelay: 1000,
			RegHeartbeatTimeout:  3000,
			RegControlPrivilege:  0,
		},
	}
	go c.serve()
	t.Cleanup(func() { conn.Close() })
	return c
}

func (c *camera) addr() string {
	return c.conn.LocalAddr().String()
}

func (c *camera) serve() {
	buf := make([]byte, 1500)
	for {
		n, from, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		cmd, err := Decode(buf[:n])
		if err != nil || cmd.Ack {
			continue
		}
		reply := c.handle(cmd)
		if reply == nil {
			continue
		}
		pkt, err := Encode(reply)
		if err != nil {
			return
		}
		//nolint:errcheck
		c.conn.WriteToUDP(pkt, from)
	}
}

func (c *camera) handle(cmd *GVCP) *GVCP {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received++
	if c.dropNext > 0 {
		c.dropNext--
		return nil
	}
	reply := &GVCP{Ack: true, RequestID: cmd.RequestID}
	switch cmd.Code {
	case CmdDiscovery:
		reply.Code = AckDiscovery
		reply.Data = c.ack.Marshal()
	case CmdReadReg:
		reply.Code = AckReadReg
		for i := 0; i+4 <= len(cmd.Data); i += 4 {
			v, ok := c.regs[binary.BigEndian.Uint32(cmd.Data[i:])]
			if !ok {
				return &GVCP{Ack: true, Status: statusInvalidAddress, Code: AckReadReg, RequestID: cmd.RequestID}
			}
			reply.Data = binary.BigEndian.AppendUint32(reply.Data, v)
		}
	case CmdWriteReg:
		reply.Code = AckWriteReg
		for i := 0; i+8 <= len(cmd.Data); i += 8 {
			c.regs[binary.BigEndian.Uint32(cmd.Data[i:])] = binary.BigEndian.Uint32(cmd.Data[i+4:])
		}
		reply.Data = []byte{0, 0, 0, 1}
	default:
		return nil
	}
	return reply
}

func TestLayerRoundTrip(t *testing.T) {
	data, err := Encode(&GVCP{Flags: FlagAckRequired, Code: CmdReadReg, RequestID: 7, Data: []byte{0, 0, 0x0D, 0x04}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldResemble, []byte{0x42, 0x01, 0x00, 0x80, 0x00, 0x04, 0x00, 0x07, 0, 0, 0x0D, 0x04})

	g, err := Decode(data)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.Ack, test.ShouldBeFalse)
	test.That(t, g.Flags, test.ShouldEqual, uint8(FlagAckRequired))
	test.That(t, g.Code, test.ShouldEqual, CmdReadReg)
	test.That(t, g.Length, test.ShouldEqual, uint16(4))
	test.That(t, g.RequestID, test.ShouldEqual, uint16(7))
	test.That(t, g.Data, test.ShouldResemble, []byte{0, 0, 0x0D, 0x04})

	ack, err := Decode([]byte{0x80, 0x03, 0x00, 0x81, 0x00, 0x00, 0x00, 0x07})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ack.Ack, test.ShouldBeTrue)
	test.That(t, ack.Status, test.ShouldEqual, uint16(statusInvalidAddress))
	test.That(t, ack.Code, test.ShouldEqual, AckReadReg)
}

func TestLayerDecodedFromUDP(t *testing.T) {
	buf := gopacket.NewSerializeBuffer()
	udp := &layers.UDP{SrcPort: 50000, DstPort: layers.UDPPort(Port)}
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, udp,
		&GVCP{Flags: FlagAckRequired, Code: CmdDiscovery, RequestID: 1})
	test.That(t, err, test.ShouldBeNil)

	pkt := gopacket.NewPacket(buf.Bytes(), layers.LayerTypeUDP, gopacket.Default)
	layer := pkt.Layer(LayerTypeGVCP)
	test.That(t, layer, test.ShouldNotBeNil)
	test.That(t, layer.(*GVCP).Code, test.ShouldEqual, CmdDiscovery)
}

func TestDecodeTruncated(t *testing.T) {
	_, err := Decode([]byte{0x42, 0x01, 0x00})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = Decode([]byte{0x42, 0x01, 0x00, 0x80, 0x00, 0x08, 0x00, 0x01, 0, 0})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDiscoveryAckPayload(t *testing.T) {
	want := DiscoveryAck{
		MAC:              net.HardwareAddr{1, 2, 3, 4, 5, 6},
		IP:               net.IPv4(10, 0, 0, 2).To4(),
		Subnet:           net.IPv4(255, 0, 0, 0).To4(),
		Gateway:          net.IPv4(10, 0, 0, 1).To4(),
		Manufacturer:     "Basler",
		Model:            "a model name that is longer than thirty-one bytes",
		Version:          "1",
		ManufacturerInfo: "info",
		SerialNumber:     "123",
		UserName:         "right",
	}
	payload := want.Marshal()
	test.That(t, payload, test.ShouldHaveLength, 248)
	got, err := ParseDiscoveryAck(payload)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Model, test.ShouldEqual, want.Model[:31])
	want.Model = want.Model[:31]
	test.That(t, got, test.ShouldResemble, want)

	info := got.DeviceInfo(1)
	test.That(t, info.IPAddress, test.ShouldEqual, "10.0.0.2")
	test.That(t, info.MACAddress, test.ShouldEqual, "01:02:03:04:05:06")
	test.That(t, info.UserDefinedName, test.ShouldEqual, "right")

	_, err = ParseDiscoveryAck(payload[:100])
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDiscover(t *testing.T) {
	cam := newCamera(t)
	acks, err := Discover(context.Background(), cam.addr(), 300*time.Millisecond, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, acks, test.ShouldHaveLength, 1)
	test.That(t, acks[0].SerialNumber, test.ShouldEqual, "23456789")
	test.That(t, acks[0].IP.String(), test.ShouldEqual, "192.168.1.10")
}

func TestClientRegisters(t *testing.T) {
	ctx := context.Background()
	cam := newCamera(t)
	client, err := Dial(cam.addr())
	test.That(t, err, test.ShouldBeNil)
	defer client.Close()
	client.Timeout = 100 * time.Millisecond

	boot, err := client.ReadBootstrap(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, boot, test.ShouldResemble, Bootstrap{PacketSize: 1500, PacketDelay: 1000, HeartbeatTimeout: 3000})

	test.That(t, client.WriteRegister(ctx, RegStreamPacketDelay, 2500), test.ShouldBeNil)
	v, err := client.ReadRegister(ctx, RegStreamPacketDelay)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, uint32(2500))

	_, err = client.ReadRegister(ctx, 0xFFFF0000)
	var statusErr *StatusError
	test.That(t, errors.As(err, &statusErr), test.ShouldBeTrue)
	test.That(t, statusErr.Status, test.ShouldEqual, uint16(statusInvalidAddress))
}

func TestClientRetriesLostCommands(t *testing.T) {
	ctx := context.Background()
	cam := newCamera(t)
	client, err := Dial(cam.addr())
	test.That(t, err, test.ShouldBeNil)
	defer client.Close()
	client.Timeout = 50 * time.Millisecond

	cam.mu.Lock()
	cam.dropNext = 1
	cam.mu.Unlock()
	v, err := client.ReadRegister(ctx, RegHeartbeatTimeout)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, uint32(3000))

	cam.mu.Lock()
	cam.dropNext = 10
	cam.received = 0
	cam.mu.Unlock()
	client.Retries = 1
	_, err = client.ReadRegister(ctx, RegHeartbeatTimeout)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no answer after 2 attempt(s)")
	cam.mu.Lock()
	test.That(t, cam.received, test.ShouldEqual, 2)
	cam.mu.Unlock()
}
