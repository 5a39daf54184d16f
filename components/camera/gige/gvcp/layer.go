// Package gvcp speaks the GigE Vision Control Protocol well enough to discover cameras and read
// or write their bootstrap registers. It is used for diagnostics that must work without a vendor
// transport.
package gvcp

import (
	"encoding/binary"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

// Port is the UDP port cameras listen on for control commands.
const Port = 3956

const (
	headerLen = 8
	cmdKey    = 0x42

	// FlagAckRequired asks the camera to acknowledge a command.
	FlagAckRequired = 0x01
	// FlagAllowBroadcastAck lets a camera on another subnet answer a discovery by broadcast.
	FlagAllowBroadcastAck = 0x10
)

// Command and acknowledge codes.
const (
	CmdDiscovery  uint16 = 0x0002
	AckDiscovery  uint16 = 0x0003
	CmdReadReg    uint16 = 0x0080
	AckReadReg    uint16 = 0x0081
	CmdWriteReg   uint16 = 0x0082
	AckWriteReg   uint16 = 0x0083
	StatusSuccess uint16 = 0x0000
)

// LayerTypeGVCP is the gopacket layer type of control packets.
var LayerTypeGVCP = gopacket.RegisterLayerType(3956, gopacket.LayerTypeMetadata{
	Name:    "GVCP",
	Decoder: gopacket.DecodeFunc(decodeGVCP),
})

func init() {
	layers.RegisterUDPPortLayerType(layers.UDPPort(Port), LayerTypeGVCP)
}

// GVCP is a control command or acknowledge. Commands start with the 0x42 key byte, acknowledges
// with a status code.
type GVCP struct {
	layers.BaseLayer

	Ack bool
	// Flags is only carried by commands.
	Flags uint8
	// Status is only carried by acknowledges.
	Status uint16
	// Code is the command or acknowledge code.
	Code      uint16
	Length    uint16
	RequestID uint16
	Data      []byte
}

// LayerType returns LayerTypeGVCP.
func (g *GVCP) LayerType() gopacket.LayerType { return LayerTypeGVCP }

// CanDecode returns LayerTypeGVCP.
func (g *GVCP) CanDecode() gopacket.LayerClass { return LayerTypeGVCP }

// NextLayerType returns LayerTypePayload. Control packets carry nothing further.
func (g *GVCP) NextLayerType() gopacket.LayerType { return gopacket.LayerTypePayload }

// DecodeFromBytes parses a control packet.
func (g *GVCP) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < headerLen {
		df.SetTruncated()
		return errors.Errorf("GVCP packet too short: %d bytes", len(data))
	}
	if data[0] == cmdKey {
		g.Ack = false
		g.Flags = data[1]
		g.Status = 0
	} else {
		g.Ack = true
		g.Flags = 0
		g.Status = binary.BigEndian.Uint16(data[0:2])
	}
	g.Code = binary.BigEndian.Uint16(data[2:4])
	g.Length = binary.BigEndian.Uint16(data[4:6])
	g.RequestID = binary.BigEndian.Uint16(data[6:8])
	end := headerLen + int(g.Length)
	if end > len(data) {
		df.SetTruncated()
		return errors.Errorf("GVCP payload truncated: header says %d bytes, got %d", g.Length, len(data)-headerLen)
	}
	g.Data = data[headerLen:end]
	g.BaseLayer = layers.BaseLayer{Contents: data[:end], Payload: data[end:]}
	return nil
}

// SerializeTo writes the packet. FixLengths sets Length from Data.
func (g *GVCP) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	buf, err := b.PrependBytes(headerLen + len(g.Data))
	if err != nil {
		return err
	}
	if opts.FixLengths {
		g.Length = uint16(len(g.Data))
	}
	if g.Ack {
		binary.BigEndian.PutUint16(buf[0:2], g.Status)
	} else {
		buf[0] = cmdKey
		buf[1] = g.Flags
	}
	binary.BigEndian.PutUint16(buf[2:4], g.Code)
	binary.BigEndian.PutUint16(buf[4:6], g.Length)
	binary.BigEndian.PutUint16(buf[6:8], g.RequestID)
	copy(buf[headerLen:], g.Data)
	return nil
}

func decodeGVCP(data []byte, p gopacket.PacketBuilder) error {
	g := &GVCP{}
	if err := g.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(g)
	return nil
}

// Encode serializes a control packet.
func Encode(g *GVCP) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a control packet received from a UDP socket.
func Decode(data []byte) (*GVCP, error) {
	pkt := gopacket.NewPacket(data, LayerTypeGVCP, gopacket.NoCopy)
	if errLayer := pkt.ErrorLayer(); errLayer != nil {
		return nil, errLayer.Error()
	}
	g, ok := pkt.Layer(LayerTypeGVCP).(*GVCP)
	if !ok {
		return nil, errors.New("not a GVCP packet")
	}
	return g, nil
}
