package control

import (
	"encoding/binary"
	"errors"
	"io"
	"math"

	"github.com/itohio/pwrlog/pkg/proto"
)

// MaxEEPROMRead is the largest EEPROM read answered by ReadEeprom.
const MaxEEPROMRead = 100

// Result is the outcome of a command: either a short ack carrying a value,
// or no ack because the command sent its own reply.
type Result struct {
	value int8
	ack   bool
}

// Ack returns a result acknowledged with v.
func Ack(v int8) Result { return Result{value: v, ack: true} }

// NoAck is the result of commands that answer with their own reply.
var NoAck = Result{}

// Acked returns the ack value and whether an ack is due.
func (r Result) Acked() (int8, bool) { return r.value, r.ack }

// HandleFrame dispatches a command payload received from the host. Payloads
// that are not exactly one message are dropped. When the command is
// acknowledged, the ack echoes the command type and pending commands are
// flushed.
func (d *Device) HandleFrame(payload []byte) error {
	if d.halted {
		return nil
	}

	var m proto.Message
	if err := m.UnmarshalBinary(payload); err != nil {
		return nil
	}

	v, ok := d.HandleMessage(m).Acked()
	if !ok {
		return nil
	}

	ack, err := proto.Ack{Type: m.Type, Result: v}.MarshalBinary()
	if err != nil {
		return err
	}
	if err := d.hw.Link.Send(proto.FrameControlAck, ack); err != nil {
		d.setError(ErrCodeLinkTx, err)
		return err
	}
	d.hw.Link.FlushRx()
	return nil
}

// HandleMessage runs one command.
func (d *Device) HandleMessage(m proto.Message) Result {
	d.msg.Printf("command %v: %d %d", m.Type, m.Value1, m.Value2)

	switch m.Type {
	case proto.Init:
		if d.inited {
			d.reset()
		}
		code := ErrorCode(d.lastErr.Swap(uint32(ErrCodeNone)))
		d.inited = true
		return Ack(int8(code))

	case proto.Reset:
		d.reset()
		return Ack(0)

	case proto.ReadEeprom:
		d.readEEPROM(int(m.Value1))
		return NoAck

	case proto.GainSet:
		d.gain = m.Value1
		return Ack(0)

	case proto.StartSamplingLink:
		d.hw.Indicator.SetLED(Green)
		d.hw.Indicator.Strobe(1)
		if err := d.startSampling(Stream); err != nil {
			return Ack(int8(d.LastError()))
		}
		return Ack(0)

	case proto.StartSamplingStorage:
		d.hw.Indicator.LEDOff(Green)
		if d.mode.Portable() {
			d.stopCapture()
			if err := d.hw.FS.Format(false); err != nil {
				d.halt(ErrCodeFsFormat, err)
				return NoAck
			}
		}
		d.hw.Indicator.SetLED(Red)
		d.hw.Indicator.Strobe(1)
		if err := d.startSampling(UsbStore); err != nil {
			return Ack(int8(d.LastError()))
		}
		return Ack(0)

	case proto.ReadStorageOverLink:
		d.stopSampling()
		d.hw.Indicator.LEDOn(Red)
		d.sendStoredFrame(uint32(m.Value1), uint32(m.Value2))
		d.hw.Indicator.LEDOff(Red)
		return NoAck

	case proto.GetSampleCount:
		d.reply(binary.LittleEndian.AppendUint32(nil, d.hw.Pipeline.SampleCount()))
		return NoAck

	case proto.GetGitHash:
		d.reply([]byte(d.hw.System.Revision()))
		return NoAck

	case proto.GetModePortable:
		if d.mode.Portable() {
			return Ack(1)
		}
		return Ack(0)

	case proto.SetRtc:
		d.hw.System.SetRTC(uint32(m.Value1)<<16 | uint32(m.Value2))
		return Ack(0)

	case proto.GetRtc:
		d.stopSampling()
		var s, ms uint32
		if err := d.hw.FS.Open(false, uint32(m.Value1)); err == nil {
			s, ms, _ = d.hw.FS.RtcGet()
		}
		p := binary.LittleEndian.AppendUint32(nil, s)
		d.reply(binary.LittleEndian.AppendUint32(p, ms))
		return NoAck

	case proto.SelfTest:
		return Ack(d.selfTest(m.Value1))
	}

	d.msg.Printf("unknown command %v", m.Type)
	return Ack(0)
}

// reply sends a typed reply in place of the short ack.
func (d *Device) reply(p []byte) {
	if err := d.hw.Link.Send(proto.FrameControlAck, p); err != nil {
		d.setError(ErrCodeLinkTx, err)
	}
}

func (d *Device) readEEPROM(n int) {
	buf := make([]byte, min(n, MaxEEPROMRead))
	n, err := d.hw.System.ReadEEPROM(buf)
	if err != nil {
		d.msg.Printf("could not read eeprom: %v", err)
	}
	d.reply(buf[:n])
}

// sendStoredFrame sends frame index of file seq as one Samples frame with
// the same sequence number. A missing file or a frame past the end of the
// file gives an empty frame.
func (d *Device) sendStoredFrame(seq, index uint32) {
	n := 0
	pos := uint64(index) * uint64(len(d.data))
	if pos <= math.MaxUint32 {
		n = d.readStored(seq, uint32(pos))
	}

	d.frame = proto.AppendSamples(d.frame[:0], index, d.data[:n])
	if err := d.hw.Link.Send(proto.FrameSamples, d.frame); err != nil {
		d.setError(ErrCodeLinkTx, err)
	}
}

func (d *Device) readStored(seq, pos uint32) int {
	if err := d.hw.FS.Open(false, seq); err != nil {
		d.msg.Printf("read file %d: %v", seq, err)
		return 0
	}
	if err := d.hw.FS.Seek(pos); err != nil {
		return 0
	}
	n, err := io.ReadFull(d.hw.FS, d.data)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		d.msg.Printf("read file %d at %d: %v", seq, pos, err)
	}
	return n
}

// selfTest runs the driver, ring buffer and filesystem self-tests and
// returns the first failure. Acquisition is stopped first; the ring buffer
// and the medium are overwritten.
func (d *Device) selfTest(arg uint16) int8 {
	d.msg.Printf("self test started")
	d.stopSampling()

	if ret := d.hw.System.SelfTest(arg); ret != 0 {
		return ret
	}
	if err := d.hw.Ring.SelfTest(); err != nil {
		d.msg.Printf("self test: %v", err)
		return int8(ErrCodeRingSelfTest)
	}
	if err := d.hw.FS.SelfTest(); err != nil {
		d.msg.Printf("self test: %v", err)
		return int8(ErrCodeFsSelfTest)
	}
	d.msg.Printf("self test passed")
	return 0
}
