package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/itohio/pwrlog/pkg/config"
	"github.com/itohio/pwrlog/pkg/link"
	"github.com/itohio/pwrlog/pkg/sample"
)

type command struct {
	usage string
	help  string
	nargs [2]int // min, max
	run   func(ctx context.Context, args []string) error
}

// shell runs console commands against a device.
type shell struct {
	cfg  *config.Config
	dev  link.Device
	out  io.Writer
	fe   *sample.Frontend
	gain uint16
	cmds map[string]command
}

func newShell(cfg *config.Config, dev link.Device, out io.Writer) *shell {
	sh := &shell{
		cfg:  cfg,
		dev:  dev,
		out:  out,
		fe:   sample.NewFrontend(cfg.Frontend),
		gain: cfg.Acquisition.Gain,
	}
	sh.cmds = map[string]command{
		"help":     {"help", "list commands", [2]int{0, 0}, sh.help},
		"init":     {"init", "initialize the device and print the last error code", [2]int{0, 0}, sh.init},
		"reset":    {"reset", "stop sampling and reboot the device", [2]int{0, 0}, sh.reset},
		"gain":     {"gain N", "select gain index N for the next capture", [2]int{1, 1}, sh.setGain},
		"stream":   {"stream [N]", "stream N frames (10) and print their averages", [2]int{0, 1}, sh.stream},
		"store":    {"store", "start logging to a new file on the card", [2]int{0, 0}, sh.store},
		"read":     {"read SEQ FILE", "download file SEQ, as CSV when FILE ends in .csv", [2]int{2, 2}, sh.read},
		"rtc":      {"rtc SEQ", "print the creation time of file SEQ", [2]int{1, 1}, sh.rtc},
		"setrtc":   {"setrtc [UNIX]", "set the device clock (now)", [2]int{0, 1}, sh.setRTC},
		"portable": {"portable", "report whether the card is in portable mode", [2]int{0, 0}, sh.portable},
		"count":    {"count", "print the samples captured in this session", [2]int{0, 0}, sh.count},
		"rev":      {"rev", "print the firmware revision", [2]int{0, 0}, sh.rev},
		"eeprom":   {"eeprom [N]", "dump N bytes (100) of the EEPROM", [2]int{0, 1}, sh.eeprom},
		"selftest": {"selftest [ARG]", "run the destructive self test", [2]int{0, 1}, sh.selfTest},
		"press":    {"press", "press the button of a simulated device", [2]int{0, 0}, sh.button(false)},
		"hold":     {"hold", "hold the button of a simulated device", [2]int{0, 0}, sh.button(true)},
	}
	return sh
}

func (sh *shell) names() []string {
	names := make([]string, 0, len(sh.cmds))
	for name := range sh.cmds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (sh *shell) exec(ctx context.Context, args []string) error {
	cmd, ok := sh.cmds[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}
	n := len(args) - 1
	if n < cmd.nargs[0] || n > cmd.nargs[1] {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	return cmd.run(ctx, args[1:])
}

func (sh *shell) help(context.Context, []string) error {
	for _, name := range sh.names() {
		cmd := sh.cmds[name]
		fmt.Fprintf(sh.out, "  %-16s %s\n", cmd.usage, cmd.help)
	}
	return nil
}

func (sh *shell) init(ctx context.Context, _ []string) error {
	code, err := sh.dev.Init(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "last error: %d\n", code)
	return nil
}

func (sh *shell) reset(ctx context.Context, _ []string) error {
	return sh.dev.Reset(ctx)
}

func (sh *shell) setGain(ctx context.Context, args []string) error {
	g, err := parseU16(args[0])
	if err != nil {
		return err
	}
	if err := sh.dev.SetGain(ctx, g); err != nil {
		return err
	}
	sh.gain = g
	return nil
}

func (sh *shell) stream(ctx context.Context, args []string) error {
	n := 10
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return fmt.Errorf("invalid frame count %q", args[0])
		}
		n = v
	}

	frames := sh.dev.Frames()
	for len(frames) > 0 {
		<-frames
	}
	if err := sh.dev.StartStream(ctx); err != nil {
		return err
	}
	// Streaming only stops with a reset.
	defer sh.dev.Reset(context.WithoutCancel(ctx))

	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				return link.ErrClosed
			}
			var v, c float32
			for _, raw := range f.Samples {
				s := sh.fe.Convert(raw, sh.gain)
				v += s.Voltage
				c += s.Current
			}
			if k := float32(len(f.Samples)); k > 0 {
				v, c = v/k, c/k
			}
			fmt.Fprintf(sh.out, "frame %6d: %3d samples  V=%.3fV  I=%.3fmA  P=%.3fmW\n",
				f.Seq, len(f.Samples), v, c*1e3, v*c*1e3)
		}
	}
	return nil
}

func (sh *shell) store(ctx context.Context, _ []string) error {
	return sh.dev.StartStore(ctx)
}

func (sh *shell) read(ctx context.Context, args []string) error {
	seq, err := parseU16(args[0])
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	n, err := sh.dev.ReadFile(ctx, seq, &buf)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("file %d is empty or does not exist", seq)
	}

	name := args[1]
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(name), ".csv") {
		created, err := sh.dev.GetRTC(ctx, seq)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "file %d: created %s\n", seq, created.UTC().Format(time.RFC3339Nano))
		err = writeCSV(f, sh.fe, sh.gain, sh.cfg.Acquisition.SamplePeriod, buf.Bytes())
		if err != nil {
			return fmt.Errorf("could not write %s: %w", name, err)
		}
	} else if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("could not write %s: %w", name, err)
	}

	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "file %d: %d bytes (%d samples) written to %s\n", seq, n, n/sample.RawSize, name)
	return nil
}

// writeCSV converts stored raw samples to physical values, one row per
// sample. Time is relative to the start of the file.
func writeCSV(w io.Writer, fe *sample.Frontend, gain uint16, period time.Duration, data []byte) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"t_s", "voltage_v", "current_a", "power_w"}); err != nil {
		return err
	}
	for k, raw := range sample.DecodeRaw(nil, data) {
		s := fe.Convert(raw, gain)
		err := cw.Write([]string{
			strconv.FormatFloat((time.Duration(k) * period).Seconds(), 'f', 6, 64),
			strconv.FormatFloat(float64(s.Voltage), 'g', 6, 32),
			strconv.FormatFloat(float64(s.Current), 'g', 6, 32),
			strconv.FormatFloat(float64(s.Power), 'g', 6, 32),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (sh *shell) rtc(ctx context.Context, args []string) error {
	seq, err := parseU16(args[0])
	if err != nil {
		return err
	}
	t, err := sh.dev.GetRTC(ctx, seq)
	if err != nil {
		return err
	}
	if t.IsZero() {
		fmt.Fprintf(sh.out, "file %d: no such file\n", seq)
		return nil
	}
	fmt.Fprintf(sh.out, "file %d: created %s\n", seq, t.UTC().Format(time.RFC3339Nano))
	return nil
}

func (sh *shell) setRTC(ctx context.Context, args []string) error {
	t := time.Now()
	if len(args) > 0 {
		s, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid unix time %q", args[0])
		}
		t = time.Unix(int64(s), 0)
	}
	return sh.dev.SetRTC(ctx, t)
}

func (sh *shell) portable(ctx context.Context, _ []string) error {
	ok, err := sh.dev.IsPortable(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "portable: %v\n", ok)
	return nil
}

func (sh *shell) count(ctx context.Context, _ []string) error {
	n, err := sh.dev.SampleCount(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "samples: %d\n", n)
	return nil
}

func (sh *shell) rev(ctx context.Context, _ []string) error {
	rev, err := sh.dev.GitHash(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "revision: %s\n", rev)
	return nil
}

func (sh *shell) eeprom(ctx context.Context, args []string) error {
	n := uint16(100)
	if len(args) > 0 {
		v, err := parseU16(args[0])
		if err != nil {
			return err
		}
		n = v
	}
	p, err := sh.dev.ReadEEPROM(ctx, n)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "eeprom: % x  %q\n", p, p)
	return nil
}

func (sh *shell) selfTest(ctx context.Context, args []string) error {
	var arg uint16
	if len(args) > 0 {
		v, err := parseU16(args[0])
		if err != nil {
			return err
		}
		arg = v
	}
	code, err := sh.dev.SelfTest(ctx, arg)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("self test failed: code %d", code)
	}
	fmt.Fprintln(sh.out, "self test: ok")
	return nil
}

func (sh *shell) button(hold bool) func(context.Context, []string) error {
	return func(context.Context, []string) error {
		m, ok := sh.dev.(*link.Mock)
		if !ok {
			return fmt.Errorf("the button can only be driven on a simulated device")
		}
		if hold {
			m.Hold()
		} else {
			m.Press()
		}
		return nil
	}
}

func parseU16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	return uint16(v), nil
}
