// Command pwrlog-sim serves a simulated power logger on a serial port.
//
// Lines read from stdin drive the device button: "press" (or an empty line)
// for a short press, "hold" for a long press.
package main // import "github.com/itohio/pwrlog/cmd/pwrlog-sim"

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/itohio/pwrlog"
	"github.com/itohio/pwrlog/pkg/config"
	"github.com/itohio/pwrlog/pkg/link"
	"github.com/itohio/pwrlog/pkg/sim"
)

func main() {
	var (
		cfgFlag    = flag.String("config", "config.yaml", "configuration file path")
		portFlag   = flag.String("p", "", "serial port override (e.g., /dev/ttyGS0 or one end of a pty pair)")
		baudFlag   = flag.Int("baud", 0, "baud rate override")
		bufferFlag = flag.String("buffer", "", "file backing the sample ring buffer")
		imageFlag  = flag.String("image", "", "card image file")
		remoteFlag = flag.Bool("remote-log", false, "send the device log to the host")
		tickFlag   = flag.Duration("tick", sim.DefaultTick, "device scheduling period")
		listFlag   = flag.Bool("list", false, "list serial ports and exit")
	)

	flag.Parse()

	log.SetPrefix("pwrlog-sim: ")
	log.SetFlags(0)

	if *listFlag {
		listPorts()
		return
	}

	cfg, err := config.Load(*cfgFlag)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *baudFlag != 0 {
		cfg.Serial.BaudRate = *baudFlag
	}
	if *bufferFlag != "" {
		cfg.Buffer.File = *bufferFlag
	}
	if *imageFlag != "" {
		cfg.Storage.Image = *imageFlag
	}

	opts := []sim.Option{sim.WithTick(*tickFlag)}
	if *remoteFlag {
		opts = append(opts, sim.WithRemoteLog())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, os.Stdin, opts...); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, buttons io.Reader, opts ...sim.Option) error {
	port, err := link.OpenPort(cfg.Serial.Port, cfg.Serial.BaudRate)
	if err != nil {
		return err
	}

	r, err := sim.New(cfg, port, opts...)
	if err != nil {
		port.Close()
		return err
	}
	defer r.Close()

	go readButtons(buttons, r)

	log.Printf("serving %s (rev %s)...", cfg.Serial.Port, pwrlog.Revision())
	start := time.Now()
	err = r.Run(ctx)
	log.Printf("stopped after %v", time.Since(start).Round(time.Second))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func readButtons(in io.Reader, r *sim.Runner) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		switch cmd := strings.TrimSpace(sc.Text()); cmd {
		case "", "press", "p":
			r.Press()
		case "hold", "h":
			r.Hold()
		default:
			log.Printf("unknown button action %q (want press or hold)", cmd)
		}
	}
}

func listPorts() {
	ports, err := link.Ports()
	if err != nil {
		log.Fatalf("%+v", err)
	}
	for _, p := range ports {
		log.Printf("%s", p.Name)
	}
}
