// Command pwrlog-ctl controls a power logger over its host link.
//
// Without arguments it starts an interactive console. Otherwise the
// arguments are run as a single console command:
//
//	pwrlog-ctl -p /dev/ttyACM0 read 1 run1.csv
package main // import "github.com/itohio/pwrlog/cmd/pwrlog-ctl"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/itohio/pwrlog/pkg/config"
	"github.com/itohio/pwrlog/pkg/link"
	"github.com/itohio/pwrlog/pkg/sim"
)

func main() {
	var (
		cfgFlag  = flag.String("config", "config.yaml", "configuration file path")
		portFlag = flag.String("p", "", "serial port override (e.g., COM3 or /dev/ttyACM0)")
		mockFlag = flag.Bool("mock", false, "use an in-process simulated device")
		verbose  = flag.Bool("v", false, "print link and device log messages")
	)

	flag.Parse()

	log.SetPrefix("pwrlog-ctl: ")
	log.SetFlags(0)

	cfg, err := config.Load(*cfgFlag)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}

	msg := log.New(io.Discard, "", 0)
	if *verbose {
		msg = log.New(os.Stderr, "link: ", 0)
	}

	dev, err := connect(cfg, *mockFlag, msg)
	if err != nil {
		log.Fatalf("could not connect: %+v", err)
	}
	defer dev.Close()

	sh := newShell(cfg, dev, os.Stdout)
	if flag.NArg() > 0 {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := sh.exec(ctx, flag.Args()); err != nil {
			dev.Close()
			log.Fatalf("%+v", err)
		}
		return
	}

	if err := interactive(sh); err != nil {
		log.Printf("%+v", err)
	}
}

func connect(cfg *config.Config, mock bool, msg *log.Logger) (link.Device, error) {
	if mock {
		return link.NewMock(cfg, []sim.Option{sim.WithLogger(msg)}, link.WithLogger(msg))
	}
	return link.Dial(cfg.Serial.Port, cfg.Serial.BaudRate, link.WithLogger(msg))
}

func historyFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "pwrlog", "history")
}

func interactive(sh *shell) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(func(line string) []string {
		var out []string
		for _, name := range sh.names() {
			if strings.HasPrefix(name, line) {
				out = append(out, name)
			}
		}
		return out
	})

	hist := historyFile()
	if hist != "" {
		if f, err := os.Open(hist); err == nil {
			_, _ = term.ReadHistory(f)
			f.Close()
		}
		defer func() {
			if err := os.MkdirAll(filepath.Dir(hist), 0o755); err != nil {
				return
			}
			if f, err := os.Create(hist); err == nil {
				_, _ = term.WriteHistory(f)
				f.Close()
			}
		}()
	}

	fmt.Fprintln(sh.out, `type "help" for the list of commands.`)
	for {
		line, err := term.Prompt("pwrlog> ")
		switch {
		case err == nil:
		case errors.Is(err, liner.ErrPromptAborted), errors.Is(err, io.EOF):
			return nil
		default:
			return fmt.Errorf("could not read command: %w", err)
		}

		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		term.AppendHistory(line)
		if args[0] == "quit" || args[0] == "exit" {
			return nil
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		err = sh.exec(ctx, args)
		stop()
		if err != nil {
			fmt.Fprintf(sh.out, "error: %v\n", err)
		}
	}
}
