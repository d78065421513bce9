// Command pwrview displays live voltage, current and power from a power
// logger.
package main // import "github.com/itohio/pwrlog/cmd/pwrview"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/pwrlog/pkg/config"
	"github.com/itohio/pwrlog/pkg/link"
	"github.com/itohio/pwrlog/pkg/meter"
	"github.com/itohio/pwrlog/pkg/sample"
	"github.com/itohio/pwrlog/pkg/scope"
	"github.com/itohio/pwrlog/pkg/sim"
)

func main() {
	var (
		portFlag           = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag         = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag           = flag.Bool("mock", false, "Use a simulated device instead of the serial port")
		averageSamplesFlag = flag.Int("average-samples", -1, "Number of samples to average (0 = disabled, overrides config)")
	)
	flag.Parse()

	log.SetPrefix("pwrview: ")
	log.SetFlags(0)

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *averageSamplesFlag >= 0 {
		cfg.Measurement.AverageSamples = *averageSamplesFlag
	}

	application := app.NewWithID("com.itohio.pwrlog")

	window := application.NewWindow("Power Logger")
	window.Resize(fyne.NewSize(1200, 800))
	window.CenterOnScreen()

	state := &appState{
		cfg:        cfg,
		cfgFile:    *configFlag,
		powerMeter: meter.New(cfg),
		window:     window,
		useMock:    *mockFlag,
	}

	toolbar := createToolbar(state)
	state.scopeWidget = scope.New(cfg)
	registerScopeUpdates(state)

	window.SetContent(container.NewBorder(toolbar, nil, nil, nil, state.scopeWidget))
	window.SetOnClosed(func() {
		closeMeasurementChain(state.chain)
	})
	window.ShowAndRun()
}

// measurementChain tracks the components of the measurement chain for
// graceful shutdown.
type measurementChain struct {
	device         link.Device
	samplesStream  <-chan sample.Sample
	meterGoroutine chan struct{} // Closed when meter goroutine exits
}

// appState holds the application state.
type appState struct {
	cfg         *config.Config
	cfgFile     string
	device      link.Device
	powerMeter  *meter.Meter
	scopeWidget *scope.ScopeWidget
	window      fyne.Window
	connectBtn  *widget.Button
	deviceBtns  []*widget.Button // enabled while connected
	gainSelect  *widget.Select
	useMock     bool
	chain       *measurementChain // nil if not connected

	// Throttling for scope updates
	lastUpdateTime time.Time
	updateMu       sync.Mutex
}

// createToolbar creates the application toolbar with Connect, Settings and
// the device actions.
func createToolbar(state *appState) fyne.CanvasObject {
	connectBtn := widget.NewButtonWithIcon("", theme.LoginIcon(), func() {
		handleConnect(state)
	})
	state.connectBtn = connectBtn

	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), func() {
		showSettingsDialog(state)
	})

	state.gainSelect = createGainSelect(state)
	actions := createDeviceActions(state)

	return container.NewBorder(
		nil,
		nil,
		container.NewHBox(connectBtn, settingsBtn),
		container.NewHBox(append([]fyne.CanvasObject{state.gainSelect}, actions...)...),
		nil,
	)
}

// closeMeasurementChain closes the device and waits for the chain to drain.
func closeMeasurementChain(chain *measurementChain) {
	if chain == nil {
		return
	}

	// Closing the device closes its frames channel, which ends the
	// converters and then the meter.
	if chain.device != nil {
		chain.device.Close()
	}
	if chain.meterGoroutine != nil {
		<-chain.meterGoroutine
	}
}

func connectDevice(state *appState) (link.Device, error) {
	msg := log.New(os.Stdout, "link: ", 0)
	if state.useMock {
		return link.NewMock(state.cfg, []sim.Option{sim.WithLogger(log.New(io.Discard, "", 0))}, link.WithLogger(msg))
	}
	return link.Dial(state.cfg.Serial.Port, state.cfg.Serial.BaudRate, link.WithLogger(msg))
}

// handleConnect handles the connect/disconnect button click.
func handleConnect(state *appState) {
	if state.device != nil {
		closeMeasurementChain(state.chain)
		state.chain = nil
		state.device = nil
		setDeviceButtons(state, false)
		log.Printf("disconnected")
		return
	}

	device, err := connectDevice(state)
	if err != nil {
		dialog.ShowError(fmt.Errorf("failed to connect to %s: %w", state.cfg.Serial.Port, err), state.window)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := startStream(ctx, state, device); err != nil {
		device.Close()
		dialog.ShowError(err, state.window)
		return
	}
	state.device = device
	setDeviceButtons(state, true)
	log.Printf("connected")

	state.powerMeter.Reset()
	state.powerMeter.ResetShutdown()

	// Chain converters: base converter always used, averaging converter
	// when enabled.
	samplesStream := sample.NewConverter(state.cfg, state.cfg.Acquisition.Gain, 500)(device.Frames())
	if state.cfg.Measurement.AverageSamples > 0 {
		samplesStream = sample.NewAveragingConverter(state.cfg.Measurement.AverageSamples, 500)(samplesStream)
	}

	meterDone := make(chan struct{})
	go func() {
		defer close(meterDone)
		state.powerMeter.ProcessSamples(samplesStream)
	}()

	state.chain = &measurementChain{
		device:         device,
		samplesStream:  samplesStream,
		meterGoroutine: meterDone,
	}
}

// registerScopeUpdates forwards meter updates to the scope widget.
func registerScopeUpdates(state *appState) {
	// Throttle updates to ~60 FPS to keep the UI smooth.
	const updateInterval = 16 * time.Millisecond
	state.powerMeter.OnUpdate(func(samples []sample.Sample, stats meter.Stats) {
		state.updateMu.Lock()
		now := time.Now()
		if now.Sub(state.lastUpdateTime) < updateInterval {
			state.updateMu.Unlock()
			return
		}
		state.lastUpdateTime = now
		state.updateMu.Unlock()

		fyne.Do(func() {
			state.scopeWidget.UpdateData(samples, stats)
		})
	})
}

// startStream initializes the device, sets its clock and gain and starts
// streaming.
func startStream(ctx context.Context, state *appState, device link.Device) error {
	code, err := device.Init(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize device: %w", err)
	}
	if code != 0 {
		log.Printf("device reported error code %d", code)
	}
	if err := device.SetRTC(ctx, time.Now()); err != nil {
		return fmt.Errorf("failed to set device clock: %w", err)
	}
	if err := device.SetGain(ctx, state.cfg.Acquisition.Gain); err != nil {
		return fmt.Errorf("failed to set gain: %w", err)
	}
	if err := device.StartStream(ctx); err != nil {
		return fmt.Errorf("failed to start streaming: %w", err)
	}
	return nil
}
