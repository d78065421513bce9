package main

import (
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/pwrlog/pkg/link"
	"github.com/itohio/pwrlog/pkg/meter"
)

// showSettingsDialog displays a settings dialog with tabs for all configuration options.
func showSettingsDialog(state *appState) {
	tabs := container.NewAppTabs(
		createSerialTab(state),
		createFrontendTab(state),
		createAcquisitionTab(state),
		createMeasurementTab(state),
		createMockTab(state),
	)

	content := container.NewBorder(nil, nil, nil, nil, tabs)
	content.Resize(fyne.NewSize(600, 500))

	d := dialog.NewCustom("Settings", "Close", content, state.window)
	d.Resize(fyne.NewSize(600, 500))
	d.Show()
}

func saveConfig(state *appState) {
	if err := state.cfg.Save(state.cfgFile); err != nil {
		dialog.ShowError(fmt.Errorf("failed to save config: %w", err), state.window)
	}
}

// reconnect restarts the measurement chain so that new settings apply.
func reconnect(state *appState) {
	if state.device == nil {
		return
	}
	handleConnect(state)
	handleConnect(state)
}

func floatEntry(v float64, format string) *widget.Entry {
	e := widget.NewEntry()
	e.SetText(fmt.Sprintf(format, v))
	return e
}

func durationEntry(d time.Duration) *widget.Entry {
	e := widget.NewEntry()
	e.SetText(d.String())
	return e
}

func intEntry(v int) *widget.Entry {
	e := widget.NewEntry()
	e.SetText(strconv.Itoa(v))
	return e
}

// createSerialTab creates the Serial configuration tab.
func createSerialTab(state *appState) *container.TabItem {
	ports, err := link.Ports()
	portOptions := []string{}
	if err == nil {
		for _, port := range ports {
			portOptions = append(portOptions, port.Name)
		}
	}

	// Add current port if not in list
	currentPort := state.cfg.Serial.Port
	found := false
	for _, opt := range portOptions {
		if opt == currentPort {
			found = true
			break
		}
	}
	if !found && currentPort != "" {
		portOptions = append(portOptions, currentPort)
	}

	portSelect := widget.NewSelect(portOptions, nil)
	if currentPort != "" {
		portSelect.SetSelected(currentPort)
	}
	baudEntry := intEntry(state.cfg.Serial.BaudRate)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Serial Port", Widget: portSelect},
			{Text: "Baud Rate", Widget: baudEntry},
		},
		OnSubmit: func() {
			changed := false
			if portSelect.Selected != "" && portSelect.Selected != state.cfg.Serial.Port {
				state.cfg.Serial.Port = portSelect.Selected
				changed = true
			}
			if b, err := strconv.Atoi(baudEntry.Text); err == nil && b != state.cfg.Serial.BaudRate {
				state.cfg.Serial.BaudRate = b
				changed = true
			}
			saveConfig(state)
			if changed && !state.useMock {
				reconnect(state)
			}
		},
	}

	return container.NewTabItem("Serial", form)
}

// createFrontendTab creates the analog front end configuration tab.
func createFrontendTab(state *appState) *container.TabItem {
	fe := &state.cfg.Frontend
	vrefEntry := floatEntry(fe.VRef, "%.4f")
	bitsEntry := intEntry(fe.Bits)
	dividerEntry := floatEntry(fe.VoltageDivider, "%.3f")
	shuntEntry := floatEntry(fe.ShuntOhms, "%.4f")

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "VRef (V)", Widget: vrefEntry},
			{Text: "ADC Bits", Widget: bitsEntry},
			{Text: "Voltage Divider", Widget: dividerEntry},
			{Text: "Shunt (Ω)", Widget: shuntEntry},
		},
		OnSubmit: func() {
			if v, err := strconv.ParseFloat(vrefEntry.Text, 64); err == nil {
				fe.VRef = v
			}
			if b, err := strconv.Atoi(bitsEntry.Text); err == nil {
				fe.Bits = b
			}
			if d, err := strconv.ParseFloat(dividerEntry.Text, 64); err == nil {
				fe.VoltageDivider = d
			}
			if r, err := strconv.ParseFloat(shuntEntry.Text, 64); err == nil {
				fe.ShuntOhms = r
			}
			saveConfig(state)
			reconnect(state)
		},
	}

	return container.NewTabItem("Front End", form)
}

// createAcquisitionTab creates the sampling configuration tab. Sampling
// settings are fixed in firmware and only apply to the simulated device.
func createAcquisitionTab(state *appState) *container.TabItem {
	acq := &state.cfg.Acquisition
	perFrameEntry := intEntry(acq.SamplesPerFrame)
	periodEntry := durationEntry(acq.SamplePeriod)
	calEntry := intEntry(acq.CalibrationFrames)
	settleEntry := durationEntry(acq.Settle)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Samples per Frame", Widget: perFrameEntry},
			{Text: "Sample Period", Widget: periodEntry},
			{Text: "Calibration Frames", Widget: calEntry},
			{Text: "Settle Delay", Widget: settleEntry},
		},
		OnSubmit: func() {
			if n, err := strconv.Atoi(perFrameEntry.Text); err == nil && n > 0 {
				acq.SamplesPerFrame = n
			}
			if d, err := time.ParseDuration(periodEntry.Text); err == nil && d > 0 {
				acq.SamplePeriod = d
			}
			if n, err := strconv.Atoi(calEntry.Text); err == nil && n >= 0 {
				acq.CalibrationFrames = n
			}
			if d, err := time.ParseDuration(settleEntry.Text); err == nil {
				acq.Settle = d
			}
			saveConfig(state)
			reconnect(state)
		},
	}

	return container.NewTabItem("Acquisition", form)
}

// createMeasurementTab creates the Measurement configuration tab.
func createMeasurementTab(state *appState) *container.TabItem {
	windowSecondsEntry := floatEntry(state.cfg.Measurement.WindowSeconds, "%.1f")
	averageSamplesEntry := intEntry(state.cfg.Measurement.AverageSamples)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Window (seconds)", Widget: windowSecondsEntry},
			{Text: "Average Samples (0=disabled)", Widget: averageSamplesEntry},
		},
		OnSubmit: func() {
			if ws, err := strconv.ParseFloat(windowSecondsEntry.Text, 64); err == nil && ws > 0 {
				state.cfg.Measurement.WindowSeconds = ws
			}
			if avg, err := strconv.Atoi(averageSamplesEntry.Text); err == nil && avg >= 0 {
				state.cfg.Measurement.AverageSamples = avg
			}
			saveConfig(state)

			// Recreate power meter with new config
			wasConnected := state.device != nil
			if wasConnected {
				handleConnect(state)
			}
			state.powerMeter = meter.New(state.cfg)
			registerScopeUpdates(state)
			if wasConnected {
				handleConnect(state)
			}
		},
	}

	return container.NewTabItem("Measurement", form)
}

// createMockTab creates the simulated device configuration tab.
func createMockTab(state *appState) *container.TabItem {
	mock := &state.cfg.Mock
	voltageEntry := floatEntry(mock.Voltage, "%.3f")
	currentEntry := floatEntry(mock.Current, "%.4f")
	rippleEntry := floatEntry(mock.Ripple, "%.3f")
	noiseLevelEntry := floatEntry(mock.NoiseLevel, "%.4f")
	periodEntry := durationEntry(mock.Period)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Voltage (V)", Widget: voltageEntry},
			{Text: "Current (A)", Widget: currentEntry},
			{Text: "Ripple (relative)", Widget: rippleEntry},
			{Text: "Noise Level (relative)", Widget: noiseLevelEntry},
			{Text: "Ripple Period", Widget: periodEntry},
		},
		OnSubmit: func() {
			if v, err := strconv.ParseFloat(voltageEntry.Text, 64); err == nil {
				mock.Voltage = v
			}
			if c, err := strconv.ParseFloat(currentEntry.Text, 64); err == nil {
				mock.Current = c
			}
			if r, err := strconv.ParseFloat(rippleEntry.Text, 64); err == nil {
				mock.Ripple = r
			}
			if nl, err := strconv.ParseFloat(noiseLevelEntry.Text, 64); err == nil {
				mock.NoiseLevel = nl
			}
			if p, err := time.ParseDuration(periodEntry.Text); err == nil && p > 0 {
				mock.Period = p
			}
			saveConfig(state)
			if state.useMock {
				reconnect(state)
			}
		},
	}

	return container.NewTabItem("Mock", form)
}
