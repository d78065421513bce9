package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/pwrlog/pkg/link"
)

const commandTimeout = 5 * time.Second

// createGainSelect creates the gain selector. A new gain restarts the
// measurement chain so that the conversion follows it.
func createGainSelect(state *appState) *widget.Select {
	options := make([]string, len(state.cfg.Frontend.Gains))
	for i, g := range state.cfg.Frontend.Gains {
		options[i] = fmt.Sprintf("x%g", g)
	}
	sel := widget.NewSelect(options, nil)
	if int(state.cfg.Acquisition.Gain) < len(options) {
		sel.SetSelected(options[state.cfg.Acquisition.Gain])
	}
	sel.OnChanged = func(string) {
		idx := uint16(sel.SelectedIndex())
		if idx == state.cfg.Acquisition.Gain {
			return
		}
		state.cfg.Acquisition.Gain = idx
		reconnect(state)
	}
	return sel
}

// createDeviceActions creates the buttons acting on a connected device.
func createDeviceActions(state *appState) []fyne.CanvasObject {
	streamBtn := widget.NewButtonWithIcon("Stream", theme.MediaPlayIcon(), func() {
		runCommand(state, "start streaming", func(ctx context.Context, dev link.Device) error {
			return dev.StartStream(ctx)
		})
	})
	storeBtn := widget.NewButtonWithIcon("Store", theme.MediaRecordIcon(), func() {
		runCommand(state, "start logging", func(ctx context.Context, dev link.Device) error {
			return dev.StartStore(ctx)
		})
	})
	downloadBtn := widget.NewButtonWithIcon("Download", theme.DownloadIcon(), func() {
		showDownloadDialog(state)
	})

	state.deviceBtns = []*widget.Button{streamBtn, storeBtn, downloadBtn}
	setDeviceButtons(state, false)

	objs := make([]fyne.CanvasObject, len(state.deviceBtns))
	for i, b := range state.deviceBtns {
		objs[i] = b
	}
	return objs
}

// setDeviceButtons enables or disables the device actions.
func setDeviceButtons(state *appState, connected bool) {
	for _, b := range state.deviceBtns {
		if connected {
			b.Enable()
		} else {
			b.Disable()
		}
	}
	if connected {
		state.connectBtn.Importance = widget.HighImportance
	} else {
		state.connectBtn.Importance = widget.MediumImportance
	}
	state.connectBtn.Refresh()
}

// runCommand runs a device command off the UI thread and reports failures.
func runCommand(state *appState, what string, f func(ctx context.Context, dev link.Device) error) {
	dev := state.device
	if dev == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := f(ctx, dev); err != nil {
			fyne.Do(func() {
				dialog.ShowError(fmt.Errorf("failed to %s: %w", what, err), state.window)
			})
		}
	}()
}

// showDownloadDialog asks for a file sequence and a destination and
// downloads the file. Live streaming resumes afterwards.
func showDownloadDialog(state *appState) {
	seqEntry := widget.NewEntry()
	seqEntry.SetText("1")
	seqEntry.Validator = func(s string) error {
		_, err := strconv.ParseUint(s, 10, 16)
		return err
	}

	items := []*widget.FormItem{{Text: "File", Widget: seqEntry}}
	dialog.ShowForm("Download file", "Next", "Cancel", items, func(ok bool) {
		if !ok {
			return
		}
		seq, _ := strconv.ParseUint(seqEntry.Text, 10, 16)

		save := dialog.NewFileSave(func(w fyne.URIWriteCloser, err error) {
			if err != nil {
				dialog.ShowError(err, state.window)
				return
			}
			if w == nil {
				return
			}
			runCommand(state, "download file", func(_ context.Context, dev link.Device) error {
				defer w.Close()
				// Files can be large: no overall timeout.
				n, err := dev.ReadFile(context.Background(), uint16(seq), w)
				if err != nil {
					return err
				}
				fyne.Do(func() {
					dialog.ShowInformation("Download", fmt.Sprintf("%d bytes written to %s", n, w.URI().Name()), state.window)
				})
				ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
				defer cancel()
				return dev.StartStream(ctx)
			})
		}, state.window)
		save.SetFileName(fmt.Sprintf("pwrlog-%04d.bin", seq))
		save.Show()
	}, state.window)
}
