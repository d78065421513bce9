package control

// Press handles a short button press. In portable mode it starts a new
// recording, or stops the running one.
func (d *Device) Press() {
	if d.halted {
		return
	}

	switch d.mode {
	case PortIdle:
		d.hw.Indicator.SetLED(Red)
		if err := d.startSampling(PortStore); err != nil {
			return
		}
		// sequence of the file being recorded
		d.hw.Indicator.Strobe(d.hw.FS.FileSeq())
	case PortStore:
		d.stopSampling()
	}
}

// Hold handles a long button press: acquisition stops and the medium is
// formatted for portable use. All stored files are lost.
func (d *Device) Hold() {
	if d.halted {
		return
	}

	d.stopSampling()
	if err := d.hw.FS.Format(true); err != nil {
		d.halt(ErrCodeFsFormat, err)
		return
	}
	d.mode = PortIdle

	// the next recording is file 1
	d.hw.Indicator.Strobe(d.hw.FS.FileSeq() + 1)
	d.hw.Indicator.LEDOn(Green)
	d.msg.Printf("formatted for portable use")
}
