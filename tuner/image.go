package tuner

// Image is the host-side copy of the whole register file, indexed by
// register address. It is only known to match the device right after a
// successful SyncFrom, and only known to be applied right after a
// successful FlushTo. Changes in between are local staging.
//
// Registers outside the write burst (identification, status, RDS) have
// getters only.
type Image struct {
	words [NumRegs]uint16
}

// ImageFromWire builds an image from 16 words in read-burst order.
func ImageFromWire(words [NumRegs]uint16) Image {
	var img Image
	for i, reg := range readOrder {
		img.words[reg] = words[i]
	}
	return img
}

// Wire returns the registers in read-burst order.
func (img Image) Wire() [NumRegs]uint16 {
	var words [NumRegs]uint16
	for i, reg := range readOrder {
		words[i] = img.words[reg]
	}
	return words
}

// Word returns the raw value of a register.
func (img Image) Word(reg Reg) uint16 {
	return img.words[reg&0x0F]
}

// SyncFrom replaces the image with a fresh read of the device. On error the
// image keeps its previous contents.
func (img *Image) SyncFrom(bus Bus) error {
	fresh, err := bus.ReadAll()
	if err != nil {
		return err
	}
	*img = fresh
	return nil
}

// FlushTo writes the control registers of the image to the device.
func (img Image) FlushTo(bus Bus) error {
	return bus.WriteSubset(img)
}

// Field views of the cached registers. Each getter decodes the word last
// read from the device or set locally.
func (img Image) PowerCfg() PowerCfg     { return DecodePowerCfg(img.words[RegPowerCfg]) }
func (img Image) Channel() Channel       { return DecodeChannel(img.words[RegChannel]) }
func (img Image) SysConfig1() SysConfig1 { return DecodeSysConfig1(img.words[RegSysConfig1]) }
func (img Image) SysConfig2() SysConfig2 { return DecodeSysConfig2(img.words[RegSysConfig2]) }
func (img Image) SysConfig3() SysConfig3 { return DecodeSysConfig3(img.words[RegSysConfig3]) }
func (img Image) Test1() Test1           { return DecodeTest1(img.words[RegTest1]) }
func (img Image) DeviceID() DeviceID     { return DecodeDeviceID(img.words[RegDeviceID]) }
func (img Image) ChipID() ChipID         { return DecodeChipID(img.words[RegChipID]) }
func (img Image) StatusRSSI() StatusRSSI { return DecodeStatusRSSI(img.words[RegStatusRSSI]) }
func (img Image) ReadChan() ReadChan     { return DecodeReadChan(img.words[RegReadChan]) }

// Setters encode a field view into the image. Only the control registers
// have one, and a change reaches the device on the next FlushTo.
func (img *Image) SetPowerCfg(v PowerCfg)     { img.words[RegPowerCfg] = v.Encode() }
func (img *Image) SetChannel(v Channel)       { img.words[RegChannel] = v.Encode() }
func (img *Image) SetSysConfig1(v SysConfig1) { img.words[RegSysConfig1] = v.Encode() }
func (img *Image) SetSysConfig2(v SysConfig2) { img.words[RegSysConfig2] = v.Encode() }
func (img *Image) SetSysConfig3(v SysConfig3) { img.words[RegSysConfig3] = v.Encode() }
func (img *Image) SetTest1(v Test1)           { img.words[RegTest1] = v.Encode() }

// The device owns these registers; only the simulator writes them.
func (img *Image) putDeviceID(v DeviceID)     { img.words[RegDeviceID] = v.Encode() }
func (img *Image) putChipID(v ChipID)         { img.words[RegChipID] = v.Encode() }
func (img *Image) putStatusRSSI(v StatusRSSI) { img.words[RegStatusRSSI] = v.Encode() }
func (img *Image) putReadChan(v ReadChan)     { img.words[RegReadChan] = v.Encode() }
