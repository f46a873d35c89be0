package tuner

// Reg is an Si4703 register address.
type Reg uint8

// Si4703 register addresses
const (
	// Identification (read-only)
	RegDeviceID Reg = 0x00 // Part number and manufacturer id
	RegChipID   Reg = 0x01 // Revision, device and firmware

	// Control (read-write, written as one burst starting at RegPowerCfg)
	RegPowerCfg   Reg = 0x02 // Power, mute, mono and seek control
	RegChannel    Reg = 0x03 // Channel select and tune start
	RegSysConfig1 Reg = 0x04 // GPIO, de-emphasis, AGC and RDS enables
	RegSysConfig2 Reg = 0x05 // Seek threshold, band, spacing and volume
	RegSysConfig3 Reg = 0x06 // Soft mute, extended volume and seek qualifiers
	RegTest1      Reg = 0x07 // Oscillator and audio high-Z enables

	// Reserved, read back but never written
	RegTest2      Reg = 0x08
	RegBootConfig Reg = 0x09

	// Status (read-only)
	RegStatusRSSI Reg = 0x0A // STC, SF/BL, stereo and RSSI
	RegReadChan   Reg = 0x0B // Current channel and RDS block errors
	RegRDSA       Reg = 0x0C
	RegRDSB       Reg = 0x0D
	RegRDSC       Reg = 0x0E
	RegRDSD       Reg = 0x0F
)

// NumRegs is the size of the register file.
const NumRegs = 16

// readOrder is the order in which the device returns registers in a read
// burst: the status block first, then wrap around to 0x00.
var readOrder = [NumRegs]Reg{
	RegStatusRSSI, RegReadChan, RegRDSA, RegRDSB, RegRDSC, RegRDSD,
	RegDeviceID, RegChipID, RegPowerCfg, RegChannel,
	RegSysConfig1, RegSysConfig2, RegSysConfig3, RegTest1, RegTest2, RegBootConfig,
}

// writeOrder is the register subset written in a write burst. The device
// always starts writing at RegPowerCfg and auto-increments.
var writeOrder = [...]Reg{
	RegPowerCfg, RegChannel, RegSysConfig1, RegSysConfig2, RegSysConfig3, RegTest1,
}

// WriteCount is the number of registers in a write burst.
const WriteCount = len(writeOrder)

// RegisterDescriptions names every register for register dumps.
var RegisterDescriptions = map[Reg]string{
	RegDeviceID:   "DEVICEID - Part number / manufacturer",
	RegChipID:     "CHIPID - Revision / device / firmware",
	RegPowerCfg:   "POWERCFG - Power and seek control",
	RegChannel:    "CHANNEL - Channel select / tune",
	RegSysConfig1: "SYSCONFIG1 - GPIO, DE, AGC, RDS",
	RegSysConfig2: "SYSCONFIG2 - Seek threshold, band, space, volume",
	RegSysConfig3: "SYSCONFIG3 - Softmute, VOLEXT, seek qualifiers",
	RegTest1:      "TEST1 - Oscillator / audio high-Z",
	RegTest2:      "TEST2 - Reserved",
	RegBootConfig: "BOOTCONFIG - Reserved",
	RegStatusRSSI: "STATUSRSSI - Status and RSSI",
	RegReadChan:   "READCHAN - Current channel",
	RegRDSA:       "RDSA - RDS block A",
	RegRDSB:       "RDSB - RDS block B",
	RegRDSC:       "RDSC - RDS block C",
	RegRDSD:       "RDSD - RDS block D",
}

// Writable reports whether the register is part of the write burst.
func (r Reg) Writable() bool {
	return r >= RegPowerCfg && r <= RegTest1
}

func bit(w uint16, n uint) bool {
	return w&(1<<n) != 0
}

func setBit(w *uint16, n uint, v bool) {
	if v {
		*w |= 1 << n
	}
}

func field(w uint16, shift, width uint) uint16 {
	return (w >> shift) & (1<<width - 1)
}

func putField(w *uint16, shift, width uint, v uint16) {
	*w |= (v & (1<<width - 1)) << shift
}

// GPIOMode is the state of one of the three GPIO pins.
type GPIOMode uint8

// GPIO pin states
const (
	GPIOHighZ   GPIOMode = 0b00 // High impedance (default)
	GPIOSpecial GPIOMode = 0b01 // STC/RDS interrupt or stereo indicator
	GPIOLow     GPIOMode = 0b10
	GPIOHigh    GPIOMode = 0b11
)

// PowerCfg is register 0x02.
type PowerCfg struct {
	DSMute   bool // Softmute disable
	DMute    bool // Mute disable: true means audio is on
	Mono     bool
	RDSM     bool // RDS verbose mode
	SKMode   bool // true stops seek at the band limit
	SeekUp   bool
	Seek     bool
	Disable  bool
	Enable   bool
	Reserved uint16
}

const powerCfgReserved uint16 = 0x1000 | 0x0080 | 0x003E

// DecodePowerCfg unpacks a POWERCFG word.
func DecodePowerCfg(w uint16) PowerCfg {
	return PowerCfg{
		DSMute:   bit(w, 15),
		DMute:    bit(w, 14),
		Mono:     bit(w, 13),
		RDSM:     bit(w, 11),
		SKMode:   bit(w, 10),
		SeekUp:   bit(w, 9),
		Seek:     bit(w, 8),
		Disable:  bit(w, 6),
		Enable:   bit(w, 0),
		Reserved: w & powerCfgReserved,
	}
}

// Encode packs the register into its wire word.
func (p PowerCfg) Encode() uint16 {
	w := p.Reserved & powerCfgReserved
	setBit(&w, 15, p.DSMute)
	setBit(&w, 14, p.DMute)
	setBit(&w, 13, p.Mono)
	setBit(&w, 11, p.RDSM)
	setBit(&w, 10, p.SKMode)
	setBit(&w, 9, p.SeekUp)
	setBit(&w, 8, p.Seek)
	setBit(&w, 6, p.Disable)
	setBit(&w, 0, p.Enable)
	return w
}

// Channel is register 0x03.
type Channel struct {
	Tune     bool
	Chan     uint16 // 10-bit channel index
	Reserved uint16
}

const channelReserved uint16 = 0x7C00

// DecodeChannel unpacks a CHANNEL word.
func DecodeChannel(w uint16) Channel {
	return Channel{
		Tune:     bit(w, 15),
		Chan:     field(w, 0, 10),
		Reserved: w & channelReserved,
	}
}

// Encode packs the register into its wire word.
func (c Channel) Encode() uint16 {
	w := c.Reserved & channelReserved
	setBit(&w, 15, c.Tune)
	putField(&w, 0, 10, c.Chan)
	return w
}

// SysConfig1 is register 0x04.
type SysConfig1 struct {
	RDSIEN   bool
	STCIEN   bool
	RDS      bool
	DE       bool // De-emphasis: false 75 us, true 50 us
	AGCD     bool
	BlendAdj uint8
	GPIO3    GPIOMode
	GPIO2    GPIOMode
	GPIO1    GPIOMode
	Reserved uint16
}

const sysConfig1Reserved uint16 = 0x2000 | 0x0300

// DecodeSysConfig1 unpacks a SYSCONFIG1 word.
func DecodeSysConfig1(w uint16) SysConfig1 {
	return SysConfig1{
		RDSIEN:   bit(w, 15),
		STCIEN:   bit(w, 14),
		RDS:      bit(w, 12),
		DE:       bit(w, 11),
		AGCD:     bit(w, 10),
		BlendAdj: uint8(field(w, 6, 2)),
		GPIO3:    GPIOMode(field(w, 4, 2)),
		GPIO2:    GPIOMode(field(w, 2, 2)),
		GPIO1:    GPIOMode(field(w, 0, 2)),
		Reserved: w & sysConfig1Reserved,
	}
}

// Encode packs the register into its wire word.
func (s SysConfig1) Encode() uint16 {
	w := s.Reserved & sysConfig1Reserved
	setBit(&w, 15, s.RDSIEN)
	setBit(&w, 14, s.STCIEN)
	setBit(&w, 12, s.RDS)
	setBit(&w, 11, s.DE)
	setBit(&w, 10, s.AGCD)
	putField(&w, 6, 2, uint16(s.BlendAdj))
	putField(&w, 4, 2, uint16(s.GPIO3))
	putField(&w, 2, 2, uint16(s.GPIO2))
	putField(&w, 0, 2, uint16(s.GPIO1))
	return w
}

// SysConfig2 is register 0x05. It has no reserved bits.
type SysConfig2 struct {
	SeekTh uint8 // RSSI seek threshold
	Band   uint8
	Space  uint8
	Volume uint8
}

// DecodeSysConfig2 unpacks a SYSCONFIG2 word.
func DecodeSysConfig2(w uint16) SysConfig2 {
	return SysConfig2{
		SeekTh: uint8(field(w, 8, 8)),
		Band:   uint8(field(w, 6, 2)),
		Space:  uint8(field(w, 4, 2)),
		Volume: uint8(field(w, 0, 4)),
	}
}

// Encode packs the register into its wire word.
func (s SysConfig2) Encode() uint16 {
	var w uint16
	putField(&w, 8, 8, uint16(s.SeekTh))
	putField(&w, 6, 2, uint16(s.Band))
	putField(&w, 4, 2, uint16(s.Space))
	putField(&w, 0, 4, uint16(s.Volume))
	return w
}

// SysConfig3 is register 0x06.
type SysConfig3 struct {
	SMuteR   uint8 // Softmute attack/recover rate
	SMuteA   uint8 // Softmute attenuation
	VolExt   bool
	SKSNR    uint8 // Seek SNR threshold
	SKCNT    uint8 // Seek FM impulse detection threshold
	Reserved uint16
}

const sysConfig3Reserved uint16 = 0x0E00

// DecodeSysConfig3 unpacks a SYSCONFIG3 word.
func DecodeSysConfig3(w uint16) SysConfig3 {
	return SysConfig3{
		SMuteR:   uint8(field(w, 14, 2)),
		SMuteA:   uint8(field(w, 12, 2)),
		VolExt:   bit(w, 8),
		SKSNR:    uint8(field(w, 4, 4)),
		SKCNT:    uint8(field(w, 0, 4)),
		Reserved: w & sysConfig3Reserved,
	}
}

// Encode packs the register into its wire word.
func (s SysConfig3) Encode() uint16 {
	w := s.Reserved & sysConfig3Reserved
	putField(&w, 14, 2, uint16(s.SMuteR))
	putField(&w, 12, 2, uint16(s.SMuteA))
	setBit(&w, 8, s.VolExt)
	putField(&w, 4, 4, uint16(s.SKSNR))
	putField(&w, 0, 4, uint16(s.SKCNT))
	return w
}

// Test1 is register 0x07. The low 14 bits are reserved and must be
// written back as read.
type Test1 struct {
	XOSCEN   bool
	AHIZEN   bool
	Reserved uint16
}

const test1Reserved uint16 = 0x3FFF

// DecodeTest1 unpacks a TEST1 word.
func DecodeTest1(w uint16) Test1 {
	return Test1{
		XOSCEN:   bit(w, 15),
		AHIZEN:   bit(w, 14),
		Reserved: w & test1Reserved,
	}
}

// Encode packs the register into its wire word.
func (t Test1) Encode() uint16 {
	w := t.Reserved & test1Reserved
	setBit(&w, 15, t.XOSCEN)
	setBit(&w, 14, t.AHIZEN)
	return w
}

// DeviceID is register 0x00.
type DeviceID struct {
	PN    uint8
	MFGID uint16
}

// DecodeDeviceID unpacks a DEVICEID word.
func DecodeDeviceID(w uint16) DeviceID {
	return DeviceID{PN: uint8(field(w, 12, 4)), MFGID: field(w, 0, 12)}
}

// Encode packs the register into its wire word.
func (d DeviceID) Encode() uint16 {
	var w uint16
	putField(&w, 12, 4, uint16(d.PN))
	putField(&w, 0, 12, d.MFGID)
	return w
}

// ChipID is register 0x01.
type ChipID struct {
	Rev      uint8
	Dev      uint8
	Firmware uint8
}

// DecodeChipID unpacks a CHIPID word.
func DecodeChipID(w uint16) ChipID {
	return ChipID{
		Rev:      uint8(field(w, 10, 6)),
		Dev:      uint8(field(w, 6, 4)),
		Firmware: uint8(field(w, 0, 6)),
	}
}

// Encode packs the register into its wire word.
func (c ChipID) Encode() uint16 {
	var w uint16
	putField(&w, 10, 6, uint16(c.Rev))
	putField(&w, 6, 4, uint16(c.Dev))
	putField(&w, 0, 6, uint16(c.Firmware))
	return w
}

// StatusRSSI is register 0x0A.
type StatusRSSI struct {
	RDSR  bool // RDS ready
	STC   bool // Seek/tune complete
	SFBL  bool // Seek fail / band limit
	AFCRL bool // AFC rail
	RDSS  bool // RDS synchronized
	BLERA uint8
	ST    bool // Stereo indicator
	RSSI  uint8
}

// DecodeStatusRSSI unpacks a STATUSRSSI word.
func DecodeStatusRSSI(w uint16) StatusRSSI {
	return StatusRSSI{
		RDSR:  bit(w, 15),
		STC:   bit(w, 14),
		SFBL:  bit(w, 13),
		AFCRL: bit(w, 12),
		RDSS:  bit(w, 11),
		BLERA: uint8(field(w, 9, 2)),
		ST:    bit(w, 8),
		RSSI:  uint8(field(w, 0, 8)),
	}
}

// Encode packs the register into its wire word.
func (s StatusRSSI) Encode() uint16 {
	var w uint16
	setBit(&w, 15, s.RDSR)
	setBit(&w, 14, s.STC)
	setBit(&w, 13, s.SFBL)
	setBit(&w, 12, s.AFCRL)
	setBit(&w, 11, s.RDSS)
	putField(&w, 9, 2, uint16(s.BLERA))
	setBit(&w, 8, s.ST)
	putField(&w, 0, 8, uint16(s.RSSI))
	return w
}

// ReadChan is register 0x0B.
type ReadChan struct {
	BLERB    uint8
	BLERC    uint8
	BLERD    uint8
	ReadChan uint16
}

// DecodeReadChan unpacks a READCHAN word.
func DecodeReadChan(w uint16) ReadChan {
	return ReadChan{
		BLERB:    uint8(field(w, 14, 2)),
		BLERC:    uint8(field(w, 12, 2)),
		BLERD:    uint8(field(w, 10, 2)),
		ReadChan: field(w, 0, 10),
	}
}

// Encode packs the register into its wire word.
func (r ReadChan) Encode() uint16 {
	var w uint16
	putField(&w, 14, 2, uint16(r.BLERB))
	putField(&w, 12, 2, uint16(r.BLERC))
	putField(&w, 10, 2, uint16(r.BLERD))
	putField(&w, 0, 10, r.ReadChan)
	return w
}
