package tuner

import (
	"sync"
)

// Identification words reported by the simulator (Si4703-C19).
const (
	SimDeviceID uint16 = 0x1242
	SimChipID   uint16 = 0x1253
)

// simNoiseRSSI is the RSSI reported away from any station.
const simNoiseRSSI = 8

// SimStation is a transmitter heard by the simulator.
type SimStation struct {
	Frequency int   `yaml:"frequency" json:"frequency"`
	RSSI      uint8 `yaml:"rssi" json:"rssi"`
	Stereo    bool  `yaml:"stereo" json:"stereo"`
}

// SimChip is an in-memory Si4703 behind the Bus interface. It models the
// power sequence, tune and seek with STC and SF/BL, and lets callers inject
// bus failures. It is safe for concurrent use.
type SimChip struct {
	mu       sync.Mutex
	regs     Image
	stations map[int]SimStation

	pending   bool // a tune or seek has not raised STC yet
	busyReads int
	tuneReads int
	stuckSTC  bool

	failReads  int
	failWrites int

	reads  int
	writes []Image
}

// NewSimChip returns a chip in its reset state hearing the given stations.
func NewSimChip(stations ...SimStation) *SimChip {
	s := &SimChip{stations: make(map[int]SimStation, len(stations))}
	for _, st := range stations {
		s.stations[st.Frequency] = st
	}
	s.regs.putDeviceID(DecodeDeviceID(SimDeviceID))
	s.regs.putChipID(DecodeChipID(SimChipID))
	s.regs.SetTest1(DecodeTest1(0x0100))
	return s
}

// SetTuneReads sets how many reads a tune or seek stays busy before STC
// goes high.
func (s *SimChip) SetTuneReads(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tuneReads = n
}

// SetStuckSTC keeps STC low forever when on.
func (s *SimChip) SetStuckSTC(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stuckSTC = on
}

// FailReads makes the next n reads fail with an address NACK.
func (s *SimChip) FailReads(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReads = n
}

// FailWrites makes the next n writes fail with an address NACK.
func (s *SimChip) FailWrites(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = n
}

// Reads returns the number of successful reads.
func (s *SimChip) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Writes returns the images of all successful writes in order.
func (s *SimChip) Writes() []Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Image, len(s.writes))
	copy(out, s.writes)
	return out
}

// Registers returns the chip's register file.
func (s *SimChip) Registers() Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs
}

func (s *SimChip) powered() bool {
	pc := s.regs.PowerCfg()
	return s.regs.Test1().XOSCEN && pc.Enable && !pc.Disable
}

func (s *SimChip) limits() BandLimits {
	sc2 := s.regs.SysConfig2()
	return LimitsFor(DefaultLimits, Band(sc2.Band), Spacing(sc2.Space))
}

// ReadAll implements Bus.
func (s *SimChip) ReadAll() (Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failReads > 0 {
		s.failReads--
		return Image{}, &BusError{Op: "read", Phase: PhaseAddress, Err: ErrNack}
	}

	if s.pending && !s.stuckSTC {
		if s.busyReads > 0 {
			s.busyReads--
		}
		if s.busyReads == 0 {
			s.pending = false
			st := s.regs.StatusRSSI()
			st.STC = true
			s.regs.putStatusRSSI(st)
		}
	}
	s.refreshSignal()

	s.reads++
	return s.regs, nil
}

// refreshSignal updates RSSI and the stereo indicator for the current
// channel.
func (s *SimChip) refreshSignal() {
	st := s.regs.StatusRSSI()
	st.RSSI, st.ST = 0, false
	if s.powered() {
		freq := s.limits().FrequencyOf(s.regs.ReadChan().ReadChan)
		st.RSSI = simNoiseRSSI
		if station, ok := s.stations[freq]; ok {
			st.RSSI = station.RSSI
			st.ST = station.Stereo && !s.regs.PowerCfg().Mono
		}
	}
	s.regs.putStatusRSSI(st)
}

// WriteSubset implements Bus.
func (s *SimChip) WriteSubset(img Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWrites > 0 {
		s.failWrites--
		return &BusError{Op: "write", Phase: PhaseAddress, Err: ErrNack}
	}

	oldPC, oldCh := s.regs.PowerCfg(), s.regs.Channel()
	for _, reg := range writeOrder {
		s.regs.words[reg] = img.Word(reg)
	}
	s.writes = append(s.writes, img)

	pc, ch := s.regs.PowerCfg(), s.regs.Channel()

	if (oldCh.Tune && !ch.Tune) || (oldPC.Seek && !pc.Seek) {
		s.pending = false
		st := s.regs.StatusRSSI()
		st.STC, st.SFBL = false, false
		s.regs.putStatusRSSI(st)
	}

	if !s.powered() {
		return nil
	}

	switch {
	case ch.Tune && !oldCh.Tune:
		chn := ch.Chan
		if last := s.limits().MaxChannel(); chn > last {
			chn = last
		}
		s.regs.putReadChan(ReadChan{ReadChan: chn})
		s.begin(false)
	case pc.Seek && !oldPC.Seek:
		chn, found := s.seek(s.regs.ReadChan().ReadChan, pc.SeekUp, !pc.SKMode)
		s.regs.putReadChan(ReadChan{ReadChan: chn})
		s.begin(!found)
	}
	return nil
}

func (s *SimChip) begin(sfbl bool) {
	s.pending = true
	s.busyReads = s.tuneReads
	st := s.regs.StatusRSSI()
	st.STC = false
	st.SFBL = sfbl
	s.regs.putStatusRSSI(st)
}

// seek walks the band from start, exclusive, and stops at the first
// station at or above SEEKTH. Without wrap it stops at the band edge.
func (s *SimChip) seek(start uint16, up, wrap bool) (uint16, bool) {
	l := s.limits()
	last := l.MaxChannel()
	th := s.regs.SysConfig2().SeekTh

	ch := start
	for i := 0; i <= int(last); i++ {
		switch {
		case up && ch >= last:
			if !wrap {
				return last, false
			}
			ch = 0
		case up:
			ch++
		case ch == 0:
			if !wrap {
				return 0, false
			}
			ch = last
		default:
			ch--
		}

		if st, ok := s.stations[l.FrequencyOf(ch)]; ok && st.RSSI >= th {
			return ch, true
		}
	}
	return start, false
}
