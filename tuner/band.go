package tuner

import "fmt"

// Band selects the frequency range (SYSCONFIG2 BAND).
type Band uint8

// Band ranges
const (
	BandWide      Band = 0b00 // 87.5-108 MHz, US/Europe (default)
	BandJapanWide Band = 0b01 // 76-108 MHz
	BandJapan     Band = 0b10 // 76-90 MHz
)

// Spacing selects the channel spacing (SYSCONFIG2 SPACE).
type Spacing uint8

// Channel spacing codes
const (
	Spacing200kHz Spacing = 0b00 // US/Australia
	Spacing100kHz Spacing = 0b01 // Europe/Japan (default)
	Spacing50kHz  Spacing = 0b10
)

// DeEmphasis selects the audio de-emphasis time constant (SYSCONFIG1 DE).
type DeEmphasis uint8

// De-emphasis settings
const (
	DeEmphasis75us DeEmphasis = 0 // USA (default)
	DeEmphasis50us DeEmphasis = 1 // Europe, Australia, Japan
)

// BandLimits holds the band edges and channel step. All values are MHz x
// 100, so 10700 is 107.0 MHz and a step of 10 is 100 kHz.
type BandLimits struct {
	Lower   int `json:"lower"`
	Upper   int `json:"upper"`
	Spacing int `json:"spacing"`
}

// DefaultLimits are the limits of BandWide with Spacing100kHz.
var DefaultLimits = BandLimits{Lower: 8750, Upper: 10800, Spacing: 10}

// LimitsFor derives band limits from a band and spacing code. An
// unrecognized band or spacing keeps the matching part of prev.
func LimitsFor(prev BandLimits, band Band, spacing Spacing) BandLimits {
	l := prev

	switch band {
	case BandWide:
		l.Lower, l.Upper = 8750, 10800
	case BandJapanWide:
		l.Lower, l.Upper = 7600, 10800
	case BandJapan:
		l.Lower, l.Upper = 7600, 9000
	}

	switch spacing {
	case Spacing200kHz:
		l.Spacing = 20
	case Spacing100kHz:
		l.Spacing = 10
	case Spacing50kHz:
		l.Spacing = 5
	}

	return l
}

// Valid reports whether the limits can be used for channel arithmetic.
func (l BandLimits) Valid() bool {
	return l.Lower < l.Upper && l.Spacing > 0
}

// Clamp limits freq to the band.
func (l BandLimits) Clamp(freq int) int {
	if freq > l.Upper {
		freq = l.Upper
	}
	if freq < l.Lower {
		freq = l.Lower
	}
	return freq
}

// ChannelOf converts a frequency to a channel index, truncating.
func (l BandLimits) ChannelOf(freq int) uint16 {
	return uint16((l.Clamp(freq) - l.Lower) / l.Spacing)
}

// FrequencyOf converts a channel index to a frequency.
func (l BandLimits) FrequencyOf(ch uint16) int {
	return l.Spacing*int(ch) + l.Lower
}

// MaxChannel is the highest channel index inside the band.
func (l BandLimits) MaxChannel() uint16 {
	return l.ChannelOf(l.Upper)
}

func (l BandLimits) String() string {
	return fmt.Sprintf("%d.%02d-%d.%02d MHz step %d kHz",
		l.Lower/100, l.Lower%100, l.Upper/100, l.Upper%100, l.Spacing*10)
}

// ValidBand reports whether b is a known band code.
func ValidBand(b Band) bool {
	return b <= BandJapan
}

// ValidSpacing reports whether s is a known spacing code.
func ValidSpacing(s Spacing) bool {
	return s <= Spacing50kHz
}
