// Package tuner controls a Silicon Labs Si4703 FM receiver.
//
// The host keeps an Image of the sixteen 16-bit registers. A Bus moves the
// image to and from the chip in the two transactions the chip supports: a
// 32-byte read of the whole register file starting at STATUSRSSI, and a
// 12-byte write of POWERCFG through TEST1. Every operation of the Tuner is
// a read-modify-write of that image.
//
// Buses are provided for a kernel I2C adapter (I2CBus), for two GPIO lines
// driven directly (GPIOWire with WireBus) and for an in-memory chip
// (SimChip). ResetLines selects the two-wire interface on the chip's reset
// pin before either hardware bus is used.
//
// Frequencies are integers in units of 10 kHz: 10700 is 107.0 MHz.
package tuner
