package sna

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrUnknownFlag        = errors.New("unknown snapshot flag")
	ErrIndexOutOfRange    = errors.New("snapshot flag index out of range")
	ErrValueTooLarge      = errors.New("value too large for snapshot flag")
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
	ErrNotASnapshot       = errors.New("not a CPC snapshot")
)

// flagInfo describes one header field: its base offset, element size and
// element count (1 for scalars).
type flagInfo struct {
	base    int
	size    int
	nbElems int
}

// flagTable is the closed 67-member taxonomy of SNASET-addressable
// header fields.
var flagTable = map[string]flagInfo{
	"Z80_AF":   {0x11, 2, 1},
	"Z80_F":    {0x11, 1, 1},
	"Z80_A":    {0x12, 1, 1},
	"Z80_BC":   {0x13, 2, 1},
	"Z80_C":    {0x13, 1, 1},
	"Z80_B":    {0x14, 1, 1},
	"Z80_DE":   {0x15, 2, 1},
	"Z80_E":    {0x15, 1, 1},
	"Z80_D":    {0x16, 1, 1},
	"Z80_HL":   {0x17, 2, 1},
	"Z80_L":    {0x17, 1, 1},
	"Z80_H":    {0x18, 1, 1},
	"Z80_R":    {0x19, 1, 1},
	"Z80_I":    {0x1A, 1, 1},
	"Z80_IFF0": {0x1B, 1, 1},
	"Z80_IFF1": {0x1C, 1, 1},
	"Z80_IX":   {0x1D, 2, 1},
	"Z80_IXL":  {0x1D, 1, 1},
	"Z80_IXH":  {0x1E, 1, 1},
	"Z80_IY":   {0x1F, 2, 1},
	"Z80_IYL":  {0x1F, 1, 1},
	"Z80_IYH":  {0x20, 1, 1},
	"Z80_SP":   {0x21, 2, 1},
	"Z80_PC":   {0x23, 2, 1},
	"Z80_IM":   {0x25, 1, 1},
	"Z80_AFX":  {0x26, 2, 1},
	"Z80_FX":   {0x26, 1, 1},
	"Z80_AX":   {0x27, 1, 1},
	"Z80_BCX":  {0x28, 2, 1},
	"Z80_CX":   {0x28, 1, 1},
	"Z80_BX":   {0x29, 1, 1},
	"Z80_DEX":  {0x2A, 2, 1},
	"Z80_EX":   {0x2A, 1, 1},
	"Z80_DX":   {0x2B, 1, 1},
	"Z80_HLX":  {0x2C, 2, 1},
	"Z80_LX":   {0x2C, 1, 1},
	"Z80_HX":   {0x2D, 1, 1},

	"GA_PEN":    {0x2E, 1, 1},
	"GA_PAL":    {0x2F, 1, 17},
	"GA_ROMCFG": {0x40, 1, 1},
	"GA_RAMCFG": {0x41, 1, 1},

	"CRTC_SEL": {0x42, 1, 1},
	"CRTC_REG": {0x43, 1, 18},

	"ROM_UP":  {0x55, 1, 1},
	"PPI_A":   {0x56, 1, 1},
	"PPI_B":   {0x57, 1, 1},
	"PPI_C":   {0x58, 1, 1},
	"PPI_CTL": {0x59, 1, 1},

	"PSG_SEL": {0x5A, 1, 1},
	"PSG_REG": {0x5B, 1, 16},

	"CPC_TYPE":     {0x6D, 1, 1},
	"INT_NUM":      {0x6E, 1, 1},
	"GA_MULTIMODE": {0x6F, 1, 6},

	"FDD_MOTOR": {0x9C, 1, 1},
	"FDD_TRACK": {0x9D, 1, 1},
	"PRNT_DATA": {0xA1, 1, 1},

	"CRTC_TYPE":  {0xA4, 1, 1},
	"CRTC_HCC":   {0xA9, 1, 1},
	"CRTC_CLC":   {0xAB, 1, 1},
	"CRTC_RLC":   {0xAC, 1, 1},
	"CRTC_VAC":   {0xAD, 1, 1},
	"CRTC_VSWC":  {0xAE, 1, 1},
	"CRTC_HSWC":  {0xAF, 1, 1},
	"CRTC_STATE": {0xB0, 2, 1},

	"GA_VSC":  {0xB2, 1, 1},
	"GA_ISC":  {0xB3, 1, 1},
	"INT_REQ": {0xB4, 1, 1},
}

// Flag addresses one header field, optionally one element of an indexed
// array (palette, CRTC registers, PSG registers, multimode bytes).
type Flag struct {
	Name  string
	Index int
	info  flagInfo
}

// ParseFlag resolves "NAME" or "NAME:INDEX"
func ParseFlag(s string) (Flag, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	index := 0
	indexed := false
	if idx := strings.IndexByte(name, ':'); idx >= 0 {
		v, err := strconv.Atoi(strings.TrimSpace(name[idx+1:]))
		if err != nil {
			return Flag{}, fmt.Errorf("%w: bad index in %q", ErrUnknownFlag, s)
		}
		name, index, indexed = name[:idx], v, true
	}
	info, ok := flagTable[name]
	if !ok {
		return Flag{}, fmt.Errorf("%w: %s", ErrUnknownFlag, name)
	}
	if indexed && info.nbElems == 1 {
		return Flag{}, fmt.Errorf("%w: %s is not indexed", ErrUnknownFlag, name)
	}
	if index < 0 || index >= info.nbElems {
		return Flag{}, fmt.Errorf("%w: %s:%d (max %d)", ErrIndexOutOfRange,
			name, index, info.nbElems-1)
	}
	return Flag{Name: name, Index: index, info: info}, nil
}

// Offset is the absolute header offset of the addressed element
func (f Flag) Offset() int { return f.info.base + f.Index*f.info.size }

// ElemSize is the element width in bytes (little-endian when 2)
func (f Flag) ElemSize() int { return f.info.size }

// NbElems is the element count of the field
func (f Flag) NbElems() int { return f.info.nbElems }

// AllFlags lists the flag names, for help output
func AllFlags() []string {
	names := make([]string, 0, len(flagTable))
	for name := range flagTable {
		names = append(names, name)
	}
	return names
}
