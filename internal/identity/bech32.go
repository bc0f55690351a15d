// ABOUTME: Minimal bech32 codec for npub-form public keys
// ABOUTME: Implements BIP-173 checksum, decode and encode for 32-byte payloads

package identity

import (
	"errors"
	"fmt"
	"strings"
)

const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

var bech32Generator = [5]uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}

func bech32Polymod(values []byte) uint32 {
	chk := uint32(1)
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i := 0; i < 5; i++ {
			if (top>>uint(i))&1 == 1 {
				chk ^= bech32Generator[i]
			}
		}
	}
	return chk
}

func bech32HRPExpand(hrp string) []byte {
	out := make([]byte, 0, len(hrp)*2+1)
	for _, c := range hrp {
		out = append(out, byte(c)>>5)
	}
	out = append(out, 0)
	for _, c := range hrp {
		out = append(out, byte(c)&31)
	}
	return out
}

func bech32VerifyChecksum(hrp string, data []byte) bool {
	return bech32Polymod(append(bech32HRPExpand(hrp), data...)) == 1
}

func bech32CreateChecksum(hrp string, data []byte) []byte {
	values := append(append(bech32HRPExpand(hrp), data...), 0, 0, 0, 0, 0, 0)
	polymod := bech32Polymod(values) ^ 1
	checksum := make([]byte, 6)
	for i := 0; i < 6; i++ {
		checksum[i] = byte(polymod >> uint(5*(5-i)) & 31)
	}
	return checksum
}

// bech32Decode splits and checksums a lowercase bech32 string, returning the
// human-readable part and the 5-bit data payload without the checksum.
func bech32Decode(s string) (string, []byte, error) {
	if len(s) > 90 {
		return "", nil, errors.New("bech32 string too long")
	}
	pos := strings.LastIndexByte(s, '1')
	if pos < 1 || pos+7 > len(s) {
		return "", nil, errors.New("bech32 separator misplaced")
	}
	hrp := s[:pos]
	data := make([]byte, 0, len(s)-pos-1)
	for _, c := range s[pos+1:] {
		idx := strings.IndexRune(bech32Charset, c)
		if idx < 0 {
			return "", nil, fmt.Errorf("invalid bech32 character %q", c)
		}
		data = append(data, byte(idx))
	}
	if !bech32VerifyChecksum(hrp, data) {
		return "", nil, errors.New("bech32 checksum mismatch")
	}
	return hrp, data[:len(data)-6], nil
}

func bech32Encode(hrp string, data []byte) string {
	combined := append(data, bech32CreateChecksum(hrp, data)...)
	var b strings.Builder
	b.WriteString(hrp)
	b.WriteByte('1')
	for _, d := range combined {
		b.WriteByte(bech32Charset[d])
	}
	return b.String()
}

// convertBits regroups the payload between 8-bit bytes and 5-bit bech32
// groups. With pad false, leftover bits must be zero.
func convertBits(data []byte, fromBits, toBits uint, pad bool) ([]byte, error) {
	var acc uint32
	var bits uint
	maxv := uint32(1)<<toBits - 1
	out := make([]byte, 0, len(data)*int(fromBits)/int(toBits)+1)
	for _, v := range data {
		if uint32(v)>>fromBits != 0 {
			return nil, fmt.Errorf("invalid data value %d", v)
		}
		acc = acc<<fromBits | uint32(v)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, byte(acc>>bits&maxv))
		}
	}
	if pad {
		if bits > 0 {
			out = append(out, byte(acc<<(toBits-bits)&maxv))
		}
	} else if bits >= fromBits || acc<<(toBits-bits)&maxv != 0 {
		return nil, errors.New("invalid padding bits")
	}
	return out, nil
}
