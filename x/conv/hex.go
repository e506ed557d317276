package conv

const hexd = "0123456789ABCDEF"

// Hex8 appends v as two uppercase hex digits without 0x.
func Hex8(dst []byte, v byte) []byte {
	return append(dst, hexd[v>>4], hexd[v&0xF])
}

// Addr appends a bus address as 0xNN, or 0xNNN for 10-bit addresses.
func Addr(dst []byte, a uint16) []byte {
	dst = append(dst, '0', 'x')
	if a > 0xFF {
		dst = append(dst, hexd[(a>>8)&0xF])
	}
	return Hex8(dst, byte(a))
}

// Bytes appends data as space separated 0xNN values inside brackets.
func Bytes(dst []byte, data []byte) []byte {
	dst = append(dst, '[')
	for i, b := range data {
		if i > 0 {
			dst = append(dst, ' ')
		}
		dst = append(dst, '0', 'x')
		dst = Hex8(dst, b)
	}
	return append(dst, ']')
}
