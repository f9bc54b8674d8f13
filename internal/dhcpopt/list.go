package dhcpopt

import (
	"encoding/binary"
	"slices"
)

// maxLen4 is the maximum payload length of a single DHCPv4 option.
const maxLen4 = 255

// AppendOption4 appends the DHCPv4 TLV encoding of opt to b.  Payloads longer
// than 255 bytes are split into several options with the same code, see
// RFC 3396.
func AppendOption4(b []byte, opt Option) (res []byte) {
	code := byte(opt.Code())
	data := opt.Append(make([]byte, 0, opt.Len()))
	if len(data) == 0 {
		return append(b, code, 0)
	}

	res = b
	for chunk := range slices.Chunk(data, maxLen4) {
		res = append(res, code, byte(len(chunk)))
		res = append(res, chunk...)
	}

	return res
}

// AppendOption6 appends the DHCPv6 TLV encoding of opt to b.
func AppendOption6(b []byte, opt Option) (res []byte) {
	res = binary.BigEndian.AppendUint16(b, uint16(opt.Code()))
	res = binary.BigEndian.AppendUint16(res, uint16(opt.Len()))

	return opt.Append(res)
}

// DecodeList4 decodes a DHCPv4 option stream.  Pad options are skipped and the
// end option finishes the stream.  Decoding stops without an error at the
// first option that is truncated, has an unknown code, or has a malformed
// payload, returning the options decoded before it.  Split options are
// concatenated, see RFC 3396.
func DecodeList4(data []byte) (opts Options) {
	opts = Options{}

	var order []Code
	payloads := map[Code][]byte{}

	for len(data) > 0 {
		c := Code(data[0])
		if c == Code4Pad {
			data = data[1:]

			continue
		} else if c == Code4End {
			break
		}

		if len(data) < 2 || len(data) < 2+int(data[1]) || !Known(FamilyV4, c) {
			break
		}

		l := int(data[1])
		if _, ok := payloads[c]; !ok {
			order = append(order, c)
		}

		payloads[c] = append(payloads[c], data[2:2+l]...)
		data = data[2+l:]
	}

	for _, c := range order {
		opt, err := Decode(FamilyV4, c, payloads[c])
		if err != nil {
			break
		}

		opts.Set(opt)
	}

	return opts
}

// DecodeList6 decodes a DHCPv6 option stream in wire order.  Decoding stops
// without an error at the first option that is truncated, has an unknown code,
// or has a malformed payload, returning the options decoded before it.
func DecodeList6(data []byte) (opts []Option) {
	for len(data) >= 4 {
		c := Code(binary.BigEndian.Uint16(data))
		l := int(binary.BigEndian.Uint16(data[2:]))
		if len(data) < 4+l {
			break
		}

		opt, err := Decode(FamilyV6, c, data[4:4+l])
		if err != nil {
			break
		}

		opts = append(opts, opt)
		data = data[4+l:]
	}

	return opts
}
