package dhcpopt

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/netutil"
)

// Parse builds the option with code c within f from its textual form, as
// written in the configuration file.  Lists are comma-separated, opaque values
// are either ASCII or "0x"-prefixed hex.
func Parse(f Family, c Code, text string) (opt Option, err error) {
	defer func() { err = errors.Annotate(err, "parsing %s option %d: %w", f, c) }()

	def, ok := lookup(f, c)
	if !ok {
		return nil, ErrUnknownCode
	}

	switch def.kind {
	case KindUint8, KindUint16, KindUint32:
		return parseUint(def.kind, c, text)
	case KindString:
		return NewString(c, text), nil
	case KindOpaque:
		return parseOpaque(c, text)
	case KindIP, KindIPList:
		return parseIPs(f, def.kind, c, text)
	case KindUint8List, KindUint16List:
		return parseUintList(def.kind, c, text)
	case KindDomainName, KindDomainNameList:
		return parseNames(def.kind, c, text)
	default:
		return nil, fmt.Errorf("kind %d: %w", def.kind, errors.ErrUnsupported)
	}
}

// splitList splits a comma-separated list and trims its elements.
func splitList(text string) (elems []string) {
	for s := range strings.SplitSeq(text, listSep) {
		elems = append(elems, strings.TrimSpace(s))
	}

	return elems
}

// parseUint parses a single unsigned number of kind k.
func parseUint(k Kind, c Code, text string) (opt Option, err error) {
	bitSize := 32
	switch k {
	case KindUint8:
		bitSize = 8
	case KindUint16:
		bitSize = 16
	}

	v, err := strconv.ParseUint(text, 0, bitSize)
	if err != nil {
		return nil, err
	}

	switch k {
	case KindUint8:
		return NewUint8(c, uint8(v)), nil
	case KindUint16:
		return NewUint16(c, uint16(v)), nil
	default:
		return NewUint32(c, uint32(v)), nil
	}
}

// parseOpaque parses an opaque value.
func parseOpaque(c Code, text string) (opt Option, err error) {
	h, ok := strings.CutPrefix(text, "0x")
	if !ok {
		return NewOpaque(c, []byte(text)), nil
	}

	data, err := hex.DecodeString(h)
	if err != nil {
		return nil, err
	}

	return NewOpaque(c, data), nil
}

// parseIPs parses an address or a list of addresses of family f.
func parseIPs(f Family, k Kind, c Code, text string) (opt Option, err error) {
	elems := splitList(text)
	if k == KindIP && len(elems) != 1 {
		return nil, fmt.Errorf("want exactly one address, got %d", len(elems))
	}

	ips := make([]netip.Addr, 0, len(elems))
	for i, s := range elems {
		var ip netip.Addr
		ip, err = netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("at index %d: %w", i, err)
		}

		if ip.Is4() != (f == FamilyV4) {
			return nil, fmt.Errorf("at index %d: address %s is not %s", i, ip, f)
		}

		ips = append(ips, ip)
	}

	if k == KindIP {
		return NewIP(c, ips[0]), nil
	}

	return NewIPList(c, ips...), nil
}

// parseUintList parses a list of unsigned numbers of kind k.
func parseUintList(k Kind, c Code, text string) (opt Option, err error) {
	bitSize := 8
	if k == KindUint16List {
		bitSize = 16
	}

	var vals []uint16
	for i, s := range splitList(text) {
		var v uint64
		v, err = strconv.ParseUint(s, 0, bitSize)
		if err != nil {
			return nil, fmt.Errorf("at index %d: %w", i, err)
		}

		vals = append(vals, uint16(v))
	}

	if k == KindUint16List {
		return NewUint16List(c, vals...), nil
	}

	bytes := make([]uint8, 0, len(vals))
	for _, v := range vals {
		bytes = append(bytes, uint8(v))
	}

	return NewUint8List(c, bytes...), nil
}

// parseNames parses a domain name or a list of domain names.
func parseNames(k Kind, c Code, text string) (opt Option, err error) {
	names := splitList(text)
	if k == KindDomainName && len(names) != 1 {
		return nil, fmt.Errorf("want exactly one domain name, got %d", len(names))
	}

	for i, name := range names {
		err = netutil.ValidateDomainName(strings.TrimSuffix(name, "."))
		if err != nil {
			return nil, fmt.Errorf("at index %d: %w", i, err)
		}
	}

	if k == KindDomainName {
		return NewDomainName(c, names[0])
	}

	return NewDomainNameList(c, names...)
}
