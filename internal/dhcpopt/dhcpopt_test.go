package dhcpopt_test

import (
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/insomniacslk/dhcp/iana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Common addresses for tests.
var (
	testIPv4    = netip.MustParseAddr("192.0.2.1")
	testIPv4Alt = netip.MustParseAddr("192.0.2.2")
	testIPv6    = netip.MustParseAddr("2001:db8::1")
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		opt  dhcpopt.Option
		name string
		fam  dhcpopt.Family
	}{{
		opt:  dhcpopt.NewUint8(dhcpopt.Code4MessageType, 5),
		name: "uint8",
		fam:  dhcpopt.FamilyV4,
	}, {
		opt:  dhcpopt.NewUint16(dhcpopt.Code4MaxMessageSize, 1500),
		name: "uint16",
		fam:  dhcpopt.FamilyV4,
	}, {
		opt:  dhcpopt.NewUint32(dhcpopt.Code4LeaseTime, 3600),
		name: "uint32",
		fam:  dhcpopt.FamilyV4,
	}, {
		opt:  dhcpopt.NewString(dhcpopt.Code4HostName, "printer"),
		name: "string",
		fam:  dhcpopt.FamilyV4,
	}, {
		opt:  dhcpopt.NewOpaque(dhcpopt.Code4ClientID, []byte{1, 2, 3, 4, 5, 6, 7}),
		name: "opaque",
		fam:  dhcpopt.FamilyV4,
	}, {
		opt:  dhcpopt.NewIP(dhcpopt.Code4ServerID, testIPv4),
		name: "ip_v4",
		fam:  dhcpopt.FamilyV4,
	}, {
		opt:  dhcpopt.NewIP(dhcpopt.Code6Unicast, testIPv6),
		name: "ip_v6",
		fam:  dhcpopt.FamilyV6,
	}, {
		opt:  dhcpopt.NewIPList(dhcpopt.Code4Router, testIPv4, testIPv4Alt),
		name: "ip_list",
		fam:  dhcpopt.FamilyV4,
	}, {
		opt:  dhcpopt.NewUint8List(dhcpopt.Code4ParamRequestList, 1, 3, 6, 15),
		name: "uint8_list",
		fam:  dhcpopt.FamilyV4,
	}, {
		opt:  dhcpopt.NewUint16List(dhcpopt.Code6ORO, 23, 24),
		name: "uint16_list",
		fam:  dhcpopt.FamilyV6,
	}, {
		opt:  errors.Must(dhcpopt.NewDomainName(dhcpopt.Code6AFTRName, "aftr.example.org")),
		name: "domain_name",
		fam:  dhcpopt.FamilyV6,
	}, {
		opt:  errors.Must(dhcpopt.NewDomainNameList(dhcpopt.Code6DomainList, "example.org", "lan")),
		name: "domain_name_list",
		fam:  dhcpopt.FamilyV6,
	}, {
		opt:  dhcpopt.NewStatusCode(iana.StatusNoBinding, "no binding"),
		name: "status_code",
		fam:  dhcpopt.FamilyV6,
	}, {
		opt: &dhcpopt.IANA{
			IAID: 42,
			T1:   30 * time.Minute,
			T2:   48 * time.Minute,
			Addrs: []*dhcpopt.IAAddr{{
				Addr:      testIPv6,
				Preferred: time.Hour,
				Valid:     2 * time.Hour,
			}},
			Status: dhcpopt.NewStatusCode(iana.StatusSuccess, ""),
		},
		name: "ia_na",
		fam:  dhcpopt.FamilyV6,
	}, {
		opt: &dhcpopt.IATA{
			IAID: 7,
			Addrs: []*dhcpopt.IAAddr{{
				Addr:      testIPv6,
				Preferred: dhcpopt.Infinity,
				Valid:     dhcpopt.Infinity,
			}},
		},
		name: "ia_ta",
		fam:  dhcpopt.FamilyV6,
	}, {
		opt: &dhcpopt.IAPD{
			IAID: 1,
			T1:   time.Hour,
			T2:   2 * time.Hour,
			Prefixes: []*dhcpopt.IAPrefix{{
				Prefix:    netip.MustParsePrefix("2001:db8:1::/56"),
				Preferred: time.Hour,
				Valid:     time.Hour,
			}},
		},
		name: "ia_pd",
		fam:  dhcpopt.FamilyV6,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			data := tc.opt.Append(nil)
			require.Len(t, data, tc.opt.Len())

			got, err := dhcpopt.Decode(tc.fam, tc.opt.Code(), data)
			require.NoError(t, err)

			assert.Equal(t, tc.opt, got)
		})
	}
}

func TestDecodeList4(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		data      []byte
		wantCodes []dhcpopt.Code
	}{{
		name:      "empty",
		data:      nil,
		wantCodes: nil,
	}, {
		name:      "pads_and_end",
		data:      []byte{0, 0, 53, 1, 1, 0, 255, 12, 1, 'a'},
		wantCodes: []dhcpopt.Code{53},
	}, {
		name:      "truncated",
		data:      []byte{53, 1, 1, 12, 10, 'a', 'b'},
		wantCodes: []dhcpopt.Code{53},
	}, {
		name:      "unknown_code",
		data:      []byte{53, 1, 1, 250, 1, 0, 12, 1, 'a'},
		wantCodes: []dhcpopt.Code{53},
	}, {
		name:      "malformed_payload",
		data:      []byte{53, 1, 1, 54, 3, 1, 2, 3, 12, 1, 'a'},
		wantCodes: []dhcpopt.Code{53},
	}, {
		name:      "no_end",
		data:      []byte{53, 1, 1, 12, 1, 'a'},
		wantCodes: []dhcpopt.Code{12, 53},
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			opts := dhcpopt.DecodeList4(tc.data)
			assert.Equal(t, tc.wantCodes, opts.Codes())
		})
	}
}

func TestDecodeList4_concatenation(t *testing.T) {
	t.Parallel()

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a' + byte(i%26)
	}

	opt := dhcpopt.NewString(dhcpopt.Code4RootPath, string(long))
	data := dhcpopt.AppendOption4(nil, opt)

	// Two TLVs of 255 and 45 bytes.
	require.Len(t, data, 2+255+2+45)

	opts := dhcpopt.DecodeList4(data)
	assert.Equal(t, opt, opts.Get(dhcpopt.Code4RootPath))
}

func TestDecodeList6(t *testing.T) {
	t.Parallel()

	pref := dhcpopt.NewUint8(dhcpopt.Code6Preference, 255)
	elapsed := dhcpopt.NewUint16(dhcpopt.Code6ElapsedTime, 0)

	valid := dhcpopt.AppendOption6(nil, pref)
	valid = dhcpopt.AppendOption6(valid, elapsed)

	testCases := []struct {
		name string
		data []byte
		want []dhcpopt.Option
	}{{
		name: "valid",
		data: valid,
		want: []dhcpopt.Option{pref, elapsed},
	}, {
		name: "trailing_garbage",
		data: append(append([]byte{}, valid...), 0, 1),
		want: []dhcpopt.Option{pref, elapsed},
	}, {
		name: "truncated",
		data: valid[:len(valid)-1],
		want: []dhcpopt.Option{pref},
	}, {
		name: "unknown_code",
		data: append([]byte{0xff, 0xfe, 0, 0}, valid...),
		want: nil,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, dhcpopt.DecodeList6(tc.data))
		})
	}
}

func TestDecode_unknown(t *testing.T) {
	t.Parallel()

	_, err := dhcpopt.Decode(dhcpopt.FamilyV6, 0xfffe, nil)
	assert.ErrorIs(t, err, dhcpopt.ErrUnknownCode)
}

func TestOptions(t *testing.T) {
	t.Parallel()

	opts := dhcpopt.Options{}
	opts.Set(dhcpopt.NewString(dhcpopt.Code4HostName, "first"))
	opts.Set(dhcpopt.NewUint32(dhcpopt.Code4LeaseTime, 60))
	opts.Set(dhcpopt.NewString(dhcpopt.Code4HostName, "second"))

	assert.Equal(t, []dhcpopt.Code{dhcpopt.Code4HostName, dhcpopt.Code4LeaseTime}, opts.Codes())

	host := testutil.RequireTypeAssert[*dhcpopt.String](t, opts.Get(dhcpopt.Code4HostName))
	assert.Equal(t, "second", host.Value)

	clone := opts.Clone()
	clone.Del(dhcpopt.Code4HostName)
	assert.True(t, opts.Has(dhcpopt.Code4HostName))
	assert.False(t, clone.Has(dhcpopt.Code4HostName))
}

func TestDecode_domainNames(t *testing.T) {
	t.Parallel()

	// "foo" followed by "bar" pointing back to "foo".
	compressed := []byte{3, 'f', 'o', 'o', 0, 3, 'b', 'a', 'r', 0xC0, 0}

	testCases := []struct {
		want    dhcpopt.Option
		wantErr error
		name    string
		data    []byte
	}{{
		want:    errors.Must(dhcpopt.NewDomainNameList(dhcpopt.Code6DomainList, "foo", "bar.foo")),
		wantErr: nil,
		name:    "uncompressed",
		data:    []byte{3, 'f', 'o', 'o', 0, 3, 'b', 'a', 'r', 3, 'f', 'o', 'o', 0},
	}, {
		want:    nil,
		wantErr: dhcpopt.ErrCompressed,
		name:    "pointer",
		data:    compressed,
	}, {
		want:    nil,
		wantErr: dhcpopt.ErrCompressed,
		name:    "reserved_label",
		data:    []byte{0x40, 'a', 0},
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			opt, err := dhcpopt.Decode(dhcpopt.FamilyV6, dhcpopt.Code6DomainList, tc.data)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, opt)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, opt)
		})
	}
}

func TestNewDomainName(t *testing.T) {
	t.Parallel()

	longLabel := strings.Repeat("a", 64)

	_, err := dhcpopt.NewDomainName(dhcpopt.Code6AFTRName, longLabel+".example")
	assert.Error(t, err)

	_, err = dhcpopt.NewDomainNameList(dhcpopt.Code6DomainList, "example.org", longLabel)
	assert.Error(t, err)

	opt, err := dhcpopt.NewDomainName(dhcpopt.Code6AFTRName, "aftr.example.org.")
	require.NoError(t, err)

	assert.Equal(t, "aftr.example.org", opt.Value)
	assert.Equal(t, len("\x04aftr\x07example\x03org\x00"), opt.Len())

	// Invalid names set directly are skipped on encoding.
	opt.Value = longLabel
	assert.Zero(t, opt.Len())
	assert.Empty(t, opt.Append(nil))
}
