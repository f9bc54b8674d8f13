package dhcpopt_test

import (
	"net/netip"
	"testing"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		want       dhcpopt.Option
		name       string
		text       string
		wantErrMsg string
		code       dhcpopt.Code
		fam        dhcpopt.Family
	}{{
		want: dhcpopt.NewIPList(
			dhcpopt.Code4DomainNameServer,
			netip.MustParseAddr("192.0.2.53"),
			netip.MustParseAddr("192.0.2.54"),
		),
		name:       "ip_list",
		text:       "192.0.2.53, 192.0.2.54",
		wantErrMsg: "",
		code:       dhcpopt.Code4DomainNameServer,
		fam:        dhcpopt.FamilyV4,
	}, {
		want:       dhcpopt.NewUint16(dhcpopt.Code4InterfaceMTU, 1400),
		name:       "uint16",
		text:       "1400",
		wantErrMsg: "",
		code:       dhcpopt.Code4InterfaceMTU,
		fam:        dhcpopt.FamilyV4,
	}, {
		want:       dhcpopt.NewOpaque(dhcpopt.Code4VendorSpecific, []byte{1, 2, 0xab}),
		name:       "opaque_hex",
		text:       "0x0102ab",
		wantErrMsg: "",
		code:       dhcpopt.Code4VendorSpecific,
		fam:        dhcpopt.FamilyV4,
	}, {
		want:       errors.Must(dhcpopt.NewDomainNameList(dhcpopt.Code6DomainList, "lan", "example.org")),
		name:       "domain_list",
		text:       "lan,example.org.",
		wantErrMsg: "",
		code:       dhcpopt.Code6DomainList,
		fam:        dhcpopt.FamilyV6,
	}, {
		want:       nil,
		name:       "wrong_family",
		text:       "2001:db8::1",
		wantErrMsg: "parsing ipv4 option 3: at index 0: address 2001:db8::1 is not ipv4",
		code:       dhcpopt.Code4Router,
		fam:        dhcpopt.FamilyV4,
	}, {
		want: nil,
		name: "overflow",
		text: "256",
		wantErrMsg: `parsing ipv4 option 23: strconv.ParseUint: parsing "256": ` +
			"value out of range",
		code: dhcpopt.Code4DefaultIPTTL,
		fam:  dhcpopt.FamilyV4,
	}, {
		want:       nil,
		name:       "unknown",
		text:       "x",
		wantErrMsg: "parsing ipv6 option 65000: unknown option code",
		code:       65000,
		fam:        dhcpopt.FamilyV6,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := dhcpopt.Parse(tc.fam, tc.code, tc.text)
			testutil.AssertErrorMsg(t, tc.wantErrMsg, err)

			if tc.want != nil {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestParse_structured(t *testing.T) {
	t.Parallel()

	_, err := dhcpopt.Parse(dhcpopt.FamilyV6, dhcpopt.Code6IANA, "1")
	assert.ErrorIs(t, err, errors.ErrUnsupported)
}
