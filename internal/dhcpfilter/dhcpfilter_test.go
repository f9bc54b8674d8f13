package dhcpfilter_test

import (
	"net/netip"
	"testing"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpfilter"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newExpr is a helper that returns a valid expression.
func newExpr(tb testing.TB, c dhcpopt.Code, op dhcpopt.Operator, val string) (e *dhcpopt.Expression) {
	tb.Helper()

	e, err := dhcpopt.NewExpression(c, op, val)
	require.NoError(tb, err)

	return e
}

// newOptions returns options containing opts.
func newOptions(opts ...dhcpopt.Option) (o dhcpopt.Options) {
	o = dhcpopt.Options{}
	for _, opt := range opts {
		o.Set(opt)
	}

	return o
}

func TestGroup_Matches(t *testing.T) {
	t.Parallel()

	req := newOptions(
		dhcpopt.NewOpaque(dhcpopt.Code4VendorClassID, []byte("PXEClient:Arch:00007")),
		dhcpopt.NewString(dhcpopt.Code4HostName, "node-1"),
	)

	testCases := []struct {
		name  string
		exprs []*dhcpopt.Expression
		want  assert.BoolAssertionFunc
	}{{
		name:  "no_expressions",
		exprs: nil,
		want:  assert.False,
	}, {
		name: "single",
		exprs: []*dhcpopt.Expression{
			newExpr(t, dhcpopt.Code4VendorClassID, dhcpopt.OpStartsWith, "PXEClient"),
		},
		want: assert.True,
	}, {
		name: "all_match",
		exprs: []*dhcpopt.Expression{
			newExpr(t, dhcpopt.Code4VendorClassID, dhcpopt.OpContains, "Arch"),
			newExpr(t, dhcpopt.Code4HostName, dhcpopt.OpRegExp, `^node-\d$`),
		},
		want: assert.True,
	}, {
		name: "one_mismatch",
		exprs: []*dhcpopt.Expression{
			newExpr(t, dhcpopt.Code4VendorClassID, dhcpopt.OpContains, "Arch"),
			newExpr(t, dhcpopt.Code4HostName, dhcpopt.OpEquals, "node-2"),
		},
		want: assert.False,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			g := &dhcpfilter.Group{Name: tc.name, Expressions: tc.exprs}
			tc.want(t, g.Matches(req))
		})
	}
}

func TestGroup_Matches_absentOption(t *testing.T) {
	t.Parallel()

	req := newOptions(dhcpopt.NewString(dhcpopt.Code4HostName, "node-1"))

	ops := []dhcpopt.Operator{
		dhcpopt.OpEquals,
		dhcpopt.OpContains,
		dhcpopt.OpStartsWith,
		dhcpopt.OpEndsWith,
		dhcpopt.OpRegExp,
		dhcpopt.OpLessThan,
		dhcpopt.OpLessOrEqual,
		dhcpopt.OpGreaterThan,
		dhcpopt.OpGreaterOrEqual,
	}

	for _, op := range ops {
		t.Run(string(op), func(t *testing.T) {
			t.Parallel()

			g := &dhcpfilter.Group{
				Name:        "absent",
				Expressions: []*dhcpopt.Expression{newExpr(t, dhcpopt.Code4UserClass, op, ".*")},
			}

			assert.False(t, g.Matches(req))
		})
	}
}

func TestApply(t *testing.T) {
	t.Parallel()

	dns := func(ip string) (opt dhcpopt.Option) {
		return dhcpopt.NewIPList(dhcpopt.Code4DomainNameServer, netip.MustParseAddr(ip))
	}

	domain := func(name string) (opt dhcpopt.Option) {
		return dhcpopt.NewString(dhcpopt.Code4DomainName, name)
	}

	req := newOptions(dhcpopt.NewString(dhcpopt.Code4HostName, "printer"))
	isPrinter := newExpr(t, dhcpopt.Code4HostName, dhcpopt.OpEquals, "printer")
	isPhone := newExpr(t, dhcpopt.Code4HostName, dhcpopt.OpEquals, "phone")

	global := &dhcpfilter.Policy{
		Options: newOptions(dns("192.0.2.1"), domain("global.example")),
		Groups: []*dhcpfilter.Group{{
			Name:        "global-printers",
			Expressions: []*dhcpopt.Expression{isPrinter},
			Options:     newOptions(dns("192.0.2.2")),
		}},
	}

	link := &dhcpfilter.Policy{
		Options: newOptions(domain("link.example")),
		Groups: []*dhcpfilter.Group{{
			Name:        "link-phones",
			Expressions: []*dhcpopt.Expression{isPhone},
			Options:     newOptions(dns("192.0.2.4")),
		}, {
			Name:        "link-printers",
			Expressions: []*dhcpopt.Expression{isPrinter},
			Options:     newOptions(domain("printers.example")),
		}},
	}

	t.Run("all", func(t *testing.T) {
		t.Parallel()

		reply := dhcpopt.Options{}
		matched := dhcpfilter.Apply(reply, req, nil, global, nil, link)
		assert.Equal(t, []string{"global-printers", "link-printers"}, matched)

		assert.Equal(t, dns("192.0.2.2"), reply.Get(dhcpopt.Code4DomainNameServer))
		assert.Equal(t, domain("printers.example"), reply.Get(dhcpopt.Code4DomainName))
	})

	t.Run("requested_only", func(t *testing.T) {
		t.Parallel()

		reply := dhcpopt.Options{}
		requested := container.NewMapSet(dhcpopt.Code4DomainName)
		dhcpfilter.Apply(reply, req, requested, global, link)

		assert.False(t, reply.Has(dhcpopt.Code4DomainNameServer))
		assert.Equal(t, domain("printers.example"), reply.Get(dhcpopt.Code4DomainName))
	})
}

func TestValidateReplyOption(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		wantErrMsg string
		code       dhcpopt.Code
		fam        dhcpopt.Family
	}{{
		name:       "v4_allowed",
		wantErrMsg: "",
		code:       dhcpopt.Code4Router,
		fam:        dhcpopt.FamilyV4,
	}, {
		name:       "v4_reserved",
		wantErrMsg: "ipv4 option 53: option code is reserved",
		code:       dhcpopt.Code4MessageType,
		fam:        dhcpopt.FamilyV4,
	}, {
		name:       "v6_allowed",
		wantErrMsg: "",
		code:       dhcpopt.Code6DNSServers,
		fam:        dhcpopt.FamilyV6,
	}, {
		name:       "v6_reserved",
		wantErrMsg: "ipv6 option 3: option code is reserved",
		code:       dhcpopt.Code6IANA,
		fam:        dhcpopt.FamilyV6,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := dhcpfilter.ValidateReplyOption(tc.fam, tc.code)
			testutil.AssertErrorMsg(t, tc.wantErrMsg, err)
		})
	}
}
