package dhcpopt

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net/netip"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
)

// Operator is an operator of an option expression.
type Operator string

// Operator values.
const (
	OpEquals         Operator = "EQUALS"
	OpContains       Operator = "CONTAINS"
	OpStartsWith     Operator = "STARTS_WITH"
	OpEndsWith       Operator = "ENDS_WITH"
	OpRegExp         Operator = "REG_EXP"
	OpLessThan       Operator = "LESS_THAN"
	OpLessOrEqual    Operator = "LESS_THAN_OR_EQUAL"
	OpGreaterThan    Operator = "GREATER_THAN"
	OpGreaterOrEqual Operator = "GREATER_THAN_OR_EQUAL"
)

// isValid returns true if op is a known operator.
func (op Operator) isValid() (ok bool) {
	switch op {
	case
		OpEquals,
		OpContains,
		OpStartsWith,
		OpEndsWith,
		OpRegExp,
		OpLessThan,
		OpLessOrEqual,
		OpGreaterThan,
		OpGreaterOrEqual:
		return true
	default:
		return false
	}
}

// listSep separates the elements of a list operand.
const listSep = ","

// Expression is a condition on a single option of an inbound message.  The
// operand is parsed into every representation it allows at construction, so
// that matching never parses.
type Expression struct {
	// re is the compiled operand of a [OpRegExp] expression.
	re *regexp.Regexp

	// Value is the original textual operand.
	Value string

	// Op is the operator.
	Op Operator

	// data is the operand as raw bytes.  An operand prefixed with "0x" is
	// decoded from hex, any other is taken as is.
	data []byte

	// strs is the operand split into list elements.
	strs []string

	// nums is the operand split into numeric list elements.  It is nil if any
	// of the elements is not a number.
	nums []uint64

	// ips is the operand split into address list elements.  It is nil if any
	// of the elements is not an IP address.
	ips []netip.Addr

	// num is the operand as a number, if numOK is true.
	num uint64

	// Code is the code of the option the expression is applied to.
	Code Code

	// numOK is true if the whole operand is a number.
	numOK bool
}

// NewExpression returns a new properly initialized expression.
func NewExpression(c Code, op Operator, val string) (e *Expression, err error) {
	defer func() { err = errors.Annotate(err, "expression on option %d: %w", c) }()

	if !op.isValid() {
		return nil, fmt.Errorf("operator: %w: %q", errors.ErrBadEnumValue, op)
	}

	e = &Expression{
		Code:  c,
		Op:    op,
		Value: val,
		data:  []byte(val),
	}

	if op == OpRegExp {
		e.re, err = regexp.Compile(val)
		if err != nil {
			return nil, fmt.Errorf("compiling regexp: %w", err)
		}
	}

	if h, ok := strings.CutPrefix(val, "0x"); ok {
		e.data, err = hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("decoding hex: %w", err)
		}
	}

	e.num, err = strconv.ParseUint(val, 0, 64)
	e.numOK = err == nil

	e.parseList()

	return e, nil
}

// parseList fills the list representations of the operand.
func (e *Expression) parseList() {
	for s := range strings.SplitSeq(e.Value, listSep) {
		e.strs = append(e.strs, strings.TrimSpace(s))
	}

	nums := make([]uint64, 0, len(e.strs))
	ips := make([]netip.Addr, 0, len(e.strs))
	for _, s := range e.strs {
		if n, err := strconv.ParseUint(s, 0, 64); err == nil && nums != nil {
			nums = append(nums, n)
		} else {
			nums = nil
		}

		if ip, err := netip.ParseAddr(s); err == nil && ips != nil {
			ips = append(ips, ip)
		} else {
			ips = nil
		}
	}

	e.nums, e.ips = nums, ips
}

// matchUint returns true if v satisfies e.
func matchUint(v uint64, e *Expression) (ok bool) {
	if !e.numOK {
		return false
	}

	switch e.Op {
	case OpEquals:
		return v == e.num
	case OpLessThan:
		return v < e.num
	case OpLessOrEqual:
		return v <= e.num
	case OpGreaterThan:
		return v > e.num
	case OpGreaterOrEqual:
		return v >= e.num
	default:
		return false
	}
}

// matchString returns true if s satisfies e.
func matchString(s string, e *Expression) (ok bool) {
	switch e.Op {
	case OpEquals:
		return s == e.Value
	case OpContains:
		return strings.Contains(s, e.Value)
	case OpStartsWith:
		return strings.HasPrefix(s, e.Value)
	case OpEndsWith:
		return strings.HasSuffix(s, e.Value)
	case OpRegExp:
		return e.re.MatchString(s)
	default:
		return false
	}
}

// matchBytes returns true if data satisfies e.
func matchBytes(data []byte, e *Expression) (ok bool) {
	switch e.Op {
	case OpEquals:
		return bytes.Equal(data, e.data)
	case OpContains:
		return bytes.Contains(data, e.data)
	case OpStartsWith:
		return bytes.HasPrefix(data, e.data)
	case OpEndsWith:
		return bytes.HasSuffix(data, e.data)
	case OpRegExp:
		return e.re.Match(data)
	default:
		return false
	}
}

// matchList returns true if vals satisfies the list operand ops of e.  EQUALS
// requires the same elements in the same order, CONTAINS requires ops to be a
// subset of vals.
func matchList[T comparable](vals, ops []T, e *Expression) (ok bool) {
	if ops == nil {
		return false
	}

	switch e.Op {
	case OpEquals:
		return slices.Equal(vals, ops)
	case OpContains:
		for _, o := range ops {
			if !slices.Contains(vals, o) {
				return false
			}
		}

		return true
	default:
		return false
	}
}
