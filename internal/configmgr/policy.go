package configmgr

import (
	"fmt"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpfilter"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/validate"
)

// policyConfig is the on-disk configuration of the options and filter groups
// of a scope.  A nil *policyConfig is an empty policy.
type policyConfig struct {
	Options []*optionConfig `yaml:"options"`
	Filters []*filterConfig `yaml:"filters"`
}

// validate returns an error if the policy configuration has missing entries.
// Option values are checked when the policy is built.
func (c *policyConfig) validate() (err error) {
	if c == nil {
		return nil
	}

	var errs []error
	for i, o := range c.Options {
		if o == nil {
			errs = append(errs, fmt.Errorf("options: at index %d: %w", i, errors.ErrNoValue))
		}
	}

	for i, f := range c.Filters {
		err = f.validate()
		if err != nil {
			errs = append(errs, fmt.Errorf("filters: at index %d: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// toPolicy builds the policy of family f.
func (c *policyConfig) toPolicy(f dhcpopt.Family) (p *dhcpfilter.Policy, err error) {
	p = &dhcpfilter.Policy{
		Options: dhcpopt.Options{},
	}

	if c == nil {
		return p, nil
	}

	p.Options, err = toOptions(f, c.Options)
	if err != nil {
		return nil, fmt.Errorf("options: %w", err)
	}

	for i, fc := range c.Filters {
		var g *dhcpfilter.Group
		g, err = fc.toGroup(f)
		if err != nil {
			return nil, fmt.Errorf("filters: at index %d: %w", i, err)
		}

		p.Groups = append(p.Groups, g)
	}

	return p, nil
}

// optionConfig is the on-disk configuration of an option.
type optionConfig struct {
	// Value is the textual form of the option value, see [dhcpopt.Parse].
	Value string `yaml:"value"`

	Code dhcpopt.Code `yaml:"code"`
}

// toOptions parses opts within f.
func toOptions(f dhcpopt.Family, opts []*optionConfig) (res dhcpopt.Options, err error) {
	res = dhcpopt.Options{}

	var errs []error
	for _, o := range opts {
		opt, parseErr := dhcpopt.Parse(f, o.Code, o.Value)
		if parseErr != nil {
			errs = append(errs, parseErr)

			continue
		}

		res.Set(opt)
	}

	if err = errors.Join(errs...); err != nil {
		return nil, err
	}

	return res, nil
}

// filterConfig is the on-disk configuration of a filter group.
type filterConfig struct {
	Name        string              `yaml:"name"`
	Expressions []*expressionConfig `yaml:"expressions"`
	Options     []*optionConfig     `yaml:"options"`
}

// validate returns an error if the filter configuration is invalid.
func (c *filterConfig) validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotEmpty("name", c.Name),
		validate.NotEmptySlice("expressions", c.Expressions),
	}

	for i, e := range c.Expressions {
		if e == nil {
			errs = append(errs, fmt.Errorf("expressions: at index %d: %w", i, errors.ErrNoValue))
		}
	}

	for i, o := range c.Options {
		if o == nil {
			errs = append(errs, fmt.Errorf("options: at index %d: %w", i, errors.ErrNoValue))
		}
	}

	return errors.Join(errs...)
}

// toGroup builds the filter group of family f.
func (c *filterConfig) toGroup(f dhcpopt.Family) (g *dhcpfilter.Group, err error) {
	defer func() { err = errors.Annotate(err, "filter %q: %w", c.Name) }()

	g = &dhcpfilter.Group{
		Name: c.Name,
	}

	for _, ec := range c.Expressions {
		var e *dhcpopt.Expression
		e, err = dhcpopt.NewExpression(ec.Code, dhcpopt.Operator(ec.Operator), ec.Value)
		if err != nil {
			return nil, err
		}

		g.Expressions = append(g.Expressions, e)
	}

	g.Options, err = toOptions(f, c.Options)
	if err != nil {
		return nil, fmt.Errorf("options: %w", err)
	}

	return g, nil
}

// expressionConfig is the on-disk configuration of an option expression.
type expressionConfig struct {
	Operator string       `yaml:"operator"`
	Value    string       `yaml:"value"`
	Code     dhcpopt.Code `yaml:"code"`
}
