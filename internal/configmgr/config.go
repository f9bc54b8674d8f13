package configmgr

import (
	"fmt"
	"net/netip"
	"slices"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/c2h5oh/datasize"
)

// errNoConf is returned when a required configuration section is missing.
const errNoConf errors.Error = "configuration not found"

// config is the top-level on-disk configuration structure.
type config struct {
	Log       *logConfig       `yaml:"log"`
	Storage   *storageConfig   `yaml:"storage"`
	Transport *transportConfig `yaml:"transport"`
	Metrics   *metricsConfig   `yaml:"metrics"`
	Server    *serverConfig    `yaml:"server"`
	Policy4   *policyConfig    `yaml:"policy_v4"`
	Policy6   *policyConfig    `yaml:"policy_v6"`
	Links     []*linkConfig    `yaml:"links"`
}

// type check
var _ validate.Interface = (*config)(nil)

// Validate implements the [validate.Interface] interface for *config.
func (c *config) Validate() (err error) {
	if c == nil {
		return errNoConf
	}

	// Keep this in the same order as the fields in the config.
	validators := []struct {
		validate func() (err error)
		name     string
	}{{
		validate: c.Log.validate,
		name:     "log",
	}, {
		validate: c.Storage.validate,
		name:     "storage",
	}, {
		validate: c.Transport.validate,
		name:     "transport",
	}, {
		validate: c.Metrics.validate,
		name:     "metrics",
	}, {
		validate: c.Server.validate,
		name:     "server",
	}, {
		validate: c.Policy4.validate,
		name:     "policy_v4",
	}, {
		validate: c.Policy6.validate,
		name:     "policy_v6",
	}, {
		validate: c.validateLinks,
		name:     "links",
	}}

	var errs []error
	for _, v := range validators {
		err = v.validate()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v.name, err))
		}
	}

	return errors.Join(errs...)
}

// validateLinks returns an error if the links are invalid or their names
// repeat.
func (c *config) validateLinks() (err error) {
	if len(c.Links) == 0 {
		return errors.ErrEmptyValue
	}

	var errs []error
	var names []string
	for i, l := range c.Links {
		err = l.validate()
		if err != nil {
			errs = append(errs, fmt.Errorf("at index %d: %w", i, err))

			continue
		}

		if slices.Contains(names, l.Name) {
			errs = append(errs, fmt.Errorf("at index %d: name: %w: %q", i, errors.ErrDuplicated, l.Name))
		}

		names = append(names, l.Name)
	}

	return errors.Join(errs...)
}

// Log output special values.
const (
	logFileStdout = "stdout"
	logFileStderr = "stderr"
)

// logConfig is the on-disk logging configuration.
type logConfig struct {
	// File is the path to the log file, [logFileStdout], or [logFileStderr].
	File string `yaml:"file"`

	MaxSize    int  `yaml:"max_size"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAge     int  `yaml:"max_age"`
	Compress   bool `yaml:"compress"`
	Verbose    bool `yaml:"verbose"`
}

// validate returns an error if the logging configuration is invalid.
func (c *logConfig) validate() (err error) {
	if c == nil {
		return errNoConf
	}

	return errors.Join(
		validate.NotEmpty("file", c.File),
		validate.NotNegative("max_size", c.MaxSize),
		validate.NotNegative("max_backups", c.MaxBackups),
		validate.NotNegative("max_age", c.MaxAge),
	)
}

// Storage types.
const (
	storageTypeBolt = "bolt"
	storageTypeJSON = "json"
	storageTypeNone = "none"
)

// storageConfig is the on-disk binding storage configuration.
type storageConfig struct {
	// Type is the type of the storage: [storageTypeBolt], [storageTypeJSON], or
	// [storageTypeNone].
	Type string `yaml:"type"`

	// Path is the path to the database file.
	Path string `yaml:"path"`
}

// validate returns an error if the storage configuration is invalid.
func (c *storageConfig) validate() (err error) {
	if c == nil {
		return errNoConf
	}

	switch c.Type {
	case storageTypeBolt, storageTypeJSON:
		return validate.NotEmpty("path", c.Path)
	case storageTypeNone:
		return nil
	default:
		return fmt.Errorf("type: %w: %q", errors.ErrBadEnumValue, c.Type)
	}
}

// transportConfig is the on-disk transport configuration.
type transportConfig struct {
	Interfaces []string          `yaml:"interfaces"`
	BufferSize datasize.ByteSize `yaml:"buffer_size"`
	Workers    int               `yaml:"workers"`
	IPv4       bool              `yaml:"ipv4"`
	IPv6       bool              `yaml:"ipv6"`
}

// validate returns an error if the transport configuration is invalid.
func (c *transportConfig) validate() (err error) {
	switch {
	case c == nil:
		return errNoConf
	case !c.IPv4 && !c.IPv6:
		return fmt.Errorf("ipv4, ipv6: %w", errors.ErrNoValue)
	case c.Workers <= 0:
		return newErrNotPositive("workers", c.Workers)
	case c.BufferSize == 0:
		return newErrNotPositive("buffer_size", c.BufferSize)
	default:
		return nil
	}
}

// metricsConfig is the on-disk metrics configuration.  A nil *metricsConfig
// or an empty address disables metrics.
type metricsConfig struct {
	Address netip.AddrPort    `yaml:"address"`
	Timeout timeutil.Duration `yaml:"timeout"`
}

// validate returns an error if the metrics configuration is invalid.
func (c *metricsConfig) validate() (err error) {
	if c == nil || !c.Address.IsValid() {
		return nil
	}

	return validate.NotNegative("timeout", c.Timeout)
}

// serverConfig is the on-disk configuration of the protocol engine.
type serverConfig struct {
	IPv4ID              netip.Addr        `yaml:"ipv4_id"`
	Unicast             netip.Addr        `yaml:"unicast"`
	DUID                string            `yaml:"duid"`
	DeclineQuarantine   timeutil.Duration `yaml:"decline_quarantine"`
	OfferLifetime       timeutil.Duration `yaml:"offer_lifetime"`
	SweepInterval       timeutil.Duration `yaml:"sweep_interval"`
	ReplyCacheTTL       timeutil.Duration `yaml:"reply_cache_ttl"`
	ReplyCacheSize      int               `yaml:"reply_cache_size"`
	Preference          uint8             `yaml:"preference"`
	RapidCommit         bool              `yaml:"rapid_commit"`
	VerifyUnknownRebind bool              `yaml:"verify_unknown_rebind"`
	ICMPTimeout         timeutil.Duration `yaml:"icmp_timeout"`
	ARPCheck            bool              `yaml:"arp_check"`
	SendRequestedOnly   bool              `yaml:"send_requested_only"`
}

// validate returns an error if the server configuration is invalid.
func (c *serverConfig) validate() (err error) {
	if c == nil {
		return errNoConf
	}

	var errs []error
	if !c.IPv4ID.Is4() {
		errs = append(errs, fmt.Errorf("ipv4_id: %q must be an ipv4 address", c.IPv4ID))
	}

	if c.Unicast.IsValid() && !c.Unicast.Is6() {
		errs = append(errs, fmt.Errorf("unicast: %q must be an ipv6 address", c.Unicast))
	}

	if c.DUID != "" {
		_, err = parseDUID(c.DUID)
		errs = append(errs, errors.Annotate(err, "duid: %w"))
	}

	if c.DeclineQuarantine <= 0 {
		errs = append(errs, newErrNotPositive("decline_quarantine", c.DeclineQuarantine))
	}

	if c.ReplyCacheSize > 0 && c.ReplyCacheTTL <= 0 {
		errs = append(errs, newErrNotPositive("reply_cache_ttl", c.ReplyCacheTTL))
	}

	errs = append(
		errs,
		validate.NotNegative("offer_lifetime", c.OfferLifetime),
		validate.NotNegative("sweep_interval", c.SweepInterval),
		validate.NotNegative("icmp_timeout", c.ICMPTimeout),
		validate.NotNegative("reply_cache_size", c.ReplyCacheSize),
	)

	return errors.Join(errs...)
}

// linkConfig is the on-disk configuration of a link.
type linkConfig struct {
	Policy    *policyConfig `yaml:"policy"`
	Name      string        `yaml:"name"`
	Interface string        `yaml:"interface"`
	Prefix    netip.Prefix  `yaml:"prefix"`
	Pools     []*poolConfig `yaml:"pools"`
}

// validate returns an error if the link configuration is invalid.  The pools
// themselves are validated by the binding manager.
func (c *linkConfig) validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotEmpty("name", c.Name),
		validate.NotEmptySlice("pools", c.Pools),
		errors.Annotate(c.Policy.validate(), "policy: %w"),
	}

	if !c.Prefix.IsValid() {
		errs = append(errs, fmt.Errorf("prefix: %w", errors.ErrNoValue))
	}

	for i, p := range c.Pools {
		if p == nil {
			errs = append(errs, fmt.Errorf("pools: at index %d: %w", i, errors.ErrNoValue))
		}
	}

	return errors.Join(errs...)
}

// poolConfig is the on-disk configuration of an address or prefix pool.
type poolConfig struct {
	Start             netip.Addr        `yaml:"start"`
	End               netip.Addr        `yaml:"end"`
	Prefix            netip.Prefix      `yaml:"prefix"`
	PreferredLifetime timeutil.Duration `yaml:"preferred_lifetime"`
	ValidLifetime     timeutil.Duration `yaml:"valid_lifetime"`
	T1                timeutil.Duration `yaml:"t1"`
	T2                timeutil.Duration `yaml:"t2"`
	DelegatedLen      int               `yaml:"delegated_len"`
}
