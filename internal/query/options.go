package query

import (
	"strconv"
	"time"

	"github.com/xtxerr/scanline/config"
	"github.com/xtxerr/scanline/internal/errors"
)

// Options are the per-query scan settings after resolving overrides against
// the process defaults. Built once at coordinator reset; immutable after.
type Options struct {
	ExpansionLimit          int
	RowsPerScan             int
	EnableFuzzy             bool
	Reverse                 bool
	MultiGetLimit           int
	MultiGetBatch           int
	SkipUnresolvedTagKeys   bool
	SkipUnresolvedTagValues bool
	SkipUnresolvedMetric    bool
	SequenceSpan            time.Duration
	RollupUsage             RollupUsage
	CloseTimeout            time.Duration
}

// ResolveOptions resolves a query's overrides against the engine defaults.
// Unknown override keys are ignored (other layers consume their own keys);
// known keys with unparseable values fail with ErrBadOverride.
func (c *Config) ResolveOptions(overrides map[string]string) (*Options, error) {
	usage, err := ParseRollupUsage(c.Query.RollupUsage)
	if err != nil {
		return nil, errors.Wrap(err, "process default")
	}

	opts := &Options{
		ExpansionLimit:          c.Query.ExpansionLimit,
		RowsPerScan:             c.Query.RowsPerScan,
		EnableFuzzy:             c.Query.EnableFuzzyFilter,
		Reverse:                 c.Query.ReverseScan,
		MultiGetLimit:           c.Query.MultiGetLimit,
		MultiGetBatch:           c.Query.MultiGetBatch,
		SkipUnresolvedTagKeys:   c.Query.SkipUnresolvedTagKeys,
		SkipUnresolvedTagValues: c.Query.SkipUnresolvedTagValues,
		SkipUnresolvedMetric:    c.Query.SkipUnresolvedMetric,
		SequenceSpan:            c.Query.SequenceSpan,
		RollupUsage:             usage,
		CloseTimeout:            c.Query.CloseTimeout,
	}

	for key, value := range overrides {
		switch key {
		case config.OverrideExpansionLimit:
			if err := parsePositiveInt(key, value, &opts.ExpansionLimit); err != nil {
				return nil, err
			}
		case config.OverrideRowsPerScan:
			if err := parsePositiveInt(key, value, &opts.RowsPerScan); err != nil {
				return nil, err
			}
		case config.OverrideEnableFuzzy:
			if err := parseBool(key, value, &opts.EnableFuzzy); err != nil {
				return nil, err
			}
		case config.OverrideReverse:
			if err := parseBool(key, value, &opts.Reverse); err != nil {
				return nil, err
			}
		case config.OverrideMultiGetLimit:
			if err := parsePositiveInt(key, value, &opts.MultiGetLimit); err != nil {
				return nil, err
			}
		case config.OverrideSkipUnresolvedTagKeys:
			if err := parseBool(key, value, &opts.SkipUnresolvedTagKeys); err != nil {
				return nil, err
			}
		case config.OverrideSkipUnresolvedTagValues:
			if err := parseBool(key, value, &opts.SkipUnresolvedTagValues); err != nil {
				return nil, err
			}
		case config.OverrideSkipUnresolvedMetric:
			if err := parseBool(key, value, &opts.SkipUnresolvedMetric); err != nil {
				return nil, err
			}
		case config.OverrideSequenceSpan:
			d, err := time.ParseDuration(value)
			if err != nil || d < 0 {
				return nil, errors.NewBadOverride(key, value, err)
			}
			opts.SequenceSpan = d
		case config.OverrideRollupUsage:
			u, err := ParseRollupUsage(value)
			if err != nil {
				return nil, errors.NewBadOverride(key, value, err)
			}
			opts.RollupUsage = u
		}
	}

	return opts, nil
}

func parsePositiveInt(key, value string, out *int) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return errors.NewBadOverride(key, value, err)
	}
	*out = n
	return nil
}

func parseBool(key, value string, out *bool) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return errors.NewBadOverride(key, value, err)
	}
	*out = b
	return nil
}
