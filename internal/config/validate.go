// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

package config

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// validPunchTypes are the values accepted in classifier mapping tables.
var validPunchTypes = map[string]bool{
	"check_in":     true,
	"check_out":    true,
	"break_out":    true,
	"break_in":     true,
	"overtime_in":  true,
	"overtime_out": true,
}

// Validate checks that the configuration is complete and consistent.
//
// Struct-level constraints (required fields, ranges, URL shapes) run through
// validator/v10 tags; cross-field rules that tags cannot express are checked
// by hand afterwards.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if ok := errors.As(err, &verrs); ok && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid config value for %s (rule %q)", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("config validation: %w", err)
	}

	if err := c.validateDevices(); err != nil {
		return err
	}
	if err := c.validateClassifier(); err != nil {
		return err
	}
	return c.validateAPI()
}

// validateDevices enforces device-name uniqueness and forbids the reserved
// "multiple" sentinel.
func (c *Config) validateDevices() error {
	seen := make(map[string]bool, len(c.Devices))
	for _, d := range c.Devices {
		if d.Name == "multiple" {
			return fmt.Errorf("device name %q is reserved", d.Name)
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate device name %q", d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}

// validateClassifier checks that mapping tables hold numeric keys and known
// punch type values.
func (c *Config) validateClassifier() error {
	for code, punch := range c.Classifier.MinorCodes {
		if _, err := strconv.Atoi(code); err != nil {
			return fmt.Errorf("classifier.minor_codes key %q is not numeric", code)
		}
		if !validPunchTypes[punch] {
			return fmt.Errorf("classifier.minor_codes[%s]: unknown punch type %q", code, punch)
		}
	}
	for reader, punch := range c.Classifier.Readers {
		if _, err := strconv.Atoi(reader); err != nil {
			return fmt.Errorf("classifier.readers key %q is not numeric", reader)
		}
		if !validPunchTypes[punch] {
			return fmt.Errorf("classifier.readers[%s]: unknown punch type %q", reader, punch)
		}
	}
	return nil
}

// validateAPI checks cross-field API constraints.
func (c *Config) validateAPI() error {
	if c.API.DefaultPageSize > c.API.MaxPageSize {
		return fmt.Errorf("api.default_page_size (%d) exceeds api.max_page_size (%d)",
			c.API.DefaultPageSize, c.API.MaxPageSize)
	}
	return nil
}
