// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package config

import (
	"fmt"
	"strings"

	"github.com/tomtom215/statesync/internal/validation"
)

// Validate checks tag constraints and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return verr
	}

	if err := c.validateBackends(); err != nil {
		return err
	}

	return c.validateEvents()
}

func (c *Config) validateBackends() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend must be configured")
	}

	seen := make(map[string]struct{}, len(c.Backends))
	for i := range c.Backends {
		b := &c.Backends[i]
		b.Kind = strings.ToLower(b.Kind)
		b.URL = strings.TrimRight(b.URL, "/")

		if _, dup := seen[b.Name]; dup {
			return fmt.Errorf("duplicate backend name %q", b.Name)
		}
		seen[b.Name] = struct{}{}

		if b.Kind != "plex" && b.User == "" {
			return fmt.Errorf("backend %q: user is required for kind %s", b.Name, b.Kind)
		}
	}
	return nil
}

func (c *Config) validateEvents() error {
	if c.Events.Driver == "nats" && c.Events.NATSURL == "" {
		return fmt.Errorf("events.nats_url is required when events.driver=nats")
	}
	return nil
}
