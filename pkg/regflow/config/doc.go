/*
Package config provides type-safe configuration extraction for the
transaction engine.

# Overview

config wraps a map[string]any and provides typed accessor methods that
handle missing keys and type mismatches gracefully by returning default
values. Engine settings (history capacity, poll interval, response-buffer
budget) are decoded from a conventional "engine" section.

# Basic Usage

	cfg, err := config.FromFile("regflow.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	opts := config.Engine(cfg)

With a file such as:

	engine:
	  history_capacity: 128
	  poll_interval: 1ms
	  response_budget_bytes: 65536

# Type Coercion

Duration handles multiple input types:
  - string: parsed with time.ParseDuration ("30s", "1ms")
  - int/int64/float64: interpreted as seconds
  - time.Duration: used directly

All accessors return the default value if the key is missing or the value
cannot be converted to the requested type.

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
