// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// layer is one YAML document and where it came from
type layer struct {
	source string
	data   []byte
	err    error // set when the source could not be read
}

// Builder layers YAML documents over a base configuration. Later layers win,
// so a host specific file given after a shared one overrides it.
type Builder struct {
	layers []layer
	Config *Config
}

// Use sets the base configuration; DefaultConfig when never called
func (b *Builder) Use(c *Config) *Builder {
	b.Config = c
	return b
}

// Merge adds inline YAML layers
func (b *Builder) Merge(yamls ...string) *Builder {
	for _, y := range yamls {
		b.layers = append(b.layers, layer{source: "inline", data: []byte(y)})
	}
	return b
}

// MergeFile adds the YAML files at paths as layers, in order. Read errors
// are reported by Build.
func (b *Builder) MergeFile(paths ...string) *Builder {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			err = fmt.Errorf("failed to open config file: %w", err)
		}
		b.layers = append(b.layers, layer{source: path, data: data, err: err})
	}
	return b
}

// Build merges every layer into the base configuration, then sanitizes and
// validates the result. All layer errors are reported together.
func (b *Builder) Build(skips ...SkipValidation) (*Config, error) {
	if b.Config == nil {
		b.Config = DefaultConfig()
	}

	var errs error
	for _, l := range b.layers {
		if l.err != nil {
			errs = errors.Join(errs, l.err)
			continue
		}

		overlay := &Config{}
		if err := yaml.Unmarshal(l.data, overlay); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to parse YAML from %s: %w", l.source, err))
			continue
		}
		// pointers distinguish an explicit false from an omitted toggle
		if err := mergo.Merge(b.Config, overlay, mergo.WithOverride, mergo.WithTransformers(boolPtrTransformer{})); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to merge config from %s: %w", l.source, err))
		}
	}
	if errs != nil {
		return nil, errs
	}

	b.Config.sanitize()
	if err := b.Config.Validate(skips...); err != nil {
		return nil, err
	}
	return b.Config, nil
}

type boolPtrTransformer struct{}

func (boolPtrTransformer) Transformer(typ reflect.Type) func(dst, src reflect.Value) error {
	if typ != reflect.TypeOf((*bool)(nil)) {
		return nil
	}

	return func(dst, src reflect.Value) error {
		if !src.IsNil() && dst.CanSet() {
			dst.Set(src)
		}
		return nil
	}
}
