package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// fileConfig holds option defaults read by -K. Keys are the long flag names.
type fileConfig struct {
	Compressed       *bool    `yaml:"compressed"`
	Insecure         *bool    `yaml:"insecure"`
	Request          *string  `yaml:"request"`
	Verbose          *bool    `yaml:"verbose"`
	ConnectTimeout   *int     `yaml:"connect-timeout"`
	ConnectTimeoutMs *int     `yaml:"connect-timeout-ms"`
	Data             *string  `yaml:"data"`
	WriteOut         *string  `yaml:"write-out"`
	Headers          []string `yaml:"header"`
	Location         *bool    `yaml:"location"`
	MaxRedirs        *int     `yaml:"max-redirs"`
}

func loadFileConfig(name string) (*fileConfig, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	fc := &fileConfig{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %s: %w", name, err)
	}
	return fc, nil
}

// apply copies file values into opts for every flag not given on the command line.
// Headers from the file are sent in addition to command line headers.
func (fc *fileConfig) apply(flags *pflag.FlagSet, opts *options) {
	setBool(flags, "compressed", fc.Compressed, &opts.Compressed)
	setBool(flags, "insecure", fc.Insecure, &opts.Insecure)
	setString(flags, "request", fc.Request, &opts.Request)
	setBool(flags, "verbose", fc.Verbose, &opts.Verbose)
	setInt(flags, "connect-timeout", fc.ConnectTimeout, &opts.ConnectTimeout)
	setInt(flags, "connect-timeout-ms", fc.ConnectTimeoutMs, &opts.ConnectTimeoutMs)
	setString(flags, "data", fc.Data, &opts.Data)
	setString(flags, "write-out", fc.WriteOut, &opts.WriteOut)
	setBool(flags, "location", fc.Location, &opts.Location)
	setInt(flags, "max-redirs", fc.MaxRedirs, &opts.MaxRedirs)
	if len(fc.Headers) != 0 {
		opts.Headers = append(append([]string{}, fc.Headers...), opts.Headers...)
	}
	if fc.ConnectTimeoutMs != nil && !flags.Changed("connect-timeout-ms") {
		opts.hasConnectTimeoutMs = true
	}
	if fc.Data != nil && !flags.Changed("data") {
		opts.hasData = true
	}
}

func setBool(flags *pflag.FlagSet, name string, src *bool, dst *bool) {
	if src != nil && !flags.Changed(name) {
		*dst = *src
	}
}

func setString(flags *pflag.FlagSet, name string, src *string, dst *string) {
	if src != nil && !flags.Changed(name) {
		*dst = *src
	}
}

func setInt(flags *pflag.FlagSet, name string, src *int, dst *int) {
	if src != nil && !flags.Changed(name) {
		*dst = *src
	}
}
