// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pipeconfig provides a mechanism to create a bigpipe
// configuration from a shared profile. Pipeconfig uses the
// configuration mechanism in package github.com/grailbio/base/config,
// and reads a default profile from $HOME/.bigpipe/config.
package pipeconfig

import (
	"flag"
	"os"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigpipe"
)

// Path determines the location of the bigpipe profile read by Parse.
var Path = os.ExpandEnv("$HOME/.bigpipe/config")

// Parse registers configuration flags and calls flag.Parse. It reads
// the bigpipe configuration from Path, applies any flags provided,
// and returns the resulting configuration. Parse panics if the
// configuration cannot be constructed.
func Parse() *bigpipe.Config {
	config.RegisterFlags("", Path)
	flag.Parse()
	must.Nil(config.ProcessFlags())
	return Must()
}

// Must returns the bigpipe configuration of the current profile,
// without parsing flags.
func Must() *bigpipe.Config {
	var c *bigpipe.Config
	config.Must("bigpipe", &c)
	return c
}
