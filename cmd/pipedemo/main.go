// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Pipedemo is a bigpipe demo program that counts the words of the
// lines of a set of files. Lines are buffered between two phases,
// so that the counting phase runs only once all of the input has
// been read. Inputs may be local paths or s3:// URLs.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigpipe"
	"github.com/grailbio/bigpipe/nodes"
	"github.com/grailbio/bigpipe/pipeconfig"
)

func init() {
	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(
			s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})
}

func readLines(ctx context.Context, path string) ([]string, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close(ctx)
	var lines []string
	scan := bufio.NewScanner(f.Reader(ctx))
	for scan.Scan() {
		lines = append(lines, scan.Text())
	}
	return lines, scan.Err()
}

func main() {
	var (
		plot  = flag.Bool("plot", false, "print the pipeline as a graphviz digraph and exit")
		graph = flag.Bool("graph", false, "print the pipeline's phases and memory assignment after running")
	)
	log.AddFlags()
	cfg := pipeconfig.Parse()
	ctx := context.Background()

	var lines []string
	for _, path := range flag.Args() {
		l, err := readLines(ctx, path)
		if err != nil {
			log.Fatalf("%s: %v", path, err)
		}
		lines = append(lines, l...)
	}

	var words, nonEmpty int
	sink := nodes.NewSink(func(n int) error {
		words += n
		if n > 0 {
			nonEmpty++
		}
		return nil
	})
	in, _ := nodes.NewBuffer[int](sink)
	count := nodes.NewMap(func(line string) int { return len(strings.Fields(line)) }, in)
	input := nodes.NewInput(lines, count)
	p := bigpipe.New(input, cfg.Options()...)
	if *plot {
		must.Nil(p.Plot(os.Stdout))
		return
	}
	if err := p.Go(uint64(len(lines)), nil, cfg.Memory); err != nil {
		log.Fatal(err)
	}
	if *graph {
		must.Nil(p.WriteGraph(os.Stderr))
		must.Nil(p.OutputMemory(os.Stderr))
	}
	fmt.Printf("%d lines, %d non-empty, %d words\n", len(lines), nonEmpty, words)
}
