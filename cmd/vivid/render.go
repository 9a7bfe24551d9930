package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/livefir/vivid"
)

func runRender(args []string) error {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	statePath := fs.String("state", "", "YAML file of state values")
	baseDir := fs.String("base-dir", "", "include resolution root (defaults to the page's directory)")
	minify := fs.Bool("minify", false, "minify the output")
	timeout := fs.Duration("timeout", 10*time.Second, "budget for include fetches")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: vivid render [flags] <file.html>")
	}
	file := fs.Arg(0)

	st := vivid.NewState()
	if *statePath != "" {
		if _, err := os.Stat(*statePath); err != nil {
			return fmt.Errorf("state file: %w", err)
		}
		seed, err := loadStateFile(*statePath)
		if err != nil {
			return err
		}
		for k, v := range seed {
			st.Set(k, v)
		}
	}

	base := *baseDir
	if base == "" {
		base = filepath.Dir(file)
	}

	d := vivid.New(st,
		vivid.WithBaseDir(base),
		vivid.WithMinify(*minify),
		vivid.WithLogger(log.New(os.Stderr, "", 0)),
	)
	defer d.Close()

	if err := d.MountFile(file); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := d.WaitIdle(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "vivid: includes still pending: %v\n", err)
	}

	fmt.Println(d.HTML())
	return nil
}

// loadStateFile reads top-level YAML keys into state seed values. A
// missing file is not an error, it seeds nothing.
func loadStateFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	seed := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	return seed, nil
}
