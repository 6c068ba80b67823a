// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package testutils collects the small bits of test scaffolding shared by
// the cmd and server packages: a context carrying a ready-to-use logger, a
// dedenter for tab-indented YAML fixtures written as Go raw strings, and a
// helper that waits for a line matching a pattern to show up on a reader.
package testutils

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/mcplane/mcp-runtime/internal/log"
	"github.com/mcplane/mcp-runtime/internal/util"
)

// ContextWithNewLogger returns a background context carrying a standard
// logger writing to stdout/stderr, for tests that need a context satisfying
// util.LoggerFromContext without standing up the full CLI.
func ContextWithNewLogger() (context.Context, error) {
	logger, err := log.NewStdLogger(os.Stdout, os.Stderr, "info")
	if err != nil {
		return nil, fmt.Errorf("unable to initialize logger: %w", err)
	}
	return util.WithLogger(context.Background(), logger), nil
}

// FormatYaml dedents a YAML document written as an indented Go raw string
// literal. Test fixtures line the YAML up with the surrounding Go code
// using tabs, which both over-indents every line by the same prefix and
// uses a whitespace character the YAML decoder rejects for structure; this
// strips the common tab prefix and rewrites the remaining tabs as
// two-space indents so the result parses like a normal YAML file.
func FormatYaml(s string) []byte {
	lines := strings.Split(s, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}

	minIndent := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		n := 0
		for n < len(line) && line[n] == '\t' {
			n++
		}
		if minIndent == -1 || n < minIndent {
			minIndent = n
		}
	}
	if minIndent < 0 {
		minIndent = 0
	}

	var b strings.Builder
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			b.WriteByte('\n')
			continue
		}
		if len(line) >= minIndent {
			line = line[minIndent:]
		}
		b.WriteString(strings.ReplaceAll(line, "\t", "  "))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// WaitForString scans r line by line until one matches re, or until ctx is
// done. It's used to observe log output produced by a goroutine (e.g. a
// file watcher) without racing on timing.
func WaitForString(ctx context.Context, re *regexp.Regexp, r io.Reader) (string, error) {
	lines := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case err := <-errs:
			return "", err
		case line, ok := <-lines:
			if !ok {
				return "", fmt.Errorf("reached end of input before a line matched %q", re.String())
			}
			if re.MatchString(line) {
				return line, nil
			}
		}
	}
}
