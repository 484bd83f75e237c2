/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package ouidb

import (
	"bufio"
	"io"
	"strings"
)

// Lines longer than this are treated as a read failure rather than being
// silently truncated.
const maxLineLen = 1024 * 1024

// Entry is one (prefix, vendor) pair from the dataset.
type Entry struct {
	Prefix string
	Vendor string
}

// ReadStats summarizes a pass over a dataset.
type ReadStats struct {
	Lines   int
	Entries int
	Skipped int
}

// ParseLine converts one dataset line into an Entry.  Blank lines, comments
// and lines with fewer than two space-separated tokens are rejected.  The
// prefix is passed through without validation; the vendor is whatever
// follows the leading token.
func ParseLine(line string) (Entry, bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' {
		return Entry{}, false
	}

	tokens := strings.Split(line, " ")
	if len(tokens) < 2 {
		return Entry{}, false
	}

	prefix := tokens[0]
	return Entry{
		Prefix: prefix,
		Vendor: strings.TrimSpace(line[len(prefix):]),
	}, true
}

// DatasetReader yields the entries of a dataset one at a time, in the style
// of bufio.Scanner:
//
//	rdr := NewDatasetReader(f, "nmap-mac-prefixes")
//	for rdr.Next() {
//		e := rdr.Entry()
//		...
//	}
//	if err := rdr.Err(); err != nil {
//		...
//	}
type DatasetReader struct {
	name    string
	scanner *bufio.Scanner
	entry   Entry
	stats   ReadStats
	err     error
}

// NewDatasetReader returns a reader over r.  name identifies the source in
// errors.
func NewDatasetReader(r io.Reader, name string) *DatasetReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLen)

	return &DatasetReader{
		name:    name,
		scanner: scanner,
	}
}

// Next advances to the next well-formed entry.  It returns false at the end
// of the input or on a read error.
func (d *DatasetReader) Next() bool {
	if d.err != nil {
		return false
	}

	for d.scanner.Scan() {
		d.stats.Lines++
		line := d.scanner.Text()

		e, ok := ParseLine(line)
		if !ok {
			if t := strings.TrimSpace(line); t != "" && t[0] != '#' {
				d.stats.Skipped++
			}
			continue
		}
		d.entry = e
		d.stats.Entries++
		return true
	}

	if err := d.scanner.Err(); err != nil {
		d.err = DatasetReadError{Source: d.name, Err: err}
	}
	return false
}

// Entry returns the entry produced by the last call to Next.
func (d *DatasetReader) Entry() Entry {
	return d.entry
}

// Err returns the first read error encountered, as a DatasetReadError.
func (d *DatasetReader) Err() error {
	return d.err
}

// Stats returns the counts accumulated so far.
func (d *DatasetReader) Stats() ReadStats {
	return d.stats
}
