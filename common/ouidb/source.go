/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package ouidb

import (
	"io"
	"io/ioutil"
	"strings"

	"github.com/spf13/afero"
)

// DatasetSource supplies the raw text of a prefix dataset.
type DatasetSource interface {
	Name() string
	Open() (io.ReadCloser, error)
}

// FileSource reads the dataset from a file.
type FileSource struct {
	fs   afero.Fs
	path string
}

// NewFileSource returns a source for path on fs.  A nil fs means the
// operating system's filesystem.
func NewFileSource(fs afero.Fs, path string) *FileSource {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileSource{fs: fs, path: path}
}

// Name returns the file path.
func (s *FileSource) Name() string {
	return s.path
}

// Open opens the file.
func (s *FileSource) Open() (io.ReadCloser, error) {
	return s.fs.Open(s.path)
}

// TextSource serves a dataset held in memory, such as one compiled into a
// binary.
type TextSource struct {
	Label string
	Text  string
}

// Name returns the label.
func (s TextSource) Name() string {
	return s.Label
}

// Open returns a reader over the text.
func (s TextSource) Open() (io.ReadCloser, error) {
	return ioutil.NopCloser(strings.NewReader(s.Text)), nil
}
