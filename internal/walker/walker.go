// Copyright (c) 2026 John Earle
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

// Package walker enumerates staged input trees.
//
// The staged layout is strict: <root>/<owner>/<folder>/<file>. Owners and
// folders must be directories and leaves must be regular files; anything else
// is skipped silently. Enumeration is lexicographic at every level, so two
// walks over an unchanged tree yield the identical sequence.
package walker

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mailstore/ingestion/internal/models"
)

// Entry is one file to parse together with its source metadata.
type Entry struct {
	Path   string
	Source models.SourceLocation
}

// Walk visits every file of the two-level hierarchy under root in
// deterministic order, calling fn for each. An error from fn stops the walk.
// An unreadable root or subdirectory is a walk error; stray non-directory
// entries at the owner/folder levels are not.
func Walk(root string, fn func(Entry) error) error {
	owners, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read input root %s: %w", root, err)
	}

	for _, owner := range owners {
		if !owner.IsDir() {
			continue
		}
		ownerDir := filepath.Join(root, owner.Name())

		folders, err := os.ReadDir(ownerDir)
		if err != nil {
			return fmt.Errorf("read owner dir %s: %w", ownerDir, err)
		}

		for _, folder := range folders {
			if !folder.IsDir() {
				continue
			}
			folderDir := filepath.Join(ownerDir, folder.Name())

			files, err := os.ReadDir(folderDir)
			if err != nil {
				return fmt.Errorf("read folder dir %s: %w", folderDir, err)
			}

			for _, file := range files {
				if !file.Type().IsRegular() {
					continue
				}
				entry := Entry{
					Path: filepath.Join(folderDir, file.Name()),
					Source: models.SourceLocation{
						Owner:    owner.Name(),
						Folder:   folder.Name(),
						Filename: file.Name(),
					},
				}
				if err := fn(entry); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// Collect materializes the walk, primarily so the coordinator can count tasks
// before fanning out.
func Collect(root string) ([]Entry, error) {
	var entries []Entry
	err := Walk(root, func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
