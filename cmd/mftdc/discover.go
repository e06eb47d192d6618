// Copyright 2018-present Kuei-chun Chen. All rights reserved.
// discover.go

package main

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// discoverFiles expands a list of file and directory arguments into a
// sorted list of FTDC filenames, recognizing the diagnostic.data
// writer's own naming convention: "metrics.<timestamp>" for a
// completed file and "metrics.interim" for the one currently being
// written. File discovery and naming conventions sit outside what
// the decoder itself needs to know (the format has no notion of
// "files" below the framing-document stream), so this logic lives
// here in the CLI rather than in ftdcfile.
func discoverFiles(args []string) []string {
	var names []string
	for _, arg := range args {
		fi, err := os.Stat(arg)
		if err != nil {
			continue
		}
		if fi.IsDir() {
			entries, err := os.ReadDir(arg)
			if err != nil {
				continue
			}
			for _, entry := range entries {
				if entry.IsDir() || !isMetricsFilename(entry.Name()) {
					continue
				}
				names = append(names, filepath.Join(arg, entry.Name()))
			}
			continue
		}
		if isMetricsFilename(filepath.Base(arg)) {
			names = append(names, arg)
		}
	}
	sort.Strings(names)
	return names
}

func isMetricsFilename(name string) bool {
	return strings.HasPrefix(name, "metrics.")
}
