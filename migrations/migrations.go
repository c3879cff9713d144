// Package migrations bundles the migrations of the health application. They
// run in file name order when the runner is started without a file.
package migrations

import (
	"embed"
	"io/fs"
	"sort"
)

//go:embed *.sql
var Files embed.FS

// List returns the bundled migration file names in the order they apply.
func List() ([]string, error) {
	names, err := fs.Glob(Files, "*.sql")
	if err != nil {
		return nil, err
	}

	sort.Strings(names)
	return names, nil
}

// Lookup finds a bundled migration by file name, with or without the .sql
// extension.
func Lookup(name string) (string, bool) {
	names, err := List()
	if err != nil {
		return "", false
	}

	for _, candidate := range names {
		if candidate == name || candidate == name+".sql" {
			return candidate, true
		}
	}

	return "", false
}
