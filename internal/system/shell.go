package system

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-shellwords"
)

// ShellQuote quotes s so a POSIX shell reads it back as one word.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ShellUnquote removes shell quoting from s. Words are joined with single
// spaces.
func ShellUnquote(s string) (string, error) {
	words, err := shellwords.Parse(s)
	if err != nil {
		return "", err
	}
	return strings.Join(words, " "), nil
}

// GetEnv returns an environment variable.
func GetEnv(name string) (string, bool) {
	return os.LookupEnv(name)
}

// SetEnv sets an environment variable. Without overwrite an existing value
// is kept.
func SetEnv(name, value string, overwrite bool) error {
	if _, ok := os.LookupEnv(name); ok && !overwrite {
		return nil
	}
	return os.Setenv(name, value)
}

// File test flags; they combine with OR.
const (
	TestRegular    = 1 << 0
	TestSymlink    = 1 << 1
	TestDir        = 1 << 2
	TestExecutable = 1 << 3
	TestExists     = 1 << 4

	testValid = TestRegular | TestSymlink | TestDir | TestExecutable | TestExists
)

// FileTest reports whether any of the tests in flags holds for path.
// Unknown flag bits fail the whole test.
func FileTest(path string, flags int) bool {
	if flags <= 0 || flags&^testValid != 0 {
		return false
	}
	if flags&TestSymlink != 0 {
		if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSymlink != 0 {
			return true
		}
	}
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	switch {
	case flags&TestExists != 0:
		return true
	case flags&TestRegular != 0 && fi.Mode().IsRegular():
		return true
	case flags&TestDir != 0 && fi.IsDir():
		return true
	case flags&TestExecutable != 0 && !fi.IsDir() && fi.Mode().Perm()&0o111 != 0:
		return true
	}
	return false
}

// ExpandHome replaces a leading "~" with the home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// Mkdir creates path and its parents after home expansion.
func Mkdir(path string, mode os.FileMode) error {
	return os.MkdirAll(ExpandHome(path), mode)
}
