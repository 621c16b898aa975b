package wral

import (
	"fmt"
	"regexp"
	"strconv"
)

// journalFileRe matches {name}-journal-{num}.dat, num any run of decimal
// digits. Grounded on wral's (unretrieved) files.rs via journal.rs's calls
// into it; the grammar itself comes from spec.md's external interfaces.
var journalFileRe = regexp.MustCompile(`^(.+)-journal-(\d+)\.dat$`)

// makeFilename builds the on-disk name for journal number num of a log
// named name. num is written as a plain decimal, no fixed-width padding.
func makeFilename(name string, num int) string {
	return fmt.Sprintf("%s-journal-%d.dat", name, num)
}

// unwrapFilename parses filename into its log name and journal number.
// It reports ok=false for anything that doesn't match the grammar above,
// including files belonging to a differently-named log.
func unwrapFilename(filename string) (name string, num int, ok bool) {
	m := journalFileRe.FindStringSubmatch(filename)
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], n, true
}
