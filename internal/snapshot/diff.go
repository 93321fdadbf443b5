package snapshot

import (
	"errors"
	"io/fs"

	"github.com/pmezard/go-difflib/difflib"
)

// binarySampleSize is the number of leading bytes inspected for NUL bytes.
const binarySampleSize = 8000

// UnifiedDiff renders the change to file since Capture as a unified diff.
// It returns "" when the content was not retained, is unchanged, or is binary.
func (s *Store) UnifiedDiff(root, file string, context int) (string, error) {
	before, ok := s.Content(file)
	if !ok {
		return "", nil
	}
	after, err := s.readFile(join(root, file))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", &ReadError{Path: file, Cause: err}
	}
	if string(before) == string(after) || isBinary(before) || isBinary(after) {
		return "", nil
	}

	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: "a/" + file,
		ToFile:   "b/" + file,
		Context:  context,
	})
}

// isBinary checks for NUL bytes in the leading sample, treating UTF-16 and
// UTF-32 byte order marks as text.
func isBinary(content []byte) bool {
	if len(content) >= 2 {
		if (content[0] == 0xFF && content[1] == 0xFE) || (content[0] == 0xFE && content[1] == 0xFF) {
			return false
		}
	}
	if len(content) >= 4 && content[0] == 0x00 && content[1] == 0x00 && content[2] == 0xFE && content[3] == 0xFF {
		return false
	}
	for i := range min(len(content), binarySampleSize) {
		if content[i] == 0 {
			return true
		}
	}
	return false
}
