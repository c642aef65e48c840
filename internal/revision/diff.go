package revision

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/Nu-SCPTheme/deepwell/internal/wikierr"
)

// Diff line origins.
const (
	// OriginContext marks an unchanged line.
	OriginContext = ' '
	// OriginAdd marks an inserted line.
	OriginAdd = '+'
	// OriginDelete marks a removed line.
	OriginDelete = '-'
	// OriginContextEOF, OriginAddEOF and OriginDeleteEOF mark the
	// "no newline at end of file" variants.
	OriginContextEOF = '='
	OriginAddEOF     = '>'
	OriginDeleteEOF  = '<'
	// OriginFileHeader marks file header lines (diff --git, index, ---, +++).
	OriginFileHeader = 'F'
	// OriginHunkHeader marks @@ hunk header lines.
	OriginHunkHeader = 'H'
)

// DiffLine is one line of a page diff.
type DiffLine struct {
	// Origin classifies the line; see the Origin constants.
	Origin byte

	// OldLine is the line number in the old version, 0 for added lines.
	OldLine int

	// NewLine is the line number in the new version, 0 for deleted lines.
	NewLine int

	// Count is how many lines the record covers. Unified output emits
	// one per record, so this is 1, except for the "no newline" markers
	// which annotate the preceding line and cover none.
	Count int

	// Text is the line content without its origin marker.
	Text string
}

// Diff is the change of a single page between two commits, reconstructed
// fresh per request.
type Diff struct {
	// Insertions and Deletions are git's own aggregate counts.
	Insertions int
	Deletions  int

	// PercentChanged is the share of the patched region that changed:
	// changed lines against changed-plus-context lines, as emitted by
	// the tool's patch. 0 for an empty diff.
	PercentChanged float32

	// OldName is nil when the page was created; NewName is nil when it
	// was deleted.
	OldName *string
	NewName *string

	Lines []DiffLine
}

// parseDiff combines git's numstat, name-status and unified patch output
// for one path into a Diff.
func parseDiff(numstat, nameStatus, patch []byte) (*Diff, error) {
	diff := &Diff{}

	if err := parseNumstat(diff, numstat); err != nil {
		return nil, err
	}
	if err := parseNameStatus(diff, nameStatus); err != nil {
		return nil, err
	}
	if err := parsePatch(diff, patch); err != nil {
		return nil, err
	}

	return diff, nil
}

// parseNumstat reads "insertions<TAB>deletions<TAB>path". Binary files
// report "-" counts, which stay zero. Empty input is an empty diff.
func parseNumstat(diff *Diff, raw []byte) error {
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return nil
	}

	fields := strings.SplitN(line, "\t", 3)
	if len(fields) != 3 {
		return wikierr.Parse("malformed numstat line in diff output")
	}

	if fields[0] != "-" {
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			return wikierr.Parse("malformed insertion count in diff output")
		}
		diff.Insertions = n
	}
	if fields[1] != "-" {
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return wikierr.Parse("malformed deletion count in diff output")
		}
		diff.Deletions = n
	}
	return nil
}

// parseNameStatus reads "X<TAB>path" (or "Rnn<TAB>old<TAB>new") and fills
// the old/new page names. Creation leaves OldName nil, deletion leaves
// NewName nil.
func parseNameStatus(diff *Diff, raw []byte) error {
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return nil
	}

	fields := strings.Split(line, "\t")
	if len(fields) < 2 {
		return wikierr.Parse("malformed name-status line in diff output")
	}

	status := fields[0]
	switch status[0] {
	case 'A':
		diff.NewName = &fields[1]
	case 'D':
		diff.OldName = &fields[1]
	case 'R', 'C':
		if len(fields) < 3 {
			return wikierr.Parse("malformed rename in diff output")
		}
		diff.OldName = &fields[1]
		diff.NewName = &fields[2]
	default:
		diff.OldName = &fields[1]
		diff.NewName = &fields[1]
	}
	return nil
}

// parsePatch walks the unified patch, classifying each line and tracking
// old/new line numbers from the hunk headers.
func parsePatch(diff *Diff, raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	var (
		oldNo, newNo       int
		inHunk             bool
		changed, unchanged int
		lastOrigin         byte
	)

	lines := bytes.Split(raw, []byte("\n"))
	for i, line := range lines {
		// A trailing newline yields one empty trailing element.
		if len(line) == 0 && i == len(lines)-1 {
			break
		}

		s := string(line)
		switch {
		case strings.HasPrefix(s, "@@"):
			var ok bool
			oldNo, newNo, ok = parseHunkHeader(s)
			if !ok {
				return wikierr.Parse("malformed hunk header in diff output")
			}
			inHunk = true
			diff.Lines = append(diff.Lines, DiffLine{Origin: OriginHunkHeader, Count: 1, Text: s})
			lastOrigin = OriginHunkHeader

		case !inHunk:
			diff.Lines = append(diff.Lines, DiffLine{Origin: OriginFileHeader, Count: 1, Text: s})
			lastOrigin = OriginFileHeader

		case strings.HasPrefix(s, "\\"):
			// "\ No newline at end of file": reclassify by what it
			// follows, per the EOF origin markers.
			origin := byte(OriginContextEOF)
			switch lastOrigin {
			case OriginAdd:
				origin = OriginAddEOF
			case OriginDelete:
				origin = OriginDeleteEOF
			}
			diff.Lines = append(diff.Lines, DiffLine{Origin: origin, Text: strings.TrimPrefix(s, "\\ ")})

		case strings.HasPrefix(s, "+"):
			diff.Lines = append(diff.Lines, DiffLine{
				Origin:  OriginAdd,
				NewLine: newNo,
				Count:   1,
				Text:    s[1:],
			})
			newNo++
			changed++
			lastOrigin = OriginAdd

		case strings.HasPrefix(s, "-"):
			diff.Lines = append(diff.Lines, DiffLine{
				Origin:  OriginDelete,
				OldLine: oldNo,
				Count:   1,
				Text:    s[1:],
			})
			oldNo++
			changed++
			lastOrigin = OriginDelete

		case strings.HasPrefix(s, " "), s == "":
			text := s
			if text != "" {
				text = s[1:]
			}
			diff.Lines = append(diff.Lines, DiffLine{
				Origin:  OriginContext,
				OldLine: oldNo,
				NewLine: newNo,
				Count:   1,
				Text:    text,
			})
			oldNo++
			newNo++
			unchanged++
			lastOrigin = OriginContext

		default:
			return wikierr.Parse("unexpected line in diff output")
		}
	}

	if changed+unchanged > 0 {
		diff.PercentChanged = 100 * float32(changed) / float32(changed+unchanged)
	}
	return nil
}

// parseHunkHeader extracts the starting old/new line numbers from an
// "@@ -a,b +c,d @@" header.
func parseHunkHeader(s string) (oldStart, newStart int, ok bool) {
	fields := strings.Fields(s)
	if len(fields) < 3 || fields[0] != "@@" {
		return 0, 0, false
	}

	oldStart, ok = parseHunkRange(fields[1], '-')
	if !ok {
		return 0, 0, false
	}
	newStart, ok = parseHunkRange(fields[2], '+')
	if !ok {
		return 0, 0, false
	}
	return oldStart, newStart, true
}

func parseHunkRange(s string, sign byte) (int, bool) {
	if len(s) < 2 || s[0] != sign {
		return 0, false
	}
	s = s[1:]
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
