package revision

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/Nu-SCPTheme/deepwell/internal/wikierr"
)

// Identity is an authoring or committing identity attached to a blame
// group.
type Identity struct {
	Name  string
	Email string
	Time  time.Time
}

// BlameLine is one line of content with its originating commit and line
// positions.
type BlameLine struct {
	Commit  Hash
	OldLine int
	NewLine int
	Text    []byte
}

// BlameGroup is a contiguous run of lines introduced together.
type BlameGroup struct {
	Author    Identity
	Committer Identity
	Summary   string
	Previous  *Hash
	Lines     []BlameLine
}

// Blame is the full line-level authorship of a page, reconstructed fresh
// on every request.
type Blame struct {
	Groups []BlameGroup
}

// parser state for porcelain blame output
type blameState int

const (
	// expectHeader wants "<sha1> <old> <new> [<count>]".
	expectHeader blameState = iota

	// expectMetadata wants commit metadata key-value lines, or the
	// tab-prefixed content line when git repeats a known commit.
	expectMetadata

	// expectContent wants exactly the tab-prefixed content line.
	expectContent
)

// commitMeta caches per-commit metadata. Porcelain emits the full header
// block only on a commit's first occurrence.
type commitMeta struct {
	author    identityBuilder
	committer identityBuilder
	summary   string
	previous  *Hash
}

type identityBuilder struct {
	name      string
	email     string
	timestamp int64
	tzOffset  int // seconds east of UTC
}

func (b identityBuilder) build() Identity {
	zone := time.FixedZone("", b.tzOffset)
	return Identity{
		Name:  b.name,
		Email: b.email,
		Time:  time.Unix(b.timestamp, 0).In(zone),
	}
}

// parseTZ converts a porcelain timezone like "+0200" or "-0430" into
// seconds east of UTC.
func parseTZ(value string) (int, bool) {
	if len(value) != 5 || (value[0] != '+' && value[0] != '-') {
		return 0, false
	}

	hours, err := strconv.Atoi(value[1:3])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(value[3:5])
	if err != nil {
		return 0, false
	}

	offset := hours*3600 + minutes*60
	if value[0] == '-' {
		offset = -offset
	}
	return offset, true
}

// stripMail removes the angle brackets porcelain puts around emails.
func stripMail(value string) string {
	value = strings.TrimPrefix(value, "<")
	return strings.TrimSuffix(value, ">")
}

// parseBlame parses `git blame --porcelain` output. The format is a strict
// line protocol, so any unexpected line aborts with a ParseError rather
// than attempting recovery: this data feeds user-facing history views.
func parseBlame(raw []byte) (*Blame, error) {
	var (
		state  = expectHeader
		blame  = &Blame{}
		meta   = make(map[string]*commitMeta)
		cur    *commitMeta
		group  *BlameGroup
		commit Hash
		oldNo  int
		newNo  int
	)

	flush := func() {
		if group != nil && len(group.Lines) > 0 {
			blame.Groups = append(blame.Groups, *group)
		}
		group = nil
	}

	for _, line := range bytes.Split(raw, []byte("\n")) {
		if len(line) == 0 && state == expectHeader {
			continue
		}

		switch state {
		case expectHeader:
			hash, old, new, count, ok := parseBlameHeader(line)
			if !ok {
				return nil, wikierr.Parse("malformed blame header line")
			}

			commit, oldNo, newNo = hash, old, new

			cm, seen := meta[hash.String()]
			if !seen {
				cm = &commitMeta{}
				meta[hash.String()] = cm
			}
			cur = cm

			// A header carrying a line count starts a new group.
			if count > 0 {
				flush()
				group = &BlameGroup{}
			}
			if group == nil {
				return nil, wikierr.Parse("blame content before any group header")
			}

			state = expectMetadata

		case expectMetadata:
			if len(line) > 0 && line[0] == '\t' {
				// Known commit repeated: no metadata block.
				appendBlameLine(group, cur, commit, oldNo, newNo, line)
				state = expectHeader
				continue
			}

			key, value := splitMetadata(line)
			switch key {
			case "author":
				cur.author.name = value
			case "author-mail":
				cur.author.email = stripMail(value)
			case "author-time":
				ts, err := strconv.ParseInt(value, 10, 64)
				if err != nil {
					return nil, wikierr.Parse("bad author-time in blame output")
				}
				cur.author.timestamp = ts
			case "author-tz":
				offset, ok := parseTZ(value)
				if !ok {
					return nil, wikierr.Parse("bad author-tz in blame output")
				}
				cur.author.tzOffset = offset
			case "committer":
				cur.committer.name = value
			case "committer-mail":
				cur.committer.email = stripMail(value)
			case "committer-time":
				ts, err := strconv.ParseInt(value, 10, 64)
				if err != nil {
					return nil, wikierr.Parse("bad committer-time in blame output")
				}
				cur.committer.timestamp = ts
			case "committer-tz":
				offset, ok := parseTZ(value)
				if !ok {
					return nil, wikierr.Parse("bad committer-tz in blame output")
				}
				cur.committer.tzOffset = offset
			case "summary":
				cur.summary = value
			case "previous":
				// "previous <sha1> <filename>"
				if len(value) < 40 {
					return nil, wikierr.Parse("bad previous commit in blame output")
				}
				prev, err := ParseHash(value[:40])
				if err != nil {
					return nil, wikierr.Parse("bad previous commit in blame output")
				}
				cur.previous = &prev
			case "boundary":
				// Marker only, no value.
			case "filename":
				state = expectContent
			case "":
				return nil, wikierr.Parse("malformed blame metadata line")
			default:
				// Unknown porcelain keys are tolerated for forward
				// compatibility as long as they keep the key shape.
				if !metadataKeyShape(key) {
					return nil, wikierr.Parse("malformed blame metadata line")
				}
			}

		case expectContent:
			if len(line) == 0 || line[0] != '\t' {
				return nil, wikierr.Parse("expected content line in blame output")
			}
			appendBlameLine(group, cur, commit, oldNo, newNo, line)
			state = expectHeader
		}
	}

	if state != expectHeader {
		return nil, wikierr.Parse("truncated blame output")
	}

	flush()
	return blame, nil
}

// appendBlameLine records a content line and stamps the group with its
// commit's metadata.
func appendBlameLine(group *BlameGroup, cm *commitMeta, commit Hash, oldNo, newNo int, line []byte) {
	text := make([]byte, len(line)-1)
	copy(text, line[1:])

	group.Lines = append(group.Lines, BlameLine{
		Commit:  commit,
		OldLine: oldNo,
		NewLine: newNo,
		Text:    text,
	})

	group.Author = cm.author.build()
	group.Committer = cm.committer.build()
	group.Summary = cm.summary
	group.Previous = cm.previous
}

// parseBlameHeader parses "<sha1> <old> <new>" with an optional trailing
// group line count.
func parseBlameHeader(line []byte) (hash Hash, old, new, count int, ok bool) {
	fields := strings.Fields(string(line))
	if len(fields) < 3 || len(fields) > 4 {
		return Hash{}, 0, 0, 0, false
	}

	hash, err := ParseHash(fields[0])
	if err != nil {
		return Hash{}, 0, 0, 0, false
	}

	old, err = strconv.Atoi(fields[1])
	if err != nil {
		return Hash{}, 0, 0, 0, false
	}
	new, err = strconv.Atoi(fields[2])
	if err != nil {
		return Hash{}, 0, 0, 0, false
	}

	if len(fields) == 4 {
		count, err = strconv.Atoi(fields[3])
		if err != nil || count < 1 {
			return Hash{}, 0, 0, 0, false
		}
	}

	return hash, old, new, count, true
}

func splitMetadata(line []byte) (key, value string) {
	s := string(line)
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

// metadataKeyShape reports whether key looks like a porcelain metadata key
// (lowercase letters and dashes).
func metadataKeyShape(key string) bool {
	if key == "" {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c < 'a' || c > 'z') && c != '-' {
			return false
		}
	}
	return true
}
