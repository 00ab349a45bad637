package hooks

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// segment is one simple command of a shell line
type segment struct {
	words []string
	// piped is set when stdin comes from the previous segment
	piped bool
}

// name returns the program a segment runs, skipping sudo and leading
// VAR=value assignments
func (s segment) name() (string, []string) {
	for i, w := range s.words {
		if w == "sudo" || (strings.Contains(w, "=") && !strings.HasPrefix(w, "-")) {
			continue
		}
		return filepath.Base(w), s.words[i+1:]
	}
	return "", nil
}

// ValidateCommand reports commands that would destroy the host, open a
// shell to the network or pipe a download into a shell. The command is
// split into words and pipeline segments first, so quoted arguments and
// look-alike flags (rsync -l) are not flagged.
func ValidateCommand(command string) error {
	compact := strings.Join(strings.Fields(command), "")
	if strings.Contains(compact, ":(){:|:&};:") {
		return fmt.Errorf("fork bomb in %q", command)
	}

	segs := parse(command)
	for i, seg := range segs {
		var prev *segment
		if i > 0 {
			prev = &segs[i-1]
		}
		if reason := checkSegment(seg, prev); reason != "" {
			return fmt.Errorf("dangerous command in %q: %s", command, reason)
		}
	}
	return nil
}

var (
	shells       = map[string]bool{"sh": true, "bash": true, "zsh": true, "dash": true, "ksh": true}
	downloaders  = map[string]bool{"curl": true, "wget": true}
	netcats      = map[string]bool{"nc": true, "ncat": true, "netcat": true}
	rootTargets  = map[string]bool{"/": true, "/*": true, "~": true, "~/": true, "$HOME": true, "${HOME}": true}
	systemDirs   = []string{"/etc/", "/usr/", "/bin/", "/sbin/", "/boot/"}
	randomInputs = []string{"if=/dev/zero", "if=/dev/random", "if=/dev/urandom"}
)

func checkSegment(seg segment, prev *segment) string {
	for i, w := range seg.words {
		if strings.Contains(w, "/dev/tcp/") || strings.Contains(w, "/dev/udp/") {
			return "network redirection " + w
		}
		if isOutputRedirect(w) && i+1 < len(seg.words) && hasAnyPrefix(seg.words[i+1], systemDirs) {
			return "write to " + seg.words[i+1]
		}
	}

	name, args := seg.name()
	switch {
	case name == "rm":
		recursive := false
		for _, a := range args {
			switch {
			case a == "--no-preserve-root":
				return "rm --no-preserve-root"
			case a == "--recursive":
				recursive = true
			case strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--"):
				recursive = recursive || strings.ContainsAny(a, "rR")
			}
		}
		if recursive {
			for _, a := range args {
				if rootTargets[a] {
					return "recursive delete of " + a
				}
			}
		}
	case name == "dd":
		if anyWordPrefix(args, randomInputs) && anyWordPrefix(args, []string{"of=/dev/"}) {
			return "dd onto a device"
		}
	case strings.HasPrefix(name, "mkfs"):
		return name
	case netcats[name]:
		for _, a := range args {
			if a == "--listen" || (strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--") && strings.Contains(a, "l")) {
				return name + " listener"
			}
		}
	case name == "chmod":
		mode := false
		for _, a := range args {
			if strings.HasSuffix(a, "777") {
				mode = true
			}
		}
		if mode {
			for _, a := range args {
				if rootTargets[a] {
					return "chmod 777 " + a
				}
			}
		}
	case shells[name] && seg.piped && prev != nil:
		if prevName, _ := prev.name(); downloaders[prevName] {
			return prevName + " piped into " + name
		}
	}
	return ""
}

func isOutputRedirect(w string) bool {
	return strings.HasPrefix(w, ">") || strings.HasPrefix(w, "&>")
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func anyWordPrefix(words, prefixes []string) bool {
	for _, w := range words {
		if hasAnyPrefix(w, prefixes) {
			return true
		}
	}
	return false
}

// parse splits a shell line into simple commands. Quotes group words,
// redirection operators become their own words, and | ; & && || and
// newlines separate segments.
func parse(command string) []segment {
	var (
		segs   []segment
		cur    segment
		word   strings.Builder
		inWord bool
		quote  rune
	)
	flushWord := func() {
		if inWord {
			cur.words = append(cur.words, word.String())
			word.Reset()
			inWord = false
		}
	}
	flushSegment := func(piped bool) {
		flushWord()
		if len(cur.words) > 0 {
			segs = append(segs, cur)
		}
		cur = segment{piped: piped}
	}
	redirect := func(rs []rune, i int) int {
		flushWord()
		op := string(rs[i])
		for i+1 < len(rs) && (rs[i+1] == '>' || rs[i+1] == '&' || rs[i+1] == '|') {
			i++
			op += string(rs[i])
		}
		cur.words = append(cur.words, op)
		return i
	}

	rs := []rune(command)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if quote != 0 {
			if r == quote {
				quote = 0
			} else {
				word.WriteRune(r)
			}
			continue
		}

		next := rune(0)
		if i+1 < len(rs) {
			next = rs[i+1]
		}
		switch {
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == '\\' && next != 0:
			i++
			word.WriteRune(next)
			inWord = true
		case r == '\n' || r == ';':
			flushSegment(false)
		case unicode.IsSpace(r):
			flushWord()
		case r == '|' && next == '|':
			i++
			flushSegment(false)
		case r == '|':
			flushSegment(true)
		case r == '&' && next == '&':
			i++
			flushSegment(false)
		case r == '&' && next == '>':
			i = redirect(rs, i)
		case r == '&':
			flushSegment(false)
		case r == '>' || r == '<':
			i = redirect(rs, i)
		default:
			word.WriteRune(r)
			inWord = true
		}
	}
	flushSegment(false)
	return segs
}
