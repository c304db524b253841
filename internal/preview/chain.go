package preview

import "strings"

// MessageChain renders err and every error it wraps, one per line, outermost
// first. Wrapping errors usually repeat their cause as a ": cause" suffix;
// that suffix is trimmed so each message appears once.
func MessageChain(err error) string {
	if err == nil {
		return ""
	}
	var lines []string
	collect(err, &lines)
	return strings.Join(lines, "\n")
}

func collect(err error, lines *[]string) {
	var causes []error
	switch x := err.(type) {
	case interface{ Unwrap() []error }:
		for _, c := range x.Unwrap() {
			if c != nil {
				causes = append(causes, c)
			}
		}
	case interface{ Unwrap() error }:
		if c := x.Unwrap(); c != nil {
			causes = append(causes, c)
		}
	}

	own := err.Error()
	for i := len(causes) - 1; i >= 0; i-- {
		own = strings.TrimSuffix(own, causes[i].Error())
		own = strings.TrimRight(own, ": \t\n")
	}
	if own != "" && (len(*lines) == 0 || (*lines)[len(*lines)-1] != own) {
		*lines = append(*lines, own)
	}

	for _, c := range causes {
		collect(c, lines)
	}
}
