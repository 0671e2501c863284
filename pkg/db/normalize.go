package db

import (
	"regexp"
	"strings"
)

// TrainLabel is the canonical label for train statuses.
const TrainLabel = "On Train"

var (
	whitespace  = regexp.MustCompile(`\s+`)
	trainHyphen = regexp.MustCompile(`(?i)^(.*\btrain)\s*[-–—]\s*(.+)$`)
	onTrain     = regexp.MustCompile(`(?i)^on\s+train\s+(.+)$`)
)

// Normalize splits a combined status into a short label and a detail line.
// Whitespace runs collapse to single spaces in both parts. An explicit detail
// is kept as given. Otherwise:
//
//	"<... train> - <detail>"  -> "<... train>", "<detail>"  (hyphen, en or em dash)
//	"on train <detail>"       -> "On Train", "<detail>"
//
// Anything else is returned unchanged.
func Normalize(message, detail string) (string, string) {
	message = collapse(message)
	detail = collapse(detail)
	if detail != "" {
		return message, detail
	}

	if m := trainHyphen.FindStringSubmatch(message); m != nil {
		label := strings.TrimSpace(m[1])
		if strings.EqualFold(label, TrainLabel) {
			label = TrainLabel
		}
		return label, strings.TrimSpace(m[2])
	}
	if m := onTrain.FindStringSubmatch(message); m != nil {
		return TrainLabel, strings.TrimSpace(m[1])
	}
	return message, ""
}

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
