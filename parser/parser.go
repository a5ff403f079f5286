package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	imageCountRe = regexp.MustCompile(`([\d,]+)\s+images?`)
	modelCountRe = regexp.MustCompile(`([\d,]+)\s+models?`)
)

// ProjectPath splits a listing link of the shape /{workspace}/{project} into
// its two identity segments. Absolute URLs, query strings, and trailing
// slashes are tolerated; anything that does not yield two non-empty segments
// is an error, because a listing without identity cannot be stored.
func ProjectPath(href string) (workspaceID, projectID string, err error) {
	path := href
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if i := strings.Index(path, "://"); i >= 0 {
		rest := path[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			path = rest[j:]
		} else {
			path = ""
		}
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("project link %q does not match /{workspace}/{project}", href)
	}
	workspaceID = parts[len(parts)-2]
	projectID = parts[len(parts)-1]
	if workspaceID == "" || projectID == "" {
		return "", "", fmt.Errorf("project link %q has empty path segments", href)
	}
	return workspaceID, projectID, nil
}

// ImageCount extracts the image total from a details blob like
// "1,234 images - 3 models". A missing or non-numeric label yields nil.
func ImageCount(details string) *int {
	return matchCount(imageCountRe, details)
}

// ModelCount extracts the model total from a details blob; nil when absent.
func ModelCount(details string) *int {
	return matchCount(modelCountRe, details)
}

func matchCount(re *regexp.Regexp, text string) *int {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

// Classes splits a delimited class blob into trimmed, non-empty labels,
// preserving order. An empty blob yields an empty slice.
func Classes(blob string) []string {
	classes := []string{}
	for _, part := range strings.Split(blob, ",") {
		if c := strings.TrimSpace(part); c != "" {
			classes = append(classes, c)
		}
	}
	return classes
}

// CleanAuthor trims the rendered author text and strips the "by " prefix the
// catalog puts in front of the name.
func CleanAuthor(text string) string {
	author := strings.TrimSpace(text)
	author = strings.TrimPrefix(author, "by ")
	return strings.TrimSpace(author)
}

// CleanTitle trims the rendered title text.
func CleanTitle(text string) string {
	return strings.TrimSpace(text)
}
