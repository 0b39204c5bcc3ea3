package dist

import (
	"bufio"
	"strings"
)

// Metadata is the subset of RFC 822 "core metadata" fields (PEP 345/566) this
// system cares about, as found in a wheel's METADATA or an sdist's PKG-INFO.
type Metadata struct {
	Name            string
	Version         string
	Summary         string
	Description     string
	HomePage        string
	Author          string
	AuthorEmail     string
	Maintainer      string
	MaintainerEmail string
	License         string
	Classifiers     []string
	RequiresDist    []string
	RequiresPython  string
	ProjectURLs     map[string]string
}

// ParseMetadata parses the RFC 822-style header block of a METADATA or
// PKG-INFO file. Everything after the first blank line is treated as the
// long description.
func ParseMetadata(content string) Metadata {
	var md Metadata

	md.ProjectURLs = make(map[string]string)

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var descLines []string

	inBody := false

	for scanner.Scan() {
		line := scanner.Text()

		if inBody {
			descLines = append(descLines, line)
			continue
		}

		if strings.TrimSpace(line) == "" {
			inBody = true
			continue
		}

		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)

		switch key {
		case "Name":
			md.Name = val
		case "Version":
			md.Version = val
		case "Summary":
			md.Summary = val
		case "Home-page":
			md.HomePage = val
		case "Author":
			md.Author = val
		case "Author-email":
			md.AuthorEmail = val
		case "Maintainer":
			md.Maintainer = val
		case "Maintainer-email":
			md.MaintainerEmail = val
		case "License":
			md.License = val
		case "Classifier":
			md.Classifiers = append(md.Classifiers, val)
		case "Requires-Dist":
			md.RequiresDist = append(md.RequiresDist, val)
		case "Requires-Python":
			md.RequiresPython = val
		case "Description":
			descLines = append(descLines, val)
		case "Project-URL":
			name, url, ok := strings.Cut(val, ",")
			if ok {
				md.ProjectURLs[strings.TrimSpace(name)] = strings.TrimSpace(url)
			}
		}
	}

	md.Description = strings.TrimSpace(strings.Join(descLines, "\n"))

	return md
}
