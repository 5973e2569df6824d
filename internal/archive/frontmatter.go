package archive

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/diaryx/syncd/internal/crdt/workspace"
)

// frontmatter is the rendered per-file metadata block: a fenced YAML
// document ahead of the body. Unknown frontmatter keys survive a round
// trip bit-exactly through the extra map's raw JSON values.
type frontmatter struct {
	Title       string
	Parent      string
	Children    []string
	Audiences   []string
	Description string
	Extra       map[string]json.RawMessage
	ModifiedAt  int64
}

const fence = "---"

func frontmatterFromView(v workspace.View) frontmatter {
	fm := frontmatter{
		Audiences:  v.Audiences,
		Extra:      v.Extra,
		ModifiedAt: v.ModifiedAt,
	}
	if v.Title != nil {
		fm.Title = *v.Title
	}
	if v.Parent != nil {
		fm.Parent = *v.Parent
	}
	if v.Children != nil {
		fm.Children = v.Children
	}
	if v.Description != nil {
		fm.Description = *v.Description
	}
	return fm
}

// render writes the frontmatter block followed by body.
func (fm frontmatter) render(body string) string {
	var b strings.Builder
	b.WriteString(fence + "\n")
	if fm.Title != "" {
		fmt.Fprintf(&b, "title: %s\n", yamlScalar(fm.Title))
	}
	if fm.Parent != "" {
		fmt.Fprintf(&b, "parent: %s\n", yamlScalar(fm.Parent))
	}
	if fm.Children != nil {
		b.WriteString("contents:\n")
		for _, c := range fm.Children {
			fmt.Fprintf(&b, "  - %s\n", yamlScalar(c))
		}
	}
	if len(fm.Audiences) > 0 {
		sorted := append([]string(nil), fm.Audiences...)
		sort.Strings(sorted)
		b.WriteString("audiences:\n")
		for _, a := range sorted {
			fmt.Fprintf(&b, "  - %s\n", yamlScalar(a))
		}
	}
	if fm.Description != "" {
		fmt.Fprintf(&b, "description: %s\n", yamlScalar(fm.Description))
	}
	if fm.ModifiedAt != 0 {
		fmt.Fprintf(&b, "modified_at: %d\n", fm.ModifiedAt)
	}
	if len(fm.Extra) > 0 {
		keys := make([]string, 0, len(fm.Extra))
		for k := range fm.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "x-%s: %s\n", k, string(fm.Extra[k]))
		}
	}
	b.WriteString(fence + "\n")
	b.WriteString(body)
	return b.String()
}

// yamlScalar quotes a scalar as JSON, which is valid YAML and keeps
// the renderer free of escaping edge cases.
func yamlScalar(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// parseFrontmatter splits a rendered file back into its frontmatter
// and body. Files without a fence parse as body-only.
func parseFrontmatter(content string) (frontmatter, string, error) {
	fm := frontmatter{}
	if !strings.HasPrefix(content, fence+"\n") {
		return fm, content, nil
	}
	rest := content[len(fence)+1:]
	end := strings.Index(rest, fence+"\n")
	if end < 0 {
		return fm, "", fmt.Errorf("archive: unterminated frontmatter")
	}
	block := rest[:end]
	body := rest[end+len(fence)+1:]

	var listKey string
	for _, line := range strings.Split(block, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "  - ") {
			val, err := parseScalar(strings.TrimPrefix(line, "  - "))
			if err != nil {
				return fm, "", err
			}
			switch listKey {
			case "contents":
				fm.Children = append(fm.Children, val)
			case "audiences":
				fm.Audiences = append(fm.Audiences, val)
			}
			continue
		}

		key, rawVal, found := strings.Cut(line, ":")
		if !found {
			return fm, "", fmt.Errorf("archive: bad frontmatter line %q", line)
		}
		rawVal = strings.TrimSpace(rawVal)

		switch key {
		case "contents":
			listKey = "contents"
			if fm.Children == nil {
				fm.Children = []string{}
			}
		case "audiences":
			listKey = "audiences"
		case "title":
			v, err := parseScalar(rawVal)
			if err != nil {
				return fm, "", err
			}
			fm.Title = v
		case "parent":
			v, err := parseScalar(rawVal)
			if err != nil {
				return fm, "", err
			}
			fm.Parent = v
		case "description":
			v, err := parseScalar(rawVal)
			if err != nil {
				return fm, "", err
			}
			fm.Description = v
		case "modified_at":
			fmt.Sscanf(rawVal, "%d", &fm.ModifiedAt)
		default:
			if extraKey, ok := strings.CutPrefix(key, "x-"); ok {
				if fm.Extra == nil {
					fm.Extra = make(map[string]json.RawMessage)
				}
				fm.Extra[extraKey] = json.RawMessage(rawVal)
			}
			// Unknown non-extra keys are tolerated and dropped.
		}
	}
	return fm, body, nil
}

func parseScalar(s string) (string, error) {
	var out string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return "", fmt.Errorf("archive: bad frontmatter scalar %q: %w", s, err)
	}
	return out, nil
}
