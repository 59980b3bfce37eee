package unit

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ParseError reports a malformed unit file (spec.md §4.1).
type ParseError struct {
	Path   string
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Reason)
}

// rawAssignment is one "Key=Value" line already specifier-expanded,
// in source order, tagged with the section it appeared under.
type rawAssignment struct {
	section string
	key     string
	value   string // empty value with reset=true clears prior list entries
	reset   bool
	path    string
	line    int
}

// readRawFile tokenizes one unit file or drop-in,
// handling comments, continuation lines and section headers only —
// no semantic interpretation of directive names happens here.
func readRawFile(path string, sp Specifiers) ([]rawAssignment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []rawAssignment
	section := ""
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	var pending strings.Builder
	pendingStartLine := 0

	flushPending := func() error {
		if pending.Len() == 0 {
			return nil
		}
		line := pending.String()
		pending.Reset()
		return parseLine(path, pendingStartLine, section, line, sp, &out, &section)
	}

	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		trimmed := strings.TrimRight(raw, "\r")
		if pending.Len() == 0 {
			pendingStartLine = lineNo
		}
		if strings.HasSuffix(trimmed, "\\") {
			pending.WriteString(strings.TrimSuffix(trimmed, "\\"))
			pending.WriteString(" ")
			continue
		}
		pending.WriteString(trimmed)
		if err := flushPending(); err != nil {
			return nil, err
		}
	}
	if err := flushPending(); err != nil {
		return nil, err
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseLine(path string, lineNo int, curSection string, line string, sp Specifiers, out *[]rawAssignment, sectionOut *string) error {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ";") {
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		if !strings.HasSuffix(trimmed, "]") {
			return &ParseError{Path: path, Line: lineNo, Reason: "malformed section header: " + trimmed}
		}
		*sectionOut = strings.TrimSuffix(strings.TrimPrefix(trimmed, "["), "]")
		return nil
	}
	if curSection == "" {
		return &ParseError{Path: path, Line: lineNo, Reason: "directive outside of any section: " + trimmed}
	}
	idx := strings.Index(trimmed, "=")
	if idx < 0 {
		return &ParseError{Path: path, Line: lineNo, Reason: "missing '=' in directive: " + trimmed}
	}
	key := strings.TrimSpace(trimmed[:idx])
	value := strings.TrimSpace(trimmed[idx+1:])
	value = sp.Expand(value)
	*out = append(*out, rawAssignment{
		section: curSection,
		key:     key,
		value:   value,
		reset:   value == "",
		path:    path,
		line:    lineNo,
	})
	return nil
}

// LoadPaths is the ordered set of directories to search for a base unit
// file, first match wins, per spec.md §6.
type LoadPaths struct {
	Transient string
	Etc       string
	Run       string
	UsrLib    string
}

func (lp LoadPaths) roots() []string {
	return []string{lp.Transient, lp.Etc, lp.Run, lp.UsrLib}
}

// findBaseFile returns the first existing "<root>/<name>" across the
// load path precedence order.
func findBaseFile(lp LoadPaths, name string) (string, error) {
	for _, root := range lp.roots() {
		if root == "" {
			continue
		}
		p := filepath.Join(root, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("unit %s not found in load path", name)
}

// dropInFiles returns every "<root>/<name>.d/*.conf" across all roots,
// in alphabetical order within each root, roots visited in load-path
// order so later roots' drop-ins still apply after earlier ones
// (drop-ins are merged across all four roots, the transient directory
// included, spec.md §4.1).
func dropInFiles(lp LoadPaths, name string) []string {
	var files []string
	for _, root := range lp.roots() {
		if root == "" {
			continue
		}
		dir := filepath.Join(root, name+".d")
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		var names []string
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".conf") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, n := range names {
			files = append(files, filepath.Join(dir, n))
		}
	}
	return files
}

// splitInstanceName splits "foo@bar.service" into stem "foo@",
// instance "bar" and kind "service". A non-template unit has empty
// instance and stem equal to the name without "@".
func splitInstanceName(name string) (stem, instance, kindStr string) {
	dot := strings.LastIndex(name, ".")
	if dot < 0 {
		return name, "", ""
	}
	base, k := name[:dot], name[dot+1:]
	at := strings.Index(base, "@")
	if at < 0 {
		return base, "", k
	}
	return base[:at+1], base[at+1:], k
}

// Load parses the named unit (e.g. "nginx.service", "foo@bar.service")
// from the given load paths, merging drop-ins, and returns the
// populated Unit. hostname/uid/user/home are supplied by the caller
// (normally the registry, which knows the running identity) for %H/%U/
// %u/%h expansion.
func Load(lp LoadPaths, name string, hostname, uid, user, home string) (*Unit, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	stem, instance, kindStr := splitInstanceName(name)
	isTemplate := strings.HasSuffix(stem, "@") && instance == ""

	sp := Specifiers{
		FullName: name,
		Stem:     strings.TrimSuffix(stem, "@"),
		Hostname: hostname,
		UID:      uid,
		User:     user,
		Home:     home,
	}
	if instance != "" {
		sp.Instance = EscapeInstance(instance)
		sp.InstanceRaw = instance
	}

	basePath, err := findBaseFile(lp, name)
	if err != nil && instance != "" {
		basePath, err = findBaseFile(lp, stem+"."+kindStr)
	}
	if err != nil {
		return nil, err
	}

	assignments, err := readRawFile(basePath, sp)
	if err != nil {
		return nil, err
	}

	var dropInPaths []string
	for _, d := range dropInFiles(lp, name) {
		dropInPaths = append(dropInPaths, d)
		more, err := readRawFile(d, sp)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, more...)
	}

	u := &Unit{
		Name:        name,
		Kind:        Kind(kindStr),
		LoadPath:    basePath,
		DropIns:     dropInPaths,
		IsTemplate:  isTemplate,
		Instance:    sp.Instance,
		InstanceRaw: sp.InstanceRaw,
	}
	if err := build(u, assignments); err != nil {
		return nil, err
	}
	return u, nil
}

// Instantiate returns an instance name for a template unit: the
// provided instance if non-empty, else the unit's DefaultInstance.
func Instantiate(templateStem string, kind Kind, instance string, defaultInstance string) (string, error) {
	if instance == "" {
		instance = defaultInstance
	}
	if instance == "" {
		return "", fmt.Errorf("template %s@.%s requires an instance", templateStem, kind)
	}
	return fmt.Sprintf("%s@%s.%s", templateStem, instance, kind), nil
}

// field lookup helpers used by build() in model.go.

type fields struct {
	list   map[string][]rawAssignment
	single map[string]rawAssignment
}

func indexFields(assignments []rawAssignment, section string) fields {
	f := fields{list: map[string][]rawAssignment{}, single: map[string]rawAssignment{}}
	for _, a := range assignments {
		if a.section != section {
			continue
		}
		if a.reset {
			delete(f.list, a.key)
			delete(f.single, a.key)
			continue
		}
		f.list[a.key] = append(f.list[a.key], a)
		f.single[a.key] = a // last wins for scalars
	}
	return f
}

func (f fields) scalar(key, def string) string {
	if a, ok := f.single[key]; ok {
		return a.value
	}
	return def
}

func (f fields) values(key string) []string {
	as := f.list[key]
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.value)
	}
	return out
}

func (f fields) splitValues(key string) []string {
	var out []string
	for _, v := range f.values(key) {
		out = append(out, strings.Fields(v)...)
	}
	return out
}

func (f fields) boolean(key string, def bool) (bool, error) {
	a, ok := f.single[key]
	if !ok {
		return def, nil
	}
	return ParseBool(a.value)
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
