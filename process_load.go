package tramite

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LoadProcess reads a process definition from dir. The name argument is
// either a bare process name, in which case the lexicographically-last
// version wins, or an exact "name.version.xml" filename.
func LoadProcess(dir, name string) (*ProcessDefinition, error) {
	filename, err := resolveProcessFile(dir, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(dir, filename))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProcessNotFound, filename)
	}
	defer f.Close()
	return ParseProcess(f, filename)
}

// resolveProcessFile picks the file for a process name. Exact filenames pass
// through; bare names select the last matching version.
func resolveProcessFile(dir, name string) (string, error) {
	if strings.HasSuffix(name, ".xml") {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return "", fmt.Errorf("%w: %s", ErrProcessNotFound, name)
		}
		return name, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: cannot read process dir %s", ErrProcessNotFound, dir)
	}
	var matches []string
	for _, entry := range entries {
		fn := entry.Name()
		if strings.HasPrefix(fn, name+".") && strings.HasSuffix(fn, ".xml") {
			matches = append(matches, fn)
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrProcessNotFound, name)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// processInfo is the XML shape of the mandatory metadata block.
type processInfo struct {
	Public      bool   `xml:"public"`
	Author      string `xml:"author"`
	Date        string `xml:"date"`
	Name        string `xml:"name"`
	Description string `xml:"description"`
}

// ParseProcess parses a process definition document. The document is a
// <process> element holding an <info> metadata block followed by an ordered
// sequence of typed node elements.
func ParseProcess(r io.Reader, filename string) (*ProcessDefinition, error) {
	procName, version := splitProcessFilename(filename)
	def := &ProcessDefinition{
		Name:     procName,
		Version:  version,
		Filename: filename,
	}

	d := xml.NewDecoder(r)
	root, err := nextStartElement(d)
	if err != nil || root == nil || root.Name.Local != "process" {
		return nil, fmt.Errorf("%w: missing <process> root in %s", ErrMalformedProcess, filename)
	}

	var sawInfo bool
	for {
		start, err := nextChildElement(d)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrMalformedProcess, filename, err)
		}
		if start == nil {
			break
		}
		if start.Name.Local == "info" {
			var info processInfo
			if err := d.DecodeElement(&info, start); err != nil {
				return nil, fmt.Errorf("%w: bad info block in %s: %s", ErrMalformedProcess, filename, err)
			}
			if info.Author == "" || info.Date == "" || info.Name == "" {
				return nil, fmt.Errorf("%w: info block of %s requires author, date and name", ErrMalformedProcess, filename)
			}
			def.Public = info.Public
			def.Author = info.Author
			def.Date = info.Date
			def.Title = info.Name
			def.Description = info.Description
			sawInfo = true
			continue
		}
		nodes, err := parseNode(d, *start)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrMalformedProcess, filename, err)
		}
		def.Nodes = append(def.Nodes, nodes...)
	}

	if !sawInfo {
		return nil, fmt.Errorf("%w: %s has no info block", ErrMalformedProcess, filename)
	}
	if len(def.Nodes) == 0 || def.Nodes[0].Type != NodeAction {
		return nil, fmt.Errorf("%w: %s has no actionable first node", ErrMalformedProcess, filename)
	}
	return def, nil
}

// parseNode parses one node element, returning the node followed by any
// flattened descendants (conditional nodes nest their guarded branch).
func parseNode(d *xml.Decoder, start xml.StartElement) ([]*NodeSpec, error) {
	nodeType, ok := nodeTypeTable[start.Name.Local]
	if !ok {
		return nil, fmt.Errorf("unknown node element <%s>", start.Name.Local)
	}
	node := &NodeSpec{Type: nodeType}
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "id":
			node.ID = attr.Value
		case "name":
			node.Name = attr.Value
		case "description":
			node.Description = attr.Value
		case "procedure":
			node.Procedure = attr.Value
		case "url":
			node.URL = attr.Value
		case "method":
			node.Method = attr.Value
		}
	}
	if node.ID == "" {
		return nil, fmt.Errorf("<%s> node without id", start.Name.Local)
	}

	flat := []*NodeSpec{node}
	for {
		child, err := nextChildElement(d)
		if err != nil {
			return nil, err
		}
		if child == nil {
			break
		}
		switch child.Name.Local {
		case "form":
			form, err := parseForm(d, *child)
			if err != nil {
				return nil, fmt.Errorf("node %s: %w", node.ID, err)
			}
			node.Forms = append(node.Forms, form)
		case "auth-filter":
			filter, err := parseAuthFilter(d, *child)
			if err != nil {
				return nil, fmt.Errorf("node %s: %w", node.ID, err)
			}
			node.Filter = filter
		case "condition":
			text, err := elementText(d)
			if err != nil {
				return nil, err
			}
			node.Condition = strings.TrimSpace(text)
		case "dep":
			text, err := elementText(d)
			if err != nil {
				return nil, err
			}
			node.Dependencies = append(node.Dependencies, strings.TrimSpace(text))
		default:
			if node.Type != NodeConditional {
				return nil, fmt.Errorf("node %s: unexpected element <%s>", node.ID, child.Name.Local)
			}
			nested, err := parseNode(d, *child)
			if err != nil {
				return nil, err
			}
			flat = append(flat, nested...)
		}
	}

	if node.Type == NodeConditional {
		if node.Condition == "" {
			return nil, fmt.Errorf("conditional %s has no condition", node.ID)
		}
		node.Span = len(flat) - 1
	}
	return flat, nil
}

func parseForm(d *xml.Decoder, start xml.StartElement) (*FormSpec, error) {
	form := &FormSpec{MinCount: 1, MaxCount: 1}
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "ref":
			form.Ref = attr.Value
		case "multiple":
			min, max, err := parseMultiplicity(attr.Value)
			if err != nil {
				return nil, err
			}
			form.MinCount, form.MaxCount = min, max
		}
	}
	if form.Ref == "" {
		return nil, fmt.Errorf("form without ref")
	}
	for {
		child, err := nextChildElement(d)
		if err != nil {
			return nil, err
		}
		if child == nil {
			return form, nil
		}
		if child.Name.Local != "input" {
			return nil, fmt.Errorf("form %s: unexpected element <%s>", form.Ref, child.Name.Local)
		}
		input, err := parseInput(d, *child)
		if err != nil {
			return nil, fmt.Errorf("form %s: %w", form.Ref, err)
		}
		form.Inputs = append(form.Inputs, input)
	}
}

func parseInput(d *xml.Decoder, start xml.StartElement) (*InputSpec, error) {
	input := &InputSpec{}
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "name":
			input.Name = attr.Value
		case "type":
			input.Type = attr.Value
		case "label":
			input.Label = attr.Value
		case "required":
			input.Required = attr.Value == "true"
		case "default":
			input.Default = attr.Value
		}
	}
	if input.Name == "" {
		return nil, fmt.Errorf("input without name")
	}
	if input.Type == "" {
		input.Type = "text"
	}
	for {
		child, err := nextChildElement(d)
		if err != nil {
			return nil, err
		}
		if child == nil {
			return input, nil
		}
		if child.Name.Local != "option" {
			return nil, fmt.Errorf("input %s: unexpected element <%s>", input.Name, child.Name.Local)
		}
		opt := Option{}
		for _, attr := range child.Attr {
			switch attr.Name.Local {
			case "value":
				opt.Value = attr.Value
			case "label":
				opt.Label = attr.Value
			}
		}
		input.Options = append(input.Options, opt)
		if err := d.Skip(); err != nil {
			return nil, err
		}
	}
}

func parseAuthFilter(d *xml.Decoder, start xml.StartElement) (*AuthFilter, error) {
	filter := &AuthFilter{}
	for _, attr := range start.Attr {
		if attr.Name.Local == "backend" {
			filter.Backend = attr.Value
		}
	}
	if filter.Backend == "" {
		return nil, fmt.Errorf("auth-filter without backend")
	}
	for {
		child, err := nextChildElement(d)
		if err != nil {
			return nil, err
		}
		if child == nil {
			return filter, nil
		}
		if child.Name.Local != "param" {
			return nil, fmt.Errorf("auth-filter %s: unexpected element <%s>", filter.Backend, child.Name.Local)
		}
		param := FilterParam{}
		for _, attr := range child.Attr {
			switch attr.Name.Local {
			case "name":
				param.Name = attr.Value
			case "type":
				param.Type = attr.Value
			}
		}
		text, err := elementText(d)
		if err != nil {
			return nil, err
		}
		param.Value = strings.TrimSpace(text)
		filter.Params = append(filter.Params, param)
	}
}

// nextStartElement advances to the next start element at any depth.
func nextStartElement(d *xml.Decoder) (*xml.StartElement, error) {
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return &start, nil
		}
	}
}

// nextChildElement returns the next child start element of the element
// currently being decoded, or nil at the closing tag.
func nextChildElement(d *xml.Decoder) (*xml.StartElement, error) {
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return &t, nil
		case xml.EndElement:
			return nil, nil
		}
	}
}

// elementText consumes an element's character data up to its closing tag.
func elementText(d *xml.Decoder) (string, error) {
	var sb strings.Builder
	for {
		tok, err := d.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			return sb.String(), nil
		case xml.StartElement:
			return "", fmt.Errorf("unexpected element <%s> in text content", t.Name.Local)
		}
	}
}

// splitProcessFilename splits "name.version.xml" into name and version. The
// version may itself contain dots (dates).
func splitProcessFilename(filename string) (name, version string) {
	base := strings.TrimSuffix(filename, ".xml")
	name, version, ok := strings.Cut(base, ".")
	if !ok {
		return base, ""
	}
	return name, version
}
