package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Validate decodes and checks a raw manifest. It has no side effects.
func Validate(raw []byte) (*ParserData, error) {
	var pd ParserData
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&pd); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := pd.Check(); err != nil {
		return nil, err
	}
	return &pd, nil
}

// Check validates an already decoded manifest.
func (p *ParserData) Check() error {
	if err := checkList(p.Commands, "commands", true); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func checkList(list []CommandData, path string, topLevel bool) error {
	seen := make(map[string]bool, len(list))
	for i, c := range list {
		at := fmt.Sprintf("%s[%d]", path, i)
		if err := CheckName(c.Name); err != nil {
			return fmt.Errorf("%s: %w", at, err)
		}
		k := strings.ToLower(c.Name)
		if seen[k] {
			return fmt.Errorf("%s: %w: %s", at, ErrDuplicateName, c.Name)
		}
		seen[k] = true
		if !topLevel && c.Function != nil {
			return fmt.Errorf("%s: %w", at, ErrChildFunction)
		}
		if err := checkList(c.Children, at+".children", false); err != nil {
			return err
		}
	}
	return nil
}

// CheckName rejects names that are empty, contain whitespace, or could
// escape the commands directory when used as a script file name.
func CheckName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty", ErrBadName)
	case strings.ContainsAny(name, "/\\ \t\r\n"):
		return fmt.Errorf("%w: %q", ErrBadName, name)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return nil
}
