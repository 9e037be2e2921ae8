package dispatch

import (
	"context"
	"fmt"
	"strings"

	"dyncmd/internal/command"
	"dyncmd/internal/manifest"
)

// SetDisabled enables or disables a command in the manifest and in memory.
// It reports false when the command is unknown, not overridable, or the
// manifest cannot be written.
func (r *Registry) SetDisabled(name string, disabled bool) bool {
	pd, err := r.store.Load()
	if err != nil {
		r.log.Error("set disabled %s: %v", name, err)
		return false
	}
	d, ok := pd.Find(name)
	if !ok || !d.Overridable {
		return false
	}
	d.Disabled = disabled
	if err := r.store.Save(pd); err != nil {
		r.log.Error("set disabled %s: %v", name, err)
		return false
	}
	if c := r.Command(name); c != nil {
		c.Disabled = disabled
	}
	r.data = pd.Commands
	r.log.Info("command '%s' disabled=%v", name, disabled)
	return true
}

// RemoveCommand deletes a command's manifest entry and script, and drops it
// from memory. It returns the command's stored name when anything was
// removed, "" otherwise.
func (r *Registry) RemoveCommand(name string) string {
	pd, err := r.store.Load()
	if err != nil {
		r.log.Error("remove %s: %v", name, err)
		return ""
	}

	removed := false
	scriptName := name
	if i, ok := manifest.Find(pd.Commands, name); ok {
		if !pd.Commands[i].Overridable {
			return ""
		}
		scriptName = pd.Commands[i].Name
		pd.Commands = append(pd.Commands[:i], pd.Commands[i+1:]...)
		if err := r.store.Save(pd); err != nil {
			r.log.Error("remove %s: %v", name, err)
			return ""
		}
		removed = true
	}

	gone, err := r.store.RemoveScript(scriptName)
	if err != nil {
		r.log.Warn("remove %s: %v", name, err)
	}
	removed = removed || gone

	delete(r.commands, key(name))
	r.data = pd.Commands
	if !removed {
		return ""
	}
	r.log.Info("removed command '%s'", scriptName)
	return scriptName
}

// AddOptions override metadata read from a script header.
type AddOptions struct {
	// Link treats the text as a paste link resolved through the fetcher.
	Link        bool
	Name        string
	Usage       string
	Description string
	Permission  *int
	Children    []manifest.CommandData
}

// AddCommand stores a new (or replacement) command from script text and
// registers it. The script is compiled before anything is written, and the
// previous script is restored if the manifest cannot be saved.
func (r *Registry) AddCommand(ctx context.Context, text string, opts AddOptions) (string, error) {
	if opts.Link {
		if r.opts.Fetcher == nil {
			return "", ErrNoFetcher
		}
		body, err := r.opts.Fetcher.Fetch(ctx, text)
		if err != nil {
			return "", err
		}
		text = body
	}

	script, err := ExtractScript(text, Header{
		Name:        opts.Name,
		Usage:       opts.Usage,
		Description: opts.Description,
		Permission:  opts.Permission,
		Children:    opts.Children,
	})
	if err != nil {
		return "", err
	}
	h := script.Header
	if err := manifest.CheckName(h.Name); err != nil {
		return "", err
	}

	data := manifest.CommandData{
		Name:        h.Name,
		Usage:       h.Usage,
		Description: h.Description,
		Function:    manifest.Bool(true),
		Children:    h.Children,
		Overridable: true,
	}
	if h.Permission != nil {
		data.Permission = *h.Permission
	}

	pd, err := r.store.Load()
	if err != nil {
		return "", err
	}
	var replaced string
	if i, ok := manifest.Find(pd.Commands, data.Name); ok {
		if !pd.Commands[i].Overridable {
			return "", fmt.Errorf("%w: %s", ErrNotOverridable, pd.Commands[i].Name)
		}
		replaced = pd.Commands[i].Name
		pd.Commands[i] = data
	} else {
		pd.Commands = append(pd.Commands, data)
	}
	if err := pd.Check(); err != nil {
		return "", err
	}

	fn, err := r.exec.Compile(r.store.ScriptPath(data.Name), script.Source)
	if err != nil {
		return "", err
	}

	previous, hadPrevious := "", false
	if src, err := r.store.ReadScript(data.Name); err == nil {
		previous, hadPrevious = src, true
	}
	if err := r.store.WriteScript(data.Name, script.Source); err != nil {
		return "", err
	}
	if err := r.store.Save(pd); err != nil {
		if hadPrevious {
			_ = r.store.WriteScript(data.Name, previous)
		} else {
			_, _ = r.store.RemoveScript(data.Name)
		}
		return "", err
	}
	if replaced != "" && replaced != data.Name {
		if _, err := r.store.RemoveScript(replaced); err != nil {
			r.log.Warn("failed to remove old script for '%s': %v", replaced, err)
		}
	}

	c := command.New(data, r)
	c.Bind(fn)
	r.commands[key(data.Name)] = c
	r.data = pd.Commands
	r.log.Info("added command '%s'", data.Name)
	return data.Name, nil
}

// AddLink adds a command from a paste link. It is the form scripts use
// through the registry proxy.
func (r *Registry) AddLink(link string) (string, error) {
	return r.AddCommand(context.Background(), strings.TrimSpace(link), AddOptions{Link: true})
}
