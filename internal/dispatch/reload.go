package dispatch

import (
	"fmt"
	"reflect"

	"dyncmd/internal/command"
	"dyncmd/internal/manifest"
)

// Reload rebuilds the command set from the manifest.
//
// Building commands can rewrite the manifest: a command whose script fails
// to load is removed from disk. The manifest is therefore read twice, and
// when the second read differs the command set is rebuilt from it so memory
// and disk agree.
func (r *Registry) Reload() error {
	timer := r.log.StartTimer("reload")
	defer timer.Stop()

	first, err := r.store.Load()
	if err != nil {
		return err
	}
	r.prefix = first.CommandPrefix
	commands := r.build(first.Commands)
	r.data = first.Commands
	r.commands = commands

	second, err := r.store.Load()
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(first, second) {
		r.log.Debug("manifest changed while loading; rebuilding from %s", r.store.Path())
		r.prefix = second.CommandPrefix
		r.commands = r.build(second.Commands)
		r.data = second.Commands
	}

	r.log.Info("loaded %d commands from %s", len(r.commands), r.store.Dir())
	return nil
}

// build constructs every command in list. Commands whose script cannot be
// loaded are discarded and removed from the manifest.
func (r *Registry) build(list []manifest.CommandData) map[string]*command.Command {
	out := make(map[string]*command.Command, len(list))
	for _, d := range list {
		c := command.New(d, r)
		if d.Loadable() {
			if err := r.load(c); err != nil {
				r.log.Error("%v", err)
				r.log.Warn("Discarding broken command '%s' from %s.", d.Name, r.store.ScriptPath(d.Name))
				if r.RemoveCommand(d.Name) == "" {
					r.log.Warn("command '%s' could not be removed from the manifest", d.Name)
				}
				continue
			}
		}
		out[key(d.Name)] = c
	}
	return out
}

// load compiles the command's script and binds it.
func (r *Registry) load(c *command.Command) error {
	path := r.store.ScriptPath(c.Name())
	src, err := r.store.ReadScript(c.Name())
	if err != nil {
		return fmt.Errorf("failed to read script for '%s': %w", c.Name(), err)
	}
	fn, err := r.exec.Compile(path, src)
	if err != nil {
		return err
	}
	c.Bind(fn)
	r.log.Debug("Loading file %s from disk into '%s'.", path, c.Name())
	return nil
}
