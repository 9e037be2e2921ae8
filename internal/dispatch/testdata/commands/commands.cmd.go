package main

import (
	"fmt"
	"strings"

	"dyncmd/sdk"
)

// Name: commands
// Usage: commands <list|reload|add|enable|disable|remove> [name|link]
func Command(args []string, kwargs map[string]any) (string, error) {
	parser := kwargs["parser"].(*sdk.Proxy)
	ctx := kwargs["context"].(*sdk.Proxy)
	if len(args) == 0 {
		return "", sdk.ImproperUsage("")
	}

	switch strings.ToLower(args[0]) {
	case "list":
		src, err := ctx.Call("Source")
		if err != nil {
			return "", err
		}
		level, err := src.(*sdk.Proxy).GetInt("Permission")
		if err != nil {
			return "", err
		}
		names, err := parser.Call("Available", level)
		if err != nil {
			return "", err
		}
		return "Commands: " + strings.Join(names.([]string), ", "), nil
	case "reload":
		if _, err := parser.Call("Reload"); err != nil {
			return "", err
		}
		return "Reloaded commands.", nil
	}

	if len(args) < 2 {
		return "", sdk.ImproperUsage("")
	}
	switch strings.ToLower(args[0]) {
	case "add":
		name, err := parser.Call("AddLink", args[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Added command '%s'.", name), nil
	case "enable", "disable":
		ok, err := parser.Call("SetDisabled", args[1], strings.ToLower(args[0]) == "disable")
		if err != nil {
			return "", err
		}
		if !ok.(bool) {
			return fmt.Sprintf("'%s' cannot be changed.", args[1]), nil
		}
		return fmt.Sprintf("%sd '%s'.", args[0], args[1]), nil
	case "remove":
		name, err := parser.Call("RemoveCommand", args[1])
		if err != nil {
			return "", err
		}
		if name.(string) == "" {
			return fmt.Sprintf("'%s' cannot be removed.", args[1]), nil
		}
		return fmt.Sprintf("Removed '%s'.", name), nil
	}
	return "", sdk.ImproperUsage("")
}
