package main

import (
	"fmt"
	"strings"

	"dyncmd/sdk"
)

// Name: test
// Usage: test [*args:Any]
// Permission: 500
func Command(args []string, kwargs map[string]any) (string, error) {
	ctx := kwargs["context"].(*sdk.Proxy)
	working, err := ctx.Call("WorkingString")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("'%s' is correct usage of the 'test' command.", strings.TrimSpace(working.(string))), nil
}
