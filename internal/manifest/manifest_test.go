package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `{
  "commandPrefix": "!",
  "commands": [
    {
      "name": "test",
      "usage": "test [*args:Any]",
      "description": "Test command.",
      "permission": 500,
      "function": true,
      "children": [
        {"name": "admin", "permission": 1000}
      ]
    },
    {
      "name": "info",
      "function": false,
      "overridable": false,
      "disabled": true
    }
  ]
}`

func TestValidate_AppliesDefaults(t *testing.T) {
	pd, err := Validate([]byte(sampleManifest))
	require.NoError(t, err)

	want := &ParserData{
		CommandPrefix: "!",
		Commands: []CommandData{
			{
				Name:        "test",
				Usage:       "test [*args:Any]",
				Description: "Test command.",
				Permission:  500,
				Function:    Bool(true),
				Children:    []CommandData{{Name: "admin", Permission: 1000, Overridable: true}},
				Overridable: true,
			},
			{Name: "info", Function: Bool(false), Overridable: false, Disabled: true},
		},
	}
	if diff := cmp.Diff(want, pd); diff != "" {
		t.Errorf("manifest mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, pd.Commands[0].Loadable())
	assert.False(t, pd.Commands[1].Loadable())
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `{`, ErrInvalid},
		{"unknown root key", `{"commandPrefix":"!","commands":[],"extra":1}`, ErrInvalid},
		{"missing prefix", `{"commands":[]}`, ErrMissingField},
		{"missing commands", `{"commandPrefix":"!"}`, ErrMissingField},
		{"unknown command key", `{"commandPrefix":"!","commands":[{"name":"a","colour":"red"}]}`, ErrInvalid},
		{"missing name", `{"commandPrefix":"!","commands":[{"usage":"x"}]}`, ErrMissingField},
		{"empty name", `{"commandPrefix":"!","commands":[{"name":""}]}`, ErrBadName},
		{"path name", `{"commandPrefix":"!","commands":[{"name":"../evil"}]}`, ErrBadName},
		{"duplicate", `{"commandPrefix":"!","commands":[{"name":"a"},{"name":"A"}]}`, ErrDuplicateName},
		{"child function", `{"commandPrefix":"!","commands":[{"name":"a","children":[{"name":"b","function":true}]}]}`, ErrChildFunction},
		{"child duplicate", `{"commandPrefix":"!","commands":[{"name":"a","children":[{"name":"b"},{"name":"B"}]}]}`, ErrDuplicateName},
		{"bad permission", `{"commandPrefix":"!","commands":[{"name":"a","permission":"high"}]}`, ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate([]byte(tt.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestFind(t *testing.T) {
	pd, err := Validate([]byte(sampleManifest))
	require.NoError(t, err)

	c, ok := pd.Find("TEST")
	require.True(t, ok)
	assert.Equal(t, "test", c.Name)

	_, ok = pd.Find("nope")
	assert.False(t, ok)
}

func TestClone_IsDeep(t *testing.T) {
	pd, err := Validate([]byte(sampleManifest))
	require.NoError(t, err)

	cp := pd.Clone()
	*cp.Commands[0].Function = false
	cp.Commands[0].Children[0].Name = "changed"

	assert.True(t, *pd.Commands[0].Function)
	assert.Equal(t, "admin", pd.Commands[0].Children[0].Name)
}

func TestNodeConfig(t *testing.T) {
	pd, err := Validate([]byte(sampleManifest))
	require.NoError(t, err)

	cfg := pd.Commands[0].NodeConfig()
	assert.Equal(t, "test", cfg.Name)
	assert.Equal(t, 500, cfg.Permission)
	require.Len(t, cfg.Children, 1)
	assert.Equal(t, 1000, cfg.Children[0].Permission)
}

func TestStore_LoadMissing(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrMissing)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, os.WriteFile(s.Path(), []byte(sampleManifest), 0644))

	pd, err := s.Load()
	require.NoError(t, err)
	pd.CommandPrefix = "?"
	require.NoError(t, s.Save(pd))

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	text := string(raw)
	assert.True(t, strings.HasSuffix(text, "}\n"), "trailing newline")
	assert.Contains(t, text, "\n  \"commandPrefix\": \"?\"")
	_, err = os.Stat(s.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file cleaned up")

	again, err := s.Load()
	require.NoError(t, err)
	if diff := cmp.Diff(pd, again); diff != "" {
		t.Errorf("round trip mismatch (-saved +loaded):\n%s", diff)
	}
}

func TestStore_Scripts(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	assert.Equal(t, filepath.Join(dir, "ping.cmd.go"), s.ScriptPath("ping"))
	assert.True(t, IsScript(s.ScriptPath("ping")))
	assert.False(t, IsScript(s.Path()))

	require.NoError(t, s.WriteScript("ping", "package main\n"))
	src, err := s.ReadScript("ping")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", src)

	removed, err := s.RemoveScript("ping")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.RemoveScript("ping")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = s.ReadScript("ping")
	assert.Error(t, err)

	assert.ErrorIs(t, s.WriteScript("../escape", "x"), ErrBadName)
}
