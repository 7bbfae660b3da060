package cmd

import (
	"reflect"
	"testing"
)

func TestSplitCommandLine(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"npx -y @foo/bar", []string{"npx", "-y", "@foo/bar"}},
		{`node server.js --name "my server"`, []string{"node", "server.js", "--name", "my server"}},
		{"  uvx   mcp-server  ", []string{"uvx", "mcp-server"}},
		{"python3 -c 'print(1)'", []string{"python3", "-c", "print(1)"}},
	}
	for _, c := range cases {
		got, err := splitCommandLine(c.in)
		if err != nil {
			t.Fatalf("splitCommandLine(%q): %v", c.in, err)
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("splitCommandLine(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestSplitCommandLineErrors(t *testing.T) {
	if _, err := splitCommandLine(""); err == nil {
		t.Error("expected error for empty command")
	}
	if _, err := splitCommandLine("node 'unterminated"); err == nil {
		t.Error("expected error for unterminated quote")
	}
}
