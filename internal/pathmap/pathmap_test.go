package pathmap

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWSL_ToRemote(t *testing.T) {
	w := NewWSL("")
	tests := []struct {
		in   string
		want string
	}{
		{`C:\Users\foo\bar`, "/mnt/c/Users/foo/bar"},
		{`D:\project`, "/mnt/d/project"},
		{`\\?\C:\Users\foo`, "/mnt/c/Users/foo"},
		{`C:\`, "/mnt/c"},
		{`C:/Users/foo`, "/mnt/c/Users/foo"},
		{`relative\dir`, "relative/dir"},
		{`\\server\share\x`, `\\server\share\x`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, w.ToRemote(tt.in), tt.in)
	}
}

func TestWSL_ToHost(t *testing.T) {
	w := NewWSL("/mnt/")
	tests := []struct {
		in   string
		want string
	}{
		{"/mnt/c/Users/foo/bar", `C:\Users\foo\bar`},
		{"/mnt/d/project", `D:\project`},
		{"/mnt/c", `C:\`},
		{"/mnt/c/", `C:\`},
		{"/home/user", "/home/user"},
		{"/mnt/cdrom/x", "/mnt/cdrom/x"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, w.ToHost(tt.in), tt.in)
	}
}

func TestWSL_RoundTrip(t *testing.T) {
	w := NewWSL("")
	tests := []struct {
		in         string
		normalized string
	}{
		{`C:\Users\foo\bar`, `C:\Users\foo\bar`},
		{`c:\work\src\main.go`, `C:\work\src\main.go`},
		{`\\?\C:\work`, `C:\work`},
		{`C:\`, `C:\`},
		{`D:\a\b\`, `D:\a\b`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.normalized, w.Normalize(tt.in), tt.in)
		assert.Equal(t, tt.normalized, w.ToHost(w.ToRemote(tt.in)), tt.in)
	}
}

func TestWSL_CustomPrefix(t *testing.T) {
	w := NewWSL("/host")
	assert.Equal(t, "/host/e/data", w.ToRemote(`E:\data`))
	assert.Equal(t, `E:\data`, w.ToHost("/host/e/data"))
	assert.Equal(t, "/mnt/e/data", w.ToHost("/mnt/e/data"))
}

func TestRewriteTree(t *testing.T) {
	w := NewWSL("")
	var payload any
	require.NoError(t, json.Unmarshal([]byte(`{
		"path": "/mnt/c/x/a.cs",
		"title": "Edit /mnt/c/x",
		"n": 1,
		"list": ["/mnt/d/y", "hello"],
		"nested": {"cwd": "/mnt/c"}
	}`), &payload))

	out := RewriteTree(w, payload, RemoteToHost).(map[string]any)

	assert.Equal(t, `C:\x\a.cs`, out["path"])
	assert.Equal(t, "Edit /mnt/c/x", out["title"])
	assert.Equal(t, float64(1), out["n"])
	assert.Equal(t, []any{`D:\y`, "hello"}, out["list"])
	assert.Equal(t, `C:\`, out["nested"].(map[string]any)["cwd"])
}

func TestRewriteTree_LeavesProse(t *testing.T) {
	w := NewWSL("")
	var payload any
	require.NoError(t, json.Unmarshal([]byte(`{
		"sessionUpdate": "agent_message_chunk",
		"content": {"type": "text", "text": "/mnt/c/proj"},
		"note": "/mnt/c/proj has the code, see https://example.com/docs",
		"url": "/mnt/c/proj://x",
		"locations": [{"path": "/mnt/c/Program Files/app/main.cs", "line": 3}]
	}`), &payload))

	out := RewriteTree(w, payload, RemoteToHost).(map[string]any)

	assert.Equal(t, "/mnt/c/proj", out["content"].(map[string]any)["text"])
	assert.Equal(t, "/mnt/c/proj has the code, see https://example.com/docs", out["note"])
	assert.Equal(t, "/mnt/c/proj://x", out["url"])
	loc := out["locations"].([]any)[0].(map[string]any)
	assert.Equal(t, `C:\Program Files\app\main.cs`, loc["path"])
}

func TestRewriteTree_Idempotent(t *testing.T) {
	w := NewWSL("")
	for _, dir := range []Direction{HostToRemote, RemoteToHost} {
		build := func() any {
			return map[string]any{
				"a": `C:\work\file.txt`,
				"b": "/mnt/c/work/file.txt",
				"c": []any{`\\?\D:\x`, "/mnt/d/x", "plain"},
			}
		}
		once := RewriteTree(w, build(), dir)
		twice := RewriteTree(w, RewriteTree(w, build(), dir), dir)
		assert.Equal(t, once, twice)
	}

	// An already translated leaf is never translated again.
	assert.Equal(t, "/mnt/c/work", RewriteTree(w, "/mnt/c/work", HostToRemote))
	assert.Equal(t, `C:\work`, RewriteTree(w, `C:\work`, RemoteToHost))
}

func TestRewriteJSON(t *testing.T) {
	w := NewWSL("")
	out, err := RewriteJSON(w, json.RawMessage(`{"line":10,"path":"/mnt/c/a"}`), RemoteToHost)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, float64(10), got["line"])
	assert.Equal(t, `C:\a`, got["path"])

	_, err = RewriteJSON(w, json.RawMessage(`{`), RemoteToHost)
	assert.Error(t, err)

	raw := json.RawMessage(`{"path":"/mnt/c/a"}`)
	same, err := RewriteJSON(Identity{}, raw, RemoteToHost)
	require.NoError(t, err)
	assert.Equal(t, raw, same)
}

func TestRewriteCommand(t *testing.T) {
	w := NewWSL("")
	tests := []struct {
		name string
		in   string
		dir  Direction
		want string
	}{
		{
			name: "host to remote with quoted flag value",
			in:   `dotnet build C:\work\app.csproj --out="C:\out dir"`,
			dir:  HostToRemote,
			want: `dotnet build /mnt/c/work/app.csproj --out="/mnt/c/out dir"`,
		},
		{
			name: "pipes and redirects",
			in:   `cat /mnt/c/work/a.txt | grep x > /mnt/d/o.txt`,
			dir:  RemoteToHost,
			want: `cat C:\work\a.txt | grep x > D:\o.txt`,
		},
		{
			name: "assignment",
			in:   `PATH=/mnt/c/bin make`,
			dir:  RemoteToHost,
			want: `PATH=C:\bin make`,
		},
		{
			name: "no paths",
			in:   `echo 'hello world' && ls -la`,
			dir:  RemoteToHost,
			want: `echo 'hello world' && ls -la`,
		},
		{
			name: "unterminated quote",
			in:   `echo "/mnt/c/x`,
			dir:  RemoteToHost,
			want: `echo "/mnt/c/x`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RewriteCommand(w, tt.in, tt.dir)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, RewriteCommand(w, got, tt.dir))
		})
	}
	assert.Equal(t, "cat /mnt/c/x", RewriteCommand(Identity{}, "cat /mnt/c/x", RemoteToHost))
}

func TestWithin(t *testing.T) {
	tests := []struct {
		root string
		p    string
		want bool
	}{
		{"/work", "/work/a/b.go", true},
		{"/work", "/work", true},
		{"/work/", "/work/a", true},
		{"/work", "/workshop/a", false},
		{"/work", "/work/../etc/passwd", false},
		{"/work", "a/b", false},
		{`C:\work`, `c:\WORK\x.cs`, true},
		{`C:\work`, `C:\other\x.cs`, false},
		{`C:\`, `C:\anything`, true},
		{"", "/anything", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Within(tt.root, tt.p), "%s in %s", tt.p, tt.root)
	}
}

func TestNew(t *testing.T) {
	assert.IsType(t, Identity{}, New("none", ""))
	assert.IsType(t, WSL{}, New("wsl", ""))
}
