package composefile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
)

const sample = `
tasks:
  clean: rm -rf dist
  gen:
  build:
    desc: Compile everything
    flow: parallel
    deps:
      - clean
      - name: assets
        run: cp -r static dist
        deps: [gen]
    run: go build ./...
    options:
      dest: dist
  default: [build]
watch:
  - pattern: "**/*.go"
    tasks: [build]
    flow: settleSeries
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)

	names := make([]string, 0, len(f.Tasks))
	for _, def := range f.Tasks {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{"clean", "gen", "build", "default"}, names, "file order is kept")

	clean, _ := f.Tasks.Get("clean")
	assert.Equal(t, "rm -rf dist", clean.Run)

	gen, _ := f.Tasks.Get("gen")
	assert.Empty(t, gen.Run)
	assert.Empty(t, gen.Deps)

	build, ok := f.Tasks.Get("build")
	require.True(t, ok)
	assert.Equal(t, "Compile everything", build.Desc)
	assert.Equal(t, "parallel", build.Flow)
	assert.Equal(t, "dist", build.Options["dest"])
	require.Len(t, build.Deps, 2)
	assert.Equal(t, "clean", build.Deps[0].Name)
	require.NotNil(t, build.Deps[1].Task)
	assert.Equal(t, "assets", build.Deps[1].Task.Name)
	assert.Equal(t, "gen", build.Deps[1].Task.Deps[0].Name)

	def, _ := f.Tasks.Get("default")
	require.Len(t, def.Deps, 1)
	assert.Equal(t, "build", def.Deps[0].Name)

	require.Len(t, f.Watch, 1)
	assert.Equal(t, "**/*.go", f.Watch[0].Pattern)
	assert.Equal(t, []string{"build"}, f.Watch[0].Tasks)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{
			name: "tasks is a list",
			data: "tasks: [a, b]",
			want: "tasks must be a mapping",
		},
		{
			name: "unknown flow",
			data: "tasks:\n  a:\n    flow: sideways",
			want: `task "a"`,
		},
		{
			name: "duplicate task",
			data: "tasks:\n  a: echo 1\n  a: echo 2",
			want: "",
		},
		{
			name: "watch names unknown task",
			data: "tasks:\n  a: echo\nwatch:\n  - pattern: '*'\n    tasks: [b]",
			want: `unknown task "b"`,
		},
		{
			name: "watch without pattern",
			data: "tasks:\n  a: echo\nwatch:\n  - tasks: [a]",
			want: "pattern is required",
		},
		{
			name: "bad inline dependency flow",
			data: "tasks:\n  a:\n    deps:\n      - run: echo\n        flow: nope",
			want: "a.deps[0]",
		},
		{
			name: "dependency is a list",
			data: "tasks:\n  a:\n    deps:\n      - [x]",
			want: "dependency must be a name or a task definition",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "composer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	f, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, f.URL)
	assert.Len(t, f.Tasks, 4)

	_, err = Load(context.Background(), filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_MemoryURL(t *testing.T) {
	ctx := context.Background()
	fs := afs.New()
	URL := "mem://localhost/project/composer.yaml"
	require.NoError(t, fs.Upload(ctx, URL, 0644, strings.NewReader("tasks:\n  hello: echo hi\n")))

	f, err := Load(ctx, URL)
	require.NoError(t, err)
	assert.Equal(t, URL, f.URL)
	hello, ok := f.Tasks.Get("hello")
	require.True(t, ok)
	assert.Equal(t, "echo hi", hello.Run)
}
