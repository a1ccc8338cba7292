package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistryInvoke(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.Register("echo", func(_ context.Context, args string) string {
		return "echo: " + args
	})

	require.Equal(t, "echo: hi", r.Invoke(context.Background(), "echo", "hi"))
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	got := r.Invoke(context.Background(), "rm_rf", "{}")
	require.Equal(t, `Error: unknown tool "rm_rf"`, got)
}

func TestDefinitionsCoverRegisteredNames(t *testing.T) {
	defs := Definitions()
	require.Len(t, defs, 2)

	names := map[string]bool{}
	for _, d := range defs {
		names[d.Name] = true
		require.NotEmpty(t, d.Description)
		require.Contains(t, d.Parameters, "properties")
	}
	require.True(t, names[GenerateImage])
	require.True(t, names[WebSearch])
}

func TestPromptArg(t *testing.T) {
	cases := []struct {
		name string
		args string
		want string
	}{
		{name: "json blob", args: `{"prompt":"a red fox"}`, want: "a red fox"},
		{name: "raw text passthrough", args: "a red fox", want: "a red fox"},
		{name: "json without prompt field", args: `{"query":"x"}`, want: `{"query":"x"}`},
		{name: "empty prompt falls through", args: `{"prompt":""}`, want: `{"prompt":""}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, PromptArg(tc.args))
		})
	}
}
