package workers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/af-corp/aegis-orchestrator/internal/config"
)

func TestRegistry_RegisterAndSeal(t *testing.T) {
	r := NewRegistry()
	f := func(context.Context) (Worker, error) { return echoWorker(), nil }

	require.NoError(t, r.Register("product", f))
	assert.Error(t, r.Register("product", f), "duplicate registration")
	assert.Error(t, r.Register("", f))

	r.Seal()
	assert.ErrorIs(t, r.Register("order", f), ErrSealed)

	_, err := r.Factory("product")
	assert.NoError(t, err)
	_, err = r.Factory("order")
	assert.ErrorIs(t, err, ErrUnknownWorker)
}

func TestBuildFromConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r, err := BuildFromConfig(map[string]config.WorkerDefinition{
		"product": {Kind: "remote", Endpoint: srv.URL},
		"faq":     {Kind: "static", Replies: map[string]string{"en": "See our FAQ."}},
	}, "general")
	require.NoError(t, err)
	assert.Equal(t, []string{"faq", "general", "product"}, r.Types())
	assert.ErrorIs(t, r.Register("late", nil), ErrSealed)

	f, err := r.Factory("general")
	require.NoError(t, err)
	w, err := f(context.Background())
	require.NoError(t, err)
	res, err := w.Invoke(context.Background(), "szia", Deps{Language: "hu"})
	require.NoError(t, err)
	assert.Equal(t, DefaultGeneralReplies["hu"], res.Text)

	f, err = r.Factory("product")
	require.NoError(t, err)
	w, err = f(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &RemoteWorker{}, w)
}

func TestBuildFromConfig_RemoteUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	r, err := BuildFromConfig(map[string]config.WorkerDefinition{
		"order": {Kind: "remote", Endpoint: srv.URL},
	}, "general")
	require.NoError(t, err)

	f, err := r.Factory("order")
	require.NoError(t, err)
	_, err = f(context.Background())
	assert.ErrorContains(t, err, "status 404")
}

func TestBuildFromConfig_UnknownKind(t *testing.T) {
	_, err := BuildFromConfig(map[string]config.WorkerDefinition{"x": {Kind: "grpc"}}, "general")
	assert.Error(t, err)
}

func TestStaticWorker_LanguageFallback(t *testing.T) {
	w := NewStaticWorker(map[string]string{"en": "hello", "de": "hallo"})
	ctx := context.Background()

	res, _ := w.Invoke(ctx, "", Deps{Language: "de"})
	assert.Equal(t, "hallo", res.Text)
	res, _ = w.Invoke(ctx, "", Deps{Language: "fr"})
	assert.Equal(t, "hello", res.Text)

	only := NewStaticWorker(map[string]string{"hu": "szia"})
	res, _ = only.Invoke(ctx, "", Deps{Language: "fr"})
	assert.Equal(t, "szia", res.Text)
}

func TestToolRegistry(t *testing.T) {
	_, err := NewToolRegistry(map[string]ToolFunc{"": func(context.Context, map[string]any) (any, error) { return nil, nil }})
	assert.Error(t, err)
	_, err = NewToolRegistry(map[string]ToolFunc{"broken": nil})
	assert.Error(t, err)

	tools, err := NewToolRegistry(BuiltinTools())
	require.NoError(t, err)
	out, err := tools.Call(context.Background(), "current_time", map[string]any{"timezone": "UTC"})
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	_, err = tools.Call(context.Background(), "delete_everything", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)

	var none *ToolRegistry
	assert.Nil(t, none.Names())
	_, err = none.Call(context.Background(), "current_time", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)
}
