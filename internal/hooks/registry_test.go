package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "sitewatch/pkg/logx"
)

func pluginEvent(kind Kind) Event {
	return Event{Kind: kind, Plugin: &Plugin{Name: "Akismet", Version: "5.3"}}
}

func TestEmitRunsHandlersInOrder(t *testing.T) {
	t.Parallel()

	r := NewRegistry(logx.Nop())
	var got []string
	r.On(PluginActivated, func(ctx context.Context, ev Event) error { got = append(got, "a:"+ev.Plugin.Name); return nil })
	r.On(PluginActivated, func(ctx context.Context, ev Event) error { got = append(got, "b"); return nil })
	r.On(PluginDeleted, func(ctx context.Context, ev Event) error { got = append(got, "other"); return nil })

	require.NoError(t, r.Emit(context.Background(), pluginEvent(PluginActivated)))
	assert.Equal(t, []string{"a:Akismet", "b"}, got)
}

func TestEmitContainsPanicsAndJoinsErrors(t *testing.T) {
	t.Parallel()

	r := NewRegistry(logx.Nop())
	boom := errors.New("boom")
	ran := false
	r.On(MailFailed, func(context.Context, Event) error { panic("nil map") })
	r.On(MailFailed, func(context.Context, Event) error { return boom })
	r.On(MailFailed, func(context.Context, Event) error { ran = true; return nil })

	err := r.Emit(context.Background(), Event{Kind: MailFailed, Mail: &Mail{Error: "smtp down"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "panic: nil map")
	assert.True(t, ran)
}

func TestOffRemovesOnlyThatHandler(t *testing.T) {
	t.Parallel()

	r := NewRegistry(logx.Nop())
	calls := 0
	off := r.On(CachePurged, func(context.Context, Event) error { calls += 10; return nil })
	r.On(CachePurged, func(context.Context, Event) error { calls++; return nil })
	assert.Equal(t, 2, r.Count(CachePurged))

	off()
	off()
	assert.Equal(t, 1, r.Count(CachePurged))

	require.NoError(t, r.Emit(context.Background(), Event{Kind: CachePurged}))
	assert.Equal(t, 1, calls)
}

func TestEmitRejectsIncompleteEvents(t *testing.T) {
	t.Parallel()

	r := NewRegistry(logx.Nop())
	assert.Error(t, r.Emit(context.Background(), Event{}))
	assert.Error(t, r.Emit(context.Background(), Event{Kind: FatalError}))
	assert.Error(t, r.Emit(context.Background(), Event{Kind: OrderPlaced}))
	assert.NoError(t, r.Emit(context.Background(), Event{Kind: UserLoggedIn}))
}

func TestKindJSON(t *testing.T) {
	t.Parallel()

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"menu_updated","menu":{"id":4,"slug":"main"}}`), &ev))
	assert.Equal(t, MenuUpdated, ev.Kind)
	assert.Equal(t, "main", ev.Menu.Slug)

	b, err := json.Marshal(Event{Kind: FatalError})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"kind":"fatal_error"`)

	assert.Error(t, json.Unmarshal([]byte(`{"kind":"unknown"}`), &ev))
	assert.Error(t, json.Unmarshal([]byte(`{"kind":"reboot"}`), &ev))
}

func TestFatalTextKeepsFirstLine(t *testing.T) {
	t.Parallel()

	f := Fatal{Type: 1, Message: "Uncaught Error: x\nStack trace:\n#0 {main}", File: "/var/www/index.php", Line: 12}
	assert.Equal(t, "Fatal Error [1]: Uncaught Error: x in /var/www/index.php on line 12", f.Text())
}

func TestActorDisplayName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Ada Lovelace", Actor{FirstName: "Ada", LastName: "Lovelace", Email: "a@x"}.DisplayName("System"))
	assert.Equal(t, "a@x", Actor{FirstName: "Ada", Email: "a@x"}.DisplayName("System"))
	assert.Equal(t, "System", Actor{}.DisplayName("System"))
}
